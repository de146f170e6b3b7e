// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"time"

	"github.com/pingcap/failpoint"
)

// RemoteConfig configures a remote KV-backed cache tier: connection
// endpoints, pooling, and the namespace prefix every key is stored under,
// mirroring a Redis client's usual configuration surface.
type RemoteConfig struct {
	Endpoints         []string
	PoolSize          int
	ConnectTimeout    time.Duration
	OperationTimeout  time.Duration
	DefaultTTL        time.Duration
	KeyPrefix         string
	MaxRetries        int
}

// RemoteBackend is the contract a networked KV store (Redis, Memcached, a
// managed cache service) must satisfy to plug in as the remote tier of the
// cache façade. It is a strict subset of Backend: it has no byte-size
// capacity accounting and no tag index. RemoteAdapter reports a
// Configuration error for those queries, and neither it nor Facade keeps a
// tag-to-key index for a remote tier, so tag invalidation does not reach
// values stored remotely.
type RemoteBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close(ctx context.Context) error
}

// InProcessRemote is a RemoteBackend fake backed by an in-process
// MemoryBackend instead of a real network round trip, letting RemoteAdapter
// (below) and its callers be exercised without standing up an actual Redis/Memcached
// instance. It applies cfg.KeyPrefix the way a real client namespaces keys
// under a shared keyspace.
type InProcessRemote struct {
	cfg  RemoteConfig
	mem  *MemoryBackend
	now  func() time.Time
}

// NewInProcessRemote creates an in-process RemoteBackend fake.
func NewInProcessRemote(cfg RemoteConfig) *InProcessRemote {
	return &InProcessRemote{cfg: cfg, mem: NewMemoryBackend(0), now: time.Now}
}

func (r *InProcessRemote) namespaced(key string) string { return r.cfg.KeyPrefix + key }

func (r *InProcessRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	failpoint.Inject("remoteGetNetworkError", func() {
		failpoint.Return(nil, false, newError(ErrBackend, "injected remote network failure"))
	})
	e, ok, err := r.mem.Get(ctx, r.namespaced(key))
	if err != nil || !ok {
		return nil, ok, err
	}
	return e.Value, true, nil
}

func (r *InProcessRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.cfg.DefaultTTL
	}
	return r.mem.Set(ctx, r.namespaced(key), value, Options{TTL: ttl})
}

func (r *InProcessRemote) Delete(ctx context.Context, key string) (bool, error) {
	return r.mem.Delete(ctx, r.namespaced(key))
}

func (r *InProcessRemote) Exists(ctx context.Context, key string) (bool, error) {
	return r.mem.Exists(ctx, r.namespaced(key))
}

func (r *InProcessRemote) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.mem.Keys(ctx, r.cfg.KeyPrefix+pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k[len(r.cfg.KeyPrefix):]
	}
	return out, nil
}

func (r *InProcessRemote) Close(ctx context.Context) error { return nil }

// RemoteAdapter wraps a RemoteBackend behind the full Backend contract,
// giving the façade a uniform interface across memory/disk/remote tiers
// even though RemoteBackend itself exposes a narrower surface.
type RemoteAdapter struct {
	remote RemoteBackend
	stats  statsCounter
}

// NewRemoteAdapter wraps remote as a full Backend.
func NewRemoteAdapter(remote RemoteBackend) *RemoteAdapter {
	return &RemoteAdapter{remote: remote}
}

func (a *RemoteAdapter) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, ok, err := a.remote.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		a.stats.miss()
		return nil, false, nil
	}
	a.stats.hit()
	return &Entry{Value: data}, true, nil
}

func (a *RemoteAdapter) Set(ctx context.Context, key string, value []byte, opts Options) error {
	if err := a.remote.Set(ctx, key, value, opts.TTL); err != nil {
		return err
	}
	a.stats.set()
	return nil
}

func (a *RemoteAdapter) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := a.remote.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		a.stats.delete()
	}
	return ok, nil
}

func (a *RemoteAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return a.remote.Exists(ctx, key)
}

func (a *RemoteAdapter) Clear(ctx context.Context) error {
	keys, err := a.remote.Keys(ctx, "*")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := a.remote.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (a *RemoteAdapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	return a.remote.Keys(ctx, pattern)
}

func (a *RemoteAdapter) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := a.remote.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, k := range keys {
		ok, err := a.remote.Delete(ctx, k)
		if err != nil {
			return count, err
		}
		if ok {
			count++
			a.stats.delete()
		}
	}
	return count, nil
}

// DeleteByTags is unsupported: a generic remote KV store has no tag index,
// and RemoteAdapter keeps none of its own, so it always returns a
// Configuration error and deletes nothing.
func (a *RemoteAdapter) DeleteByTags(ctx context.Context, tags []string) (int, error) {
	return 0, newError(ErrConfiguration, "remote backend has no native tag index")
}

// Size is unsupported: a generic remote KV store has no byte-accounting API.
func (a *RemoteAdapter) Size(ctx context.Context) (int64, error) {
	return 0, newError(ErrConfiguration, "remote backend does not report size")
}

func (a *RemoteAdapter) Len(ctx context.Context) (int, error) {
	keys, err := a.remote.Keys(ctx, "*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Expire is unsupported by the narrow RemoteBackend contract; callers
// needing per-key TTL mutation on an existing value should Set it again.
func (a *RemoteAdapter) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, newError(ErrConfiguration, "remote backend does not support in-place TTL mutation")
}

// TTL is unsupported for the same reason as Expire.
func (a *RemoteAdapter) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	return 0, false, newError(ErrConfiguration, "remote backend does not report remaining TTL")
}

func (a *RemoteAdapter) MGet(ctx context.Context, keys []string) ([]*Entry, error) {
	out := make([]*Entry, len(keys))
	for i, k := range keys {
		e, ok, err := a.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = e
		}
	}
	return out, nil
}

func (a *RemoteAdapter) MSet(ctx context.Context, entries map[string][]byte, opts Options) error {
	for k, v := range entries {
		if err := a.Set(ctx, k, v, opts); err != nil {
			return err
		}
	}
	return nil
}

func (a *RemoteAdapter) Flush(ctx context.Context) error { return nil }
func (a *RemoteAdapter) Close(ctx context.Context) error { return a.remote.Close(ctx) }
func (a *RemoteAdapter) Stats() Stats                    { return a.stats.Snapshot() }
