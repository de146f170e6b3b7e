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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pingcap/failpoint"
	"github.com/spaolacci/murmur3"
)

// DiskConfig configures a DiskBackend's shard layout and limits.
type DiskConfig struct {
	Dir          string
	MaxSizeBytes int64
	DefaultTTL   time.Duration // zero disables a default
	SyncWrites   bool
	ShardCount   int // default 16 if zero
}

// diskIndexEntry is the persisted record for one cached key: where its
// value file lives and its metadata, mirroring what the metadata sidecar
// file on disk also holds.
type diskIndexEntry struct {
	FilePath string   `json:"file_path"`
	Metadata Metadata `json:"metadata"`
}

// DiskBackend is a content-addressed, shard-sharded on-disk cache. Each
// key's value and metadata live under
// <root>/<shard_xx>/<hash>.cache and <root>/<shard_xx>/<hash>.meta.json;
// the aggregate key->location index is periodically flushed to
// <root>/index.json so a process restart can rebuild without re-hashing
// every file on disk.
type DiskBackend struct {
	cfg DiskConfig

	mu      sync.RWMutex
	index   map[string]diskIndexEntry
	curSize int64
	stats   statsCounter

	setsSinceSave int
	now           func() time.Time
}

// NewDiskBackend creates (or reopens) a DiskBackend rooted at cfg.Dir,
// creating shard subdirectories and loading any existing index.json.
func NewDiskBackend(cfg DiskConfig) (*DiskBackend, error) {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 16
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, newError(ErrBackend, "create cache dir %q: %v", cfg.Dir, err)
	}
	for i := 0; i < cfg.ShardCount; i++ {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, shardName(i)), 0o755); err != nil {
			return nil, newError(ErrBackend, "create shard dir: %v", err)
		}
	}
	b := &DiskBackend{cfg: cfg, index: make(map[string]diskIndexEntry), now: time.Now}
	if err := b.loadIndex(); err != nil {
		return nil, err
	}
	return b, nil
}

func shardName(i int) string { return fmt.Sprintf("%02x", i) }

func (b *DiskBackend) shardOf(key string) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(b.cfg.ShardCount))
}

func (b *DiskBackend) hashOf(key string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(key)))
}

func (b *DiskBackend) valuePath(key string) string {
	return filepath.Join(b.cfg.Dir, shardName(b.shardOf(key)), b.hashOf(key)+".cache")
}

func (b *DiskBackend) metaPath(key string) string {
	return filepath.Join(b.cfg.Dir, shardName(b.shardOf(key)), b.hashOf(key)+".meta.json")
}

func (b *DiskBackend) indexPath() string { return filepath.Join(b.cfg.Dir, "index.json") }

func (b *DiskBackend) loadIndex() error {
	data, err := os.ReadFile(b.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return newError(ErrBackend, "read index.json: %v", err)
	}
	loaded := make(map[string]diskIndexEntry)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return newError(ErrSerialization, "parse index.json: %v", err)
	}
	var total int64
	for _, e := range loaded {
		total += e.Metadata.Size
	}
	b.mu.Lock()
	b.index = loaded
	b.curSize = total
	b.mu.Unlock()
	return nil
}

// saveIndex must not be called with b.mu held.
func (b *DiskBackend) saveIndex() error {
	b.mu.RLock()
	data, err := json.Marshal(b.index)
	b.mu.RUnlock()
	if err != nil {
		return newError(ErrSerialization, "marshal index.json: %v", err)
	}
	if err := os.WriteFile(b.indexPath(), data, 0o644); err != nil {
		return newError(ErrBackend, "write index.json: %v", err)
	}
	return nil
}

func (b *DiskBackend) Get(ctx context.Context, key string) (*Entry, bool, error) {
	failpoint.Inject("diskGetIOError", func() {
		failpoint.Return(nil, false, newError(ErrBackend, "injected disk read failure"))
	})
	b.mu.RLock()
	idx, ok := b.index[key]
	b.mu.RUnlock()
	if !ok {
		b.stats.miss()
		return nil, false, nil
	}
	if idx.Metadata.Expired(b.now()) {
		_, _ = b.Delete(ctx, key)
		b.stats.miss()
		return nil, false, nil
	}
	data, err := os.ReadFile(b.valuePath(key))
	if err != nil {
		b.stats.miss()
		return nil, false, newError(ErrBackend, "read cache value for %q: %v", key, err)
	}
	idx.Metadata.LastAccessed = b.now()
	idx.Metadata.AccessCount++
	b.mu.Lock()
	b.index[key] = idx
	b.mu.Unlock()
	b.stats.hit()
	return &Entry{Value: data, Metadata: idx.Metadata}, true, nil
}

// writeValue writes value to path, fsyncing before close when cfg.SyncWrites
// is set so a crash right after Set can't leave a value file that the index
// already points at but whose bytes never made it past the page cache.
func (b *DiskBackend) writeValue(path string, value []byte) error {
	if !b.cfg.SyncWrites {
		return os.WriteFile(path, value, 0o644)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (b *DiskBackend) Set(ctx context.Context, key string, value []byte, opts Options) error {
	size := int64(len(value))
	if err := b.evictIfNeeded(ctx, size); err != nil {
		return err
	}
	valuePath := b.valuePath(key)
	if err := b.writeValue(valuePath, value); err != nil {
		return newError(ErrBackend, "write cache value for %q: %v", key, err)
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = b.cfg.DefaultTTL
	}
	tags := make(map[string]bool, len(opts.Tags))
	for _, t := range opts.Tags {
		tags[t] = true
	}
	now := b.now()
	meta := Metadata{CreatedAt: now, LastAccessed: now, TTL: ttl, Size: size, Tags: tags}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return newError(ErrSerialization, "marshal metadata for %q: %v", key, err)
	}
	if err := os.WriteFile(b.metaPath(key), metaData, 0o644); err != nil {
		return newError(ErrBackend, "write metadata for %q: %v", key, err)
	}

	b.mu.Lock()
	if old, ok := b.index[key]; ok {
		b.curSize -= old.Metadata.Size
	}
	b.index[key] = diskIndexEntry{FilePath: valuePath, Metadata: meta}
	b.curSize += size
	b.setsSinceSave++
	shouldSave := b.setsSinceSave%100 == 0
	b.mu.Unlock()
	b.stats.set()

	if shouldSave {
		return b.saveIndex()
	}
	return nil
}

// evictIfNeeded evicts least-recently-accessed entries until newSize fits
// within MaxSizeBytes, or reports capacity exceeded if the store can never
// make room (e.g. newSize alone exceeds the configured limit).
func (b *DiskBackend) evictIfNeeded(ctx context.Context, newSize int64) error {
	if b.cfg.MaxSizeBytes <= 0 {
		return nil
	}
	for {
		b.mu.RLock()
		over := b.curSize+newSize > b.cfg.MaxSizeBytes
		var lruKey string
		if over {
			var oldest time.Time
			first := true
			for k, e := range b.index {
				if first || e.Metadata.LastAccessed.Before(oldest) {
					lruKey, oldest, first = k, e.Metadata.LastAccessed, false
				}
			}
		}
		b.mu.RUnlock()
		if !over {
			return nil
		}
		if lruKey == "" {
			return newError(ErrCapacityExceeded, "value of %d bytes exceeds remaining disk cache capacity", newSize)
		}
		if _, err := b.Delete(ctx, lruKey); err != nil {
			return err
		}
		b.stats.evict()
	}
}

func (b *DiskBackend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	idx, ok := b.index[key]
	if ok {
		delete(b.index, key)
		b.curSize -= idx.Metadata.Size
	}
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	_ = os.Remove(b.valuePath(key))
	_ = os.Remove(b.metaPath(key))
	b.stats.delete()
	return true, nil
}

func (b *DiskBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	idx, ok := b.index[key]
	b.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return !idx.Metadata.Expired(b.now()), nil
}

func (b *DiskBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	for i := 0; i < b.cfg.ShardCount; i++ {
		dir := filepath.Join(b.cfg.Dir, shardName(i))
		_ = os.RemoveAll(dir)
		_ = os.MkdirAll(dir, 0o755)
	}
	b.index = make(map[string]diskIndexEntry)
	b.curSize = 0
	b.mu.Unlock()
	return b.saveIndex()
}

func (b *DiskBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.index {
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *DiskBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := b.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, k := range keys {
		ok, err := b.Delete(ctx, k)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func (b *DiskBackend) DeleteByTags(ctx context.Context, tags []string) (int, error) {
	b.mu.RLock()
	var toDelete []string
	for k, e := range b.index {
		if e.Metadata.HasAnyTag(tags) {
			toDelete = append(toDelete, k)
		}
	}
	b.mu.RUnlock()
	count := 0
	for _, k := range toDelete {
		ok, err := b.Delete(ctx, k)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func (b *DiskBackend) Size(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.curSize, nil
}

func (b *DiskBackend) Len(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index), nil
}

func (b *DiskBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.index[key]
	if !ok {
		return false, nil
	}
	idx.Metadata.TTL = ttl
	b.index[key] = idx
	return true, nil
}

func (b *DiskBackend) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, ok := b.index[key]
	if !ok {
		return 0, false, nil
	}
	return idx.Metadata.TTL, true, nil
}

func (b *DiskBackend) MGet(ctx context.Context, keys []string) ([]*Entry, error) {
	out := make([]*Entry, len(keys))
	for i, k := range keys {
		e, ok, err := b.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = e
		}
	}
	return out, nil
}

func (b *DiskBackend) MSet(ctx context.Context, entries map[string][]byte, opts Options) error {
	for k, v := range entries {
		if err := b.Set(ctx, k, v, opts); err != nil {
			return err
		}
	}
	return nil
}

// Flush persists the in-memory index to index.json immediately, instead of
// waiting for the every-100-sets periodic save.
func (b *DiskBackend) Flush(ctx context.Context) error { return b.saveIndex() }

// Close flushes the index; it does not remove any on-disk state.
func (b *DiskBackend) Close(ctx context.Context) error { return b.saveIndex() }

func (b *DiskBackend) Stats() Stats { return b.stats.Snapshot() }
