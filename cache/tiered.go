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

	"github.com/volcanodb/platform/internal/logutil"
	"go.uber.org/zap"
)

// Facade is the client-facing entry point: Get/Set/Delete dispatch to a
// chain of Backend tiers (typically memory, then disk, then remote),
// promoting a lower-tier hit back up to every faster tier above it and
// writing new values through every tier at once.
type Facade struct {
	tiers []Backend
}

// NewFacade builds a Facade over tiers, fastest first.
func NewFacade(tiers ...Backend) *Facade {
	return &Facade{tiers: tiers}
}

// Get checks each tier in order, promoting a hit back into every faster
// tier it skipped past.
func (f *Facade) Get(ctx context.Context, key string) (*Entry, bool, error) {
	for i, tier := range f.tiers {
		entry, ok, err := tier.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			opts := Options{TTL: entry.Metadata.TTL}
			for tag := range entry.Metadata.Tags {
				opts.Tags = append(opts.Tags, tag)
			}
			if err := f.tiers[j].Set(ctx, key, entry.Value, opts); err != nil {
				logutil.BgLogger().Warn("cache: tier promotion failed",
					zap.String("key", key), zap.Int("tier", j), zap.Error(err))
			}
		}
		return entry, true, nil
	}
	return nil, false, nil
}

// Set writes value through every tier. It returns the first error
// encountered but still attempts every remaining tier, since a write
// failure in one tier (e.g. a full disk) should not prevent a faster tier
// from caching the value.
func (f *Facade) Set(ctx context.Context, key string, value []byte, opts Options) error {
	var firstErr error
	for _, tier := range f.tiers {
		if err := tier.Set(ctx, key, value, opts); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Delete removes key from every tier; it reports true if any tier held it.
func (f *Facade) Delete(ctx context.Context, key string) (bool, error) {
	deleted := false
	for _, tier := range f.tiers {
		ok, err := tier.Delete(ctx, key)
		if err != nil {
			return deleted, err
		}
		deleted = deleted || ok
	}
	return deleted, nil
}

// DeletePattern removes every matching key from every tier, summing the
// count of distinct keys deleted from any tier.
func (f *Facade) DeletePattern(ctx context.Context, pattern string) (int, error) {
	seen := make(map[string]bool)
	for _, tier := range f.tiers {
		keys, err := tier.Keys(ctx, pattern)
		if err != nil {
			return len(seen), err
		}
		for _, k := range keys {
			seen[k] = true
		}
	}
	count := 0
	for k := range seen {
		deleted, err := f.Delete(ctx, k)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}

// DeleteByTags removes every entry carrying any of tags from every tier,
// best-effort: a tier that fails is logged and skipped, and an error is
// returned only when every tier fails.
func (f *Facade) DeleteByTags(ctx context.Context, tags []string) (int, error) {
	total := 0
	failed := 0
	var lastErr error
	for _, tier := range f.tiers {
		n, err := tier.DeleteByTags(ctx, tags)
		if err != nil {
			logutil.BgLogger().Warn("cache: tier delete_by_tags failed", zap.Error(err))
			failed++
			lastErr = err
			continue
		}
		total += n
	}
	if failed > 0 && failed == len(f.tiers) {
		return total, lastErr
	}
	return total, nil
}

// Stats sums every tier's counters into one aggregate view.
func (f *Facade) Stats() Stats {
	var total Stats
	for _, tier := range f.tiers {
		total = total.Merge(tier.Stats())
	}
	return total
}

// Close closes every tier, in order, collecting the first error.
func (f *Facade) Close(ctx context.Context) error {
	var firstErr error
	for _, tier := range f.tiers {
		if err := tier.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
