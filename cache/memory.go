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
	"container/list"
	"context"
	"sync"
	"time"
)

type memEntry struct {
	key   string
	entry Entry
}

// MemoryBackend is an in-process LRU cache bounded by byte size; it never
// suspends on I/O. Capacity is enforced by evicting the least-recently-used
// entries until the incoming value fits under MaxSizeBytes.
type MemoryBackend struct {
	mu           sync.Mutex
	maxSizeBytes int64
	curSize      int64
	ll           *list.List // front = most recently used
	items        map[string]*list.Element
	stats        statsCounter
	now          func() time.Time
}

// NewMemoryBackend creates a MemoryBackend capped at maxSizeBytes.
func NewMemoryBackend(maxSizeBytes int64) *MemoryBackend {
	return &MemoryBackend{
		maxSizeBytes: maxSizeBytes,
		ll:           list.New(),
		items:        make(map[string]*list.Element),
		now:          time.Now,
	}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) (*Entry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[key]
	if !ok {
		b.stats.miss()
		return nil, false, nil
	}
	me := el.Value.(*memEntry)
	if me.entry.Metadata.Expired(b.now()) {
		b.removeElement(el)
		b.stats.miss()
		return nil, false, nil
	}
	me.entry.Metadata.LastAccessed = b.now()
	me.entry.Metadata.AccessCount++
	b.ll.MoveToFront(el)
	b.stats.hit()
	out := me.entry
	return &out, true, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, opts Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := int64(len(value))
	if err := b.evictLocked(key, size); err != nil {
		return err
	}
	now := b.now()
	tags := make(map[string]bool, len(opts.Tags))
	for _, t := range opts.Tags {
		tags[t] = true
	}
	me := &memEntry{key: key, entry: Entry{
		Value: value,
		Metadata: Metadata{
			CreatedAt:    now,
			LastAccessed: now,
			TTL:          opts.TTL,
			Size:         size,
			Tags:         tags,
		},
	}}
	el := b.ll.PushFront(me)
	b.items[key] = el
	b.curSize += size
	b.stats.set()
	return nil
}

// evictLocked must be called with b.mu held. It removes key's previous
// value (if any) before accounting for the new size, then evicts
// least-recently-used entries until newSize fits within MaxSizeBytes.
func (b *MemoryBackend) evictLocked(key string, newSize int64) error {
	if el, ok := b.items[key]; ok {
		b.removeElement(el)
	}
	if b.maxSizeBytes <= 0 {
		return nil
	}
	for b.curSize+newSize > b.maxSizeBytes {
		oldest := b.ll.Back()
		if oldest == nil {
			break
		}
		b.removeElement(oldest)
		b.stats.evict()
	}
	if b.curSize+newSize > b.maxSizeBytes {
		return newError(ErrCapacityExceeded, "value of %d bytes exceeds remaining capacity", newSize)
	}
	return nil
}

// removeElement must be called with b.mu held.
func (b *MemoryBackend) removeElement(el *list.Element) {
	me := el.Value.(*memEntry)
	b.ll.Remove(el)
	delete(b.items, me.key)
	b.curSize -= me.entry.Metadata.Size
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[key]
	if !ok {
		return false, nil
	}
	b.removeElement(el)
	b.stats.delete()
	return true, nil
}

func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[key]
	if !ok {
		return false, nil
	}
	return !el.Value.(*memEntry).entry.Metadata.Expired(b.now()), nil
}

func (b *MemoryBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ll = list.New()
	b.items = make(map[string]*list.Element)
	b.curSize = 0
	return nil
}

func (b *MemoryBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.items {
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *MemoryBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
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

func (b *MemoryBackend) DeleteByTags(ctx context.Context, tags []string) (int, error) {
	b.mu.Lock()
	var toDelete []string
	for k, el := range b.items {
		if el.Value.(*memEntry).entry.Metadata.HasAnyTag(tags) {
			toDelete = append(toDelete, k)
		}
	}
	b.mu.Unlock()
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

func (b *MemoryBackend) Size(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.curSize, nil
}

func (b *MemoryBackend) Len(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ll.Len(), nil
}

func (b *MemoryBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[key]
	if !ok {
		return false, nil
	}
	el.Value.(*memEntry).entry.Metadata.TTL = ttl
	return true, nil
}

func (b *MemoryBackend) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[key]
	if !ok {
		return 0, false, nil
	}
	return el.Value.(*memEntry).entry.Metadata.TTL, true, nil
}

func (b *MemoryBackend) MGet(ctx context.Context, keys []string) ([]*Entry, error) {
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

func (b *MemoryBackend) MSet(ctx context.Context, entries map[string][]byte, opts Options) error {
	for k, v := range entries {
		if err := b.Set(ctx, k, v, opts); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) Flush(ctx context.Context) error { return nil }
func (b *MemoryBackend) Close(ctx context.Context) error { return nil }

func (b *MemoryBackend) Stats() Stats { return b.stats.Snapshot() }
