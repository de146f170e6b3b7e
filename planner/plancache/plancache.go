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

// Package plancache memoizes sql → physical plan under an LRU with
// optional TTL and per-table invalidation, modeled on SchemaValidator's
// version-gated invalidation idea adapted to per-table keys instead of a
// single schema version counter.
package plancache

import (
	"container/list"
	"sync"
	"time"

	"github.com/volcanodb/platform/planner"
	"go.uber.org/atomic"
)

// Stats are monotonically non-decreasing hit/miss/eviction counters; they
// are never reset except by explicit test setup.
type Stats struct {
	Hits      *atomic.Int64
	Misses    *atomic.Int64
	Evictions *atomic.Int64
}

func newStats() Stats {
	return Stats{Hits: atomic.NewInt64(0), Misses: atomic.NewInt64(0), Evictions: atomic.NewInt64(0)}
}

// Snapshot is a point-in-time copy of Stats' counters.
type Snapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Snapshot reads the current counter values.
func (s Stats) Snapshot() Snapshot {
	return Snapshot{Hits: s.Hits.Load(), Misses: s.Misses.Load(), Evictions: s.Evictions.Load()}
}

type entry struct {
	sql       string
	plan      *planner.PhysicalPlan
	tables    []string
	expiresAt time.Time // zero means no TTL
}

// Cache is a concurrency-safe LRU of sql → physical plan, with an optional
// TTL and exact per-table invalidation. Readers (Get) and writers
// (Put/InvalidateTable) share one sync.Mutex; Get takes it exclusively
// too, since updating LRU position is itself a mutation.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
	byTable  map[string]map[string]bool // table -> set of sql keys

	Stats Stats
}

// New creates a Cache with the given capacity and TTL (zero TTL disables
// expiry).
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		byTable:  make(map[string]map[string]bool),
		Stats:    newStats(),
	}
}

// Get returns the cached plan for sql, or (nil, false) on miss. An expired
// entry counts as a miss and is evicted immediately.
func (c *Cache) Get(sql string) (*planner.PhysicalPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[sql]
	if !ok {
		c.Stats.Misses.Inc()
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeElement(el)
		c.Stats.Misses.Inc()
		c.Stats.Evictions.Inc()
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.Stats.Hits.Inc()
	return e.plan, true
}

// Put inserts or replaces sql's cached plan, recording which tables it
// reads for later InvalidateTable calls, and evicts the least-recently-used
// entry if capacity is exceeded.
func (c *Cache) Put(sql string, plan *planner.PhysicalPlan, tables []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[sql]; ok {
		c.removeElement(el)
	}
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	e := &entry{sql: sql, plan: plan, tables: tables, expiresAt: expiresAt}
	el := c.ll.PushFront(e)
	c.items[sql] = el
	for _, t := range tables {
		set, ok := c.byTable[t]
		if !ok {
			set = make(map[string]bool)
			c.byTable[t] = set
		}
		set[sql] = true
	}
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.Stats.Evictions.Inc()
	}
}

// InvalidateTable removes every cached entry whose plan reads table.
func (c *Cache) InvalidateTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sqls, ok := c.byTable[table]
	if !ok {
		return
	}
	for sql := range sqls {
		if el, ok := c.items[sql]; ok {
			c.removeElement(el)
		}
	}
	delete(c.byTable, table)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// removeElement must be called with c.mu held.
func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.sql)
	for _, t := range e.tables {
		if set, ok := c.byTable[t]; ok {
			delete(set, e.sql)
			if len(set) == 0 {
				delete(c.byTable, t)
			}
		}
	}
}
