// Copyright 2017 PingCAP, Inc.
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

package catalog

import (
	"sync"

	"github.com/pingcap/errors"
	"github.com/volcanodb/platform/types"
)

// TableInfo is the schema-registry entry for one table: its output Schema
// plus the names of any single-column indexes on it, which the physical
// planner consults when deciding between IndexScan/BitmapScan/SeqScan.
type TableInfo struct {
	Name    string
	Schema  *types.Schema
	Indexes []string // column names with a single-column index
}

// HasIndex reports whether col has a single-column index.
func (t *TableInfo) HasIndex(col string) bool {
	for _, idx := range t.Indexes {
		if idx == col {
			return true
		}
	}
	return false
}

// ErrUnknownTable is returned when a table isn't registered.
var ErrUnknownTable = errors.New("catalog: unknown table")

// Registry is the in-memory schema/statistics map the planner and executor
// both consult. All public methods are safe for concurrent use; a single
// RWMutex guards both maps since registry updates (DDL, stats refresh) are
// rare relative to plan-building reads.
type Registry struct {
	mu    sync.RWMutex
	infos map[string]*TableInfo
	stats map[string]*TableStatistics
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		infos: make(map[string]*TableInfo),
		stats: make(map[string]*TableStatistics),
	}
}

// RegisterTable installs or replaces a table's schema.
func (r *Registry) RegisterTable(info *TableInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[info.Name] = info
}

// Table looks up a table's schema, or ErrUnknownTable.
func (r *Registry) Table(name string) (*TableInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[name]
	if !ok {
		return nil, errors.Trace(ErrUnknownTable)
	}
	return info, nil
}

// SetStatistics installs or replaces a table's statistics.
func (r *Registry) SetStatistics(stats *TableStatistics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[stats.Table] = stats
}

// Statistics returns a table's statistics, or a zero-row placeholder if
// none have been collected yet — callers should treat this as "unknown,
// assume small" rather than an error, since a table can legitimately be
// queried before ANALYZE-equivalent collection has run.
func (r *Registry) Statistics(name string) *TableStatistics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.stats[name]; ok {
		return s
	}
	return NewTableStatistics(name, 0, 0)
}

// Invalidate drops a table's cached statistics, forcing the next
// Statistics() call to return the zero-row placeholder until the refresh
// loop repopulates it.
func (r *Registry) Invalidate(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stats, table)
}

// Snapshot returns the table names currently tracked, for the refresh loop
// to iterate without holding the lock across a potentially slow collector
// call.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.infos))
	for name := range r.infos {
		names = append(names, name)
	}
	return names
}
