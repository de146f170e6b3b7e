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

// RowStore is an in-memory row collaborator the executor's scan operators
// read from. This module has no on-disk storage engine of its own, so
// RowStore stands in for one: tests and callers load rows directly, and
// SeqScan/IndexScan/BitmapScan all pull from the same snapshot.
type RowStore struct {
	mu   sync.RWMutex
	rows map[string][]types.Row
}

// NewRowStore builds an empty store.
func NewRowStore() *RowStore {
	return &RowStore{rows: make(map[string][]types.Row)}
}

// LoadRows replaces a table's row set wholesale.
func (s *RowStore) LoadRows(table string, rows []types.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = rows
}

// AppendRow adds a single row to a table's row set, for incremental test
// fixtures and simple write paths.
func (s *RowStore) AppendRow(table string, row types.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = append(s.rows[table], row)
}

// Rows returns a snapshot slice of table's rows, or an error if the table
// was never loaded (distinct from "loaded but empty").
func (s *RowStore) Rows(table string) ([]types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.rows[table]
	if !ok {
		return nil, errors.Errorf("catalog: no rows loaded for table %q", table)
	}
	out := make([]types.Row, len(rows))
	copy(out, rows)
	return out, nil
}
