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

package types

// Row is an ordered sequence of tagged values, one per schema column.
type Row []Value

// Clone returns a copy of the row; callers that retain a row past the
// producing batch's lifetime (e.g. Sort materialization, HashJoin build
// side) must clone it first since batches are reused buffers in the hot
// path.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// RowBatch is a schema plus a bounded sequence of rows, the unit every
// Volcano operator's next() produces. DefaultBatchSize is the operator
// contract's default cap on rows per batch.
const DefaultBatchSize = 1024

// RowBatch groups rows under one schema.
type RowBatch struct {
	Schema *Schema
	Rows   []Row
}

// NewRowBatch allocates an empty batch with capacity for cap rows.
func NewRowBatch(schema *Schema, capacity int) *RowBatch {
	return &RowBatch{Schema: schema, Rows: make([]Row, 0, capacity)}
}

// Len returns the number of rows currently in the batch.
func (b *RowBatch) Len() int { return len(b.Rows) }

// Append adds a row to the batch.
func (b *RowBatch) Append(r Row) {
	b.Rows = append(b.Rows, r)
}

// Full reports whether the batch has reached the given capacity.
func (b *RowBatch) Full(capacity int) bool {
	return len(b.Rows) >= capacity
}

// Clone deep-copies the batch's rows (not the schema, which is immutable and
// shared).
func (b *RowBatch) Clone() *RowBatch {
	rows := make([]Row, len(b.Rows))
	for i, r := range b.Rows {
		rows[i] = r.Clone()
	}
	return &RowBatch{Schema: b.Schema, Rows: rows}
}
