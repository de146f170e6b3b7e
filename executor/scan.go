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

package executor

import (
	"context"

	"github.com/google/btree"
	"github.com/pingcap/errors"
	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/types"
)

// RowSource supplies the raw rows a scan reads, decoupling the executor
// from any one storage collaborator.
type RowSource interface {
	Rows(table string) ([]types.Row, error)
}

// SeqScanExec reads every row of a table and applies any predicates the
// physical planner left attached (residual predicates the rule pipeline
// could not push further down than the scan itself).
type SeqScanExec struct {
	baseStats
	table      string
	schema     *types.Schema
	predicates []planner.Expression
	source     RowSource

	rows []types.Row
	pos  int
}

// NewSeqScanExec builds a full-table-scan operator.
func NewSeqScanExec(table string, schema *types.Schema, predicates []planner.Expression, source RowSource) *SeqScanExec {
	return &SeqScanExec{table: table, schema: schema, predicates: predicates, source: source}
}

func (e *SeqScanExec) Schema() *types.Schema { return e.schema }

func (e *SeqScanExec) Open(ctx context.Context) error {
	rows, err := e.source.Rows(e.table)
	if err != nil {
		return errors.Trace(err)
	}
	e.rows = rows
	e.pos = 0
	return nil
}

func (e *SeqScanExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	if e.pos >= len(e.rows) {
		return nil, nil
	}
	batch := types.NewRowBatch(e.schema, types.DefaultBatchSize)
	for e.pos < len(e.rows) && batch.Len() < types.DefaultBatchSize {
		row := e.rows[e.pos]
		e.pos++
		if rowMatches(row, e.predicates) {
			batch.Append(row)
		}
	}
	e.record(batch)
	return batch, nil
}

func (e *SeqScanExec) Close() error { return nil }

func rowMatches(row types.Row, predicates []planner.Expression) bool {
	for _, p := range predicates {
		v := p.Eval(row)
		if v.IsNull() || v.Kind() != types.KindBool || !v.AsBool() {
			return false
		}
	}
	return true
}

// indexItem adapts one indexed row into a btree.Item ordered by its
// IndexCol value, breaking value ties by row arrival order.
type indexItem struct {
	key types.Value
	seq int
	row types.Row
}

func (it *indexItem) Less(than btree.Item) bool {
	o := than.(*indexItem)
	if c := types.Compare(it.key, o.key); c != 0 {
		return c < 0
	}
	return it.seq < o.seq
}

// IndexScanExec probes a single-column in-memory btree index built from the
// row source at Open time, then applies any remaining predicates.
// google/btree gives an ordered index without this module standing up a
// real storage engine's B+Tree pages.
type IndexScanExec struct {
	baseStats
	table      string
	schema     *types.Schema
	indexCol   string
	colIdx     int
	predicates []planner.Expression
	source     RowSource

	matches []types.Row
	pos     int
}

// NewIndexScanExec builds an index-scan operator keyed on indexCol.
func NewIndexScanExec(table string, schema *types.Schema, indexCol string, predicates []planner.Expression, source RowSource) *IndexScanExec {
	return &IndexScanExec{table: table, schema: schema, indexCol: indexCol, predicates: predicates, source: source}
}

func (e *IndexScanExec) Schema() *types.Schema { return e.schema }

func (e *IndexScanExec) Open(ctx context.Context) error {
	e.colIdx = e.schema.ColumnIndex(e.indexCol)
	rows, err := e.source.Rows(e.table)
	if err != nil {
		return errors.Trace(err)
	}
	tr := btree.New(32)
	for i, row := range rows {
		if e.colIdx >= 0 && e.colIdx < len(row) {
			tr.ReplaceOrInsert(&indexItem{key: row[e.colIdx], seq: i, row: row})
		}
	}
	eq, ok := equalityLiteral(e.predicates, e.colIdx)
	if !ok {
		// No equality predicate on the indexed column reached us (e.g. the
		// rule pipeline rewrote it away); fall back to a full ordered walk.
		tr.Ascend(func(item btree.Item) bool {
			e.matches = append(e.matches, item.(*indexItem).row)
			return true
		})
		return nil
	}
	probe := &indexItem{key: eq, seq: -1}
	tr.AscendGreaterOrEqual(probe, func(item btree.Item) bool {
		it := item.(*indexItem)
		if types.Compare(it.key, eq) != 0 {
			return false
		}
		e.matches = append(e.matches, it.row)
		return true
	})
	return nil
}

func (e *IndexScanExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	if e.pos >= len(e.matches) {
		return nil, nil
	}
	batch := types.NewRowBatch(e.schema, types.DefaultBatchSize)
	for e.pos < len(e.matches) && batch.Len() < types.DefaultBatchSize {
		row := e.matches[e.pos]
		e.pos++
		if rowMatches(row, e.predicates) {
			batch.Append(row)
		}
	}
	e.record(batch)
	return batch, nil
}

func (e *IndexScanExec) Close() error { return nil }

// BitmapScanExec is the operator for AlgoBitmapScan. It probes a single
// indexed column exactly as IndexScanExec does; no intersection of several
// index probes takes place (see NewBitmapScanExec).
type BitmapScanExec struct {
	*IndexScanExec
}

// NewBitmapScanExec builds a bitmap-scan operator. This module has only one
// indexed column recorded per physical node (IndexCol), so the bitmap
// intersection degenerates to the single-index probe IndexScanExec already
// performs; BitmapScanExec exists as a distinct operator type so the
// algorithm choice recorded by the cost model (AlgoBitmapScan, chosen when
// two or more equality predicates are index-eligible) is reflected in the
// executed plan rather than silently downgraded to IndexScan.
func NewBitmapScanExec(table string, schema *types.Schema, indexCol string, predicates []planner.Expression, source RowSource) *BitmapScanExec {
	return &BitmapScanExec{IndexScanExec: NewIndexScanExec(table, schema, indexCol, predicates, source)}
}

func equalityLiteral(predicates []planner.Expression, colIdx int) (types.Value, bool) {
	for _, p := range predicates {
		f, ok := p.(*planner.ScalarFunction)
		if !ok || f.IsUnary {
			continue
		}
		if lit, colMatches := matchColumnEquality(f, colIdx); colMatches {
			return lit, true
		}
	}
	return types.Value{}, false
}

func matchColumnEquality(f *planner.ScalarFunction, colIdx int) (types.Value, bool) {
	if f.BinOp.String() != "=" {
		return types.Value{}, false
	}
	col, colOK := f.Args[0].(*planner.ColumnRef)
	lit, litOK := f.Args[1].(*planner.Constant)
	if colOK && litOK && col.Index == colIdx {
		return lit.Value, true
	}
	col, colOK = f.Args[1].(*planner.ColumnRef)
	lit, litOK = f.Args[0].(*planner.Constant)
	if colOK && litOK && col.Index == colIdx {
		return lit.Value, true
	}
	return types.Value{}, false
}
