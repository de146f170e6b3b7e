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

	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/types"
)

func joinedSchema(left, right *types.Schema) *types.Schema {
	cols := make([]*types.Column, 0, left.Len()+right.Len())
	cols = append(cols, left.Columns...)
	cols = append(cols, right.Columns...)
	return types.NewSchema(cols...)
}

func concatRow(l, r types.Row) types.Row {
	out := make(types.Row, 0, len(l)+len(r))
	out = append(out, l...)
	out = append(out, r...)
	return out
}

// equiJoinKeys splits on's equi-join conditions into left/right column
// indices, in the order the cost model verified them to be equality-only
// (joinIsEquiOnly) when choosing HashJoin/MergeJoin over NestedLoopJoin.
func equiJoinKeys(on []planner.Expression, leftLen int) (leftIdx, rightIdx []int) {
	for _, cond := range on {
		f, ok := cond.(*planner.ScalarFunction)
		if !ok || f.IsUnary || f.BinOp.String() != "=" {
			continue
		}
		l, lok := f.Args[0].(*planner.ColumnRef)
		r, rok := f.Args[1].(*planner.ColumnRef)
		if !lok || !rok {
			continue
		}
		if l.Index < leftLen && r.Index >= leftLen {
			leftIdx = append(leftIdx, l.Index)
			rightIdx = append(rightIdx, r.Index-leftLen)
		} else if r.Index < leftLen && l.Index >= leftLen {
			leftIdx = append(leftIdx, r.Index)
			rightIdx = append(rightIdx, l.Index-leftLen)
		}
	}
	return leftIdx, rightIdx
}

func joinKey(row types.Row, idx []int) string {
	var b []byte
	for _, i := range idx {
		b = append(b, row[i].String()...)
		b = append(b, 0)
	}
	return string(b)
}

// HashJoinExec builds an in-memory hash table over the right (build) side
// keyed on the equi-join columns, then probes it with each left-side row —
// the default algorithm whenever the build side fits the configured memory
// budget.
type HashJoinExec struct {
	baseStats
	left, right       Operator
	schema            *types.Schema
	leftKeys, rightKeys []int
	extra             []planner.Expression // full join condition list, re-checked per candidate pair

	buildTable map[string][]types.Row
	leftPos    int
	leftBatch  *types.RowBatch
	matches    []types.Row
	matchPos   int
}

// NewHashJoinExec builds a hash-join operator. on is the full join
// condition list (equi and non-equi); equi conditions drive the hash
// table, and every condition in on is re-checked per candidate pair.
func NewHashJoinExec(left, right Operator, on []planner.Expression) *HashJoinExec {
	leftIdx, rightIdx := equiJoinKeys(on, left.Schema().Len())
	return &HashJoinExec{
		left: left, right: right,
		schema:    joinedSchema(left.Schema(), right.Schema()),
		leftKeys:  leftIdx, rightKeys: rightIdx,
		extra: on,
	}
}

func (e *HashJoinExec) Schema() *types.Schema { return e.schema }

func (e *HashJoinExec) Open(ctx context.Context) error {
	if err := e.left.Open(ctx); err != nil {
		return err
	}
	if err := e.right.Open(ctx); err != nil {
		return err
	}
	e.buildTable = make(map[string][]types.Row)
	for {
		batch, err := e.right.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		for _, row := range batch.Rows {
			key := joinKey(row, e.rightKeys)
			e.buildTable[key] = append(e.buildTable[key], row)
		}
	}
	return nil
}

func (e *HashJoinExec) Close() error {
	if err := e.left.Close(); err != nil {
		return err
	}
	return e.right.Close()
}

func (e *HashJoinExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	out := types.NewRowBatch(e.schema, types.DefaultBatchSize)
	for out.Len() < types.DefaultBatchSize {
		if e.matchPos < len(e.matches) {
			leftRow := e.leftBatch.Rows[e.leftPos-1]
			joined := concatRow(leftRow, e.matches[e.matchPos])
			e.matchPos++
			if rowMatches(joined, e.extra) {
				out.Append(joined)
			}
			continue
		}
		if e.leftBatch == nil || e.leftPos >= e.leftBatch.Len() {
			batch, err := e.left.Next(ctx)
			if err != nil {
				return nil, err
			}
			if batch == nil {
				break
			}
			e.leftBatch = batch
			e.leftPos = 0
		}
		leftRow := e.leftBatch.Rows[e.leftPos]
		e.leftPos++
		e.matches = e.buildTable[joinKey(leftRow, e.leftKeys)]
		e.matchPos = 0
	}
	if out.Len() == 0 {
		return nil, nil
	}
	e.record(out)
	return out, nil
}

// MergeJoinExec is a sort-merge join, chosen over HashJoin when the build
// side exceeds the hash memory budget. Open drains both inputs into memory
// and sorts each on its join keys; Next merges them with a two-pointer scan.
type MergeJoinExec struct {
	baseStats
	left, right         Operator
	schema              *types.Schema
	leftKeys, rightKeys []int
	extra               []planner.Expression

	leftRows, rightRows []types.Row
	li, ri              int
	pending             []types.Row
	pendingPos          int
}

// NewMergeJoinExec builds a sort-merge join operator.
func NewMergeJoinExec(left, right Operator, on []planner.Expression) *MergeJoinExec {
	leftIdx, rightIdx := equiJoinKeys(on, left.Schema().Len())
	return &MergeJoinExec{
		left: left, right: right,
		schema:   joinedSchema(left.Schema(), right.Schema()),
		leftKeys: leftIdx, rightKeys: rightIdx,
		extra: on,
	}
}

func (e *MergeJoinExec) Schema() *types.Schema { return e.schema }

func (e *MergeJoinExec) Open(ctx context.Context) error {
	if err := e.left.Open(ctx); err != nil {
		return err
	}
	if err := e.right.Open(ctx); err != nil {
		return err
	}
	e.leftRows = drain(ctx, e.left)
	e.rightRows = drain(ctx, e.right)
	sortRowsByIdx(e.leftRows, e.leftKeys)
	sortRowsByIdx(e.rightRows, e.rightKeys)
	return nil
}

func drain(ctx context.Context, op Operator) []types.Row {
	var rows []types.Row
	for {
		batch, err := op.Next(ctx)
		if err != nil || batch == nil {
			return rows
		}
		rows = append(rows, batch.Rows...)
	}
}

func sortRowsByIdx(rows []types.Row, idx []int) {
	sortRows(rows, func(a, b types.Row) bool {
		for _, i := range idx {
			if c := types.Compare(a[i], b[i]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func (e *MergeJoinExec) Close() error {
	if err := e.left.Close(); err != nil {
		return err
	}
	return e.right.Close()
}

func (e *MergeJoinExec) compareGroups(l, r types.Row) int {
	for i := range e.leftKeys {
		if c := types.Compare(l[e.leftKeys[i]], r[e.rightKeys[i]]); c != 0 {
			return c
		}
	}
	return 0
}

func (e *MergeJoinExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	out := types.NewRowBatch(e.schema, types.DefaultBatchSize)
	for out.Len() < types.DefaultBatchSize {
		if e.pendingPos < len(e.pending) {
			out.Append(e.pending[e.pendingPos])
			e.pendingPos++
			continue
		}
		if e.li >= len(e.leftRows) || e.ri >= len(e.rightRows) {
			break
		}
		cmp := e.compareGroups(e.leftRows[e.li], e.rightRows[e.ri])
		switch {
		case cmp < 0:
			e.li++
		case cmp > 0:
			e.ri++
		default:
			lStart := e.li
			for e.li < len(e.leftRows) && e.compareGroups(e.leftRows[e.li], e.rightRows[e.ri]) == 0 {
				e.li++
			}
			rStart := e.ri
			for e.ri < len(e.rightRows) && e.compareGroups(e.leftRows[lStart], e.rightRows[e.ri]) == 0 {
				e.ri++
			}
			e.pending = e.pending[:0]
			for i := lStart; i < e.li; i++ {
				for j := rStart; j < e.ri; j++ {
					joined := concatRow(e.leftRows[i], e.rightRows[j])
					if rowMatches(joined, e.extra) {
						e.pending = append(e.pending, joined)
					}
				}
			}
			e.pendingPos = 0
		}
	}
	if out.Len() == 0 {
		return nil, nil
	}
	e.record(out)
	return out, nil
}

// NestedLoopJoinExec evaluates every left/right row pair against the full
// join condition — the fallback whenever the join has no equi-join
// condition to hash or sort-merge on.
type NestedLoopJoinExec struct {
	baseStats
	left, right Operator
	schema      *types.Schema
	on          []planner.Expression

	rightRows []types.Row
	leftBatch *types.RowBatch
	leftPos   int
	rightPos  int
}

// NewNestedLoopJoinExec builds a nested-loop join operator.
func NewNestedLoopJoinExec(left, right Operator, on []planner.Expression) *NestedLoopJoinExec {
	return &NestedLoopJoinExec{left: left, right: right, schema: joinedSchema(left.Schema(), right.Schema()), on: on}
}

func (e *NestedLoopJoinExec) Schema() *types.Schema { return e.schema }

func (e *NestedLoopJoinExec) Open(ctx context.Context) error {
	if err := e.left.Open(ctx); err != nil {
		return err
	}
	if err := e.right.Open(ctx); err != nil {
		return err
	}
	e.rightRows = drain(ctx, e.right)
	return nil
}

func (e *NestedLoopJoinExec) Close() error {
	if err := e.left.Close(); err != nil {
		return err
	}
	return e.right.Close()
}

func (e *NestedLoopJoinExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	out := types.NewRowBatch(e.schema, types.DefaultBatchSize)
	for out.Len() < types.DefaultBatchSize {
		if e.leftBatch == nil || e.leftPos >= e.leftBatch.Len() {
			batch, err := e.left.Next(ctx)
			if err != nil {
				return nil, err
			}
			if batch == nil {
				break
			}
			e.leftBatch = batch
			e.leftPos = 0
			e.rightPos = 0
		}
		if e.rightPos >= len(e.rightRows) {
			e.leftPos++
			e.rightPos = 0
			continue
		}
		leftRow := e.leftBatch.Rows[e.leftPos]
		rightRow := e.rightRows[e.rightPos]
		e.rightPos++
		joined := concatRow(leftRow, rightRow)
		if rowMatches(joined, e.on) {
			out.Append(joined)
		}
	}
	if out.Len() == 0 {
		return nil, nil
	}
	e.record(out)
	return out, nil
}
