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
	"container/heap"
	"context"
	"sort"

	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/types"
)

func sortRows(rows []types.Row, less func(a, b types.Row) bool) {
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
}

func sortKeyLess(items []planner.SortItem) func(a, b types.Row) bool {
	return func(a, b types.Row) bool {
		for _, it := range items {
			av, bv := it.Expr.Eval(a), it.Expr.Eval(b)
			c := types.Compare(av, bv)
			if c == 0 {
				continue
			}
			if it.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	}
}

// SortExec materializes its child's full output, orders it by ByItems, and
// replays it in batches. Large inputs would spill to disk in a storage-
// backed executor; here, with RowStore already holding every row in
// memory, Sort keeps the materialized buffer in memory too, and
// SortMemBudget in the cost model only adds an I/O term to the Sort cost
// estimate for inputs above it; it never triggers an actual spill.
type SortExec struct {
	baseStats
	child   Operator
	items   []planner.SortItem
	rows    []types.Row
	pos     int
	sorted  bool
}

// NewSortExec builds a full-sort operator.
func NewSortExec(child Operator, items []planner.SortItem) *SortExec {
	return &SortExec{child: child, items: items}
}

func (e *SortExec) Schema() *types.Schema          { return e.child.Schema() }
func (e *SortExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *SortExec) Close() error                   { return e.child.Close() }

func (e *SortExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	if !e.sorted {
		e.rows = drain(ctx, e.child)
		sortRows(e.rows, sortKeyLess(e.items))
		e.sorted = true
	}
	if e.pos >= len(e.rows) {
		return nil, nil
	}
	out := types.NewRowBatch(e.Schema(), types.DefaultBatchSize)
	for e.pos < len(e.rows) && out.Len() < types.DefaultBatchSize {
		out.Append(e.rows[e.pos])
		e.pos++
	}
	e.record(out)
	return out, nil
}

// topNHeap is a max-heap (by the sort order's "worse than" sense) over at
// most N rows, letting TopNSortExec keep memory proportional to N+Offset
// rather than the full input.
type topNHeap struct {
	rows []types.Row
	less func(a, b types.Row) bool
}

func (h *topNHeap) Len() int { return len(h.rows) }
func (h *topNHeap) Less(i, j int) bool {
	// Inverted: heap root is the worst-ranked row so far, so it's the first
	// one evicted when a better row arrives.
	return h.less(h.rows[j], h.rows[i])
}
func (h *topNHeap) Swap(i, j int)      { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *topNHeap) Push(x interface{}) { h.rows = append(h.rows, x.(types.Row)) }
func (h *topNHeap) Pop() interface{} {
	n := len(h.rows)
	x := h.rows[n-1]
	h.rows = h.rows[:n-1]
	return x
}

// TopNSortExec keeps only the top (Offset+Count) rows seen so far in a
// bounded heap, the fused Sort+Limit algorithm the physical planner picks
// whenever Count falls under the TopN threshold.
type TopNSortExec struct {
	baseStats
	child  Operator
	items  []planner.SortItem
	offset int64
	count  int64

	rows   []types.Row
	pos    int
	sorted bool
}

// NewTopNSortExec builds a bounded top-N operator.
func NewTopNSortExec(child Operator, items []planner.SortItem, offset, count int64) *TopNSortExec {
	return &TopNSortExec{child: child, items: items, offset: offset, count: count}
}

func (e *TopNSortExec) Schema() *types.Schema          { return e.child.Schema() }
func (e *TopNSortExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *TopNSortExec) Close() error                   { return e.child.Close() }

func (e *TopNSortExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	if !e.sorted {
		less := sortKeyLess(e.items)
		limit := int(e.offset + e.count)
		h := &topNHeap{less: less}
		for {
			batch, err := e.child.Next(ctx)
			if err != nil {
				return nil, err
			}
			if batch == nil {
				break
			}
			for _, row := range batch.Rows {
				if limit <= 0 {
					continue
				}
				if h.Len() < limit {
					heap.Push(h, row)
					continue
				}
				if less(row, h.rows[0]) {
					h.rows[0] = row
					heap.Fix(h, 0)
				}
			}
		}
		sortRows(h.rows, less)
		if int64(len(h.rows)) > e.offset {
			e.rows = h.rows[e.offset:]
		}
		e.sorted = true
	}
	if e.pos >= len(e.rows) {
		return nil, nil
	}
	out := types.NewRowBatch(e.Schema(), types.DefaultBatchSize)
	for e.pos < len(e.rows) && out.Len() < types.DefaultBatchSize {
		out.Append(e.rows[e.pos])
		e.pos++
	}
	e.record(out)
	return out, nil
}
