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

// FilterExec drops rows that don't satisfy every predicate; the planner
// already folded pushed-down predicates into scans, so the predicates
// reaching Filter are whatever couldn't be pushed further.
type FilterExec struct {
	baseStats
	child      Operator
	predicates []planner.Expression
}

// NewFilterExec wraps child with a residual predicate check.
func NewFilterExec(child Operator, predicates []planner.Expression) *FilterExec {
	return &FilterExec{child: child, predicates: predicates}
}

func (e *FilterExec) Schema() *types.Schema { return e.child.Schema() }
func (e *FilterExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *FilterExec) Close() error                   { return e.child.Close() }

func (e *FilterExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	for {
		in, err := e.child.Next(ctx)
		if err != nil || in == nil {
			return nil, err
		}
		out := types.NewRowBatch(e.Schema(), in.Len())
		for _, row := range in.Rows {
			if rowMatches(row, e.predicates) {
				out.Append(row)
			}
		}
		if out.Len() > 0 {
			e.record(out)
			return out, nil
		}
	}
}

// ProjectExec evaluates Exprs against each input row to produce the output
// row, whose columns are named by the schema it was built with.
type ProjectExec struct {
	baseStats
	child  Operator
	schema *types.Schema
	exprs  []planner.Expression
}

// NewProjectExec builds a projection operator.
func NewProjectExec(child Operator, schema *types.Schema, exprs []planner.Expression) *ProjectExec {
	return &ProjectExec{child: child, schema: schema, exprs: exprs}
}

func (e *ProjectExec) Schema() *types.Schema         { return e.schema }
func (e *ProjectExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *ProjectExec) Close() error                   { return e.child.Close() }

func (e *ProjectExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	in, err := e.child.Next(ctx)
	if err != nil || in == nil {
		return nil, err
	}
	out := types.NewRowBatch(e.schema, in.Len())
	for _, row := range in.Rows {
		projected := make(types.Row, len(e.exprs))
		for i, expr := range e.exprs {
			projected[i] = expr.Eval(row)
		}
		out.Append(projected)
	}
	e.record(out)
	return out, nil
}

// LimitExec skips Offset rows then emits at most Count more, across as many
// child batches as it takes.
type LimitExec struct {
	baseStats
	child  Operator
	offset int64
	count  int64

	skipped int64
	emitted int64
}

// NewLimitExec builds a LIMIT/OFFSET operator.
func NewLimitExec(child Operator, offset, count int64) *LimitExec {
	return &LimitExec{child: child, offset: offset, count: count}
}

func (e *LimitExec) Schema() *types.Schema          { return e.child.Schema() }
func (e *LimitExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *LimitExec) Close() error                   { return e.child.Close() }

func (e *LimitExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	if e.emitted >= e.count {
		return nil, nil
	}
	for {
		in, err := e.child.Next(ctx)
		if err != nil || in == nil {
			return nil, err
		}
		out := types.NewRowBatch(e.Schema(), in.Len())
		for _, row := range in.Rows {
			if e.skipped < e.offset {
				e.skipped++
				continue
			}
			if e.emitted >= e.count {
				break
			}
			out.Append(row)
			e.emitted++
		}
		if out.Len() > 0 || e.emitted >= e.count {
			e.record(out)
			return out, nil
		}
	}
}

// UnionAllExec concatenates every child's output in order, with no
// deduplication.
type UnionAllExec struct {
	baseStats
	children []Operator
	schema   *types.Schema
	cur      int
}

// NewUnionAllExec builds a UNION ALL operator over children.
func NewUnionAllExec(children []Operator, schema *types.Schema) *UnionAllExec {
	return &UnionAllExec{children: children, schema: schema}
}

func (e *UnionAllExec) Schema() *types.Schema { return e.schema }

func (e *UnionAllExec) Open(ctx context.Context) error {
	for _, c := range e.children {
		if err := c.Open(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *UnionAllExec) Close() error {
	var firstErr error
	for _, c := range e.children {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *UnionAllExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	for e.cur < len(e.children) {
		batch, err := e.children[e.cur].Next(ctx)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			e.cur++
			continue
		}
		e.record(batch)
		return batch, nil
	}
	return nil, nil
}

// HashUnionExec is UNION (without ALL): it runs a UnionAllExec and
// deduplicates against a seen-set of row string forms, the same mechanism
// HashDistinctExec uses, before passing rows through.
type HashUnionExec struct {
	baseStats
	inner *UnionAllExec
	seen  map[string]bool
}

// NewHashUnionExec builds a UNION (deduplicating) operator.
func NewHashUnionExec(children []Operator, schema *types.Schema) *HashUnionExec {
	return &HashUnionExec{inner: NewUnionAllExec(children, schema), seen: make(map[string]bool)}
}

func (e *HashUnionExec) Schema() *types.Schema { return e.inner.Schema() }
func (e *HashUnionExec) Open(ctx context.Context) error { return e.inner.Open(ctx) }
func (e *HashUnionExec) Close() error                   { return e.inner.Close() }

func (e *HashUnionExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	for {
		in, err := e.inner.Next(ctx)
		if err != nil || in == nil {
			return nil, err
		}
		out := types.NewRowBatch(e.Schema(), in.Len())
		for _, row := range in.Rows {
			key := rowKey(row)
			if !e.seen[key] {
				e.seen[key] = true
				out.Append(row)
			}
		}
		if out.Len() > 0 {
			e.record(out)
			return out, nil
		}
	}
}

func rowKey(row types.Row) string {
	var b []byte
	for _, v := range row {
		b = append(b, v.String()...)
		b = append(b, 0)
	}
	return string(b)
}

// HashDistinctExec deduplicates rows with an in-memory seen-set, the
// default algorithm choice for DISTINCT.
type HashDistinctExec struct {
	baseStats
	child Operator
	seen  map[string]bool
}

// NewHashDistinctExec builds a DISTINCT operator.
func NewHashDistinctExec(child Operator) *HashDistinctExec {
	return &HashDistinctExec{child: child, seen: make(map[string]bool)}
}

func (e *HashDistinctExec) Schema() *types.Schema          { return e.child.Schema() }
func (e *HashDistinctExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *HashDistinctExec) Close() error                   { return e.child.Close() }

func (e *HashDistinctExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	for {
		in, err := e.child.Next(ctx)
		if err != nil || in == nil {
			return nil, err
		}
		out := types.NewRowBatch(e.Schema(), in.Len())
		for _, row := range in.Rows {
			key := rowKey(row)
			if !e.seen[key] {
				e.seen[key] = true
				out.Append(row)
			}
		}
		if out.Len() > 0 {
			e.record(out)
			return out, nil
		}
	}
}

// SortDistinctExec deduplicates adjacent-equal rows in an already-sorted
// stream without building a seen-set, a low-memory alternative to
// HashDistinctExec for input that already carries the right order. The
// physical planner never selects it: planDistinct always picks
// AlgoHashDistinct.
type SortDistinctExec struct {
	baseStats
	child   Operator
	hasPrev bool
	prev    types.Row
}

// NewSortDistinctExec builds a merge-distinct operator over an
// already-ordered child.
func NewSortDistinctExec(child Operator) *SortDistinctExec {
	return &SortDistinctExec{child: child}
}

func (e *SortDistinctExec) Schema() *types.Schema          { return e.child.Schema() }
func (e *SortDistinctExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *SortDistinctExec) Close() error                   { return e.child.Close() }

func (e *SortDistinctExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	for {
		in, err := e.child.Next(ctx)
		if err != nil || in == nil {
			return nil, err
		}
		out := types.NewRowBatch(e.Schema(), in.Len())
		for _, row := range in.Rows {
			if e.hasPrev && rowKey(row) == rowKey(e.prev) {
				continue
			}
			out.Append(row)
			e.prev = row
			e.hasPrev = true
		}
		if out.Len() > 0 {
			e.record(out)
			return out, nil
		}
	}
}

// MaterializeExec buffers its child's entire output on first Next, then
// replays it from memory — used wherever a build side or a correlated
// re-scan needs a stable, repeatable row set.
type MaterializeExec struct {
	baseStats
	child     Operator
	buffered  bool
	rows      []types.Row
	pos       int
}

// NewMaterializeExec builds a materializing buffer operator.
func NewMaterializeExec(child Operator) *MaterializeExec {
	return &MaterializeExec{child: child}
}

func (e *MaterializeExec) Schema() *types.Schema          { return e.child.Schema() }
func (e *MaterializeExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *MaterializeExec) Close() error                   { return e.child.Close() }

func (e *MaterializeExec) fill(ctx context.Context) error {
	for {
		batch, err := e.child.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			e.buffered = true
			return nil
		}
		e.rows = append(e.rows, batch.Rows...)
	}
}

func (e *MaterializeExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	if !e.buffered {
		if err := e.fill(ctx); err != nil {
			return nil, err
		}
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
