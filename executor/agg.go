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

	"github.com/volcanodb/platform/ast"
	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/types"
)

// aggState accumulates one aggregate function's running value across the
// rows of a single group.
type aggState struct {
	desc  *planner.AggDesc
	count int64
	sum   float64
	sumIsInt bool
	sumInt   int64
	min, max types.Value
	seen     bool
	distinctSeen map[string]bool
}

func newAggState(desc *planner.AggDesc) *aggState {
	s := &aggState{desc: desc, sumIsInt: true}
	if desc.Distinct {
		s.distinctSeen = make(map[string]bool)
	}
	return s
}

func (s *aggState) add(row types.Row) {
	var v types.Value
	if len(s.desc.Args) > 0 {
		v = s.desc.Args[0].Eval(row)
	}
	if s.desc.Func != ast.AggCount && v.IsNull() {
		return
	}
	if s.desc.Distinct {
		key := v.String()
		if s.distinctSeen[key] {
			return
		}
		s.distinctSeen[key] = true
	}
	s.count++
	switch s.desc.Func {
	case ast.AggSum, ast.AggAvg:
		if v.Kind() == types.KindInt64 && s.sumIsInt {
			s.sumInt += v.AsInt64()
		} else {
			s.sumIsInt = false
			s.sum += toFloatVal(v)
		}
	case ast.AggMin:
		if !s.seen || types.Compare(v, s.min) < 0 {
			s.min = v
		}
	case ast.AggMax:
		if !s.seen || types.Compare(v, s.max) > 0 {
			s.max = v
		}
	}
	s.seen = true
}

func toFloatVal(v types.Value) float64 {
	switch v.Kind() {
	case types.KindInt64:
		return float64(v.AsInt64())
	case types.KindFloat64:
		return v.AsFloat64()
	default:
		return 0
	}
}

func (s *aggState) result() types.Value {
	switch s.desc.Func {
	case ast.AggCount:
		return types.NewInt64(s.count)
	case ast.AggSum:
		if s.sumIsInt {
			return types.NewInt64(s.sumInt)
		}
		return types.NewFloat64(s.sum)
	case ast.AggAvg:
		if s.count == 0 {
			return types.NewNull()
		}
		total := s.sum
		if s.sumIsInt {
			total = float64(s.sumInt)
		}
		return types.NewFloat64(total / float64(s.count))
	case ast.AggMin:
		if !s.seen {
			return types.NewNull()
		}
		return s.min
	case ast.AggMax:
		if !s.seen {
			return types.NewNull()
		}
		return s.max
	default:
		return types.NewNull()
	}
}

// HashAggregateExec groups rows by GroupBy key into an in-memory map of
// per-group aggState, the default algorithm for GROUP BY.
type HashAggregateExec struct {
	baseStats
	child    Operator
	schema   *types.Schema
	groupBy  []planner.Expression
	aggDescs []*planner.AggDesc

	groups   map[string][]*aggState
	groupKey map[string]types.Row
	order    []string
	pos      int
	done     bool
}

// NewHashAggregateExec builds a GROUP BY operator.
func NewHashAggregateExec(child Operator, schema *types.Schema, groupBy []planner.Expression, aggDescs []*planner.AggDesc) *HashAggregateExec {
	return &HashAggregateExec{
		child: child, schema: schema, groupBy: groupBy, aggDescs: aggDescs,
		groups: make(map[string][]*aggState), groupKey: make(map[string]types.Row),
	}
}

func (e *HashAggregateExec) Schema() *types.Schema          { return e.schema }
func (e *HashAggregateExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *HashAggregateExec) Close() error                   { return e.child.Close() }

func (e *HashAggregateExec) groupKeyRow(row types.Row) (string, types.Row) {
	key := make(types.Row, len(e.groupBy))
	for i, expr := range e.groupBy {
		key[i] = expr.Eval(row)
	}
	return rowKey(key), key
}

func (e *HashAggregateExec) consume(ctx context.Context) error {
	for {
		batch, err := e.child.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}
		for _, row := range batch.Rows {
			k, keyRow := e.groupKeyRow(row)
			states, ok := e.groups[k]
			if !ok {
				states = make([]*aggState, len(e.aggDescs))
				for i, d := range e.aggDescs {
					states[i] = newAggState(d)
				}
				e.groups[k] = states
				e.groupKey[k] = keyRow
				e.order = append(e.order, k)
			}
			for _, s := range states {
				s.add(row)
			}
		}
	}
}

func (e *HashAggregateExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	if !e.done {
		if err := e.consume(ctx); err != nil {
			return nil, err
		}
		e.done = true
		if len(e.order) == 0 && len(e.groupBy) == 0 {
			// No input rows and no GROUP BY key: a bare aggregate (e.g.
			// COUNT(*)) still produces exactly one row of zero-valued state.
			states := make([]*aggState, len(e.aggDescs))
			for i, d := range e.aggDescs {
				states[i] = newAggState(d)
			}
			e.groups[""] = states
			e.groupKey[""] = nil
			e.order = append(e.order, "")
		}
	}
	if e.pos >= len(e.order) {
		return nil, nil
	}
	out := types.NewRowBatch(e.schema, types.DefaultBatchSize)
	for e.pos < len(e.order) && out.Len() < types.DefaultBatchSize {
		k := e.order[e.pos]
		e.pos++
		keyRow := e.groupKey[k]
		states := e.groups[k]
		row := make(types.Row, 0, len(keyRow)+len(states))
		row = append(row, keyRow...)
		for _, s := range states {
			row = append(row, s.result())
		}
		out.Append(row)
	}
	e.record(out)
	return out, nil
}

// SortAggregateExec groups adjacent-equal rows from an already-ordered
// child without a hash map, a low-memory alternative for GROUP BY-ordered
// input. The physical planner never selects it: planAggregation always
// picks AlgoHashAggregate.
type SortAggregateExec struct {
	baseStats
	child    Operator
	schema   *types.Schema
	groupBy  []planner.Expression
	aggDescs []*planner.AggDesc

	curKey    string
	curKeyRow types.Row
	curStates []*aggState
	started   bool
	childDone bool
}

// NewSortAggregateExec builds a sort-merge GROUP BY operator.
func NewSortAggregateExec(child Operator, schema *types.Schema, groupBy []planner.Expression, aggDescs []*planner.AggDesc) *SortAggregateExec {
	return &SortAggregateExec{child: child, schema: schema, groupBy: groupBy, aggDescs: aggDescs}
}

func (e *SortAggregateExec) Schema() *types.Schema          { return e.schema }
func (e *SortAggregateExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *SortAggregateExec) Close() error                   { return e.child.Close() }

func (e *SortAggregateExec) newStates() []*aggState {
	states := make([]*aggState, len(e.aggDescs))
	for i, d := range e.aggDescs {
		states[i] = newAggState(d)
	}
	return states
}

func (e *SortAggregateExec) keyOf(row types.Row) (string, types.Row) {
	key := make(types.Row, len(e.groupBy))
	for i, expr := range e.groupBy {
		key[i] = expr.Eval(row)
	}
	return rowKey(key), key
}

func (e *SortAggregateExec) emit() types.Row {
	row := make(types.Row, 0, len(e.curKeyRow)+len(e.curStates))
	row = append(row, e.curKeyRow...)
	for _, s := range e.curStates {
		row = append(row, s.result())
	}
	return row
}

func (e *SortAggregateExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	if e.childDone && !e.started {
		return nil, nil
	}
	out := types.NewRowBatch(e.schema, types.DefaultBatchSize)
	for out.Len() < types.DefaultBatchSize {
		if e.childDone {
			break
		}
		batch, err := e.child.Next(ctx)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			e.childDone = true
			if e.started {
				out.Append(e.emit())
			}
			break
		}
		for _, row := range batch.Rows {
			k, keyRow := e.keyOf(row)
			if !e.started {
				e.started = true
				e.curKey, e.curKeyRow, e.curStates = k, keyRow, e.newStates()
			} else if k != e.curKey {
				out.Append(e.emit())
				e.curKey, e.curKeyRow, e.curStates = k, keyRow, e.newStates()
			}
			for _, s := range e.curStates {
				s.add(row)
			}
		}
	}
	if out.Len() == 0 {
		return nil, nil
	}
	e.record(out)
	return out, nil
}
