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
	"github.com/ngaut/pools"
	"github.com/pingcap/errors"
	"github.com/volcanodb/platform/planner"
)

// Builder compiles a costed planner.PhysicalPlan into an executable
// Operator tree, reading table rows from source and (optionally) borrowing
// Gather workers from pool.
type Builder struct {
	source RowSource
	pool   *pools.ResourcePool
}

// NewBuilder creates an executor Builder. pool may be nil, in which case
// GatherExec runs without borrowing a worker resource.
func NewBuilder(source RowSource, pool *pools.ResourcePool) *Builder {
	return &Builder{source: source, pool: pool}
}

// Build compiles p (and its whole subtree) into an Operator.
func (b *Builder) Build(p *planner.PhysicalPlan) (Operator, error) {
	switch p.Algo {
	case planner.AlgoSeqScan:
		return NewSeqScanExec(p.Table, p.Schema, p.Predicates, b.source), nil
	case planner.AlgoIndexScan:
		return NewIndexScanExec(p.Table, p.Schema, p.IndexCol, p.Predicates, b.source), nil
	case planner.AlgoBitmapScan:
		return NewBitmapScanExec(p.Table, p.Schema, p.IndexCol, p.Predicates, b.source), nil
	case planner.AlgoFilter:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewFilterExec(child, p.Predicates), nil
	case planner.AlgoProject:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewProjectExec(child, p.Schema, p.Exprs), nil
	case planner.AlgoLimit:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewLimitExec(child, p.Limit.Offset, p.Limit.Count), nil
	case planner.AlgoHashJoin, planner.AlgoMergeJoin, planner.AlgoNestedLoopJoin:
		return b.buildJoin(p)
	case planner.AlgoHashAggregate:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewHashAggregateExec(child, p.Schema, p.GroupBy, p.AggFuncs), nil
	case planner.AlgoSortAggregate:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewSortAggregateExec(child, p.Schema, p.GroupBy, p.AggFuncs), nil
	case planner.AlgoSort:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewSortExec(child, p.SortItems), nil
	case planner.AlgoTopNSort:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		offset, count := int64(0), int64(1<<62)
		if p.Limit != nil {
			offset, count = p.Limit.Offset, p.Limit.Count
		}
		return NewTopNSortExec(child, p.SortItems, offset, count), nil
	case planner.AlgoHashDistinct:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewHashDistinctExec(child), nil
	case planner.AlgoSortDistinct:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewSortDistinctExec(child), nil
	case planner.AlgoUnionAll, planner.AlgoHashUnion:
		return b.buildUnion(p)
	case planner.AlgoMaterialize:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewMaterializeExec(child), nil
	case planner.AlgoExchange:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewExchangeExec(child), nil
	case planner.AlgoGather:
		child, err := b.buildChild(p, 0)
		if err != nil {
			return nil, err
		}
		return NewGatherExec(child, b.pool), nil
	default:
		return nil, errors.Errorf("executor: no operator implementation for algorithm %v", p.Algo)
	}
}

func (b *Builder) buildChild(p *planner.PhysicalPlan, i int) (Operator, error) {
	return b.Build(p.Children[i])
}

func (b *Builder) buildJoin(p *planner.PhysicalPlan) (Operator, error) {
	left, err := b.buildChild(p, 0)
	if err != nil {
		return nil, err
	}
	right, err := b.buildChild(p, 1)
	if err != nil {
		return nil, err
	}
	switch p.Algo {
	case planner.AlgoHashJoin:
		return NewHashJoinExec(left, right, p.JoinOn), nil
	case planner.AlgoMergeJoin:
		return NewMergeJoinExec(left, right, p.JoinOn), nil
	default:
		return NewNestedLoopJoinExec(left, right, p.JoinOn), nil
	}
}

func (b *Builder) buildUnion(p *planner.PhysicalPlan) (Operator, error) {
	children := make([]Operator, len(p.Children))
	for i := range p.Children {
		c, err := b.buildChild(p, i)
		if err != nil {
			return nil, err
		}
		children[i] = c
	}
	if p.Algo == planner.AlgoHashUnion {
		return NewHashUnionExec(children, p.Schema), nil
	}
	return NewUnionAllExec(children, p.Schema), nil
}
