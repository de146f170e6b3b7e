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

package planner

import "github.com/volcanodb/platform/types"

// PhysicalAlgo names the concrete algorithm a PhysicalPlan node executes
// with.
type PhysicalAlgo int

// Physical algorithms.
const (
	AlgoSeqScan PhysicalAlgo = iota
	AlgoIndexScan
	AlgoBitmapScan
	AlgoNestedLoopJoin
	AlgoHashJoin
	AlgoMergeJoin
	AlgoHashAggregate
	AlgoSortAggregate
	AlgoSort
	AlgoTopNSort
	AlgoHashDistinct
	AlgoSortDistinct
	AlgoUnionAll
	AlgoHashUnion
	AlgoGather
	AlgoExchange
	AlgoMaterialize
	AlgoFilter
	AlgoProject
	AlgoLimit
)

func (a PhysicalAlgo) String() string {
	names := [...]string{
		"SeqScan", "IndexScan", "BitmapScan", "NestedLoopJoin", "HashJoin",
		"MergeJoin", "HashAggregate", "SortAggregate", "Sort", "TopNSort",
		"HashDistinct", "SortDistinct", "UnionAll", "HashUnion", "Gather",
		"Exchange", "Materialize", "Filter", "Project", "Limit",
	}
	if int(a) < len(names) {
		return names[a]
	}
	return "Unknown"
}

// PhysicalPlan is one node of the physical plan tree: an algorithm choice,
// children, schema, and the Cost/Cardinality the planner attached to it.
// A root's cost is always the weighted sum over its subtree, enforced here
// by always deriving a parent's Cost from its already-costed children plus
// its own incremental cost.
type PhysicalPlan struct {
	Algo     PhysicalAlgo
	Children []*PhysicalPlan
	Schema   *types.Schema
	Cost     Cost
	Card     Cardinality

	// Operator-specific fields, populated by the corresponding plan*
	// function in physical_plan.go. Only the fields relevant to Algo are
	// meaningful; operator dispatch gates on Algo via a switch on its value at
	// execution time rather than on distinct per-operator struct types,
	// since this module has no code-generation step to specialize those.
	Table      string
	Alias      string
	Predicates []Expression
	Exprs      []Expression
	Names      []string
	JoinOn     []Expression
	GroupBy    []Expression
	AggFuncs   []*AggDesc
	SortItems  []SortItem
	Limit      *LimitSpec
	Distinct   bool
	UnionAll   bool
	IndexCol   string
}

// TotalCost returns the root's weighted cost, which by construction already
// includes every descendant's cost.
func (p *PhysicalPlan) TotalCost() float64 { return p.Cost.Total }
