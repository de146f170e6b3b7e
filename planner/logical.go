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

// Package planner maps a parsed query onto a logical plan tree, rewrites it
// to a cheaper equivalent, chooses physical algorithms under a cost model,
// and optionally parallelizes the result. It is organized the way a
// TiDB-family planner package is: logical node types, a builder from
// AST, a rule pipeline, then a physical/cost layer in separate files.
package planner

import (
	"github.com/volcanodb/platform/ast"
	"github.com/volcanodb/platform/types"
)

// LogicalPlan is one node of the logical plan tree. Rewrite rules may
// change nodes in place (predicates, used columns, children, folded
// arguments) and report through their changed flag whether they did, which
// is what fixed-point detection relies on.
type LogicalPlan interface {
	Children() []LogicalPlan
	SetChildren(children ...LogicalPlan)
	Schema() *types.Schema
	// id is a small integer unique within one plan build; no code in this
	// module reads it.
	id() int
}

var nextPlanID int

func allocPlanID() int {
	nextPlanID++
	return nextPlanID
}

type baseLogicalPlan struct {
	children []LogicalPlan
	schema   *types.Schema
	planID   int
}

func newBaseLogicalPlan(schema *types.Schema) baseLogicalPlan {
	return baseLogicalPlan{schema: schema, planID: allocPlanID()}
}

func (b *baseLogicalPlan) Children() []LogicalPlan             { return b.children }
func (b *baseLogicalPlan) SetChildren(children ...LogicalPlan)  { b.children = children }
func (b *baseLogicalPlan) Schema() *types.Schema                { return b.schema }
func (b *baseLogicalPlan) id() int                              { return b.planID }

// LogicalScan reads a base table, optionally narrowed to a column
// projection and carrying predicates already pushed down onto it.
type LogicalScan struct {
	baseLogicalPlan
	Table      string
	Alias      string
	Predicates []Expression
	// UsedColumns holds the schema-qualified names of this scan's output
	// columns some ancestor (or this scan's own Predicates) actually
	// reference, populated by projectionPruningRule. Nil means the rule has
	// not run yet; a non-nil, possibly empty, slice is its real answer.
	UsedColumns []string
}

// LogicalFilter evaluates Predicates row-wise, dropping non-matching rows.
type LogicalFilter struct {
	baseLogicalPlan
	Predicates []Expression
}

// LogicalProject evaluates Exprs row-wise to produce the output schema.
type LogicalProject struct {
	baseLogicalPlan
	Exprs []Expression
	Names []string
	// UsedColumns holds the schema-qualified names of this projection's own
	// input columns actually referenced by Exprs, populated alongside
	// LogicalScan.UsedColumns by projectionPruningRule.
	UsedColumns []string
}

// LogicalJoin joins two children under Type with On conditions.
type LogicalJoin struct {
	baseLogicalPlan
	Type ast.JoinType
	On   []Expression
}

// LogicalAggregation groups by GroupByItems and evaluates AggFuncs.
type LogicalAggregation struct {
	baseLogicalPlan
	GroupByItems []Expression
	AggFuncs     []*AggDesc
}

// AggDesc is one aggregate function call within a LogicalAggregation.
type AggDesc struct {
	Func ast.AggFuncType
	Args []Expression
	Distinct bool
}

// LogicalSort orders by ByItems; a nil Limit means plain ORDER BY, a
// non-nil Limit signals an ORDER BY + LIMIT candidate for TopNSort fusion.
type LogicalSort struct {
	baseLogicalPlan
	ByItems []SortItem
	Limit   *LimitSpec
}

// SortItem is one ORDER BY key.
type SortItem struct {
	Expr Expression
	Desc bool
}

// LimitSpec is LIMIT/OFFSET.
type LimitSpec struct {
	Count  int64
	Offset int64
}

// LogicalLimit is a standalone LIMIT/OFFSET with no sort key.
type LogicalLimit struct {
	baseLogicalPlan
	LimitSpec
}

// LogicalUnion is UNION [ALL] of its children, which must share a schema.
type LogicalUnion struct {
	baseLogicalPlan
	All bool
}

// LogicalDistinct removes duplicate rows from its single child.
type LogicalDistinct struct {
	baseLogicalPlan
}

// LogicalSubquery wraps a correlated/uncorrelated subquery plan used as a
// scalar value or an EXISTS test within a parent predicate.
type LogicalSubquery struct {
	baseLogicalPlan
	Plan       LogicalPlan
	Exists     bool
	Correlated bool
}

func (s *LogicalSubquery) Children() []LogicalPlan { return []LogicalPlan{s.Plan} }
