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

import (
	"github.com/volcanodb/platform/ast"
	"github.com/volcanodb/platform/types"
)

// Expression is a resolved scalar expression: unlike ast.ExprNode (which
// names columns by string), every ColumnRef carries the row index it reads
// from, resolved once at build time so the executor never does name lookup
// per row.
type Expression interface {
	Eval(row types.Row) types.Value
	// Columns appends every ColumnRef reachable from this expression.
	Columns(out []*ColumnRef) []*ColumnRef
	String() string
}

// ColumnRef reads one column from the input row by position.
type ColumnRef struct {
	Index int
	Col   *types.Column
}

func (c *ColumnRef) Eval(row types.Row) types.Value { return row[c.Index] }
func (c *ColumnRef) Columns(out []*ColumnRef) []*ColumnRef {
	return append(out, c)
}
func (c *ColumnRef) String() string { return c.Col.QualifiedName() }

// Constant is a literal value, folded at build/rewrite time from ast
// literals or by the constant-folding rule.
type Constant struct {
	Value types.Value
}

func (c *Constant) Eval(types.Row) types.Value                  { return c.Value }
func (c *Constant) Columns(out []*ColumnRef) []*ColumnRef        { return out }
func (c *Constant) String() string                               { return c.Value.String() }

// ScalarFunction applies a binary or unary operator to resolved argument
// expressions.
type ScalarFunction struct {
	BinOp   ast.BinaryOperator
	UnaryOp ast.UnaryOperator
	IsUnary bool
	Args    []Expression
}

func (f *ScalarFunction) Columns(out []*ColumnRef) []*ColumnRef {
	for _, a := range f.Args {
		out = a.Columns(out)
	}
	return out
}

func (f *ScalarFunction) String() string {
	if f.IsUnary {
		return f.Args[0].String()
	}
	return f.Args[0].String() + " " + f.BinOp.String() + " " + f.Args[1].String()
}

// Eval evaluates the function. NULL propagates through every comparison
// and arithmetic operator per standard SQL three-valued logic; AND and OR
// apply three-valued logic to NULL operands, and IS [NOT] NULL test for NULL.
func (f *ScalarFunction) Eval(row types.Row) types.Value {
	if f.IsUnary {
		return f.evalUnary(row)
	}
	l := f.Args[0].Eval(row)
	r := f.Args[1].Eval(row)
	switch f.BinOp {
	case ast.OpAnd:
		return evalAnd(l, r)
	case ast.OpOr:
		return evalOr(l, r)
	}
	if l.IsNull() || r.IsNull() {
		return types.NewNull()
	}
	switch f.BinOp {
	case ast.OpEQ:
		return types.NewBool(types.Compare(l, r) == 0)
	case ast.OpNE:
		return types.NewBool(types.Compare(l, r) != 0)
	case ast.OpLT:
		return types.NewBool(types.Compare(l, r) < 0)
	case ast.OpLE:
		return types.NewBool(types.Compare(l, r) <= 0)
	case ast.OpGT:
		return types.NewBool(types.Compare(l, r) > 0)
	case ast.OpGE:
		return types.NewBool(types.Compare(l, r) >= 0)
	case ast.OpAdd:
		return arith(l, r, func(a, b float64) float64 { return a + b }, func(a, b int64) int64 { return a + b })
	case ast.OpSub:
		return arith(l, r, func(a, b float64) float64 { return a - b }, func(a, b int64) int64 { return a - b })
	case ast.OpMul:
		return arith(l, r, func(a, b float64) float64 { return a * b }, func(a, b int64) int64 { return a * b })
	case ast.OpDiv:
		return arith(l, r, func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			return a / b
		}, func(a, b int64) int64 {
			if b == 0 {
				return 0
			}
			return a / b
		})
	default:
		return types.NewNull()
	}
}

func evalAnd(l, r types.Value) types.Value {
	if (!l.IsNull() && l.Kind() == types.KindBool && !l.AsBool()) ||
		(!r.IsNull() && r.Kind() == types.KindBool && !r.AsBool()) {
		return types.NewBool(false)
	}
	if l.IsNull() || r.IsNull() {
		return types.NewNull()
	}
	return types.NewBool(l.AsBool() && r.AsBool())
}

func evalOr(l, r types.Value) types.Value {
	if (!l.IsNull() && l.Kind() == types.KindBool && l.AsBool()) ||
		(!r.IsNull() && r.Kind() == types.KindBool && r.AsBool()) {
		return types.NewBool(true)
	}
	if l.IsNull() || r.IsNull() {
		return types.NewNull()
	}
	return types.NewBool(l.AsBool() || r.AsBool())
}

func arith(l, r types.Value, ff func(a, b float64) float64, fi func(a, b int64) int64) types.Value {
	if l.Kind() == types.KindInt64 && r.Kind() == types.KindInt64 {
		return types.NewInt64(fi(l.AsInt64(), r.AsInt64()))
	}
	return types.NewFloat64(ff(toFloat(l), toFloat(r)))
}

func toFloat(v types.Value) float64 {
	switch v.Kind() {
	case types.KindInt64:
		return float64(v.AsInt64())
	case types.KindFloat64:
		return v.AsFloat64()
	default:
		return 0
	}
}

func (f *ScalarFunction) evalUnary(row types.Row) types.Value {
	v := f.Args[0].Eval(row)
	switch f.UnaryOp {
	case ast.OpNot:
		if v.IsNull() {
			return types.NewNull()
		}
		return types.NewBool(!v.AsBool())
	case ast.OpNeg:
		if v.IsNull() {
			return types.NewNull()
		}
		if v.Kind() == types.KindInt64 {
			return types.NewInt64(-v.AsInt64())
		}
		return types.NewFloat64(-toFloat(v))
	case ast.OpIsNull:
		return types.NewBool(v.IsNull())
	case ast.OpIsNotNull:
		return types.NewBool(!v.IsNull())
	default:
		return types.NewNull()
	}
}

// OuterColumnRef references a column resolved against an enclosing query
// block's schema rather than the expression's own child schema. It marks
// the subquery that produced it as correlated; this module does not
// support executing correlated subqueries, so one reaching evaluation is a
// planner bug, not a runtime condition (OptimizationError rejects it first).
type OuterColumnRef struct {
	Col *types.Column
}

func (c *OuterColumnRef) Eval(types.Row) types.Value {
	panic("planner: OuterColumnRef reached evaluation; correlated subqueries must be rejected before execution")
}
func (c *OuterColumnRef) Columns(out []*ColumnRef) []*ColumnRef { return out }
func (c *OuterColumnRef) String() string                        { return c.Col.QualifiedName() }

// ExistsRef marks an EXISTS/scalar-subquery predicate that has not yet been
// converted to a semi/anti-join by the subquery-unnesting rule. It is a
// placeholder: the physical planner refuses to plan a tree that still
// contains one. Uncorrelated EXISTS/scalar subqueries are unnested before
// physical planning; correlated ones are rejected (see DESIGN.md).
type ExistsRef struct {
	Plan       LogicalPlan
	Negated    bool
	Correlated bool
}

func (e *ExistsRef) Eval(types.Row) types.Value {
	panic("planner: ExistsRef reached evaluation without being unnested first")
}
func (e *ExistsRef) Columns(out []*ColumnRef) []*ColumnRef { return out }
func (e *ExistsRef) String() string                        { return "EXISTS(...)" }

// IsConstant reports whether e folds to the same value regardless of row,
// used by the constant-folding rule to decide whether to pre-evaluate.
func IsConstant(e Expression) bool {
	switch v := e.(type) {
	case *Constant:
		return true
	case *ColumnRef:
		return false
	case *ScalarFunction:
		for _, a := range v.Args {
			if !IsConstant(a) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
