// Copyright 2015 PingCAP, Inc.
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

// Package ast defines the structural SQL abstract syntax tree this module
// plans and executes, and the parser that produces it. It mirrors the shape
// of the subset spec'd for the logical planner: SELECT projections, FROM
// with joins, WHERE, GROUP BY/HAVING, ORDER BY, LIMIT/OFFSET, UNION [ALL],
// DISTINCT, and scalar subqueries. It is not a general MySQL grammar.
package ast

import "github.com/volcanodb/platform/types"

// ExprNode is any expression: a column reference, a literal, a function
// call, a binary/unary operator application, or a subquery.
type ExprNode interface {
	exprNode()
}

// ColumnName references a column, optionally qualified by a table name.
type ColumnName struct {
	Table string
	Name  string
}

func (*ColumnName) exprNode() {}

// ValueExpr is a literal constant.
type ValueExpr struct {
	Value types.Value
}

func (*ValueExpr) exprNode() {}

// BinaryOperator enumerates the structural comparison/arithmetic/logical
// operators the AST can express.
type BinaryOperator int

// Binary operators.
const (
	OpUnknown BinaryOperator = iota
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
)

// String renders the operator's SQL spelling.
func (o BinaryOperator) String() string {
	switch o {
	case OpEQ:
		return "="
	case OpNE:
		return "<>"
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	default:
		return "?"
	}
}

// BinaryOperationExpr is `Left Op Right`.
type BinaryOperationExpr struct {
	Op    BinaryOperator
	Left  ExprNode
	Right ExprNode
}

func (*BinaryOperationExpr) exprNode() {}

// UnaryOperator enumerates prefix operators.
type UnaryOperator int

// Unary operators.
const (
	OpNot UnaryOperator = iota
	OpNeg
	OpIsNull
	OpIsNotNull
)

// UnaryOperationExpr is `Op Operand`.
type UnaryOperationExpr struct {
	Op      UnaryOperator
	Operand ExprNode
}

func (*UnaryOperationExpr) exprNode() {}

// AggFuncType names the supported aggregate functions.
type AggFuncType int

// Supported aggregate functions.
const (
	AggUnknown AggFuncType = iota
	AggCount
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (f AggFuncType) String() string {
	switch f {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return "?"
	}
}

// AggregateFuncExpr is e.g. COUNT(x), COUNT(*), SUM(DISTINCT x).
type AggregateFuncExpr struct {
	Name     AggFuncType
	Args     []ExprNode // empty for COUNT(*)
	Distinct bool
}

func (*AggregateFuncExpr) exprNode() {}

// SubqueryExpr wraps a nested SELECT used as a scalar or EXISTS expression.
// Correlated is set when the subquery references a column from an outer
// query block; the planner uses it to decide whether unnesting is safe.
type SubqueryExpr struct {
	Query       *SelectStmt
	Exists      bool
	Correlated  bool
	correlSet   bool
}

func (*SubqueryExpr) exprNode() {}

// MarkCorrelated records whether name resolution found an outer reference.
func (s *SubqueryExpr) MarkCorrelated(v bool) {
	s.Correlated = v
	s.correlSet = true
}

// CorrelationKnown reports whether MarkCorrelated has run.
func (s *SubqueryExpr) CorrelationKnown() bool { return s.correlSet }
