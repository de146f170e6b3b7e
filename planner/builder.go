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
	"github.com/pingcap/errors"
	"github.com/volcanodb/platform/ast"
	"github.com/volcanodb/platform/catalog"
	"github.com/volcanodb/platform/types"
)

// ErrBuild is returned, wrapped with context, for any semantic error found
// while turning an AST into a logical plan (unknown table/column, etc).
var ErrBuild = errors.New("planner: build error")

// Builder turns a parsed ast.StmtNode into a LogicalPlan, resolving column
// and table names against a catalog.Registry. One Builder is used per
// top-level statement; subqueries are built by recursive calls on the same
// Builder, pushing the enclosing SELECT's schema onto outerSchemas so a
// column unresolved in the subquery's own scope can still be resolved (and
// flagged correlated) against an ancestor block, mirroring
// PlanBuilder.buildSelect's recursion plus its outer-name resolution.
type Builder struct {
	registry *catalog.Registry

	// outerSchemas and outerSubqueries are parallel stacks pushed by the
	// *ast.SubqueryExpr case of resolveExpr for the duration of building
	// that subquery's plan: outerSchemas[i] is the schema visible to
	// whichever query block outerSubqueries[i] is nested in, innermost
	// last.
	outerSchemas    []*types.Schema
	outerSubqueries []*ast.SubqueryExpr
}

// NewBuilder creates a Builder bound to registry.
func NewBuilder(registry *catalog.Registry) *Builder {
	return &Builder{registry: registry}
}

// Build maps stmt onto a LogicalPlan. Build is total given a resolvable
// AST: any column/table resolution failure is reported as an error rather
// than panicking.
func (b *Builder) Build(stmt ast.StmtNode) (LogicalPlan, error) {
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		return b.buildSelect(s)
	case *ast.UnionStmt:
		return b.buildUnion(s)
	default:
		return nil, errors.Trace(errors.Annotatef(ErrBuild, "unsupported statement type %T", stmt))
	}
}

func (b *Builder) buildUnion(u *ast.UnionStmt) (LogicalPlan, error) {
	if len(u.Selects) == 0 {
		return nil, errors.Trace(errors.Annotatef(ErrBuild, "union with no arms"))
	}
	var children []LogicalPlan
	for _, sel := range u.Selects {
		p, err := b.buildSelect(sel)
		if err != nil {
			return nil, err
		}
		children = append(children, p)
	}
	plan := &LogicalUnion{
		baseLogicalPlan: newBaseLogicalPlan(children[0].Schema()),
		All:             u.All,
	}
	plan.SetChildren(children...)
	return plan, nil
}

func (b *Builder) buildSelect(sel *ast.SelectStmt) (LogicalPlan, error) {
	var p LogicalPlan
	var err error
	if sel.From != nil {
		p, err = b.buildResultSet(sel.From)
		if err != nil {
			return nil, err
		}
	} else {
		p = &LogicalProject{baseLogicalPlan: newBaseLogicalPlan(types.NewSchema())}
	}

	if sel.Where != nil {
		cond, err := b.resolveExpr(sel.Where, p.Schema())
		if err != nil {
			return nil, err
		}
		filter := &LogicalFilter{
			baseLogicalPlan: newBaseLogicalPlan(p.Schema()),
			Predicates:      splitConjunction(cond),
		}
		filter.SetChildren(p)
		p = filter
	}

	hasAgg := len(sel.GroupBy) > 0 || selectListHasAgg(sel.Fields)
	if hasAgg {
		p, err = b.buildAggregation(sel, p)
		if err != nil {
			return nil, err
		}
	}

	projSchema, exprs, names, err := b.resolveFieldList(sel.Fields, p.Schema())
	if err != nil {
		return nil, err
	}
	proj := &LogicalProject{
		baseLogicalPlan: newBaseLogicalPlan(projSchema),
		Exprs:           exprs,
		Names:           names,
	}
	proj.SetChildren(p)
	p = proj

	if sel.Having != nil {
		cond, err := b.resolveExpr(sel.Having, p.Schema())
		if err != nil {
			return nil, err
		}
		having := &LogicalFilter{
			baseLogicalPlan: newBaseLogicalPlan(p.Schema()),
			Predicates:      splitConjunction(cond),
		}
		having.SetChildren(p)
		p = having
	}

	if sel.Distinct {
		d := &LogicalDistinct{baseLogicalPlan: newBaseLogicalPlan(p.Schema())}
		d.SetChildren(p)
		p = d
	}

	if len(sel.OrderBy) > 0 {
		items := make([]SortItem, len(sel.OrderBy))
		for i, ob := range sel.OrderBy {
			expr, err := b.resolveExpr(ob.Expr, p.Schema())
			if err != nil {
				return nil, err
			}
			items[i] = SortItem{Expr: expr, Desc: ob.Desc}
		}
		sortPlan := &LogicalSort{baseLogicalPlan: newBaseLogicalPlan(p.Schema()), ByItems: items}
		if sel.Limit != nil {
			sortPlan.Limit = &LimitSpec{Count: sel.Limit.Count, Offset: sel.Limit.Offset}
		}
		sortPlan.SetChildren(p)
		p = sortPlan
	} else if sel.Limit != nil {
		lim := &LogicalLimit{
			baseLogicalPlan: newBaseLogicalPlan(p.Schema()),
			LimitSpec:       LimitSpec{Count: sel.Limit.Count, Offset: sel.Limit.Offset},
		}
		lim.SetChildren(p)
		p = lim
	}

	return p, nil
}

func (b *Builder) buildResultSet(node ast.ResultSetNode) (LogicalPlan, error) {
	switch n := node.(type) {
	case *ast.TableSource:
		return b.buildTableSource(n)
	case *ast.Join:
		return b.buildJoin(n)
	case *ast.DerivedTable:
		inner, err := b.buildSelect(n.Query)
		if err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, errors.Trace(errors.Annotatef(ErrBuild, "unsupported FROM node %T", node))
	}
}

func (b *Builder) buildTableSource(ts *ast.TableSource) (LogicalPlan, error) {
	info, err := b.registry.Table(ts.Name)
	if err != nil {
		return nil, errors.Trace(errors.Annotatef(err, "table %q", ts.Name))
	}
	alias := ts.AsName()
	schema := info.Schema.Clone()
	for _, c := range schema.Columns {
		c.Table = alias
	}
	scan := &LogicalScan{
		baseLogicalPlan: newBaseLogicalPlan(schema),
		Table:           ts.Name,
		Alias:           alias,
	}
	return scan, nil
}

func (b *Builder) buildJoin(j *ast.Join) (LogicalPlan, error) {
	left, err := b.buildResultSet(j.Left)
	if err != nil {
		return nil, err
	}
	right, err := b.buildResultSet(j.Right)
	if err != nil {
		return nil, err
	}
	schema := concatSchemas(left.Schema(), right.Schema())
	join := &LogicalJoin{
		baseLogicalPlan: newBaseLogicalPlan(schema),
		Type:            j.Type,
	}
	join.SetChildren(left, right)
	if j.OnExpr != nil {
		cond, err := b.resolveExpr(j.OnExpr, schema)
		if err != nil {
			return nil, err
		}
		join.On = splitConjunction(cond)
	}
	return join, nil
}

func concatSchemas(a, b *types.Schema) *types.Schema {
	cols := make([]*types.Column, 0, a.Len()+b.Len())
	cols = append(cols, a.Columns...)
	cols = append(cols, b.Columns...)
	return types.NewSchema(cols...)
}

func selectListHasAgg(fields []*ast.SelectField) bool {
	for _, f := range fields {
		if f.Expr != nil {
			if _, ok := f.Expr.(*ast.AggregateFuncExpr); ok {
				return true
			}
		}
	}
	return false
}

func (b *Builder) buildAggregation(sel *ast.SelectStmt, child LogicalPlan) (LogicalPlan, error) {
	groupExprs := make([]Expression, 0, len(sel.GroupBy))
	for _, g := range sel.GroupBy {
		e, err := b.resolveExpr(g, child.Schema())
		if err != nil {
			return nil, err
		}
		groupExprs = append(groupExprs, e)
	}

	var aggDescs []*AggDesc
	var aggCols []*types.Column
	collect := func(f *ast.AggregateFuncExpr) (int, error) {
		args := make([]Expression, 0, len(f.Args))
		for _, a := range f.Args {
			e, err := b.resolveExpr(a, child.Schema())
			if err != nil {
				return 0, err
			}
			args = append(args, e)
		}
		aggDescs = append(aggDescs, &AggDesc{Func: f.Name, Args: args, Distinct: f.Distinct})
		aggCols = append(aggCols, &types.Column{Name: f.Name.String(), Type: aggResultType(f.Name)})
		return len(aggDescs) - 1, nil
	}

	for _, fld := range sel.Fields {
		if agg, ok := fld.Expr.(*ast.AggregateFuncExpr); ok {
			if _, err := collect(agg); err != nil {
				return nil, err
			}
		}
	}

	schema := types.NewSchema(append(append([]*types.Column{}, groupColumns(groupExprs)...), aggCols...)...)
	aggPlan := &LogicalAggregation{
		baseLogicalPlan: newBaseLogicalPlan(schema),
		GroupByItems:    groupExprs,
		AggFuncs:        aggDescs,
	}
	aggPlan.SetChildren(child)
	return aggPlan, nil
}

func groupColumns(exprs []Expression) []*types.Column {
	cols := make([]*types.Column, len(exprs))
	for i, e := range exprs {
		if ref, ok := e.(*ColumnRef); ok {
			cols[i] = ref.Col
			continue
		}
		cols[i] = &types.Column{Name: e.String()}
	}
	return cols
}

func aggResultType(fn ast.AggFuncType) types.DataType {
	switch fn {
	case ast.AggCount:
		return types.TypeInt64
	default:
		return types.TypeFloat64
	}
}

// resolveFieldList resolves a SELECT field list into output schema +
// expressions; `*` and `table.*` expand to every matching column.
func (b *Builder) resolveFieldList(fields []*ast.SelectField, schema *types.Schema) (*types.Schema, []Expression, []string, error) {
	var cols []*types.Column
	var exprs []Expression
	var names []string
	for _, f := range fields {
		if f.WildCard {
			for _, c := range schema.Columns {
				if f.WildTable != "" && c.Table != f.WildTable {
					continue
				}
				idx := schema.ColumnIndex(c.QualifiedName())
				cols = append(cols, c)
				exprs = append(exprs, &ColumnRef{Index: idx, Col: c})
				names = append(names, c.Name)
			}
			continue
		}
		// Aggregate fields were already projected into the aggregation
		// plan's schema by position; resolve them positionally here.
		if _, ok := f.Expr.(*ast.AggregateFuncExpr); ok {
			idx := len(cols)
			if idx >= schema.Len() {
				return nil, nil, nil, errors.Trace(errors.Annotatef(ErrBuild, "aggregate field resolution mismatch"))
			}
			c := schema.Columns[idx]
			name := f.Alias
			if name == "" {
				name = c.Name
			}
			cols = append(cols, &types.Column{Name: name, Type: c.Type})
			exprs = append(exprs, &ColumnRef{Index: idx, Col: c})
			names = append(names, name)
			continue
		}
		e, err := b.resolveExpr(f.Expr, schema)
		if err != nil {
			return nil, nil, nil, err
		}
		name := f.Alias
		if name == "" {
			name = e.String()
		}
		var dt types.DataType
		if ref, ok := e.(*ColumnRef); ok {
			dt = ref.Col.Type
		}
		cols = append(cols, &types.Column{Name: name, Type: dt})
		exprs = append(exprs, e)
		names = append(names, name)
	}
	return types.NewSchema(cols...), exprs, names, nil
}

// resolveExpr converts an ast.ExprNode into a resolved Expression against
// schema, binding every ColumnName to a row index.
func (b *Builder) resolveExpr(e ast.ExprNode, schema *types.Schema) (Expression, error) {
	switch n := e.(type) {
	case *ast.ColumnName:
		name := n.Name
		if n.Table != "" {
			name = n.Table + "." + n.Name
		}
		if idx := schema.ColumnIndex(name); idx >= 0 {
			return &ColumnRef{Index: idx, Col: schema.Columns[idx]}, nil
		}
		// Not found in this block's own schema; walk enclosing query blocks
		// innermost-first. A hit there makes the nearest subquery whose
		// scope we had to leave a correlated subquery.
		for i := len(b.outerSchemas) - 1; i >= 0; i-- {
			outer := b.outerSchemas[i]
			idx := outer.ColumnIndex(name)
			if idx < 0 {
				continue
			}
			b.outerSubqueries[i].MarkCorrelated(true)
			return &OuterColumnRef{Col: outer.Columns[idx]}, nil
		}
		return nil, errors.Trace(errors.Annotatef(ErrBuild, "unknown column %q", name))

	case *ast.ValueExpr:
		return &Constant{Value: n.Value}, nil

	case *ast.BinaryOperationExpr:
		l, err := b.resolveExpr(n.Left, schema)
		if err != nil {
			return nil, err
		}
		r, err := b.resolveExpr(n.Right, schema)
		if err != nil {
			return nil, err
		}
		return &ScalarFunction{BinOp: n.Op, Args: []Expression{l, r}}, nil

	case *ast.UnaryOperationExpr:
		operand, err := b.resolveExpr(n.Operand, schema)
		if err != nil {
			return nil, err
		}
		return &ScalarFunction{IsUnary: true, UnaryOp: n.Op, Args: []Expression{operand}}, nil

	case *ast.AggregateFuncExpr:
		return nil, errors.Trace(errors.Annotatef(ErrBuild, "aggregate function not valid in this position"))

	case *ast.SubqueryExpr:
		b.outerSchemas = append(b.outerSchemas, schema)
		b.outerSubqueries = append(b.outerSubqueries, n)
		inner, err := b.buildSelect(n.Query)
		b.outerSchemas = b.outerSchemas[:len(b.outerSchemas)-1]
		b.outerSubqueries = b.outerSubqueries[:len(b.outerSubqueries)-1]
		if err != nil {
			return nil, err
		}
		if !n.Exists {
			return nil, errors.Trace(errors.Annotatef(ErrBuild, "scalar subqueries are not yet supported outside EXISTS"))
		}
		return &ExistsRef{Plan: inner, Correlated: n.Correlated}, nil

	default:
		return nil, errors.Trace(errors.Annotatef(ErrBuild, "unsupported expression type %T", e))
	}
}

// splitConjunction flattens `a AND b AND c` into [a, b, c], the first step
// predicate pushdown needs before it can push each conjunct independently.
func splitConjunction(e Expression) []Expression {
	if f, ok := e.(*ScalarFunction); ok && !f.IsUnary && f.BinOp == ast.OpAnd {
		return append(splitConjunction(f.Args[0]), splitConjunction(f.Args[1])...)
	}
	return []Expression{e}
}
