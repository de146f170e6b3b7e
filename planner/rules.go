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
	"sort"

	"github.com/pingcap/errors"
	"github.com/volcanodb/platform/ast"
	"github.com/volcanodb/platform/catalog"
	"github.com/volcanodb/platform/types"
)

// OptimizationError reports a rule that found an invariant violation it
// cannot safely rewrite around. Rules otherwise leave the plan unchanged
// on failure; they don't abort optimization.
type OptimizationError struct {
	Rule   string
	Reason string
}

func (e *OptimizationError) Error() string {
	return "optimization rule " + e.Rule + " failed: " + e.Reason
}

// Rule is one tree-rewrite pass. It returns the (possibly identical) plan
// and whether it changed anything, so the fixed-point driver can detect
// convergence without a deep-equal walk.
type Rule interface {
	Name() string
	Apply(p LogicalPlan) (LogicalPlan, bool, error)
}

// DefaultRules is the rewrite pipeline's fixed order. Join reordering
// runs early (it restructures join trees that pushdown/pruning then refine
// further), subquery unnesting before pushdown so unnested semi-joins get
// their own predicates pushed too.
func DefaultRules(registry *catalog.Registry) []Rule {
	return []Rule{
		&subqueryUnnestRule{},
		&joinReorderRule{registry: registry},
		&predicatePushdownRule{},
		&projectionPruningRule{},
		&constantFoldingRule{},
		&distinctToAggregateRule{},
		&limitPushdownRule{},
	}
}

// RunToFixedPoint applies rules repeatedly until none changes the plan or
// maxIterations is hit.
func RunToFixedPoint(p LogicalPlan, rules []Rule, maxIterations int) (LogicalPlan, error) {
	if maxIterations <= 0 {
		maxIterations = 8
	}
	for i := 0; i < maxIterations; i++ {
		changed := false
		for _, r := range rules {
			next, did, err := r.Apply(p)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if did {
				p = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return p, nil
}

// --- constant folding ---

type constantFoldingRule struct{}

func (r *constantFoldingRule) Name() string { return "constant_folding" }

func (r *constantFoldingRule) Apply(p LogicalPlan) (LogicalPlan, bool, error) {
	changed := false
	walkExpressions(p, func(e Expression) Expression {
		folded, did := foldConstant(e)
		if did {
			changed = true
		}
		return folded
	})
	return p, changed, nil
}

func foldConstant(e Expression) (Expression, bool) {
	f, ok := e.(*ScalarFunction)
	if !ok {
		return e, false
	}
	anyChanged := false
	for i, a := range f.Args {
		folded, did := foldConstant(a)
		if did {
			f.Args[i] = folded
			anyChanged = true
		}
	}
	if IsConstant(f) {
		return &Constant{Value: f.Eval(nil)}, true
	}
	return f, anyChanged
}

// walkExpressions visits every Expression slice reachable from p's nodes
// and replaces each entry with fn's result in place.
func walkExpressions(p LogicalPlan, fn func(Expression) Expression) {
	switch n := p.(type) {
	case *LogicalScan:
		mapExprs(n.Predicates, fn)
	case *LogicalFilter:
		mapExprs(n.Predicates, fn)
	case *LogicalProject:
		mapExprs(n.Exprs, fn)
	case *LogicalJoin:
		mapExprs(n.On, fn)
	case *LogicalAggregation:
		mapExprs(n.GroupByItems, fn)
		for _, a := range n.AggFuncs {
			mapExprs(a.Args, fn)
		}
	case *LogicalSort:
		for i := range n.ByItems {
			n.ByItems[i].Expr = fn(n.ByItems[i].Expr)
		}
	}
	for _, c := range p.Children() {
		walkExpressions(c, fn)
	}
}

func mapExprs(exprs []Expression, fn func(Expression) Expression) {
	for i, e := range exprs {
		exprs[i] = fn(e)
	}
}

// --- predicate pushdown ---

type predicatePushdownRule struct{}

func (r *predicatePushdownRule) Name() string { return "predicate_pushdown" }

func (r *predicatePushdownRule) Apply(p LogicalPlan) (LogicalPlan, bool, error) {
	newPlan, changed := pushDown(p, nil)
	return newPlan, changed, nil
}

// pushDown recursively pushes `preds` (conjuncts inherited from an ancestor
// Filter) as far toward the leaves as possible, splitting across Join sides
// when a predicate only references one side's columns.
func pushDown(p LogicalPlan, preds []Expression) (LogicalPlan, bool) {
	changed := len(preds) > 0
	switch n := p.(type) {
	case *LogicalFilter:
		all := append(append([]Expression{}, n.Predicates...), preds...)
		child, childChanged := pushDown(n.Children()[0], all)
		if child != n.Children()[0] || childChanged {
			return child, true
		}
		n.Predicates = all
		return n, changed

	case *LogicalJoin:
		left, right := n.Children()[0], n.Children()[1]
		var remaining, toLeft, toRight []Expression
		for _, pred := range preds {
			switch {
			case onlyReferences(pred, left.Schema()):
				toLeft = append(toLeft, pred)
			case onlyReferences(pred, right.Schema()):
				toRight = append(toRight, pred)
			default:
				remaining = append(remaining, pred)
			}
		}
		newLeft, lc := pushDown(left, toLeft)
		newRight, rc := pushDown(right, toRight)
		n.SetChildren(newLeft, newRight)
		if len(remaining) > 0 {
			filter := &LogicalFilter{baseLogicalPlan: newBaseLogicalPlan(n.Schema()), Predicates: remaining}
			filter.SetChildren(n)
			return filter, true
		}
		return n, changed || lc || rc

	case *LogicalScan:
		if len(preds) > 0 {
			n.Predicates = append(n.Predicates, preds...)
			return n, true
		}
		return n, false

	default:
		if len(p.Children()) == 0 {
			if len(preds) > 0 {
				filter := &LogicalFilter{baseLogicalPlan: newBaseLogicalPlan(p.Schema()), Predicates: preds}
				filter.SetChildren(p)
				return filter, true
			}
			return p, false
		}
		childChanged := false
		newChildren := make([]LogicalPlan, len(p.Children()))
		for i, c := range p.Children() {
			nc, did := pushDown(c, nil)
			newChildren[i] = nc
			childChanged = childChanged || did
		}
		p.SetChildren(newChildren...)
		if len(preds) > 0 {
			filter := &LogicalFilter{baseLogicalPlan: newBaseLogicalPlan(p.Schema()), Predicates: preds}
			filter.SetChildren(p)
			return filter, true
		}
		return p, childChanged
	}
}

func onlyReferences(e Expression, schema *types.Schema) bool {
	for _, col := range e.Columns(nil) {
		if schema.ColumnIndex(col.Col.QualifiedName()) < 0 {
			return false
		}
	}
	return true
}

// --- projection pruning ---

type projectionPruningRule struct{}

func (r *projectionPruningRule) Name() string { return "projection_pruning" }

func (r *projectionPruningRule) Apply(p LogicalPlan) (LogicalPlan, bool, error) {
	required := make(map[string]bool)
	for _, col := range p.Schema().Columns {
		required[col.QualifiedName()] = true
	}
	changed := pruneScans(p, required)
	return p, changed, nil
}

// pruneScans threads the set of column qualified-names some ancestor
// actually needs down through the tree, narrowing each LogicalScan's and
// LogicalProject's UsedColumns to the columns some ancestor (plus the
// node's own predicates/exprs) references. Full multi-level column pruning
// that also shrinks each node's own Schema is not attempted — renumbering
// every ColumnRef.Index built against the original schema would ripple
// through predicates, join conditions, and aggregate args built earlier;
// narrowing UsedColumns is the dominant cost win on its own, since it is
// what the physical planner's network cost estimate for a scan reads.
func pruneScans(p LogicalPlan, required map[string]bool) bool {
	changed := false
	switch n := p.(type) {
	case *LogicalScan:
		need := sortedNames(unionColumnNames(required, columnNamesOf(n.Predicates)))
		if !sameNames(n.UsedColumns, need) {
			n.UsedColumns = need
			changed = true
		}

	case *LogicalProject:
		exprCols := columnNamesOf(n.Exprs)
		need := sortedNames(exprCols)
		if !sameNames(n.UsedColumns, need) {
			n.UsedColumns = need
			changed = true
		}
		if pruneScans(n.Children()[0], exprCols) {
			changed = true
		}

	case *LogicalFilter:
		need := unionColumnNames(required, columnNamesOf(n.Predicates))
		if pruneScans(n.Children()[0], need) {
			changed = true
		}

	case *LogicalJoin:
		left, right := n.Children()[0], n.Children()[1]
		need := unionColumnNames(required, columnNamesOf(n.On))
		leftNeed, rightNeed := make(map[string]bool), make(map[string]bool)
		for name := range need {
			switch {
			case left.Schema().ColumnIndex(name) >= 0:
				leftNeed[name] = true
			case right.Schema().ColumnIndex(name) >= 0:
				rightNeed[name] = true
			}
		}
		if pruneScans(left, leftNeed) {
			changed = true
		}
		if pruneScans(right, rightNeed) {
			changed = true
		}

	case *LogicalAggregation:
		need := columnNamesOf(n.GroupByItems)
		for _, a := range n.AggFuncs {
			for name := range columnNamesOf(a.Args) {
				need[name] = true
			}
		}
		if pruneScans(n.Children()[0], need) {
			changed = true
		}

	case *LogicalSort:
		need := unionColumnNames(required, nil)
		for _, item := range n.ByItems {
			for name := range columnNamesOf([]Expression{item.Expr}) {
				need[name] = true
			}
		}
		if pruneScans(n.Children()[0], need) {
			changed = true
		}

	default:
		for _, c := range p.Children() {
			childNeed := make(map[string]bool)
			for name := range required {
				if c.Schema().ColumnIndex(name) >= 0 {
					childNeed[name] = true
				}
			}
			if pruneScans(c, childNeed) {
				changed = true
			}
		}
	}
	return changed
}

// columnNamesOf collects the schema-qualified names of every ColumnRef
// reachable from exprs.
func columnNamesOf(exprs []Expression) map[string]bool {
	out := make(map[string]bool)
	for _, e := range exprs {
		for _, col := range e.Columns(nil) {
			if col.Col != nil {
				out[col.Col.QualifiedName()] = true
			}
		}
	}
	return out
}

func unionColumnNames(sets ...map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, s := range sets {
		for name := range s {
			out[name] = true
		}
	}
	return out
}

func sortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- distinct to aggregate ---

type distinctToAggregateRule struct{}

func (r *distinctToAggregateRule) Name() string { return "distinct_to_aggregate" }

func (r *distinctToAggregateRule) Apply(p LogicalPlan) (LogicalPlan, bool, error) {
	return replaceDistinct(p)
}

func replaceDistinct(p LogicalPlan) (LogicalPlan, bool, error) {
	changed := false
	children := p.Children()
	for i, c := range children {
		nc, did, err := replaceDistinct(c)
		if err != nil {
			return nil, false, err
		}
		if did {
			children[i] = nc
			changed = true
		}
	}
	if len(children) > 0 {
		p.SetChildren(children...)
	}
	d, ok := p.(*LogicalDistinct)
	if !ok {
		return p, changed, nil
	}
	child := d.Children()[0]
	groupBy := make([]Expression, child.Schema().Len())
	for i, c := range child.Schema().Columns {
		groupBy[i] = &ColumnRef{Index: i, Col: c}
	}
	agg := &LogicalAggregation{
		baseLogicalPlan: newBaseLogicalPlan(child.Schema()),
		GroupByItems:    groupBy,
	}
	agg.SetChildren(child)
	return agg, true, nil
}

// --- limit pushdown under sort (-> TopNSort fusion) ---

type limitPushdownRule struct{}

func (r *limitPushdownRule) Name() string { return "limit_pushdown_under_sort" }

func (r *limitPushdownRule) Apply(p LogicalPlan) (LogicalPlan, bool, error) {
	out, changed := fuseLimitSortRec(p)
	return out, changed, nil
}

func fuseLimitSortRec(p LogicalPlan) (LogicalPlan, bool) {
	changed := false
	children := p.Children()
	for i, c := range children {
		nc, did := fuseLimitSortRec(c)
		children[i] = nc
		changed = changed || did
	}
	if len(children) > 0 {
		p.SetChildren(children...)
	}
	lim, ok := p.(*LogicalLimit)
	if !ok {
		return p, changed
	}
	sortChild, ok := lim.Children()[0].(*LogicalSort)
	if !ok || sortChild.Limit != nil {
		return p, changed
	}
	sortChild.Limit = &LimitSpec{Count: lim.Count + lim.Offset, Offset: 0}
	// the outer Limit still applies its own Offset against the now
	// Top-(Count+Offset) sorted stream, so it is kept rather than dropped.
	return lim, true
}

// --- subquery unnesting (EXISTS only, uncorrelated) ---

type subqueryUnnestRule struct{}

func (r *subqueryUnnestRule) Name() string { return "subquery_unnesting" }

func (r *subqueryUnnestRule) Apply(p LogicalPlan) (LogicalPlan, bool, error) {
	return unnestSubqueries(p)
}

func unnestSubqueries(p LogicalPlan) (LogicalPlan, bool, error) {
	changed := false
	children := p.Children()
	for i, c := range children {
		nc, did, err := unnestSubqueries(c)
		if err != nil {
			return nil, false, err
		}
		children[i] = nc
		changed = changed || did
	}
	if len(children) > 0 {
		p.SetChildren(children...)
	}
	filter, ok := p.(*LogicalFilter)
	if !ok {
		return p, changed, nil
	}
	var remaining []Expression
	var semiChild LogicalPlan = filter.Children()[0]
	for _, pred := range filter.Predicates {
		ex, isExists := asExistsRef(pred)
		if !isExists {
			remaining = append(remaining, pred)
			continue
		}
		if ex.Correlated {
			return nil, false, errors.Trace(&OptimizationError{
				Rule:   "subquery_unnesting",
				Reason: "correlated EXISTS subqueries are not supported by subquery unnesting",
			})
		}
		// This module's LogicalJoin has no distinct semi-join JoinType, so an
		// InnerJoin followed by a project-back-to-outer-columns-then-distinct
		// reproduces semi-join semantics: at most one outer row survives per
		// match, regardless of how many inner rows matched it.
		outerSchema := semiChild.Schema()
		join := &LogicalJoin{baseLogicalPlan: newBaseLogicalPlan(outerSchema), Type: ast.InnerJoin}
		join.SetChildren(semiChild, ex.Plan)

		outerCols := make([]Expression, outerSchema.Len())
		outerNames := make([]string, outerSchema.Len())
		for i, col := range outerSchema.Columns {
			outerCols[i] = &ColumnRef{Col: col, Index: i}
			outerNames[i] = col.Name
		}
		proj := &LogicalProject{baseLogicalPlan: newBaseLogicalPlan(outerSchema), Exprs: outerCols, Names: outerNames}
		proj.SetChildren(join)

		dedup := &LogicalDistinct{baseLogicalPlan: newBaseLogicalPlan(outerSchema)}
		dedup.SetChildren(proj)
		semiChild = dedup
		changed = true
	}
	if len(remaining) == 0 && len(filter.Predicates) != len(remaining) {
		return semiChild, changed, nil
	}
	filter.Predicates = remaining
	filter.SetChildren(semiChild)
	return filter, changed, nil
}

func asExistsRef(e Expression) (*ExistsRef, bool) {
	ex, ok := e.(*ExistsRef)
	return ex, ok
}

// --- join reordering ---

type joinReorderRule struct {
	registry *catalog.Registry
}

func (r *joinReorderRule) Name() string { return "join_reordering" }

const maxDPRelations = 10

func (r *joinReorderRule) Apply(p LogicalPlan) (LogicalPlan, bool, error) {
	return reorderJoins(p, r.registry)
}

func reorderJoins(p LogicalPlan, registry *catalog.Registry) (LogicalPlan, bool, error) {
	changed := false
	children := p.Children()
	for i, c := range children {
		nc, did, err := reorderJoins(c, registry)
		if err != nil {
			return nil, false, err
		}
		children[i] = nc
		changed = changed || did
	}
	if len(children) > 0 {
		p.SetChildren(children...)
	}
	join, ok := p.(*LogicalJoin)
	if !ok || join.Type != ast.InnerJoin {
		return p, changed, nil
	}
	rels, conds, ok := collectInnerJoinChain(join)
	if !ok || len(rels) < 3 {
		return p, changed, nil
	}
	var order []LogicalPlan
	if len(rels) <= maxDPRelations {
		order = dpJoinOrder(rels, registry)
	} else {
		order = greedyJoinOrder(rels, registry)
	}
	rebuilt := rebuildLeftDeepJoin(order, conds)
	return rebuilt, true, nil
}

// collectInnerJoinChain flattens a left-deep (or bushy) chain of inner
// joins into its base relations and the flat set of ON conditions, so the
// DP/greedy reorderer can treat them as one commutative join of N
// relations. A non-inner join, like any other non-join node, becomes a
// base relation; inner joins without ON conditions and ON conditions of
// any shape are flattened too. The returned ok is always true.
func collectInnerJoinChain(j *LogicalJoin) ([]LogicalPlan, []Expression, bool) {
	var rels []LogicalPlan
	var conds []Expression
	var walk func(p LogicalPlan) bool
	walk = func(p LogicalPlan) bool {
		if inner, ok := p.(*LogicalJoin); ok && inner.Type == ast.InnerJoin {
			if !walk(inner.Children()[0]) {
				return false
			}
			if !walk(inner.Children()[1]) {
				return false
			}
			conds = append(conds, inner.On...)
			return true
		}
		rels = append(rels, p)
		return true
	}
	if !walk(j) {
		return nil, nil, false
	}
	return rels, conds, true
}

func relRows(p LogicalPlan, registry *catalog.Registry) float64 {
	if scan, ok := p.(*LogicalScan); ok {
		return float64(registry.Statistics(scan.Table).Rows)
	}
	return 1000 // non-scan subtrees (already-joined or derived) get a flat default in the absence of a cached cardinality
}

// dpJoinOrder chooses a left-deep join order over small relation sets by
// dynamic programming over subsets, minimizing estimated intermediate row
// count — the bounded-size counterpart to task.go's DP over physical
// alternatives, here applied to logical join order instead of algorithm
// choice.
func dpJoinOrder(rels []LogicalPlan, registry *catalog.Registry) []LogicalPlan {
	n := len(rels)
	best := make(map[uint32]float64)
	order := make(map[uint32][]int)
	for i := range rels {
		mask := uint32(1) << uint(i)
		best[mask] = relRows(rels[i], registry)
		order[mask] = []int{i}
	}
	fullMask := uint32(1)<<uint(n) - 1
	for size := 2; size <= n; size++ {
		for mask := uint32(1); mask <= fullMask; mask++ {
			if popcount(mask) != size {
				continue
			}
			var bestCost = -1.0
			var bestOrder []int
			for sub := (mask - 1) & mask; sub > 0; sub = (sub - 1) & mask {
				rest := mask &^ sub
				if rest == 0 {
					continue
				}
				if _, ok := best[sub]; !ok {
					continue
				}
				if _, ok := best[rest]; !ok {
					continue
				}
				cost := best[sub] + best[rest] + best[sub]*best[rest]/1000
				if bestCost < 0 || cost < bestCost {
					bestCost = cost
					bestOrder = append(append([]int{}, order[sub]...), order[rest]...)
				}
			}
			if bestOrder != nil {
				best[mask] = bestCost
				order[mask] = bestOrder
			}
		}
	}
	finalOrder := order[fullMask]
	out := make([]LogicalPlan, len(finalOrder))
	for i, idx := range finalOrder {
		out[i] = rels[idx]
	}
	return out
}

func popcount(x uint32) int {
	count := 0
	for x != 0 {
		count += int(x & 1)
		x >>= 1
	}
	return count
}

// greedyJoinOrder orders relations smallest-estimated-rows first when the
// relation count exceeds the DP cap, as a cheap fallback heuristic.
func greedyJoinOrder(rels []LogicalPlan, registry *catalog.Registry) []LogicalPlan {
	out := append([]LogicalPlan{}, rels...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && relRows(out[j], registry) < relRows(out[j-1], registry); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func rebuildLeftDeepJoin(order []LogicalPlan, conds []Expression) LogicalPlan {
	cur := order[0]
	for _, next := range order[1:] {
		schema := concatSchemas(cur.Schema(), next.Schema())
		var onHere []Expression
		var remaining []Expression
		for _, c := range conds {
			if onlyReferences(c, schema) {
				onHere = append(onHere, c)
			} else {
				remaining = append(remaining, c)
			}
		}
		conds = remaining
		j := &LogicalJoin{baseLogicalPlan: newBaseLogicalPlan(schema), Type: ast.InnerJoin, On: onHere}
		j.SetChildren(cur, next)
		cur = j
	}
	return cur
}
