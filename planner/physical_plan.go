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
	"github.com/volcanodb/platform/catalog"
)

// PhysicalPlanner turns a (rule-rewritten) LogicalPlan into a costed
// PhysicalPlan, choosing an algorithm per node the way task.go chooses
// attach2Task per PhysicalPlan type — one function per logical node kind,
// each producing a node whose Cost already folds in its children's Cost
// (the "a task always carries the already-attached cost of everything
// beneath it" invariant task.go's copTask/rootTask embody, simplified here
// to a single flat Cost rather than TiDB's cop/root task-kind split since
// this module targets a single-node executor, not a coprocessor-pushdown
// architecture).
type PhysicalPlanner struct {
	registry *catalog.Registry
	cfg      CostConfig
}

// NewPhysicalPlanner creates a PhysicalPlanner reading statistics from
// registry under cfg.
func NewPhysicalPlanner(registry *catalog.Registry, cfg CostConfig) *PhysicalPlanner {
	return &PhysicalPlanner{registry: registry, cfg: cfg}
}

// Plan converts lp into a costed PhysicalPlan tree. It fails only if an
// unresolved ExistsRef (subquery not unnested) is still a filter predicate,
// join condition or projection expression, or if an unsupported logical
// node type reaches it.
func (pp *PhysicalPlanner) Plan(lp LogicalPlan) (*PhysicalPlan, error) {
	var exprs []Expression
	switch n := lp.(type) {
	case *LogicalFilter:
		exprs = n.Predicates
	case *LogicalJoin:
		exprs = n.On
	case *LogicalProject:
		exprs = n.Exprs
	}
	for _, e := range exprs {
		if _, ok := e.(*ExistsRef); ok {
			return nil, errors.Errorf("planner: EXISTS subquery reached physical planning without being unnested")
		}
	}
	switch n := lp.(type) {
	case *LogicalScan:
		return pp.planScan(n)
	case *LogicalFilter:
		return pp.planFilter(n)
	case *LogicalProject:
		return pp.planProject(n)
	case *LogicalJoin:
		return pp.planJoin(n)
	case *LogicalAggregation:
		return pp.planAggregation(n)
	case *LogicalSort:
		return pp.planSort(n)
	case *LogicalLimit:
		return pp.planLimit(n)
	case *LogicalUnion:
		return pp.planUnion(n)
	case *LogicalDistinct:
		return pp.planDistinct(n)
	default:
		return nil, errors.Errorf("planner: no physical implementation for %T", lp)
	}
}

func (pp *PhysicalPlanner) planChildren(lp LogicalPlan) ([]*PhysicalPlan, error) {
	children := lp.Children()
	out := make([]*PhysicalPlan, len(children))
	for i, c := range children {
		p, err := pp.Plan(c)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func childrenCost(children []*PhysicalPlan) Cost {
	var total Cost
	for _, c := range children {
		total = total.Add(c.Cost)
	}
	return total
}

func (pp *PhysicalPlanner) planScan(n *LogicalScan) (*PhysicalPlan, error) {
	stats := pp.registry.Statistics(n.Table)
	rows := float64(stats.Rows)
	selectivity := combinedSelectivity(stats, n.Predicates)
	estRows := rows * selectivity

	algo, indexCol := pp.chooseScanAlgo(stats, n)
	var cost Cost
	switch algo {
	case AlgoIndexScan:
		cost.CPU = selectivity * rows * pp.cfg.CPUTupleCost
		cost.IO = selectivity * rows * pp.cfg.RandomPageCost
	default:
		cost.CPU = rows * pp.cfg.CPUTupleCost
		cost.IO = float64(stats.Pages) * pp.cfg.IOPageCost
	}
	// Column pruning doesn't shrink page I/O (a row store still visits every
	// page), but it does shrink what this scan hands upstream, so it's
	// charged here as network cost rather than I/O.
	cost.Network = estRows * pp.cfg.RowSizeEstimate * usedColumnFraction(n)
	p := &PhysicalPlan{
		Algo:       algo,
		Schema:     n.Schema(),
		Cost:       cost.Weighted(pp.cfg.Weights),
		Card:       Cardinality{Rows: estRows, Confidence: confidenceFor(n.Predicates)},
		Table:      n.Table,
		Alias:      n.Alias,
		Predicates: n.Predicates,
		IndexCol:   indexCol,
	}
	return p, nil
}

// usedColumnFraction returns the fraction of n's output schema that
// projection pruning found actually referenced, floored so a genuinely
// column-free projection (e.g. SELECT COUNT(*)) still charges for reading
// one column's worth of rows rather than zero. A nil UsedColumns (rule
// hasn't run) conservatively counts as "every column used".
func usedColumnFraction(n *LogicalScan) float64 {
	width := n.Schema().Len()
	if width == 0 {
		return 1
	}
	if n.UsedColumns == nil {
		return 1
	}
	used := len(n.UsedColumns)
	if used < 1 {
		used = 1
	}
	return float64(used) / float64(width)
}

func (pp *PhysicalPlanner) chooseScanAlgo(stats *catalog.TableStatistics, n *LogicalScan) (PhysicalAlgo, string) {
	indexCols := 0
	var lastIndexCol string
	for _, pred := range n.Predicates {
		cols := pred.Columns(nil)
		if len(cols) != 1 {
			continue
		}
		col := cols[0].Col
		if col == nil {
			continue
		}
		sel := stats.EqualitySelectivity(col.Name)
		if sel <= pp.cfg.IndexScanThreshold {
			indexCols++
			lastIndexCol = col.Name
		}
	}
	switch {
	case indexCols >= 2:
		return AlgoBitmapScan, lastIndexCol
	case indexCols == 1:
		return AlgoIndexScan, lastIndexCol
	default:
		return AlgoSeqScan, ""
	}
}

func combinedSelectivity(stats *catalog.TableStatistics, preds []Expression) float64 {
	sel := 1.0
	for _, pred := range preds {
		sel *= predicateSelectivity(stats, pred)
	}
	return sel
}

func predicateSelectivity(stats *catalog.TableStatistics, pred Expression) float64 {
	f, ok := pred.(*ScalarFunction)
	if !ok || f.IsUnary {
		return catalog.UnknownPredicateSelectivity
	}
	col, colOK := f.Args[0].(*ColumnRef)
	if !colOK {
		if col, colOK = f.Args[1].(*ColumnRef); !colOK {
			return catalog.UnknownPredicateSelectivity
		}
	}
	switch f.BinOp.String() {
	case "=":
		return stats.EqualitySelectivity(col.Col.Name)
	case "<", "<=", ">", ">=":
		return 0.3 // no directional bound known without a concrete literal walk; conservative default
	default:
		return catalog.UnknownPredicateSelectivity
	}
}

func confidenceFor(preds []Expression) float64 {
	if len(preds) == 0 {
		return 1
	}
	return 0.7
}

func (pp *PhysicalPlanner) planFilter(n *LogicalFilter) (*PhysicalPlan, error) {
	children, err := pp.Plan(n.Children()[0])
	if err != nil {
		return nil, err
	}
	rows := children.Card.Rows * 0.5 // Filter's own selectivity folded into scan estimate already for pushed predicates; residual filters assume 0.5
	cost := Cost{CPU: children.Card.Rows * pp.cfg.CPUTupleCost}.Weighted(pp.cfg.Weights).Add(children.Cost)
	return &PhysicalPlan{
		Algo:       AlgoFilter,
		Children:   []*PhysicalPlan{children},
		Schema:     n.Schema(),
		Cost:       cost,
		Card:       Cardinality{Rows: rows, Confidence: children.Card.Confidence * 0.9},
		Predicates: n.Predicates,
	}, nil
}

func (pp *PhysicalPlanner) planProject(n *LogicalProject) (*PhysicalPlan, error) {
	child, err := pp.Plan(n.Children()[0])
	if err != nil {
		return nil, err
	}
	cost := Cost{CPU: child.Card.Rows * pp.cfg.CPUTupleCost * 0.5}.Weighted(pp.cfg.Weights).Add(child.Cost)
	return &PhysicalPlan{
		Algo:     AlgoProject,
		Children: []*PhysicalPlan{child},
		Schema:   n.Schema(),
		Cost:     cost,
		Card:     child.Card,
		Exprs:    n.Exprs,
		Names:    n.Names,
	}, nil
}

func (pp *PhysicalPlanner) planJoin(n *LogicalJoin) (*PhysicalPlan, error) {
	children, err := pp.planChildren(n)
	if err != nil {
		return nil, err
	}
	left, right := children[0], children[1]
	base := childrenCost(children)

	buildBytes := int64(right.Card.Rows) * pp.cfg.RowSizeEstimate
	isEqui := joinIsEquiOnly(n.On)

	var algo PhysicalAlgo
	switch {
	case !isEqui:
		algo = AlgoNestedLoopJoin
	case buildBytes <= pp.cfg.HashMemBudget:
		algo = AlgoHashJoin
	default:
		algo = AlgoMergeJoin
	}

	card := joinCardinality(left.Card, right.Card, n.On)
	var opCost Cost
	switch algo {
	case AlgoHashJoin:
		opCost.CPU = right.Card.Rows*pp.cfg.CPUHashBuild + left.Card.Rows*pp.cfg.CPUHashProbe
	case AlgoMergeJoin:
		opCost.CPU = (left.Card.Rows + right.Card.Rows) * pp.cfg.CPUTupleCost
	default:
		opCost.CPU = left.Card.Rows * right.Card.Rows * pp.cfg.CPUTupleCost
	}
	cost := opCost.Weighted(pp.cfg.Weights).Add(base)

	return &PhysicalPlan{
		Algo:     algo,
		Children: children,
		Schema:   n.Schema(),
		Cost:     cost,
		Card:     card,
		JoinOn:   n.On,
	}, nil
}

func joinIsEquiOnly(conds []Expression) bool {
	for _, c := range conds {
		f, ok := c.(*ScalarFunction)
		if !ok || f.IsUnary || f.BinOp.String() != "=" {
			return false
		}
	}
	return len(conds) > 0
}

func joinCardinality(l, r Cardinality, on []Expression) Cardinality {
	if len(on) == 0 {
		return Cardinality{Rows: l.Rows * r.Rows, Confidence: l.Confidence * r.Confidence}
	}
	rows := (l.Rows * r.Rows) / maxF(maxRowsHint(l), maxRowsHint(r))
	return Cardinality{Rows: rows, Confidence: l.Confidence * r.Confidence}
}

func maxRowsHint(c Cardinality) float64 {
	if c.Rows < 1 {
		return 1
	}
	return c.Rows
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func (pp *PhysicalPlanner) planAggregation(n *LogicalAggregation) (*PhysicalPlan, error) {
	child, err := pp.Plan(n.Children()[0])
	if err != nil {
		return nil, err
	}
	groups := child.Card.Rows
	if len(n.GroupByItems) > 0 {
		groups = groups * 0.3 // without per-column ndv at this node, approximate via a conservative grouping factor
		if groups < 1 {
			groups = 1
		}
	} else {
		groups = 1
	}
	cost := Cost{CPU: child.Card.Rows*pp.cfg.CPUHashBuild + groups*pp.cfg.CPUTupleCost}.Weighted(pp.cfg.Weights).Add(child.Cost)
	return &PhysicalPlan{
		Algo:     AlgoHashAggregate,
		Children: []*PhysicalPlan{child},
		Schema:   n.Schema(),
		Cost:     cost,
		Card:     Cardinality{Rows: groups, Confidence: child.Card.Confidence * 0.8},
		GroupBy:  n.GroupByItems,
		AggFuncs: n.AggFuncs,
	}, nil
}

func (pp *PhysicalPlanner) planSort(n *LogicalSort) (*PhysicalPlan, error) {
	child, err := pp.Plan(n.Children()[0])
	if err != nil {
		return nil, err
	}
	rows := child.Card.Rows
	memBytes := int64(rows) * pp.cfg.RowSizeEstimate

	if n.Limit != nil && n.Limit.Count <= pp.cfg.TopNThreshold {
		cost := Cost{CPU: rows * log2(float64(n.Limit.Count+1)) * pp.cfg.CPUCompareCost}
		if memBytes > pp.cfg.SortMemBudget {
			cost.IO = float64(memBytes-pp.cfg.SortMemBudget) * pp.cfg.IOPageCost / float64(pp.cfg.RowSizeEstimate)
		}
		outRows := minF(rows, float64(n.Limit.Count))
		return &PhysicalPlan{
			Algo:      AlgoTopNSort,
			Children:  []*PhysicalPlan{child},
			Schema:    n.Schema(),
			Cost:      cost.Weighted(pp.cfg.Weights).Add(child.Cost),
			Card:      Cardinality{Rows: outRows, Confidence: child.Card.Confidence},
			SortItems: n.ByItems,
			Limit:     n.Limit,
		}, nil
	}

	cost := Cost{CPU: rows * log2(rows) * pp.cfg.CPUCompareCost}
	if memBytes > pp.cfg.SortMemBudget {
		cost.IO = float64(memBytes-pp.cfg.SortMemBudget) * pp.cfg.IOPageCost / float64(pp.cfg.RowSizeEstimate)
	}
	p := &PhysicalPlan{
		Algo:      AlgoSort,
		Children:  []*PhysicalPlan{child},
		Schema:    n.Schema(),
		Cost:      cost.Weighted(pp.cfg.Weights).Add(child.Cost),
		Card:      child.Card,
		SortItems: n.ByItems,
	}
	if n.Limit != nil {
		return pp.wrapLimit(p, n.Limit), nil
	}
	return p, nil
}

func (pp *PhysicalPlanner) wrapLimit(child *PhysicalPlan, lim *LimitSpec) *PhysicalPlan {
	outRows := minF(child.Card.Rows-float64(lim.Offset), float64(lim.Count))
	if outRows < 0 {
		outRows = 0
	}
	return &PhysicalPlan{
		Algo:     AlgoLimit,
		Children: []*PhysicalPlan{child},
		Schema:   child.Schema,
		Cost:     child.Cost,
		Card:     Cardinality{Rows: outRows, Confidence: child.Card.Confidence},
		Limit:    lim,
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func (pp *PhysicalPlanner) planLimit(n *LogicalLimit) (*PhysicalPlan, error) {
	child, err := pp.Plan(n.Children()[0])
	if err != nil {
		return nil, err
	}
	spec := n.LimitSpec
	return pp.wrapLimit(child, &spec), nil
}

func (pp *PhysicalPlanner) planUnion(n *LogicalUnion) (*PhysicalPlan, error) {
	children, err := pp.planChildren(n)
	if err != nil {
		return nil, err
	}
	var rows float64
	for _, c := range children {
		rows += c.Card.Rows
	}
	algo := AlgoUnionAll
	if !n.All {
		algo = AlgoHashUnion
	}
	cost := Cost{CPU: rows * pp.cfg.CPUTupleCost}.Weighted(pp.cfg.Weights).Add(childrenCost(children))
	return &PhysicalPlan{
		Algo:     algo,
		Children: children,
		Schema:   n.Schema(),
		Cost:     cost,
		Card:     Cardinality{Rows: rows, Confidence: 0.7},
		UnionAll: n.All,
	}, nil
}

func (pp *PhysicalPlanner) planDistinct(n *LogicalDistinct) (*PhysicalPlan, error) {
	child, err := pp.Plan(n.Children()[0])
	if err != nil {
		return nil, err
	}
	cost := Cost{CPU: child.Card.Rows * pp.cfg.CPUHashBuild}.Weighted(pp.cfg.Weights).Add(child.Cost)
	return &PhysicalPlan{
		Algo:     AlgoHashDistinct,
		Children: []*PhysicalPlan{child},
		Schema:   n.Schema(),
		Cost:     cost,
		Card:     Cardinality{Rows: child.Card.Rows * 0.8, Confidence: child.Card.Confidence},
		Distinct: true,
	}, nil
}
