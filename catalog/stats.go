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

package catalog

import "github.com/volcanodb/platform/types"

// ColumnStatistics holds the per-column distribution summary the cost
// estimator reads for selectivity estimation.
type ColumnStatistics struct {
	Name        string
	Histogram   *Histogram
	NullFrac    float64
	NDV         int64 // distinct-value estimate
}

// TableStatistics is everything the cost estimator needs about one table:
// row/page counts and per-column histograms.
type TableStatistics struct {
	Table   string
	Rows    int64
	Pages   int64
	Columns map[string]*ColumnStatistics
}

// NewTableStatistics builds an (initially columnless) stats record.
func NewTableStatistics(table string, rows, pages int64) *TableStatistics {
	return &TableStatistics{Table: table, Rows: rows, Pages: pages, Columns: make(map[string]*ColumnStatistics)}
}

// SetColumn installs or replaces one column's statistics.
func (t *TableStatistics) SetColumn(col *ColumnStatistics) {
	t.Columns[col.Name] = col
}

// Column looks up a column's statistics, returning nil if absent.
func (t *TableStatistics) Column(name string) *ColumnStatistics {
	return t.Columns[name]
}

// EqualitySelectivity returns the selectivity of `col = const`, using the
// column's ndv when known, else the unknown-predicate default.
func (t *TableStatistics) EqualitySelectivity(col string) float64 {
	c := t.Column(col)
	if c == nil || c.NDV <= 0 {
		return UnknownPredicateSelectivity
	}
	return EqualitySelectivity(c.NDV)
}

// RangeSelectivity returns the selectivity of `lo <= col <= hi`, reading the
// column's histogram when present, else the unknown-predicate default.
func (t *TableStatistics) RangeSelectivity(col string, lo, hi types.Value) float64 {
	c := t.Column(col)
	if c == nil || c.Histogram == nil {
		return UnknownPredicateSelectivity
	}
	return c.Histogram.RangeSelectivity(lo, hi)
}

// GroupByCardinality estimates the number of output groups for a GROUP BY
// over the given columns: the ndv of the grouping columns, capped at the
// table's row count. When multiple columns are grouped, ndvs
// multiply (capped), matching the independence assumption the cost model
// elsewhere adopts for lack of multi-column correlation stats.
func (t *TableStatistics) GroupByCardinality(cols []string) float64 {
	if len(cols) == 0 {
		return 1
	}
	ndv := float64(1)
	for _, col := range cols {
		c := t.Column(col)
		if c == nil || c.NDV <= 0 {
			ndv *= float64(t.Rows)
			continue
		}
		ndv *= float64(c.NDV)
	}
	if ndv > float64(t.Rows) {
		ndv = float64(t.Rows)
	}
	if ndv < 1 {
		ndv = 1
	}
	return ndv
}
