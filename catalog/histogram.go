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

// Package catalog holds table statistics (row counts, histograms,
// distinct-value estimates) that the cost estimator reads, plus the schema
// registry both the planner and executor consult to resolve table/column
// names. It owns a background refresh loop and durable persistence so
// statistics survive process restarts.
package catalog

import (
	"github.com/google/btree"
	"github.com/volcanodb/platform/types"
)

// HistogramKind distinguishes equi-width from equi-depth bucketing.
type HistogramKind int

// Histogram construction strategies.
const (
	EquiWidth HistogramKind = iota
	EquiDepth
)

// Bucket is one histogram bucket: the value range [Lower, Upper] and the
// count of rows it covers.
type Bucket struct {
	Lower   types.Value
	Upper   types.Value
	Count   int64
	NDV     int64 // distinct values estimated within this bucket
}

// btreeItem adapts a Bucket into google/btree's Item so buckets are kept in
// an ordered index for fast range-selectivity lookups instead of a linear
// scan, mirroring how the statistics package keeps sorted CMSketch buckets
// for range queries.
type btreeItem struct {
	upper types.Value
	b     *Bucket
}

func (a btreeItem) Less(than btree.Item) bool {
	return types.Compare(a.upper, than.(btreeItem).upper) < 0
}

// Histogram is a per-column value distribution summary.
type Histogram struct {
	Kind    HistogramKind
	Buckets []*Bucket
	index   *btree.BTree
}

// NewHistogram builds a Histogram from buckets already sorted by Upper.
func NewHistogram(kind HistogramKind, buckets []*Bucket) *Histogram {
	h := &Histogram{Kind: kind, Buckets: buckets, index: btree.New(16)}
	for _, b := range buckets {
		h.index.ReplaceOrInsert(btreeItem{upper: b.Upper, b: b})
	}
	return h
}

// TotalRows sums bucket counts.
func (h *Histogram) TotalRows() int64 {
	var total int64
	for _, b := range h.Buckets {
		total += b.Count
	}
	return total
}

// RangeSelectivity estimates the fraction of rows in [lo, hi]. It walks the
// btree index ascending from the first bucket whose Upper ≥ lo, summing
// full buckets and prorating the boundary buckets by position within their
// range — the same linear-interpolation approach TiDB's histogram.go uses
// for range queries, simplified to this module's flat value type.
func (h *Histogram) RangeSelectivity(lo, hi types.Value) float64 {
	total := h.TotalRows()
	if total == 0 {
		return 0
	}
	var matched int64
	h.index.AscendGreaterOrEqual(btreeItem{upper: lo}, func(item btree.Item) bool {
		b := item.(btreeItem).b
		if types.Compare(b.Lower, hi) > 0 {
			return false
		}
		matched += overlapFraction(b, lo, hi)
		return true
	})
	sel := float64(matched) / float64(total)
	if sel > 1 {
		sel = 1
	}
	return sel
}

// overlapFraction estimates how much of bucket b's Count falls in [lo, hi],
// assuming values are uniformly distributed within the bucket.
func overlapFraction(b *Bucket, lo, hi types.Value) int64 {
	bucketLo, bucketHi := asFloat(b.Lower), asFloat(b.Upper)
	qLo, qHi := asFloat(lo), asFloat(hi)
	if qHi < bucketLo || qLo > bucketHi || bucketHi == bucketLo {
		if qLo <= bucketLo && qHi >= bucketHi {
			return b.Count
		}
		return 0
	}
	overlapLo := maxFloat(bucketLo, qLo)
	overlapHi := minFloat(bucketHi, qHi)
	if overlapHi < overlapLo {
		return 0
	}
	frac := (overlapHi - overlapLo) / (bucketHi - bucketLo)
	return int64(frac * float64(b.Count))
}

func asFloat(v types.Value) float64 {
	switch v.Kind() {
	case types.KindInt64:
		return float64(v.AsInt64())
	case types.KindFloat64:
		return v.AsFloat64()
	default:
		return 0
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// EqualitySelectivity is the estimator's default for equality predicates
// when a histogram is unavailable: 1/ndv.
func EqualitySelectivity(ndv int64) float64 {
	if ndv <= 0 {
		return 1
	}
	return 1 / float64(ndv)
}

// UnknownPredicateSelectivity is used when neither histogram nor ndv stats
// apply to a predicate.
const UnknownPredicateSelectivity = 0.1
