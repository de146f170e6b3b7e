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
	"math"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// CostWeights are the per-resource multipliers the cost model sums under.
type CostWeights struct {
	IO      float64 `toml:"io"`
	CPU     float64 `toml:"cpu"`
	Network float64 `toml:"network"`
	Memory  float64 `toml:"memory"`
}

// DefaultCostWeights are the out-of-the-box weights used absent tuning.
var DefaultCostWeights = CostWeights{IO: 1.0, CPU: 0.1, Network: 0.5, Memory: 0.2}

// Cost is the abstract per-resource cost of a physical (sub)plan. Total is
// kept as a cached field recomputed by Weighted whenever the components
// change, so comparisons never recompute the weighted sum repeatedly.
type Cost struct {
	IO      float64
	CPU     float64
	Network float64
	Memory  float64
	Total   float64
}

// Weighted returns a new Cost with Total set to the weighted sum of its
// components under w.
func (c Cost) Weighted(w CostWeights) Cost {
	c.Total = c.IO*w.IO + c.CPU*w.CPU + c.Network*w.Network + c.Memory*w.Memory
	return c
}

// Add sums two costs component-wise (and their totals).
func (c Cost) Add(o Cost) Cost {
	return Cost{
		IO:      c.IO + o.IO,
		CPU:     c.CPU + o.CPU,
		Network: c.Network + o.Network,
		Memory:  c.Memory + o.Memory,
		Total:   c.Total + o.Total,
	}
}

// Scale multiplies every component (and Total) by f.
func (c Cost) Scale(f float64) Cost {
	return Cost{IO: c.IO * f, CPU: c.CPU * f, Network: c.Network * f, Memory: c.Memory * f, Total: c.Total * f}
}

// Cardinality is a row-count estimate plus a confidence in [0,1]; lower
// confidence comes from unknown-predicate selectivity or missing stats.
type Cardinality struct {
	Rows       float64
	Confidence float64
}

// CostConfig holds the tunables the cost model and rule pipeline read —
// cpu/io/random-page costs, algorithm-selection thresholds, and the rule
// fixed-point iteration cap. It is the structural analogue of TiDB's
// session-variable cost factors, but configured once per Optimizer (this
// module has no per-session variable store).
type CostConfig struct {
	Weights CostWeights `toml:"weights"`

	CPUTupleCost   float64 `toml:"cpu_tuple_cost"`
	CPUHashBuild   float64 `toml:"cpu_hash_build_cost"`
	CPUHashProbe   float64 `toml:"cpu_hash_probe_cost"`
	CPUCompareCost float64 `toml:"cpu_compare_cost"`
	IOPageCost     float64 `toml:"io_page_cost"`
	RandomPageCost float64 `toml:"random_page_cost"`

	IndexScanThreshold float64 `toml:"index_scan_threshold"` // default 0.1
	HashMemBudget      int64   `toml:"hash_mem_budget"`      // bytes, default selection cutoff for HashJoin
	SortMemBudget      int64   `toml:"sort_mem_budget"`      // bytes
	TopNThreshold      int64   `toml:"topn_threshold"`       // default selection cutoff for TopNSort fusion
	RowSizeEstimate    int64   `toml:"row_size_estimate"`    // bytes/row, used to estimate memory footprints

	ParallelThreshold  int64 `toml:"parallel_threshold"`  // default 100_000 rows
	BroadcastThreshold int64 `toml:"broadcast_threshold"` // default 1MB

	MaxIterations int `toml:"max_iterations"` // rule fixed-point cap, default >= 8

	PlanCacheCapacity int   `toml:"plan_cache_capacity"`
	PlanCacheTTLMS    int64 `toml:"plan_cache_ttl_ms"`
}

// DefaultCostConfig returns the out-of-the-box cost model tunables.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		Weights:             DefaultCostWeights,
		CPUTupleCost:        1,
		CPUHashBuild:        1.5,
		CPUHashProbe:        1,
		CPUCompareCost:      1,
		IOPageCost:          4,
		RandomPageCost:      8,
		IndexScanThreshold:  0.1,
		HashMemBudget:       64 << 20,
		SortMemBudget:       64 << 20,
		TopNThreshold:       10000,
		RowSizeEstimate:     64,
		ParallelThreshold:   100000,
		BroadcastThreshold:  1 << 20,
		MaxIterations:       8,
		PlanCacheCapacity:   256,
		PlanCacheTTLMS:      0,
	}
}

// LoadCostConfigTOML reads a TOML document from path into CostConfig,
// starting from DefaultCostConfig so an incomplete file only overrides the
// tunables it actually specifies. This mirrors how a TiDB-family deployment
// loads its cost-model/optimizer knobs from a config file rather than
// hardcoding them.
func LoadCostConfigTOML(path string) (CostConfig, error) {
	cfg := DefaultCostConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return CostConfig{}, errors.Trace(err)
	}
	return cfg, nil
}

func log2(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return math.Log2(n)
}
