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

// Package parallel inserts Exchange/Gather into a physical plan tree when
// a simple heuristic judges it worthwhile: the node's estimated cardinality
// at or above a threshold, and the operator is parallel-safe. The worker pool
// a Gather node dispatches onto at execution time is sized from
// github.com/ngaut/pools the way domain.go sizes its session pool, reused
// here for worker resources instead of SQL sessions.
package parallel

import (
	"github.com/ngaut/pools"
	"github.com/volcanodb/platform/planner"
)

// Parallelizer inserts Exchange/Gather nodes into physical plans.
type Parallelizer struct {
	cfg  planner.CostConfig
	pool *pools.ResourcePool
}

// workerResource adapts a plain struct into pools.Resource, since
// ngaut/pools pools arbitrary resources behind a Close() method, not just
// DB connections.
type workerResource struct{ id int }

func (workerResource) Close() {}

// New builds a Parallelizer sized from cfg, together with its worker
// resource pool: capacity 1, growable to 8, independent of GOMAXPROCS.
// Callers hand Pool() to the executor's Gather operator and can pre-warm
// worker resources through it before execution begins.
func New(cfg planner.CostConfig) *Parallelizer {
	factory := func() (pools.Resource, error) { return workerResource{}, nil }
	return &Parallelizer{
		cfg:  cfg,
		pool: pools.NewResourcePool(factory, 1, 8, 0),
	}
}

// Pool exposes the underlying worker resource pool for the executor's
// Gather operator to borrow from.
func (pz *Parallelizer) Pool() *pools.ResourcePool { return pz.pool }

// Parallelize walks p bottom-up, wrapping any node whose cardinality meets
// cfg.ParallelThreshold in an Exchange/Gather pair. No distribution kind
// (hash, round-robin or broadcast) is recorded on the Exchange node.
func (pz *Parallelizer) Parallelize(p *planner.PhysicalPlan) *planner.PhysicalPlan {
	for i, c := range p.Children {
		p.Children[i] = pz.Parallelize(c)
	}
	if !pz.isParallelSafe(p) {
		return p
	}
	if p.Card.Rows < float64(pz.cfg.ParallelThreshold) {
		return p
	}
	return pz.wrapGather(p)
}

// isParallelSafe excludes operators that need the whole input materialized
// in one place — this module has no window-function operator, so the only
// disqualifying shape is a node already wrapped in Gather/Exchange.
func (pz *Parallelizer) isParallelSafe(p *planner.PhysicalPlan) bool {
	return p.Algo != planner.AlgoGather && p.Algo != planner.AlgoExchange
}

func (pz *Parallelizer) wrapGather(p *planner.PhysicalPlan) *planner.PhysicalPlan {
	exchange := &planner.PhysicalPlan{
		Algo:     planner.AlgoExchange,
		Children: []*planner.PhysicalPlan{p},
		Schema:   p.Schema,
		Cost:     p.Cost,
		Card:     p.Card,
	}
	exchange.Cost.Network += p.Card.Rows * pz.cfg.Weights.Network * 0.01
	gather := &planner.PhysicalPlan{
		Algo:     planner.AlgoGather,
		Children: []*planner.PhysicalPlan{exchange},
		Schema:   p.Schema,
		Cost:     exchange.Cost,
		Card:     p.Card,
	}
	return gather
}

// BroadcastEligible reports whether a HashJoin's build side is small enough
// to broadcast instead of hash-partitioning, per the broadcast_threshold
// default.
func (pz *Parallelizer) BroadcastEligible(buildBytes int64) bool {
	return buildBytes <= pz.cfg.BroadcastThreshold
}
