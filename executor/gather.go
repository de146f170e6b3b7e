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

package executor

import (
	"context"

	"github.com/ngaut/pools"
	"github.com/volcanodb/platform/types"
)

// ExchangeExec is a pass-through marker operator: it exists so a Gather
// above it has something distinct to report in EXPLAIN output and to
// attach distribution metadata to, even though this single-process
// executor has no real network shuffle to perform.
type ExchangeExec struct {
	child Operator
}

// NewExchangeExec wraps child in an Exchange boundary.
func NewExchangeExec(child Operator) *ExchangeExec { return &ExchangeExec{child: child} }

func (e *ExchangeExec) Schema() *types.Schema          { return e.child.Schema() }
func (e *ExchangeExec) Open(ctx context.Context) error { return e.child.Open(ctx) }
func (e *ExchangeExec) Close() error                   { return e.child.Close() }
func (e *ExchangeExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	return e.child.Next(ctx)
}

// GatherExec borrows one worker resource from a shared pool for the
// duration of its child's execution, the single-process stand-in for
// fanning a plan fragment out across real worker goroutines/nodes. The
// pool comes from planner/parallel.Parallelizer.Pool(), which holds one
// worker resource (growable to 8) whatever GOMAXPROCS is.
type GatherExec struct {
	baseStats
	child    Operator
	pool     *pools.ResourcePool
	resource pools.Resource
}

// NewGatherExec wraps child, borrowing a worker resource from pool across
// its lifetime.
func NewGatherExec(child Operator, pool *pools.ResourcePool) *GatherExec {
	return &GatherExec{child: child, pool: pool}
}

func (e *GatherExec) Schema() *types.Schema { return e.child.Schema() }

func (e *GatherExec) Open(ctx context.Context) error {
	if e.pool != nil {
		res, err := e.pool.Get(ctx)
		if err == nil {
			e.resource = res
		}
	}
	return e.child.Open(ctx)
}

func (e *GatherExec) Close() error {
	if e.pool != nil && e.resource != nil {
		e.pool.Put(e.resource)
		e.resource = nil
	}
	return e.child.Close()
}

func (e *GatherExec) Next(ctx context.Context) (*types.RowBatch, error) {
	if err := checkCancel(ctx); err != nil {
		return nil, err
	}
	batch, err := e.child.Next(ctx)
	e.record(batch)
	return batch, err
}
