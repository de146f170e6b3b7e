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

// Package executor implements the Volcano-model pull operators a costed
// planner.PhysicalPlan compiles down to: every operator's Next pulls one
// types.RowBatch at a time from its children until exhausted, mirroring the
// classic open()/next()/close() iterator protocol a Volcano-style executor
// builds its operators around.
package executor

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/volcanodb/platform/types"
	_ "go.uber.org/automaxprocs" // sets GOMAXPROCS from the container CPU quota; the Gather worker pool does not read it
)

// Operator is one node of the executing plan tree.
type Operator interface {
	// Open prepares the operator to produce rows (materializing build sides,
	// opening children, resetting iteration state). Open is called exactly
	// once before the first Next.
	Open(ctx context.Context) error
	// Next returns the next batch of rows, or a nil batch with a nil error
	// at end of stream. Callers must not call Next again after EOF.
	Next(ctx context.Context) (*types.RowBatch, error)
	// Close releases any resources (build-side hash tables, sorted buffers,
	// borrowed worker-pool resources). Close is idempotent.
	Close() error
	// Schema is this operator's output schema.
	Schema() *types.Schema
}

// checkCancel reports ctx's cancellation error, if any, without blocking.
// Every operator's Next calls this first so a cancelled context stops the
// scan/join/sort between batches instead of grinding through a full one.
func checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	default:
		return nil
	}
}

// ExecutionStats are the counters collected per operator instance during a
// run, surfaced for EXPLAIN ANALYZE-style reporting.
type ExecutionStats struct {
	RowsProduced    int64
	BatchesProduced int64
	NextCalls       int64
}

// StatsCollector is implemented by operators that track ExecutionStats. Not
// every operator needs its own counters (pass-through nodes like Exchange
// can just report their child's), so this is an optional, narrower
// interface rather than a field on Operator itself.
type StatsCollector interface {
	Stats() ExecutionStats
}

// baseStats is embedded by operators that track their own counters.
type baseStats struct {
	stats ExecutionStats
}

func (b *baseStats) record(batch *types.RowBatch) {
	b.stats.NextCalls++
	if batch != nil {
		b.stats.BatchesProduced++
		b.stats.RowsProduced += int64(batch.Len())
	}
}

func (b *baseStats) Stats() ExecutionStats { return b.stats }
