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

package parallel_test

import (
	"testing"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/planner/parallel"
)

func TestT(t *testing.T) { TestingT(t) }

var _ = Suite(&testParallelSuite{})

type testParallelSuite struct {
	cfg planner.CostConfig
}

func (s *testParallelSuite) SetUpTest(c *C) {
	s.cfg = planner.DefaultCostConfig()
}

func (s *testParallelSuite) TestBelowThresholdUntouched(c *C) {
	pz := parallel.New(s.cfg)
	p := &planner.PhysicalPlan{
		Algo: planner.AlgoSeqScan,
		Card: planner.Cardinality{Rows: 10},
	}
	got := pz.Parallelize(p)
	c.Assert(got.Algo, Equals, planner.AlgoSeqScan)
}

func (s *testParallelSuite) TestAboveThresholdWrapsGather(c *C) {
	pz := parallel.New(s.cfg)
	p := &planner.PhysicalPlan{
		Algo: planner.AlgoSeqScan,
		Card: planner.Cardinality{Rows: float64(s.cfg.ParallelThreshold) * 2},
	}
	got := pz.Parallelize(p)
	c.Assert(got.Algo, Equals, planner.AlgoGather)
	c.Assert(got.Children, HasLen, 1)
	c.Assert(got.Children[0].Algo, Equals, planner.AlgoExchange)
	c.Assert(got.Children[0].Children[0], Equals, p)
}

func (s *testParallelSuite) TestAlreadyGatheredNodeNotRewrapped(c *C) {
	pz := parallel.New(s.cfg)
	inner := &planner.PhysicalPlan{
		Algo: planner.AlgoGather,
		Card: planner.Cardinality{Rows: float64(s.cfg.ParallelThreshold) * 10},
	}
	got := pz.Parallelize(inner)
	c.Assert(got, Equals, inner)
}

func (s *testParallelSuite) TestParallelizeRecursesIntoChildren(c *C) {
	pz := parallel.New(s.cfg)
	scan := &planner.PhysicalPlan{
		Algo: planner.AlgoSeqScan,
		Card: planner.Cardinality{Rows: float64(s.cfg.ParallelThreshold) * 2},
	}
	project := &planner.PhysicalPlan{
		Algo:     planner.AlgoProject,
		Children: []*planner.PhysicalPlan{scan},
		Card:     planner.Cardinality{Rows: 5},
	}
	got := pz.Parallelize(project)
	c.Assert(got.Algo, Equals, planner.AlgoProject)
	c.Assert(got.Children[0].Algo, Equals, planner.AlgoGather)
}

func (s *testParallelSuite) TestBroadcastEligible(c *C) {
	pz := parallel.New(s.cfg)
	c.Assert(pz.BroadcastEligible(s.cfg.BroadcastThreshold), IsTrue)
	c.Assert(pz.BroadcastEligible(s.cfg.BroadcastThreshold+1), IsFalse)
}

func (s *testParallelSuite) TestPoolAvailable(c *C) {
	pz := parallel.New(s.cfg)
	c.Assert(pz.Pool(), NotNil)
}
