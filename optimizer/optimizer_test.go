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

package optimizer_test

import (
	"strings"
	"testing"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/catalog"
	"github.com/volcanodb/platform/optimizer"
	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/types"
)

func TestT(t *testing.T) { TestingT(t) }

var _ = Suite(&testOptimizerSuite{})

type testOptimizerSuite struct {
	registry *catalog.Registry
	opt      *optimizer.Optimizer
}

func (s *testOptimizerSuite) SetUpTest(c *C) {
	s.registry = catalog.NewRegistry()
	s.registry.RegisterTable(&catalog.TableInfo{
		Name: "orders",
		Schema: types.NewSchema(
			&types.Column{Name: "id", Type: types.TypeInt64},
			&types.Column{Name: "customer_id", Type: types.TypeInt64},
		),
	})
	s.registry.SetStatistics(catalog.NewTableStatistics("orders", 100, 10))
	s.opt = optimizer.New(s.registry, planner.DefaultCostConfig())
}

func (s *testOptimizerSuite) TestOptimizeCacheMissThenHit(c *C) {
	sql := "SELECT id FROM orders WHERE customer_id = 1"
	_, err := s.opt.Optimize(sql)
	c.Assert(err, IsNil)
	snap := s.opt.CacheStatistics()
	c.Assert(snap.Misses, Equals, int64(1))
	c.Assert(snap.Hits, Equals, int64(0))

	_, err = s.opt.Optimize(sql)
	c.Assert(err, IsNil)
	snap = s.opt.CacheStatistics()
	c.Assert(snap.Hits, Equals, int64(1))
}

func (s *testOptimizerSuite) TestOptimizeInvalidSQL(c *C) {
	_, err := s.opt.Optimize("not even sql (")
	c.Assert(err, NotNil)
}

func (s *testOptimizerSuite) TestAddTableStatisticsInvalidatesCache(c *C) {
	sql := "SELECT id FROM orders"
	_, err := s.opt.Optimize(sql)
	c.Assert(err, IsNil)

	s.opt.AddTableStatistics(catalog.NewTableStatistics("orders", 5000, 500))
	// A cached plan for the invalidated table must be re-planned, so the
	// next Optimize call is a miss again rather than a hit.
	before := s.opt.CacheStatistics().Misses
	_, err = s.opt.Optimize(sql)
	c.Assert(err, IsNil)
	after := s.opt.CacheStatistics().Misses
	c.Assert(after, Equals, before+1)
}

func (s *testOptimizerSuite) TestInvalidateTableCache(c *C) {
	sql := "SELECT id FROM orders"
	_, err := s.opt.Optimize(sql)
	c.Assert(err, IsNil)
	s.opt.InvalidateTableCache("orders")
	before := s.opt.CacheStatistics().Misses
	_, err = s.opt.Optimize(sql)
	c.Assert(err, IsNil)
	c.Assert(s.opt.CacheStatistics().Misses, Equals, before+1)
}

func (s *testOptimizerSuite) TestExplainRendersPlan(c *C) {
	phys, err := s.opt.Optimize("SELECT id FROM orders WHERE customer_id = 1")
	c.Assert(err, IsNil)
	out := s.opt.Explain(phys, planner.ExplainOptions{Format: planner.ExplainText})
	c.Assert(strings.TrimSpace(out), Not(Equals), "")
}
