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

package plancache_test

import (
	"testing"
	"time"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/planner/plancache"
)

func TestT(t *testing.T) { TestingT(t) }

var _ = Suite(&testPlanCacheSuite{})

type testPlanCacheSuite struct{}

func plan() *planner.PhysicalPlan {
	return &planner.PhysicalPlan{Algo: planner.AlgoSeqScan}
}

func (s *testPlanCacheSuite) TestGetMiss(c *C) {
	cache := plancache.New(4, 0)
	_, ok := cache.Get("select 1")
	c.Assert(ok, IsFalse)
	c.Assert(cache.Stats.Snapshot().Misses, Equals, int64(1))
}

func (s *testPlanCacheSuite) TestPutThenGetHit(c *C) {
	cache := plancache.New(4, 0)
	p := plan()
	cache.Put("select 1", p, []string{"t1"})
	got, ok := cache.Get("select 1")
	c.Assert(ok, IsTrue)
	c.Assert(got, Equals, p)
	c.Assert(cache.Stats.Snapshot().Hits, Equals, int64(1))
}

func (s *testPlanCacheSuite) TestLRUEviction(c *C) {
	cache := plancache.New(2, 0)
	cache.Put("a", plan(), nil)
	cache.Put("b", plan(), nil)
	// Touch "a" so it becomes most-recently-used; "b" is now the eviction
	// candidate.
	_, ok := cache.Get("a")
	c.Assert(ok, IsTrue)
	cache.Put("c", plan(), nil)
	c.Assert(cache.Len(), Equals, 2)
	_, ok = cache.Get("b")
	c.Assert(ok, IsFalse)
	_, ok = cache.Get("a")
	c.Assert(ok, IsTrue)
	_, ok = cache.Get("c")
	c.Assert(ok, IsTrue)
	c.Assert(cache.Stats.Snapshot().Evictions, Equals, int64(1))
}

func (s *testPlanCacheSuite) TestTTLExpiry(c *C) {
	cache := plancache.New(4, time.Millisecond)
	cache.Put("select 1", plan(), nil)
	time.Sleep(5 * time.Millisecond)
	_, ok := cache.Get("select 1")
	c.Assert(ok, IsFalse)
	c.Assert(cache.Stats.Snapshot().Evictions, Equals, int64(1))
}

func (s *testPlanCacheSuite) TestInvalidateTable(c *C) {
	cache := plancache.New(4, 0)
	cache.Put("select * from t1", plan(), []string{"t1"})
	cache.Put("select * from t2", plan(), []string{"t2"})
	cache.Put("select * from t1 join t2", plan(), []string{"t1", "t2"})
	c.Assert(cache.Len(), Equals, 3)

	cache.InvalidateTable("t1")
	c.Assert(cache.Len(), Equals, 1)
	_, ok := cache.Get("select * from t2")
	c.Assert(ok, IsTrue)
	_, ok = cache.Get("select * from t1")
	c.Assert(ok, IsFalse)
	_, ok = cache.Get("select * from t1 join t2")
	c.Assert(ok, IsFalse)
}

func (s *testPlanCacheSuite) TestInvalidateUnknownTableIsNoop(c *C) {
	cache := plancache.New(4, 0)
	cache.Put("select 1", plan(), []string{"t1"})
	cache.InvalidateTable("no_such_table")
	c.Assert(cache.Len(), Equals, 1)
}

func (s *testPlanCacheSuite) TestPutReplacesExisting(c *C) {
	cache := plancache.New(4, 0)
	p1, p2 := plan(), plan()
	cache.Put("select 1", p1, []string{"t1"})
	cache.Put("select 1", p2, []string{"t1"})
	c.Assert(cache.Len(), Equals, 1)
	got, ok := cache.Get("select 1")
	c.Assert(ok, IsTrue)
	c.Assert(got, Equals, p2)
}
