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

package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/cache"
)

func TestT(t *testing.T) { TestingT(t) }

var _ = Suite(&testMemorySuite{})
var _ = Suite(&testDiskSuite{})
var _ = Suite(&testStatsSuite{})
var _ = Suite(&testFacadeSuite{})

type testMemorySuite struct{}

func (s *testMemorySuite) TestSetGetRoundTrip(c *C) {
	ctx := context.Background()
	b := cache.NewMemoryBackend(0)
	c.Assert(b.Set(ctx, "k", []byte("v"), cache.Options{}), IsNil)
	e, ok, err := b.Get(ctx, "k")
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
	c.Assert(string(e.Value), Equals, "v")
}

func (s *testMemorySuite) TestGetMiss(c *C) {
	ctx := context.Background()
	b := cache.NewMemoryBackend(0)
	_, ok, err := b.Get(ctx, "missing")
	c.Assert(err, IsNil)
	c.Assert(ok, IsFalse)
	c.Assert(b.Stats().Misses, Equals, int64(1))
}

func (s *testMemorySuite) TestLRUEviction(c *C) {
	ctx := context.Background()
	// Capacity for exactly two 1-byte values.
	b := cache.NewMemoryBackend(2)
	c.Assert(b.Set(ctx, "a", []byte("1"), cache.Options{}), IsNil)
	c.Assert(b.Set(ctx, "b", []byte("2"), cache.Options{}), IsNil)
	_, ok, _ := b.Get(ctx, "a") // touch "a": "b" becomes the eviction candidate
	c.Assert(ok, IsTrue)
	c.Assert(b.Set(ctx, "c", []byte("3"), cache.Options{}), IsNil)

	n, err := b.Len(ctx)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 2)
	_, ok, _ = b.Get(ctx, "b")
	c.Assert(ok, IsFalse)
	c.Assert(b.Stats().Evictions, Equals, int64(1))
}

func (s *testMemorySuite) TestTTLExpiry(c *C) {
	ctx := context.Background()
	b := cache.NewMemoryBackend(0)
	c.Assert(b.Set(ctx, "k", []byte("v"), cache.Options{TTL: time.Millisecond}), IsNil)
	time.Sleep(5 * time.Millisecond)
	_, ok, err := b.Get(ctx, "k")
	c.Assert(err, IsNil)
	c.Assert(ok, IsFalse)
}

func (s *testMemorySuite) TestDeleteByTags(c *C) {
	ctx := context.Background()
	b := cache.NewMemoryBackend(0)
	c.Assert(b.Set(ctx, "a", []byte("1"), cache.Options{Tags: []string{"x"}}), IsNil)
	c.Assert(b.Set(ctx, "b", []byte("2"), cache.Options{Tags: []string{"y"}}), IsNil)
	c.Assert(b.Set(ctx, "c", []byte("3"), cache.Options{Tags: []string{"x", "y"}}), IsNil)
	n, err := b.DeleteByTags(ctx, []string{"x"})
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 2)
	_, ok, _ := b.Get(ctx, "b")
	c.Assert(ok, IsTrue)
}

func (s *testMemorySuite) TestKeysGlobPattern(c *C) {
	ctx := context.Background()
	b := cache.NewMemoryBackend(0)
	c.Assert(b.Set(ctx, "user:1", []byte("a"), cache.Options{}), IsNil)
	c.Assert(b.Set(ctx, "user:2", []byte("b"), cache.Options{}), IsNil)
	c.Assert(b.Set(ctx, "order:1", []byte("c"), cache.Options{}), IsNil)
	keys, err := b.Keys(ctx, "user:*")
	c.Assert(err, IsNil)
	c.Assert(keys, HasLen, 2)
}

func (s *testMemorySuite) TestDeletePattern(c *C) {
	ctx := context.Background()
	b := cache.NewMemoryBackend(0)
	c.Assert(b.Set(ctx, "user:1", []byte("a"), cache.Options{}), IsNil)
	c.Assert(b.Set(ctx, "user:2", []byte("b"), cache.Options{}), IsNil)
	n, err := b.DeletePattern(ctx, "user:?")
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 2)
}

func (s *testMemorySuite) TestMSetMGet(c *C) {
	ctx := context.Background()
	b := cache.NewMemoryBackend(0)
	c.Assert(b.MSet(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, cache.Options{}), IsNil)
	got, err := b.MGet(ctx, []string{"a", "b", "missing"})
	c.Assert(err, IsNil)
	c.Assert(got, HasLen, 3)
	c.Assert(string(got[0].Value), Equals, "1")
	c.Assert(got[2], IsNil)
}

func (s *testMemorySuite) TestCapacityExceededSingleValue(c *C) {
	ctx := context.Background()
	b := cache.NewMemoryBackend(1)
	err := b.Set(ctx, "k", []byte("too big"), cache.Options{})
	c.Assert(err, NotNil)
}

type testDiskSuite struct {
	dir string
}

func (s *testDiskSuite) SetUpTest(c *C) {
	dir, err := os.MkdirTemp("", "volcanodb-cache-test")
	c.Assert(err, IsNil)
	s.dir = dir
}

func (s *testDiskSuite) TearDownTest(c *C) {
	_ = os.RemoveAll(s.dir)
}

func (s *testDiskSuite) TestSetGetRoundTrip(c *C) {
	ctx := context.Background()
	b, err := cache.NewDiskBackend(cache.DiskConfig{Dir: s.dir, ShardCount: 4})
	c.Assert(err, IsNil)
	c.Assert(b.Set(ctx, "k", []byte("value"), cache.Options{}), IsNil)
	e, ok, err := b.Get(ctx, "k")
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
	c.Assert(string(e.Value), Equals, "value")
}

func (s *testDiskSuite) TestPersistsAcrossReopen(c *C) {
	ctx := context.Background()
	b, err := cache.NewDiskBackend(cache.DiskConfig{Dir: s.dir, ShardCount: 4})
	c.Assert(err, IsNil)
	c.Assert(b.Set(ctx, "k", []byte("value"), cache.Options{}), IsNil)
	c.Assert(b.Close(ctx), IsNil)

	reopened, err := cache.NewDiskBackend(cache.DiskConfig{Dir: s.dir, ShardCount: 4})
	c.Assert(err, IsNil)
	e, ok, err := reopened.Get(ctx, "k")
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
	c.Assert(string(e.Value), Equals, "value")
}

func (s *testDiskSuite) TestLRUEvictionBySize(c *C) {
	ctx := context.Background()
	b, err := cache.NewDiskBackend(cache.DiskConfig{Dir: s.dir, ShardCount: 4, MaxSizeBytes: 2})
	c.Assert(err, IsNil)
	c.Assert(b.Set(ctx, "a", []byte("1"), cache.Options{}), IsNil)
	time.Sleep(time.Millisecond)
	c.Assert(b.Set(ctx, "b", []byte("2"), cache.Options{}), IsNil)
	c.Assert(b.Set(ctx, "c", []byte("3"), cache.Options{}), IsNil)
	n, err := b.Len(ctx)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 2)
	c.Assert(b.Stats().Evictions, Equals, int64(1))
}

func (s *testDiskSuite) TestDeleteRemovesFiles(c *C) {
	ctx := context.Background()
	b, err := cache.NewDiskBackend(cache.DiskConfig{Dir: s.dir, ShardCount: 4})
	c.Assert(err, IsNil)
	c.Assert(b.Set(ctx, "k", []byte("v"), cache.Options{}), IsNil)
	ok, err := b.Delete(ctx, "k")
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
	_, ok, err = b.Get(ctx, "k")
	c.Assert(err, IsNil)
	c.Assert(ok, IsFalse)
}

type testStatsSuite struct{}

func (s *testStatsSuite) TestHitMissRate(c *C) {
	st := cache.Stats{Hits: 80, Misses: 20, Sets: 100, Deletes: 10, Evictions: 5}
	c.Assert(st.TotalOps(), Equals, int64(100))
	c.Assert(st.HitRate(), Equals, 80.0)
	c.Assert(st.MissRate(), Equals, 20.0)
}

func (s *testStatsSuite) TestMerge(c *C) {
	a := cache.Stats{Hits: 1, Misses: 2}
	b := cache.Stats{Hits: 3, Misses: 4}
	m := a.Merge(b)
	c.Assert(m.Hits, Equals, int64(4))
	c.Assert(m.Misses, Equals, int64(6))
}

func (s *testStatsSuite) TestMetricsLatency(c *C) {
	now := time.Unix(1000, 0)
	m := cache.NewMetrics(now)
	m.RecordGet(100*time.Microsecond, true)
	m.RecordGet(200*time.Microsecond, false)
	m.RecordSet(150 * time.Microsecond)
	c.Assert(m.Stats.Hits, Equals, int64(1))
	c.Assert(m.Stats.Misses, Equals, int64(1))
	c.Assert(m.AvgGetLatencyUs(), Equals, 150.0)
	c.Assert(m.AvgSetLatencyUs(), Equals, 150.0)
}

func (s *testStatsSuite) TestCollectorSnapshotTrim(c *C) {
	now := time.Unix(1000, 0)
	coll := cache.NewCollector(now, 2)
	coll.Update(func(m *cache.Metrics) { m.RecordSet(time.Microsecond) })
	coll.Take(now.Add(time.Second))
	coll.Take(now.Add(2 * time.Second))
	coll.Take(now.Add(3 * time.Second))
	c.Assert(coll.Snapshots(), HasLen, 2)
}

func (s *testStatsSuite) TestAnalyzer(c *C) {
	var a cache.Analyzer
	c.Assert(a.AnalyzeHitRate(cache.Stats{Hits: 95, Misses: 5}), Equals, "excellent: cache is performing very well")
	c.Assert(a.AnalyzeEvictionRate(cache.Stats{Sets: 0}), Equals, "no data available")
}

type testFacadeSuite struct{}

func (s *testFacadeSuite) TestPromotesOnLowerTierHit(c *C) {
	ctx := context.Background()
	l1 := cache.NewMemoryBackend(0)
	l2 := cache.NewMemoryBackend(0)
	c.Assert(l2.Set(ctx, "k", []byte("v"), cache.Options{}), IsNil)

	f := cache.NewFacade(l1, l2)
	e, ok, err := f.Get(ctx, "k")
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
	c.Assert(string(e.Value), Equals, "v")

	// promoted into l1
	got, ok, err := l1.Get(ctx, "k")
	c.Assert(err, IsNil)
	c.Assert(ok, IsTrue)
	c.Assert(string(got.Value), Equals, "v")
}

func (s *testFacadeSuite) TestSetWritesThroughAllTiers(c *C) {
	ctx := context.Background()
	l1 := cache.NewMemoryBackend(0)
	l2 := cache.NewMemoryBackend(0)
	f := cache.NewFacade(l1, l2)
	c.Assert(f.Set(ctx, "k", []byte("v"), cache.Options{}), IsNil)
	_, ok, _ := l1.Get(ctx, "k")
	c.Assert(ok, IsTrue)
	_, ok, _ = l2.Get(ctx, "k")
	c.Assert(ok, IsTrue)
}

func (s *testFacadeSuite) TestAggregateStats(c *C) {
	ctx := context.Background()
	l1 := cache.NewMemoryBackend(0)
	l2 := cache.NewMemoryBackend(0)
	f := cache.NewFacade(l1, l2)
	_, _, _ = f.Get(ctx, "missing")
	total := f.Stats()
	c.Assert(total.Misses, Equals, int64(2))
}
