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

package catalog_test

import (
	"path/filepath"
	"testing"
	"time"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/catalog"
	"github.com/volcanodb/platform/types"
)

func TestT(t *testing.T) { TestingT(t) }

var _ = Suite(&testCatalogSuite{})

type testCatalogSuite struct{}

func (s *testCatalogSuite) TestRegistryUnknownTable(c *C) {
	r := catalog.NewRegistry()
	_, err := r.Table("missing")
	c.Assert(err, NotNil)
}

func (s *testCatalogSuite) TestStatisticsPlaceholderWhenUncollected(c *C) {
	r := catalog.NewRegistry()
	stats := r.Statistics("t")
	c.Assert(stats.Rows, Equals, int64(0))
}

func (s *testCatalogSuite) TestEqualitySelectivityUsesNDV(c *C) {
	ts := catalog.NewTableStatistics("t", 1000, 10)
	ts.SetColumn(&catalog.ColumnStatistics{Name: "a", NDV: 100})
	c.Assert(ts.EqualitySelectivity("a"), Equals, 0.01)
}

func (s *testCatalogSuite) TestEqualitySelectivityFallsBackToDefault(c *C) {
	ts := catalog.NewTableStatistics("t", 1000, 10)
	c.Assert(ts.EqualitySelectivity("missing"), Equals, catalog.UnknownPredicateSelectivity)
}

func (s *testCatalogSuite) TestHistogramRangeSelectivity(c *C) {
	buckets := []*catalog.Bucket{
		{Lower: types.NewInt64(0), Upper: types.NewInt64(9), Count: 100},
		{Lower: types.NewInt64(10), Upper: types.NewInt64(19), Count: 100},
	}
	h := catalog.NewHistogram(catalog.EquiWidth, buckets)
	c.Assert(h.TotalRows(), Equals, int64(200))
	sel := h.RangeSelectivity(types.NewInt64(0), types.NewInt64(9))
	c.Assert(sel, Equals, 0.5)
}

func (s *testCatalogSuite) TestGroupByCardinalityCapsAtRows(c *C) {
	ts := catalog.NewTableStatistics("t", 50, 1)
	ts.SetColumn(&catalog.ColumnStatistics{Name: "a", NDV: 1000})
	c.Assert(ts.GroupByCardinality([]string{"a"}), Equals, float64(50))
}

func (s *testCatalogSuite) TestInvalidateDropsStatistics(c *C) {
	r := catalog.NewRegistry()
	r.SetStatistics(catalog.NewTableStatistics("t", 5, 1))
	c.Assert(r.Statistics("t").Rows, Equals, int64(5))
	r.Invalidate("t")
	c.Assert(r.Statistics("t").Rows, Equals, int64(0))
}

func (s *testCatalogSuite) TestStorePersistsAcrossReopen(c *C) {
	dir := filepath.Join(c.MkDir(), "stats")
	store, err := catalog.OpenStore(catalog.StoreConfig{Path: dir})
	c.Assert(err, IsNil)
	ts := catalog.NewTableStatistics("orders", 42, 3)
	ts.SetColumn(&catalog.ColumnStatistics{Name: "id", NDV: 42})
	c.Assert(store.Persist(ts), IsNil)
	c.Assert(store.Close(), IsNil)

	reopened, err := catalog.OpenStore(catalog.StoreConfig{Path: dir})
	c.Assert(err, IsNil)
	defer reopened.Close()
	got := reopened.Registry.Statistics("orders")
	c.Assert(got.Rows, Equals, int64(42))
	c.Assert(got.Column("id").NDV, Equals, int64(42))
}

func (s *testCatalogSuite) TestRefreshLoopInvokesCollector(c *C) {
	calls := make(chan string, 4)
	store, err := catalog.OpenStore(catalog.StoreConfig{
		RefreshInterval: 10 * time.Millisecond,
		Collect: func(table string) (*catalog.TableStatistics, error) {
			calls <- table
			return catalog.NewTableStatistics(table, 1, 1), nil
		},
	})
	c.Assert(err, IsNil)
	defer store.Close()
	store.Registry.RegisterTable(&catalog.TableInfo{Name: "t"})

	select {
	case table := <-calls:
		c.Assert(table, Equals, "t")
	case <-time.After(time.Second):
		c.Fatal("collector was not invoked within timeout")
	}
}
