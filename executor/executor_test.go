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

package executor_test

import (
	"context"
	"testing"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/catalog"
	"github.com/volcanodb/platform/executor"
	"github.com/volcanodb/platform/optimizer"
	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/types"
)

func TestT(t *testing.T) { TestingT(t) }

var _ = Suite(&testExecutorSuite{})

type testExecutorSuite struct {
	registry *catalog.Registry
	store    *catalog.RowStore
	opt      *optimizer.Optimizer
}

func (s *testExecutorSuite) SetUpTest(c *C) {
	s.registry = catalog.NewRegistry()
	s.registry.RegisterTable(&catalog.TableInfo{
		Name: "orders",
		Schema: types.NewSchema(
			&types.Column{Name: "id", Type: types.TypeInt64},
			&types.Column{Name: "customer_id", Type: types.TypeInt64},
			&types.Column{Name: "total", Type: types.TypeFloat64},
		),
	})
	s.registry.SetStatistics(catalog.NewTableStatistics("orders", 4, 1))

	s.store = catalog.NewRowStore()
	s.store.LoadRows("orders", []types.Row{
		{types.NewInt64(1), types.NewInt64(100), types.NewFloat64(9.5)},
		{types.NewInt64(2), types.NewInt64(100), types.NewFloat64(4.0)},
		{types.NewInt64(3), types.NewInt64(200), types.NewFloat64(12.0)},
		{types.NewInt64(4), types.NewInt64(300), types.NewFloat64(1.0)},
	})
	s.opt = optimizer.New(s.registry, planner.DefaultCostConfig())
}

func (s *testExecutorSuite) run(c *C, sql string) []types.Row {
	phys, err := s.opt.Optimize(sql)
	c.Assert(err, IsNil)
	b := executor.NewBuilder(s.store, nil)
	op, err := b.Build(phys)
	c.Assert(err, IsNil)
	ctx := context.Background()
	c.Assert(op.Open(ctx), IsNil)
	defer op.Close()
	var rows []types.Row
	for {
		batch, err := op.Next(ctx)
		c.Assert(err, IsNil)
		if batch == nil {
			break
		}
		rows = append(rows, batch.Rows...)
	}
	return rows
}

func (s *testExecutorSuite) TestSeqScanWithFilter(c *C) {
	rows := s.run(c, "SELECT id FROM orders WHERE customer_id = 100")
	c.Assert(rows, HasLen, 2)
}

func (s *testExecutorSuite) TestProjectAndLimit(c *C) {
	rows := s.run(c, "SELECT id FROM orders ORDER BY id LIMIT 2")
	c.Assert(rows, HasLen, 2)
	c.Assert(rows[0][0].AsInt64(), Equals, int64(1))
	c.Assert(rows[1][0].AsInt64(), Equals, int64(2))
}

func (s *testExecutorSuite) TestDistinct(c *C) {
	rows := s.run(c, "SELECT DISTINCT customer_id FROM orders")
	c.Assert(rows, HasLen, 3)
}

func (s *testExecutorSuite) TestAggregateCountStar(c *C) {
	rows := s.run(c, "SELECT COUNT(*) FROM orders")
	c.Assert(rows, HasLen, 1)
	c.Assert(rows[0][0].AsInt64(), Equals, int64(4))
}

func (s *testExecutorSuite) TestGroupByCount(c *C) {
	rows := s.run(c, "SELECT customer_id, COUNT(*) FROM orders GROUP BY customer_id")
	c.Assert(rows, HasLen, 3)
	totals := make(map[int64]int64)
	for _, r := range rows {
		totals[r[0].AsInt64()] = r[1].AsInt64()
	}
	c.Assert(totals[100], Equals, int64(2))
	c.Assert(totals[200], Equals, int64(1))
}

func (s *testExecutorSuite) TestInnerJoin(c *C) {
	s.registry.RegisterTable(&catalog.TableInfo{
		Name: "customers",
		Schema: types.NewSchema(
			&types.Column{Name: "id", Type: types.TypeInt64},
			&types.Column{Name: "name", Type: types.TypeString},
		),
	})
	s.registry.SetStatistics(catalog.NewTableStatistics("customers", 2, 1))
	s.store.LoadRows("customers", []types.Row{
		{types.NewInt64(100), types.NewString("alice")},
		{types.NewInt64(200), types.NewString("bob")},
	})
	rows := s.run(c, "SELECT orders.id FROM orders JOIN customers ON orders.customer_id = customers.id WHERE customers.name = 'alice'")
	c.Assert(rows, HasLen, 2)
}
