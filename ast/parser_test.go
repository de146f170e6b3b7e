// Copyright 2015 PingCAP, Inc.
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

package ast_test

import (
	"testing"

	. "github.com/pingcap/check"
	"github.com/volcanodb/platform/ast"
)

func TestT(t *testing.T) { TestingT(t) }

var _ = Suite(&testParserSuite{})

type testParserSuite struct{}

func (s *testParserSuite) TestSimpleSelect(c *C) {
	stmt, err := ast.Parse("SELECT a, b FROM t WHERE a > 1")
	c.Assert(err, IsNil)
	sel, ok := stmt.(*ast.SelectStmt)
	c.Assert(ok, IsTrue)
	c.Assert(sel.Fields, HasLen, 2)
	c.Assert(sel.Where, NotNil)
	ts, ok := sel.From.(*ast.TableSource)
	c.Assert(ok, IsTrue)
	c.Assert(ts.Name, Equals, "t")
}

func (s *testParserSuite) TestJoinOnClause(c *C) {
	stmt, err := ast.Parse("SELECT * FROM a LEFT JOIN b ON a.id = b.id")
	c.Assert(err, IsNil)
	sel := stmt.(*ast.SelectStmt)
	join, ok := sel.From.(*ast.Join)
	c.Assert(ok, IsTrue)
	c.Assert(join.Type, Equals, ast.LeftJoin)
	c.Assert(join.OnExpr, NotNil)
}

func (s *testParserSuite) TestCrossJoinHasNoOnCondition(c *C) {
	stmt, err := ast.Parse("SELECT * FROM a CROSS JOIN b")
	c.Assert(err, IsNil)
	sel := stmt.(*ast.SelectStmt)
	join := sel.From.(*ast.Join)
	c.Assert(join.Type, Equals, ast.CrossJoin)
	c.Assert(join.OnExpr, IsNil)
}

func (s *testParserSuite) TestGroupByHavingAggregate(c *C) {
	stmt, err := ast.Parse("SELECT a, COUNT(*) FROM t GROUP BY a HAVING COUNT(*) > 1")
	c.Assert(err, IsNil)
	sel := stmt.(*ast.SelectStmt)
	c.Assert(sel.GroupBy, HasLen, 1)
	c.Assert(sel.Having, NotNil)
	agg, ok := sel.Fields[1].Expr.(*ast.AggregateFuncExpr)
	c.Assert(ok, IsTrue)
	c.Assert(agg.Name, Equals, ast.AggCount)
}

func (s *testParserSuite) TestOrderByLimitOffset(c *C) {
	stmt, err := ast.Parse("SELECT a FROM t ORDER BY a DESC LIMIT 10 OFFSET 5")
	c.Assert(err, IsNil)
	sel := stmt.(*ast.SelectStmt)
	c.Assert(sel.OrderBy, HasLen, 1)
	c.Assert(sel.OrderBy[0].Desc, IsTrue)
	c.Assert(sel.Limit.Count, Equals, int64(10))
	c.Assert(sel.Limit.Offset, Equals, int64(5))
}

func (s *testParserSuite) TestUnionAll(c *C) {
	stmt, err := ast.Parse("SELECT a FROM t UNION ALL SELECT a FROM u")
	c.Assert(err, IsNil)
	union, ok := stmt.(*ast.UnionStmt)
	c.Assert(ok, IsTrue)
	c.Assert(union.All, IsTrue)
	c.Assert(union.Selects, HasLen, 2)
}

func (s *testParserSuite) TestDistinctAndSubquery(c *C) {
	stmt, err := ast.Parse("SELECT DISTINCT a FROM t WHERE EXISTS (SELECT 1 FROM u WHERE u.a = t.a)")
	c.Assert(err, IsNil)
	sel := stmt.(*ast.SelectStmt)
	c.Assert(sel.Distinct, IsTrue)
	sub, ok := sel.Where.(*ast.SubqueryExpr)
	c.Assert(ok, IsTrue)
	c.Assert(sub.Exists, IsTrue)
}

func (s *testParserSuite) TestSyntaxError(c *C) {
	_, err := ast.Parse("SELECT FROM")
	c.Assert(err, NotNil)
}
