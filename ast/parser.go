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

package ast

import (
	"strconv"
	"strings"

	"github.com/pingcap/errors"
	"github.com/volcanodb/platform/types"
)

// ParseError reports a syntax error found while parsing. It deliberately
// carries only a message and position, not a recovery suggestion: this
// grammar targets structural coverage, not full dialect diagnostics, so
// it need not diagnose beyond "this is not valid SQL here".
type ParseError struct {
	Msg string
	Pos int
}

func (e *ParseError) Error() string {
	return "parse error at offset " + strconv.Itoa(e.Pos) + ": " + e.Msg
}

// Parse maps a SQL string onto a StmtNode. It fails with a *ParseError
// (wrapped via pingcap/errors) on any syntax error.
func Parse(sql string) (StmtNode, error) {
	p := &parser{lex: newLexer(sql)}
	p.advance()
	stmt, err := p.parseUnion()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if p.cur.kind != tokEOF {
		return nil, errors.Trace(&ParseError{Msg: "unexpected trailing input: " + p.cur.text, Pos: p.lex.pos})
	}
	return stmt, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() { p.cur = p.lex.next() }

func (p *parser) errf(msg string) error {
	return errors.Trace(&ParseError{Msg: msg, Pos: p.lex.pos})
}

func (p *parser) isKeyword(kw string) bool {
	return p.cur.kind == tokKeyword && p.cur.upper == kw
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errf("expected " + kw)
	}
	p.advance()
	return nil
}

func (p *parser) isPunct(s string) bool {
	return p.cur.kind == tokPunct && p.cur.text == s
}

func (p *parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return p.errf("expected '" + s + "'")
	}
	p.advance()
	return nil
}

// parseUnion parses one or more SELECT statements chained by UNION [ALL].
func (p *parser) parseUnion() (StmtNode, error) {
	first, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("UNION") {
		return first, nil
	}
	union := &UnionStmt{Selects: []*SelectStmt{first}}
	for p.isKeyword("UNION") {
		p.advance()
		all := false
		if p.isKeyword("ALL") {
			all = true
			p.advance()
		}
		union.All = union.All || all
		next, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		union.Selects = append(union.Selects, next)
	}
	for _, s := range union.Selects {
		s.Union = union
	}
	return union, nil
}

func (p *parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	stmt := &SelectStmt{}
	if p.isKeyword("DISTINCT") {
		stmt.Distinct = true
		p.advance()
	} else if p.isKeyword("ALL") {
		p.advance()
	}

	fields, err := p.parseSelectFieldList()
	if err != nil {
		return nil, err
	}
	stmt.Fields = fields

	if p.isKeyword("FROM") {
		p.advance()
		from, err := p.parseTableRefs()
		if err != nil {
			return nil, err
		}
		stmt.From = from
	}

	if p.isKeyword("WHERE") {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}

	if p.isKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = items
	}

	if p.isKeyword("HAVING") {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Having = expr
	}

	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = items
	}

	if p.isKeyword("LIMIT") {
		p.advance()
		lim, err := p.parseLimit()
		if err != nil {
			return nil, err
		}
		stmt.Limit = lim
	}

	return stmt, nil
}

func (p *parser) parseSelectFieldList() ([]*SelectField, error) {
	var fields []*SelectField
	for {
		f, err := p.parseSelectField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return fields, nil
}

func (p *parser) parseSelectField() (*SelectField, error) {
	if p.isPunct("*") {
		p.advance()
		return &SelectField{WildCard: true}, nil
	}
	// table.* lookahead: ident '.' '*'
	if p.cur.kind == tokIdent {
		save := *p.lex
		saveCur := p.cur
		tbl := p.cur.text
		p.advance()
		if p.isPunct(".") {
			p.advance()
			if p.isPunct("*") {
				p.advance()
				return &SelectField{WildCard: true, WildTable: tbl}, nil
			}
		}
		*p.lex = save
		p.cur = saveCur
	}

	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	field := &SelectField{Expr: expr}
	if p.isKeyword("AS") {
		p.advance()
		if p.cur.kind != tokIdent {
			return nil, p.errf("expected alias identifier")
		}
		field.Alias = p.cur.text
		p.advance()
	} else if p.cur.kind == tokIdent {
		field.Alias = p.cur.text
		p.advance()
	}
	return field, nil
}

func (p *parser) parseTableRefs() (ResultSetNode, error) {
	left, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	for {
		joinType, ok := p.peekJoinType()
		if !ok {
			break
		}
		p.consumeJoinType()
		if err := p.expectKeyword("JOIN"); err != nil {
			return nil, err
		}
		right, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		j := &Join{Left: left, Right: right, Type: joinType}
		if joinType != CrossJoin {
			if err := p.expectKeyword("ON"); err != nil {
				return nil, err
			}
			on, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			j.OnExpr = on
		}
		left = j
	}
	return left, nil
}

func (p *parser) peekJoinType() (JoinType, bool) {
	switch {
	case p.isKeyword("JOIN"):
		return InnerJoin, true
	case p.isKeyword("INNER"):
		return InnerJoin, true
	case p.isKeyword("LEFT"):
		return LeftJoin, true
	case p.isKeyword("RIGHT"):
		return RightJoin, true
	case p.isKeyword("FULL"):
		return FullJoin, true
	case p.isKeyword("CROSS"):
		return CrossJoin, true
	default:
		return InnerJoin, false
	}
}

func (p *parser) consumeJoinType() {
	if p.isKeyword("JOIN") {
		return // JOIN itself consumed by caller's expectKeyword("JOIN")
	}
	p.advance() // consume INNER/LEFT/RIGHT/FULL/CROSS
}

func (p *parser) parseTableRef() (ResultSetNode, error) {
	if p.isPunct("(") {
		p.advance()
		if p.isKeyword("SELECT") {
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			alias := ""
			if p.isKeyword("AS") {
				p.advance()
			}
			if p.cur.kind == tokIdent {
				alias = p.cur.text
				p.advance()
			}
			return &DerivedTable{Query: sub, Alias: alias}, nil
		}
		inner, err := p.parseTableRefs()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	if p.cur.kind != tokIdent {
		return nil, p.errf("expected table name")
	}
	name := p.cur.text
	p.advance()
	ts := &TableSource{Name: name}
	if p.isKeyword("AS") {
		p.advance()
	}
	if p.cur.kind == tokIdent {
		ts.Alias = p.cur.text
		p.advance()
	}
	return ts, nil
}

func (p *parser) parseExprList() ([]ExprNode, error) {
	var out []ExprNode
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) parseOrderByList() ([]*OrderByItem, error) {
	var out []*OrderByItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := &OrderByItem{Expr: e}
		if p.isKeyword("DESC") {
			item.Desc = true
			p.advance()
		} else if p.isKeyword("ASC") {
			p.advance()
		}
		out = append(out, item)
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) parseLimit() (*LimitClause, error) {
	if p.cur.kind != tokNumber {
		return nil, p.errf("expected LIMIT count")
	}
	n, err := strconv.ParseInt(p.cur.text, 10, 64)
	if err != nil {
		return nil, p.errf("invalid LIMIT count")
	}
	p.advance()
	lim := &LimitClause{Count: n}
	if p.isKeyword("OFFSET") {
		p.advance()
		if p.cur.kind != tokNumber {
			return nil, p.errf("expected OFFSET count")
		}
		off, err := strconv.ParseInt(p.cur.text, 10, 64)
		if err != nil {
			return nil, p.errf("invalid OFFSET count")
		}
		lim.Offset = off
		p.advance()
	}
	return lim, nil
}

// Expression grammar, lowest to highest precedence:
//   OR > AND > NOT > comparison > additive > multiplicative > unary > primary

func (p *parser) parseExpr() (ExprNode, error) { return p.parseOr() }

func (p *parser) parseOr() (ExprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryOperationExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ExprNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryOperationExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ExprNode, error) {
	if p.isKeyword("NOT") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOperationExpr{Op: OpNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (ExprNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("IS") {
		p.advance()
		op := UnaryOperator(OpIsNull)
		if p.isKeyword("NOT") {
			p.advance()
			op = OpIsNotNull
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &UnaryOperationExpr{Op: op, Operand: left}, nil
	}
	op, ok := p.peekCompareOp()
	if !ok {
		return left, nil
	}
	p.advance()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &BinaryOperationExpr{Op: op, Left: left, Right: right}, nil
}

func (p *parser) peekCompareOp() (BinaryOperator, bool) {
	if p.cur.kind != tokPunct {
		return OpUnknown, false
	}
	switch p.cur.text {
	case "=":
		return OpEQ, true
	case "<>", "!=":
		return OpNE, true
	case "<":
		return OpLT, true
	case "<=":
		return OpLE, true
	case ">":
		return OpGT, true
	case ">=":
		return OpGE, true
	default:
		return OpUnknown, false
	}
}

func (p *parser) parseAdditive() (ExprNode, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := OpAdd
		if p.cur.text == "-" {
			op = OpSub
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryOperationExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ExprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := OpMul
		if p.cur.text == "/" {
			op = OpDiv
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOperationExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (ExprNode, error) {
	if p.isPunct("-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOperationExpr{Op: OpNeg, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (ExprNode, error) {
	switch {
	case p.cur.kind == tokNumber:
		text := p.cur.text
		p.advance()
		if strings.Contains(text, ".") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, p.errf("invalid number literal")
			}
			return &ValueExpr{Value: types.NewFloat64(f)}, nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, p.errf("invalid integer literal")
		}
		return &ValueExpr{Value: types.NewInt64(n)}, nil

	case p.cur.kind == tokString:
		text := p.cur.text
		p.advance()
		return &ValueExpr{Value: types.NewString(text)}, nil

	case p.isKeyword("NULL"):
		p.advance()
		return &ValueExpr{Value: types.NewNull()}, nil

	case p.isKeyword("TRUE"):
		p.advance()
		return &ValueExpr{Value: types.NewBool(true)}, nil

	case p.isKeyword("FALSE"):
		p.advance()
		return &ValueExpr{Value: types.NewBool(false)}, nil

	case p.isKeyword("EXISTS"):
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &SubqueryExpr{Query: sub, Exists: true}, nil

	case p.isAggKeyword():
		return p.parseAggFunc()

	case p.isPunct("("):
		p.advance()
		if p.isKeyword("SELECT") {
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return &SubqueryExpr{Query: sub}, nil
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil

	case p.cur.kind == tokIdent:
		name := p.cur.text
		p.advance()
		if p.isPunct(".") {
			p.advance()
			if p.cur.kind != tokIdent {
				return nil, p.errf("expected column name after '.'")
			}
			col := p.cur.text
			p.advance()
			return &ColumnName{Table: name, Name: col}, nil
		}
		return &ColumnName{Name: name}, nil

	default:
		return nil, p.errf("unexpected token '" + p.cur.text + "'")
	}
}

func (p *parser) isAggKeyword() bool {
	if p.cur.kind != tokKeyword {
		return false
	}
	switch p.cur.upper {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	default:
		return false
	}
}

func (p *parser) parseAggFunc() (ExprNode, error) {
	var fn AggFuncType
	switch p.cur.upper {
	case "COUNT":
		fn = AggCount
	case "SUM":
		fn = AggSum
	case "AVG":
		fn = AggAvg
	case "MIN":
		fn = AggMin
	case "MAX":
		fn = AggMax
	}
	p.advance()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	agg := &AggregateFuncExpr{Name: fn}
	if p.isKeyword("DISTINCT") {
		agg.Distinct = true
		p.advance()
	}
	if p.isPunct("*") {
		p.advance()
	} else {
		args, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		agg.Args = args
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return agg, nil
}
