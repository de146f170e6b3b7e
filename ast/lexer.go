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
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string // original text
	upper string // uppercased, for keyword comparison
}

var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true,
	"NOT": true, "AS": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "CROSS": true, "ON": true, "GROUP": true,
	"BY": true, "HAVING": true, "ORDER": true, "ASC": true, "DESC": true,
	"LIMIT": true, "OFFSET": true, "UNION": true, "ALL": true, "DISTINCT": true,
	"NULL": true, "TRUE": true, "FALSE": true, "IS": true, "EXISTS": true,
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

// titleCaser is a title-case folder for identifier display; no lexer or
// parser code calls it. Comparisons always go through strings.ToUpper.
var titleCaser = cases.Title(language.Und)

// lexer tokenizes a SQL string into the token stream the parser consumes.
type lexer struct {
	src []rune
	pos int
}

func newLexer(sql string) *lexer {
	return &lexer{src: []rune(sql)}
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if unicode.IsSpace(r) {
			l.pos++
			continue
		}
		if r == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '-' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// next returns the next token, advancing the lexer. Returns tokEOF at end
// of input; never errors. An unterminated quoted string runs to the end of
// input and is returned as a tokString holding the text read so far.
func (l *lexer) next() token {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}
	}
	r := l.src[l.pos]

	switch {
	case isIdentStart(r):
		start := l.pos
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		text := string(l.src[start:l.pos])
		upper := strings.ToUpper(text)
		if keywords[upper] {
			return token{kind: tokKeyword, text: text, upper: upper}
		}
		return token{kind: tokIdent, text: text, upper: upper}

	case unicode.IsDigit(r):
		start := l.pos
		seenDot := false
		for l.pos < len(l.src) {
			c := l.src[l.pos]
			if unicode.IsDigit(c) {
				l.pos++
				continue
			}
			if c == '.' && !seenDot {
				seenDot = true
				l.pos++
				continue
			}
			break
		}
		return token{kind: tokNumber, text: string(l.src[start:l.pos])}

	case r == '\'' || r == '"':
		quote := r
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.src) && l.src[l.pos] != quote {
			if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
				l.pos++
			}
			sb.WriteRune(l.src[l.pos])
			l.pos++
		}
		if l.pos < len(l.src) {
			l.pos++ // closing quote
		}
		return token{kind: tokString, text: sb.String()}

	case r == '`':
		l.pos++
		start := l.pos
		for l.pos < len(l.src) && l.src[l.pos] != '`' {
			l.pos++
		}
		text := string(l.src[start:l.pos])
		if l.pos < len(l.src) {
			l.pos++
		}
		return token{kind: tokIdent, text: text, upper: strings.ToUpper(text)}

	case r == '<' || r == '>' || r == '!' || r == '=':
		start := l.pos
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '=' || (r == '<' && l.src[l.pos] == '>')) {
			l.pos++
		}
		return token{kind: tokPunct, text: string(l.src[start:l.pos])}

	default:
		l.pos++
		return token{kind: tokPunct, text: string(r)}
	}
}

// peek returns the next token without consuming it.
func (l *lexer) peek() token {
	save := l.pos
	t := l.next()
	l.pos = save
	return t
}
