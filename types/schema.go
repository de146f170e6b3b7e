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

package types

import "strings"

// DataType is the declared SQL type of a column. Only a small structural
// subset is represented; it is not a full MySQL type system.
type DataType int

// Declared column data types.
const (
	TypeUnknown DataType = iota
	TypeBool
	TypeInt64
	TypeFloat64
	TypeString
	TypeBinary
)

func (t DataType) String() string {
	switch t {
	case TypeBool:
		return "BOOL"
	case TypeInt64:
		return "INT64"
	case TypeFloat64:
		return "FLOAT64"
	case TypeString:
		return "STRING"
	case TypeBinary:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

// KindOf returns the Value Kind a column of this DataType holds (ignoring
// nullability).
func (t DataType) KindOf() Kind {
	switch t {
	case TypeBool:
		return KindBool
	case TypeInt64:
		return KindInt64
	case TypeFloat64:
		return KindFloat64
	case TypeString:
		return KindString
	case TypeBinary:
		return KindBinary
	default:
		return KindNull
	}
}

// Column describes one output column of a plan node.
type Column struct {
	Name     string
	Table    string // origin table name, empty for computed columns
	Type     DataType
	Nullable bool
}

// QualifiedName returns "table.name", or just "name" when Table is empty.
func (c *Column) QualifiedName() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

// Schema is the ordered output column list of a logical or physical plan
// node. It is immutable once a node is constructed; rewrites build new
// Schemas rather than mutate one in place.
type Schema struct {
	Columns []*Column
}

// NewSchema builds a Schema from columns.
func NewSchema(cols ...*Column) *Schema {
	return &Schema{Columns: cols}
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.Columns) }

// Clone returns a deep-enough copy: a new Columns slice of the same pointers.
// Plans that mutate a column in place must first clone the column itself.
func (s *Schema) Clone() *Schema {
	cols := make([]*Column, len(s.Columns))
	copy(cols, s.Columns)
	return &Schema{Columns: cols}
}

// ColumnIndex returns the index of the column with the given qualified or bare
// name, or -1 if absent. Bare names match any table when unambiguous.
func (s *Schema) ColumnIndex(name string) int {
	name = strings.ToLower(name)
	for i, c := range s.Columns {
		if strings.ToLower(c.QualifiedName()) == name || strings.ToLower(c.Name) == name {
			return i
		}
	}
	return -1
}

// Append returns a new Schema with col appended.
func (s *Schema) Append(col *Column) *Schema {
	cols := make([]*Column, len(s.Columns)+1)
	copy(cols, s.Columns)
	cols[len(s.Columns)] = col
	return &Schema{Columns: cols}
}

// Project returns a new Schema containing only the columns at the given
// indices, in that order.
func (s *Schema) Project(idxs []int) *Schema {
	cols := make([]*Column, len(idxs))
	for i, idx := range idxs {
		cols[i] = s.Columns[idx]
	}
	return &Schema{Columns: cols}
}
