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

package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExplainFormat selects EXPLAIN's rendering.
type ExplainFormat int

// Output formats.
const (
	ExplainText ExplainFormat = iota
	ExplainJSON
)

// ExplainOptions controls EXPLAIN's verbosity.
type ExplainOptions struct {
	Format       ExplainFormat
	Verbose      bool
	ShowCost     bool
	ShowCardinality bool
}

// Explain renders a physical plan tree as `<indent>Operator(cost=…, rows=…)`
// text, or as JSON.
func Explain(p *PhysicalPlan, opts ExplainOptions) string {
	if opts.Format == ExplainJSON {
		buf, _ := json.MarshalIndent(explainNode(p, opts), "", "  ")
		return string(buf)
	}
	var sb strings.Builder
	explainText(&sb, p, 0, opts)
	return sb.String()
}

func explainText(sb *strings.Builder, p *PhysicalPlan, depth int, opts ExplainOptions) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(p.Algo.String())
	sb.WriteString("(")
	var parts []string
	if opts.ShowCost {
		parts = append(parts, fmt.Sprintf("cost=%.2f", p.Cost.Total))
	}
	if opts.ShowCardinality {
		parts = append(parts, fmt.Sprintf("rows=%.0f", p.Card.Rows))
	}
	if opts.Verbose {
		if p.Table != "" {
			parts = append(parts, "table="+p.Table)
		}
		if len(p.Predicates) > 0 {
			var preds []string
			for _, pr := range p.Predicates {
				preds = append(preds, pr.String())
			}
			parts = append(parts, "predicates=["+strings.Join(preds, ", ")+"]")
		}
	}
	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString(")\n")
	for _, c := range p.Children {
		explainText(sb, c, depth+1, opts)
	}
}

type explainJSONNode struct {
	Operator string            `json:"operator"`
	Cost     float64           `json:"cost,omitempty"`
	Rows     float64           `json:"rows,omitempty"`
	Table    string            `json:"table,omitempty"`
	Children []explainJSONNode `json:"children,omitempty"`
}

func explainNode(p *PhysicalPlan, opts ExplainOptions) explainJSONNode {
	n := explainJSONNode{Operator: p.Algo.String(), Table: p.Table}
	if opts.ShowCost {
		n.Cost = p.Cost.Total
	}
	if opts.ShowCardinality {
		n.Rows = p.Card.Rows
	}
	for _, c := range p.Children {
		n.Children = append(n.Children, explainNode(c, opts))
	}
	return n
}
