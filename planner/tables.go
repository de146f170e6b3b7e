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

// ReferencedTables collects every distinct base table name a physical plan
// reads, for the plan cache's per-table invalidation index.
func ReferencedTables(p *PhysicalPlan) []string {
	seen := make(map[string]bool)
	var walk func(*PhysicalPlan)
	walk = func(n *PhysicalPlan) {
		if n.Table != "" {
			seen[n.Table] = true
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(p)
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}
