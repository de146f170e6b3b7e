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

// Package optimizer is the top-level façade a caller drives: Optimize
// parses, builds, rewrites and physically plans a SQL string in one call,
// consulting and populating a plan cache along the way. Its entry points
// mirror the shape of session/tidb.go's Parse/Compile pair.
package optimizer

import (
	"time"

	"github.com/pingcap/errors"
	"github.com/volcanodb/platform/ast"
	"github.com/volcanodb/platform/catalog"
	"github.com/volcanodb/platform/internal/logutil"
	"github.com/volcanodb/platform/planner"
	"github.com/volcanodb/platform/planner/parallel"
	"github.com/volcanodb/platform/planner/plancache"
	"go.uber.org/zap"
)

// Optimizer is the façade over parse → build → rewrite → physical-plan →
// (optional) parallelize → cache.
type Optimizer struct {
	registry *catalog.Registry
	cfg      planner.CostConfig
	cache    *plancache.Cache
	rules    []planner.Rule
	physical *planner.PhysicalPlanner
	parallel *parallel.Parallelizer
}

// New constructs an Optimizer bound to registry, using cfg (zero value
// resolves to planner.DefaultCostConfig()).
func New(registry *catalog.Registry, cfg planner.CostConfig) *Optimizer {
	if cfg.MaxIterations == 0 {
		cfg = planner.DefaultCostConfig()
	}
	ttl := time.Duration(cfg.PlanCacheTTLMS) * time.Millisecond
	return &Optimizer{
		registry: registry,
		cfg:      cfg,
		cache:    plancache.New(cfg.PlanCacheCapacity, ttl),
		rules:    planner.DefaultRules(registry),
		physical: planner.NewPhysicalPlanner(registry, cfg),
		parallel: parallel.New(cfg),
	}
}

// Optimize maps sql onto a costed, cached physical plan. A cache hit skips
// parsing and planning entirely.
func (o *Optimizer) Optimize(sql string) (*planner.PhysicalPlan, error) {
	if cached, ok := o.cache.Get(sql); ok {
		return cached, nil
	}
	stmt, err := ast.Parse(sql)
	if err != nil {
		return nil, errors.Trace(err)
	}
	builder := planner.NewBuilder(o.registry)
	logical, err := builder.Build(stmt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rewritten, err := planner.RunToFixedPoint(logical, o.rules, o.cfg.MaxIterations)
	if err != nil {
		return nil, errors.Trace(err)
	}
	physical, err := o.physical.Plan(rewritten)
	if err != nil {
		return nil, errors.Trace(err)
	}
	physical = o.parallel.Parallelize(physical)

	tables := planner.ReferencedTables(physical)
	o.cache.Put(sql, physical, tables)
	logutil.BgLogger().Debug("optimizer: planned query",
		zap.String("sql", sql), zap.Float64("cost", physical.Cost.Total), zap.Strings("tables", tables))
	return physical, nil
}

// Explain renders a plan under opts; it does not consult or populate the
// cache (callers should call Optimize first).
func (o *Optimizer) Explain(p *planner.PhysicalPlan, opts planner.ExplainOptions) string {
	return planner.Explain(p, opts)
}

// AddTableStatistics installs fresh statistics for a table, and
// transparently invalidates any cached plan that read it, since a stats
// change can change the optimal algorithm choice.
func (o *Optimizer) AddTableStatistics(stats *catalog.TableStatistics) {
	o.registry.SetStatistics(stats)
	o.cache.InvalidateTable(stats.Table)
}

// RegisterTable installs a table's schema into the catalog.
func (o *Optimizer) RegisterTable(info *catalog.TableInfo) {
	o.registry.RegisterTable(info)
}

// InvalidateTableCache drops every cached plan referencing table.
func (o *Optimizer) InvalidateTableCache(table string) {
	o.cache.InvalidateTable(table)
}

// CacheStatistics returns the plan cache's hit/miss/eviction counters.
func (o *Optimizer) CacheStatistics() plancache.Snapshot {
	return o.cache.Stats.Snapshot()
}
