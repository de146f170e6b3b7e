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

package catalog

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/goleveldb/leveldb"
	"github.com/volcanodb/platform/internal/logutil"
	"go.uber.org/zap"
)

// Collector is supplied by the caller (normally the executor, via sampling
// a SeqScan) to recompute a table's statistics on refresh. It returns nil
// when the table currently has no fresher statistics to offer.
type Collector func(table string) (*TableStatistics, error)

// persistedTable, persistedColumn and persistedBucket are the
// JSON-on-leveldb wire shape for one table's stats,
// since histogram buckets hold types.Value which doesn't serialize through
// gob cleanly across the Kind tag.
type persistedBucket struct {
	Lower string `json:"lower"`
	Upper string `json:"upper"`
	Count int64  `json:"count"`
	NDV   int64  `json:"ndv"`
}

type persistedColumn struct {
	Name      string            `json:"name"`
	NullFrac  float64           `json:"null_frac"`
	NDV       int64             `json:"ndv"`
	Buckets   []persistedBucket `json:"buckets,omitempty"`
	Kind      HistogramKind     `json:"hist_kind"`
}

type persistedTable struct {
	Table   string            `json:"table"`
	Rows    int64             `json:"rows"`
	Pages   int64             `json:"pages"`
	Columns []persistedColumn `json:"columns"`
}

// Store owns a Registry, a durable leveldb-backed statistics log, and a
// background refresh loop modeled on domain.Domain's load-on-a-ticker
// pattern: a ticker fires every RefreshInterval, each
// registered table's Collector is invoked, and the result both updates the
// in-memory Registry and is persisted to disk.
type Store struct {
	Registry *Registry

	db       *leveldb.DB
	collect  Collector
	interval time.Duration

	exit chan struct{}
	wg   sync.WaitGroup
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Path is the leveldb directory. Empty disables persistence (stats
	// refresh still runs, but nothing survives a restart).
	Path            string
	RefreshInterval time.Duration
	Collect         Collector
}

// OpenStore constructs a Store, loading any persisted statistics from Path.
func OpenStore(cfg StoreConfig) (*Store, error) {
	s := &Store{
		Registry: NewRegistry(),
		collect:  cfg.Collect,
		interval: cfg.RefreshInterval,
		exit:     make(chan struct{}),
	}
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, errors.Trace(err)
		}
		db, err := leveldb.OpenFile(cfg.Path, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
		s.db = db
		if err := s.loadAll(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if s.interval > 0 && s.collect != nil {
		s.wg.Add(1)
		go s.refreshLoop()
	}
	return s, nil
}

func (s *Store) loadAll() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		var pt persistedTable
		if err := json.Unmarshal(iter.Value(), &pt); err != nil {
			logutil.BgLogger().Warn("catalog: skipping corrupt stats record",
				zap.String("key", string(iter.Key())), zap.Error(err))
			continue
		}
		s.Registry.SetStatistics(fromPersisted(&pt))
	}
	return errors.Trace(iter.Error())
}

func fromPersisted(pt *persistedTable) *TableStatistics {
	ts := NewTableStatistics(pt.Table, pt.Rows, pt.Pages)
	for _, pc := range pt.Columns {
		cs := &ColumnStatistics{Name: pc.Name, NullFrac: pc.NullFrac, NDV: pc.NDV}
		if len(pc.Buckets) > 0 {
			buckets := make([]*Bucket, len(pc.Buckets))
			for i, pb := range pc.Buckets {
				buckets[i] = &Bucket{
					Lower: stringToValue(pb.Lower),
					Upper: stringToValue(pb.Upper),
					Count: pb.Count,
					NDV:   pb.NDV,
				}
			}
			cs.Histogram = NewHistogram(pc.Kind, buckets)
		}
		ts.SetColumn(cs)
	}
	return ts
}

func toPersisted(ts *TableStatistics) *persistedTable {
	pt := &persistedTable{Table: ts.Table, Rows: ts.Rows, Pages: ts.Pages}
	for _, cs := range ts.Columns {
		pc := persistedColumn{Name: cs.Name, NullFrac: cs.NullFrac, NDV: cs.NDV}
		if cs.Histogram != nil {
			pc.Kind = cs.Histogram.Kind
			for _, b := range cs.Histogram.Buckets {
				pc.Buckets = append(pc.Buckets, persistedBucket{
					Lower: b.Lower.String(),
					Upper: b.Upper.String(),
					Count: b.Count,
					NDV:   b.NDV,
				})
			}
		}
		pt.Columns = append(pt.Columns, pc)
	}
	return pt
}

// stringToValue recovers a types.Value from its String() rendering as a
// best-effort float, falling back to a string value. Histogram bounds only
// need to order correctly for RangeSelectivity's interpolation, so this
// approximation is sufficient for persisted numeric columns; string-typed
// columns round-trip exactly since String() is the identity for them.
func stringToValue(s string) types.Value {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return types.NewFloat64(f)
	}
	return types.NewString(s)
}

// Persist writes one table's statistics to the durable log (no-op if the
// Store was opened without a Path) and updates the in-memory Registry.
func (s *Store) Persist(ts *TableStatistics) error {
	s.Registry.SetStatistics(ts)
	if s.db == nil {
		return nil
	}
	buf, err := json.Marshal(toPersisted(ts))
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.db.Put([]byte(ts.Table), buf, nil))
}

func (s *Store) refreshLoop() {
	defer s.wg.Done()
	defer recoverInCatalog("catalog.refreshLoop")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.refreshOnce()
		case <-s.exit:
			return
		}
	}
}

func (s *Store) refreshOnce() {
	for _, table := range s.Registry.Snapshot() {
		ts, err := s.collect(table)
		if err != nil {
			logutil.BgLogger().Warn("catalog: statistics refresh failed",
				zap.String("table", table), zap.Error(err))
			continue
		}
		if ts == nil {
			continue
		}
		if err := s.Persist(ts); err != nil {
			logutil.BgLogger().Warn("catalog: statistics persist failed",
				zap.String("table", table), zap.Error(err))
		}
	}
}

func recoverInCatalog(where string) {
	if r := recover(); r != nil {
		logutil.BgLogger().Error("catalog: recovered from panic",
			zap.String("where", where), zap.Any("panic", r))
	}
}

// Close stops the refresh loop and releases the leveldb handle.
func (s *Store) Close() error {
	close(s.exit)
	s.wg.Wait()
	if s.db != nil {
		return errors.Trace(s.db.Close())
	}
	return nil
}
