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

package cache

import (
	"fmt"
	"sync"
	"time"
)

// Stats is a plain value type of monotonically non-decreasing counters;
// it is copyable and two snapshots can be merged pointwise.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
}

// TotalOps is Hits+Misses, the denominator for hit/miss rate.
func (s Stats) TotalOps() int64 { return s.Hits + s.Misses }

// HitRate is hits as a percentage of total get operations.
func (s Stats) HitRate() float64 {
	total := s.TotalOps()
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// MissRate is misses as a percentage of total get operations.
func (s Stats) MissRate() float64 {
	total := s.TotalOps()
	if total == 0 {
		return 0
	}
	return float64(s.Misses) / float64(total) * 100
}

// Merge returns the pointwise sum of s and other.
func (s Stats) Merge(other Stats) Stats {
	return Stats{
		Hits:      s.Hits + other.Hits,
		Misses:    s.Misses + other.Misses,
		Sets:      s.Sets + other.Sets,
		Deletes:   s.Deletes + other.Deletes,
		Evictions: s.Evictions + other.Evictions,
	}
}

// statsCounter is the mutable, concurrency-safe accumulator a Backend embeds
// and reads out as a Stats value via Snapshot.
type statsCounter struct {
	mu sync.Mutex
	s  Stats
}

func (c *statsCounter) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

func (c *statsCounter) hit()      { c.mu.Lock(); c.s.Hits++; c.mu.Unlock() }
func (c *statsCounter) miss()     { c.mu.Lock(); c.s.Misses++; c.mu.Unlock() }
func (c *statsCounter) set()      { c.mu.Lock(); c.s.Sets++; c.mu.Unlock() }
func (c *statsCounter) delete()   { c.mu.Lock(); c.s.Deletes++; c.mu.Unlock() }
func (c *statsCounter) evict()    { c.mu.Lock(); c.s.Evictions++; c.mu.Unlock() }

// Metrics adds latency sums and memory tracking on top of Stats, the
// richer record a MetricsCollector snapshots over time.
type Metrics struct {
	Stats           Stats
	StartTime       time.Time
	TotalGetTimeUs  int64
	TotalSetTimeUs  int64
	CurrentMemory   int64
	PeakMemory      int64
}

// NewMetrics creates a Metrics record timestamped at now.
func NewMetrics(now time.Time) Metrics {
	return Metrics{StartTime: now}
}

// AvgGetLatencyUs is the mean GET latency in microseconds.
func (m Metrics) AvgGetLatencyUs() float64 {
	total := m.Stats.Hits + m.Stats.Misses
	if total == 0 {
		return 0
	}
	return float64(m.TotalGetTimeUs) / float64(total)
}

// AvgSetLatencyUs is the mean SET latency in microseconds.
func (m Metrics) AvgSetLatencyUs() float64 {
	if m.Stats.Sets == 0 {
		return 0
	}
	return float64(m.TotalSetTimeUs) / float64(m.Stats.Sets)
}

// OpsPerSecond is total operations divided by elapsed time since StartTime.
func (m Metrics) OpsPerSecond(now time.Time) float64 {
	elapsed := now.Sub(m.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.Stats.TotalOps()) / elapsed
}

// UpdateMemory records current and bumps peak if current is a new high.
func (m *Metrics) UpdateMemory(current int64) {
	m.CurrentMemory = current
	if current > m.PeakMemory {
		m.PeakMemory = current
	}
}

// RecordGet folds a completed GET's latency and hit/miss outcome in.
func (m *Metrics) RecordGet(latency time.Duration, hit bool) {
	m.TotalGetTimeUs += latency.Microseconds()
	if hit {
		m.Stats.Hits++
	} else {
		m.Stats.Misses++
	}
}

// RecordSet folds a completed SET's latency in.
func (m *Metrics) RecordSet(latency time.Duration) {
	m.TotalSetTimeUs += latency.Microseconds()
	m.Stats.Sets++
}

// RecordDelete increments the delete counter.
func (m *Metrics) RecordDelete() { m.Stats.Deletes++ }

// RecordEviction increments the eviction counter.
func (m *Metrics) RecordEviction() { m.Stats.Evictions++ }

// Snapshot captures m and now into a serializable point-in-time record.
func (m Metrics) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Stats:            m.Stats,
		Uptime:           now.Sub(m.StartTime),
		AvgGetLatencyUs:  m.AvgGetLatencyUs(),
		AvgSetLatencyUs:  m.AvgSetLatencyUs(),
		OpsPerSecond:     m.OpsPerSecond(now),
		CurrentMemory:    m.CurrentMemory,
		PeakMemory:       m.PeakMemory,
	}
}

// Snapshot is a point-in-time, JSON-serializable copy of Metrics.
type Snapshot struct {
	Stats           Stats         `json:"stats"`
	Uptime          time.Duration `json:"-"`
	AvgGetLatencyUs float64       `json:"avg_get_latency_us"`
	AvgSetLatencyUs float64       `json:"avg_set_latency_us"`
	OpsPerSecond    float64       `json:"ops_per_second"`
	CurrentMemory   int64         `json:"current_memory"`
	PeakMemory      int64         `json:"peak_memory"`
}

// FormatMemory renders bytes as a human-readable KB/MB/GB string.
func FormatMemory(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.2f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// Collector accumulates Metrics over time and retains a bounded ring of
// periodic Snapshots, the way a long-lived process would sample its cache's
// health for a dashboard.
type Collector struct {
	mu            sync.Mutex
	metrics       Metrics
	snapshots     []Snapshot
	maxSnapshots  int
}

// NewCollector creates a Collector, retaining at most maxSnapshots Take
// results.
func NewCollector(now time.Time, maxSnapshots int) *Collector {
	return &Collector{metrics: NewMetrics(now), maxSnapshots: maxSnapshots}
}

// Update runs f against the collector's live Metrics under its lock.
func (c *Collector) Update(f func(*Metrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.metrics)
}

// Get returns a copy of the collector's current Metrics.
func (c *Collector) Get() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Take snapshots the collector's current metrics at now, appending it to
// the retained ring and trimming the oldest entries past maxSnapshots.
func (c *Collector) Take(now time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.metrics.Snapshot(now)
	c.snapshots = append(c.snapshots, snap)
	if over := len(c.snapshots) - c.maxSnapshots; over > 0 {
		c.snapshots = c.snapshots[over:]
	}
	return snap
}

// Snapshots returns a copy of every retained snapshot, oldest first.
func (c *Collector) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, len(c.snapshots))
	copy(out, c.snapshots)
	return out
}

// Reset clears the collector's metrics and retained snapshots.
func (c *Collector) Reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = NewMetrics(now)
	c.snapshots = nil
}

// Analyzer turns raw Stats into human-readable operator guidance; it holds
// no state of its own.
type Analyzer struct{}

// AnalyzeHitRate grades stats' hit rate into a short recommendation.
func (Analyzer) AnalyzeHitRate(s Stats) string {
	switch rate := s.HitRate(); {
	case rate >= 90:
		return "excellent: cache is performing very well"
	case rate >= 70:
		return "good: cache is performing well"
	case rate >= 50:
		return "fair: consider increasing cache size or adjusting TTL"
	case rate >= 30:
		return "poor: cache may be too small or TTL too short"
	default:
		return "very poor: investigate caching strategy and configuration"
	}
}

// AnalyzeEvictionRate grades stats' eviction-to-set ratio.
func (Analyzer) AnalyzeEvictionRate(s Stats) string {
	if s.Sets == 0 {
		return "no data available"
	}
	rate := float64(s.Evictions) / float64(s.Sets) * 100
	switch {
	case rate < 5:
		return "excellent: low eviction rate"
	case rate < 15:
		return "good: moderate eviction rate"
	case rate < 30:
		return "fair: consider increasing cache capacity"
	default:
		return "poor: high eviction rate, increase cache size"
	}
}

// Report renders a multi-line human-readable summary of snap.
func (a Analyzer) Report(snap Snapshot) string {
	return fmt.Sprintf(
		"cache performance report\n"+
			"uptime: %s\n"+
			"operations: total=%d hits=%d (%.2f%%) misses=%d (%.2f%%) sets=%d deletes=%d evictions=%d\n"+
			"ops/sec: %.2f avg_get_us: %.2f avg_set_us: %.2f\n"+
			"memory: current=%s peak=%s\n"+
			"hit rate: %s\n"+
			"eviction rate: %s\n",
		snap.Uptime, snap.Stats.TotalOps(), snap.Stats.Hits, snap.Stats.HitRate(),
		snap.Stats.Misses, snap.Stats.MissRate(), snap.Stats.Sets, snap.Stats.Deletes, snap.Stats.Evictions,
		snap.OpsPerSecond, snap.AvgGetLatencyUs, snap.AvgSetLatencyUs,
		FormatMemory(snap.CurrentMemory), FormatMemory(snap.PeakMemory),
		a.AnalyzeHitRate(snap.Stats), a.AnalyzeEvictionRate(snap.Stats))
}
