// Package metrics keeps in-memory runtime statistics for the appliance:
// generation throughput per backend, health check latency and job counters.
// Nothing is persisted; numbers reset on restart.
package metrics

import (
	"maps"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpGenerationReal     = "generation_real"
	OpGenerationFallback = "generation_fallback"
	OpHealthCheck        = "health_check"
)

// Counter names.
const (
	CounterJobsStarted    = "jobs_started"
	CounterJobsCompleted  = "jobs_completed"
	CounterJobsFailed     = "jobs_failed"
	CounterJobsStopped    = "jobs_stopped"
	CounterJobsRejected   = "jobs_rejected"
	CounterJobsReaped     = "jobs_reaped"
	CounterFallbackSwitch = "fallback_switches"
)

// OperationSnapshot is the computed view of one operation. Steps and
// StepsPerSecond are only set for generations.
type OperationSnapshot struct {
	Count          int64   `json:"count"`
	TotalTimeMs    int64   `json:"total_time_ms"`
	AvgTimeMs      float64 `json:"avg_time_ms"`
	MinTimeMs      int64   `json:"min_time_ms"`
	MaxTimeMs      int64   `json:"max_time_ms"`
	LastTimeMs     int64   `json:"last_time_ms"`
	Steps          int64   `json:"steps,omitempty"`
	StepsPerSecond float64 `json:"steps_per_second,omitempty"`
}

// Snapshot is the full runtime statistics at a point in time.
type Snapshot struct {
	UptimeSeconds      float64            `json:"uptime_seconds"`
	GenerationReal     *OperationSnapshot `json:"generation_real,omitempty"`
	GenerationFallback *OperationSnapshot `json:"generation_fallback,omitempty"`
	HealthCheck        *OperationSnapshot `json:"health_check,omitempty"`
	Counters           map[string]int64   `json:"counters"`
}

// span accumulates durations of one operation.
type span struct {
	count    int64
	steps    int64
	total    time.Duration
	min, max time.Duration
	last     time.Duration
}

func (s *span) add(d time.Duration, steps int) {
	if s.count == 0 || d < s.min {
		s.min = d
	}
	s.max = max(s.max, d)
	s.count++
	s.steps += int64(steps)
	s.total += d
	s.last = d
}

func (s *span) snapshot() *OperationSnapshot {
	if s == nil || s.count == 0 {
		return nil
	}
	snap := &OperationSnapshot{
		Count:       s.count,
		TotalTimeMs: s.total.Milliseconds(),
		AvgTimeMs:   float64(s.total.Microseconds()) / float64(s.count) / 1000,
		MinTimeMs:   s.min.Milliseconds(),
		MaxTimeMs:   s.max.Milliseconds(),
		LastTimeMs:  s.last.Milliseconds(),
		Steps:       s.steps,
	}
	if s.steps > 0 && s.total > 0 {
		snap.StepsPerSecond = float64(s.steps) / s.total.Seconds()
	}
	return snap
}

// Collector aggregates runtime statistics. A nil *Collector discards
// everything, so components can run without one.
type Collector struct {
	mu       sync.RWMutex
	started  time.Time
	spans    map[string]*span
	counters map[string]int64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		started:  time.Now(),
		spans:    make(map[string]*span),
		counters: make(map[string]int64),
	}
}

// RecordTiming records one run of op.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	c.record(op, d, 0)
}

// RecordGeneration records one generation run of op that reported steps
// denoising steps.
func (c *Collector) RecordGeneration(op string, d time.Duration, steps int) {
	c.record(op, d, steps)
}

func (c *Collector) record(op string, d time.Duration, steps int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.spans[op]
	if !ok {
		s = &span{}
		c.spans[op] = s
	}
	s.add(d, steps)
}

// Inc increments a named counter.
func (c *Collector) Inc(counter string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[counter]++
	c.mu.Unlock()
}

// Snapshot returns a copy of all statistics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Counters: map[string]int64{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:      time.Since(c.started).Seconds(),
		GenerationReal:     c.spans[OpGenerationReal].snapshot(),
		GenerationFallback: c.spans[OpGenerationFallback].snapshot(),
		HealthCheck:        c.spans[OpHealthCheck].snapshot(),
		Counters:           maps.Clone(c.counters),
	}
}
