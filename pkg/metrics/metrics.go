// Package metrics keeps lightweight in-process counters and a ring of recent
// request samples for the admin endpoint.
package metrics

import (
	"sync"
	"time"
)

// Stage counter names used by the prompt pipeline.
const (
	CounterPrompts     = "prompts_total"
	CounterQuestions   = "questions_total"
	CounterDenied      = "denied_total"
	CounterLintFailed  = "lint_failed_total"
	CounterExecuted    = "executed_total"
	CounterExecFailed  = "exec_failed_total"
	CounterSpawnFailed = "spawn_failed_total"
	CounterLLMErrors   = "llm_errors_total"
)

// Sample is one completed HTTP request.
type Sample struct {
	Timestamp time.Time     `json:"timestamp"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	Duration  time.Duration `json:"duration_ns"`
}

// Collector accumulates counters and a fixed-capacity ring of samples.
type Collector struct {
	mu       sync.Mutex
	counters map[string]int64
	samples  []Sample
	next     int
	full     bool
	started  time.Time
}

func NewCollector(capacity int) *Collector {
	if capacity < 1 {
		capacity = 256
	}
	return &Collector{
		counters: make(map[string]int64),
		samples:  make([]Sample, capacity),
		started:  time.Now(),
	}
}

// Inc bumps a named counter.
func (c *Collector) Inc(name string) {
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// Observe records one finished request.
func (c *Collector) Observe(path string, status int, d time.Duration) {
	c.mu.Lock()
	c.samples[c.next] = Sample{Timestamp: time.Now(), Path: path, Status: status, Duration: d}
	c.next++
	if c.next == len(c.samples) {
		c.next = 0
		c.full = true
	}
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy of the collector state.
type Snapshot struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Counters      map[string]int64 `json:"counters"`
	RequestCount  int              `json:"request_count"`
	AvgLatencyMs  float64          `json:"avg_latency_ms"`
	Recent        []Sample         `json:"recent"`
}

// Snapshot copies the counters and the ring, oldest sample first.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	var recent []Sample
	if c.full {
		recent = append(recent, c.samples[c.next:]...)
		recent = append(recent, c.samples[:c.next]...)
	} else {
		recent = append(recent, c.samples[:c.next]...)
	}

	var total time.Duration
	for _, s := range recent {
		total += s.Duration
	}
	avg := 0.0
	if len(recent) > 0 {
		avg = float64(total.Milliseconds()) / float64(len(recent))
	}

	return Snapshot{
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
		Counters:      counters,
		RequestCount:  len(recent),
		AvgLatencyMs:  avg,
		Recent:        recent,
	}
}
