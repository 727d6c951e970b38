// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics registry. Counters and gauges share one keyed map so
// a snapshot carries the engine's whole state in a single read.

package control

import (
	"sync"
	"time"
)

// MetricsRegistry holds named counters and gauges behind one lock.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set stores a gauge value under key, replacing whatever was there.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Inc bumps the counter under key by one and returns the new value.
func (mr *MetricsRegistry) Inc(key string) int64 {
	return mr.Add(key, 1)
}

// Add bumps the counter under key by delta and returns the new value.
// A key previously holding a non-counter value restarts from delta.
func (mr *MetricsRegistry) Add(key string, delta int64) int64 {
	mr.mu.Lock()
	current, _ := mr.metrics[key].(int64)
	current += delta
	mr.metrics[key] = current
	mr.updated = time.Now()
	mr.mu.Unlock()
	return current
}

// GetSnapshot returns a copy of every metric.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Updated reports when the registry last changed.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}
