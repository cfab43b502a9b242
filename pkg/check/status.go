package check

import (
	"sync"
	"time"
)

// Status tracks the latest result of a check execution.
// It is safe for concurrent use; the dashboard reads it while manual and
// scheduled runs write it.
type Status struct {
	mu         sync.RWMutex
	lastResult Result
	lastRun    time.Time
	runs       int64
	failures   int64
}

// NewStatus creates a Status with zero values (no runs, not successful).
func NewStatus() *Status {
	return &Status{}
}

// SetResult stores the latest check result.
func (s *Status) SetResult(result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = result
	s.lastRun = result.Timestamp
	s.runs++
	if !result.Success {
		s.failures++
	}
}

// Snapshot returns a point-in-time copy of the status fields.
// This is useful for building API responses without holding the lock.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Deep copy the metrics map so the snapshot is independent
	var metrics map[string]float64
	if s.lastResult.Metrics != nil {
		metrics = make(map[string]float64, len(s.lastResult.Metrics))
		for k, v := range s.lastResult.Metrics {
			metrics[k] = v
		}
	}

	var lastRun int64
	if !s.lastRun.IsZero() {
		lastRun = s.lastRun.Unix()
	}

	return StatusSnapshot{
		OK:       s.lastResult.Success,
		Metrics:  metrics,
		Error:    s.lastResult.ErrorString(),
		LastRun:  lastRun,
		Runs:     s.runs,
		Failures: s.failures,
	}
}

// StatusSnapshot is a point-in-time copy of Status fields.
type StatusSnapshot struct {
	OK       bool               `json:"ok"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Error    string             `json:"error,omitempty"`
	LastRun  int64              `json:"lastrun"`
	Runs     int64              `json:"runs"`
	Failures int64              `json:"failures"`
}
