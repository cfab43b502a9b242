package check

import (
	"encoding/json"
	"time"
)

// Result captures the outcome of a single check execution.
type Result struct {
	// Timestamp is when the check was executed.
	Timestamp time.Time

	// Success indicates whether the check passed.
	Success bool

	// Metrics holds named measurements from the check execution.
	// A speed test sets {"download": bps, "upload": bps, "ping": ms}.
	Metrics map[string]float64

	// Record is the full self-describing record the check persisted,
	// including pass-through fields from the measurement tool.
	Record json.RawMessage

	// Err holds any error encountered during check execution.
	// A non-nil Err means Metrics must not be trusted.
	Err error
}

// Metric returns a named metric of a successful result.
func (r Result) Metric(key string) (float64, bool) {
	if r.Err != nil || !r.Success || r.Metrics == nil {
		return 0, false
	}
	v, ok := r.Metrics[key]
	return v, ok
}

// ErrorString returns the error description, or "" for a successful result.
func (r Result) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// MarshalJSON renders the result for API responses. A failed result
// carries an "error" field instead of a record.
func (r Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Timestamp time.Time          `json:"timestamp"`
		Success   bool               `json:"success"`
		Metrics   map[string]float64 `json:"metrics,omitempty"`
		Record    json.RawMessage    `json:"record,omitempty"`
		Error     string             `json:"error,omitempty"`
	}
	return json.Marshal(wire{
		Timestamp: r.Timestamp,
		Success:   r.Success,
		Metrics:   r.Metrics,
		Record:    r.Record,
		Error:     r.ErrorString(),
	})
}
