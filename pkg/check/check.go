// Package check defines the interface and result types for measurements.
//
// A Check runs one measurement against the network and reports it as a
// Result: success/failure, a set of named metrics, the full record the
// measurement produced, and an optional error. Failures are reported
// through Result.Err rather than returned, so callers on the dashboard
// and the scheduler never have to recover from a failed measurement.
package check

import (
	"context"
)

// Check is the interface that measurement types implement.
type Check interface {
	// Type returns the name of this check type (e.g. "speedtest").
	Type() string

	// Describe returns the metrics this check produces.
	Describe() Descriptor

	// Run executes the check and returns a Result.
	// The provided context can be used for cancellation and timeouts.
	Run(ctx context.Context) Result
}
