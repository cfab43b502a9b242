// Package speedtest implements a throughput check for the check framework.
//
// It shells out to an installed speed test CLI requesting JSON output,
// normalizes the reported rates to bits per second, stamps the sample and
// appends it to the result store.
package speedtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kylerisse/ispwatch/pkg/check"
	"github.com/kylerisse/ispwatch/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	// TypeName is the check type reported by Type and in logs.
	TypeName = "speedtest"

	// DefaultTimeout bounds a single invocation of the CLI.
	DefaultTimeout = 60 * time.Second

	// waitDelay is how long to wait for output pipes after the CLI is killed.
	waitDelay = 2 * time.Second
)

var (
	// DefaultBinaries is the lookup order for the CLI.
	DefaultBinaries = []string{"speedtest", "speedtest-cli"}

	// DefaultArgs requests machine readable output.
	DefaultArgs = []string{"--json"}
)

var (
	// ErrToolNotFound means none of the configured binaries is installed.
	ErrToolNotFound = errors.New("no speedtest CLI found")

	// ErrToolExecution means the CLI failed, timed out or printed
	// something that is not a speed test result.
	ErrToolExecution = errors.New("speedtest failed")
)

// Desc describes the metrics produced by a speed test.
var Desc = check.Descriptor{
	Label: "throughput",
	Metrics: []check.MetricDef{
		{ResultKey: store.KeyDownload, Label: "Download", Unit: "Mbps", Scale: 1e6},
		{ResultKey: store.KeyUpload, Label: "Upload", Unit: "Mbps", Scale: 1e6},
		{ResultKey: store.KeyPing, Label: "Ping", Unit: "ms"},
	},
}

// Appender persists successful samples.
type Appender interface {
	Append(sample store.Sample) error
}

// Speedtest implements check.Check using an external speed test CLI.
type Speedtest struct {
	sink     Appender
	binaries []string
	args     []string
	timeout  time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

// Option is a functional option for configuring a Speedtest check.
type Option func(*Speedtest) error

// WithTimeout sets the maximum duration of one CLI invocation.
func WithTimeout(d time.Duration) Option {
	return func(s *Speedtest) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		s.timeout = d
		return nil
	}
}

// WithBinaries sets the CLI names (or paths) to try, in order.
func WithBinaries(names ...string) Option {
	return func(s *Speedtest) error {
		if len(names) == 0 {
			return fmt.Errorf("at least one binary name is required")
		}
		s.binaries = names
		return nil
	}
}

// WithArgs sets the arguments passed to the CLI.
func WithArgs(args ...string) Option {
	return func(s *Speedtest) error {
		s.args = args
		return nil
	}
}

// WithClock sets the time source used to stamp samples.
func WithClock(now func() time.Time) Option {
	return func(s *Speedtest) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		s.now = now
		return nil
	}
}

// New creates a Speedtest check that appends successful samples to sink.
func New(sink Appender, logger *logrus.Logger, opts ...Option) (*Speedtest, error) {
	if sink == nil {
		return nil, fmt.Errorf("speedtest: sink must not be nil")
	}

	s := &Speedtest{
		sink:     sink,
		binaries: DefaultBinaries,
		args:     DefaultArgs,
		timeout:  DefaultTimeout,
		now:      time.Now,
		logger:   logger,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("speedtest: %w", err)
		}
	}

	return s, nil
}

// Type returns the check type name.
func (s *Speedtest) Type() string {
	return TypeName
}

// Describe returns the Descriptor for speed test results.
func (s *Speedtest) Describe() check.Descriptor {
	return Desc
}

// Run executes the CLI once. On success the sample is stamped with the
// current UTC time and appended to the store. Every failure is reported
// in the returned Result; Run never panics on tool errors.
func (s *Speedtest) Run(ctx context.Context) check.Result {
	started := s.now().UTC()

	bin, err := s.locate()
	if err != nil {
		s.logger.Errorf("Speedtest: %v", err)
		return failed(started, err)
	}

	s.logger.Debugf("Speedtest: running %s %s", bin, strings.Join(s.args, " "))

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, s.args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w: %s timed out after %v", ErrToolExecution, bin, s.timeout)
		case msg != "":
			err = fmt.Errorf("%w: %s: %v: %s", ErrToolExecution, bin, err, msg)
		default:
			err = fmt.Errorf("%w: %s: %v", ErrToolExecution, bin, err)
		}
		s.logger.Errorf("Speedtest: %v", err)
		return failed(started, err)
	}

	sample, err := parseOutput(stdout.Bytes())
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrToolExecution, bin, err)
		s.logger.Errorf("Speedtest: %v", err)
		return failed(started, err)
	}
	sample.RecordedAt = s.now().UTC()

	if err := s.sink.Append(sample); err != nil {
		err = fmt.Errorf("failed to store result: %w", err)
		s.logger.Errorf("Speedtest: %v", err)
		return failed(started, err)
	}

	record, err := json.Marshal(sample)
	if err != nil {
		return failed(started, fmt.Errorf("failed to encode result: %w", err))
	}

	s.logger.Infof("Speedtest: download=%.1f Mbps upload=%.1f Mbps ping=%.1f ms",
		store.ToMbps(sample.Download), store.ToMbps(sample.Upload), sample.Ping)

	return check.Result{
		Timestamp: sample.RecordedAt,
		Success:   true,
		Metrics: map[string]float64{
			store.KeyDownload: sample.Download,
			store.KeyUpload:   sample.Upload,
			store.KeyPing:     sample.Ping,
		},
		Record: record,
	}
}

// locate returns the first configured binary found on PATH.
func (s *Speedtest) locate() (string, error) {
	for _, name := range s.binaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrToolNotFound, strings.Join(s.binaries, ", "))
}

func failed(ts time.Time, err error) check.Result {
	return check.Result{
		Timestamp: ts,
		Success:   false,
		Err:       err,
	}
}
