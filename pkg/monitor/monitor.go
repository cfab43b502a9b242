// Package monitor runs one measurement cycle: the speed test, its status
// bookkeeping and metrics, and the threshold alert.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kylerisse/ispwatch/pkg/alert"
	"github.com/kylerisse/ispwatch/pkg/check"
	"github.com/kylerisse/ispwatch/pkg/metrics"
	"github.com/kylerisse/ispwatch/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrBusy is returned by TryRun while another run is in progress.
var ErrBusy = errors.New("speed test already in progress")

// Evaluator decides whether a result warrants an alert.
type Evaluator interface {
	Evaluate(ctx context.Context, res check.Result) alert.Evaluation
}

// Run is the outcome of one cycle.
type Run struct {
	Result check.Result     `json:"result"`
	Alert  alert.Evaluation `json:"alert"`
}

// Monitor serializes measurement cycles so that manual and scheduled runs
// never overlap.
type Monitor struct {
	check  check.Check
	alerts Evaluator
	status *check.Status
	logger *logrus.Logger

	runMu sync.Mutex

	mu   sync.RWMutex
	last *Run
}

// New creates a Monitor. alerts may be nil to disable alerting.
func New(c check.Check, alerts Evaluator, logger *logrus.Logger) *Monitor {
	return &Monitor{
		check:  c,
		alerts: alerts,
		status: check.NewStatus(),
		logger: logger,
	}
}

// RunOnce waits for any run in progress and then performs a full cycle.
func (m *Monitor) RunOnce(ctx context.Context) Run {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.run(ctx)
}

// TryRun performs a full cycle unless one is already in progress, in which
// case it returns ErrBusy without waiting.
func (m *Monitor) TryRun(ctx context.Context) (Run, error) {
	if !m.runMu.TryLock() {
		return Run{}, ErrBusy
	}
	defer m.runMu.Unlock()
	return m.run(ctx), nil
}

func (m *Monitor) run(ctx context.Context) Run {
	m.logger.Infof("Monitor: running %s", m.check.Type())

	start := time.Now()
	res := m.check.Run(ctx)
	metrics.SpeedtestDuration.Observe(time.Since(start).Seconds())

	m.status.SetResult(res)
	m.record(res)

	run := Run{Result: res}
	if m.alerts != nil {
		run.Alert = m.alerts.Evaluate(ctx, res)
	}

	m.mu.Lock()
	m.last = &run
	m.mu.Unlock()

	return run
}

// record exports the result as metrics and logs it.
func (m *Monitor) record(res check.Result) {
	if res.Err != nil {
		metrics.SpeedtestRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
		m.logger.Errorf("Monitor: %s failed: %v", m.check.Type(), res.Err)
		return
	}

	metrics.SpeedtestRuns.WithLabelValues(metrics.OutcomeOK).Inc()
	desc := m.check.Describe()
	down, _ := display(desc, res, store.KeyDownload)
	up, _ := display(desc, res, store.KeyUpload)
	metrics.DownloadMbps.Set(down)
	metrics.UploadMbps.Set(up)
	if ping, ok := display(desc, res, store.KeyPing); ok {
		metrics.PingMilliseconds.Set(ping)
	}

	m.logger.Infof("Monitor: download %.1f Mbps, upload %.1f Mbps", down, up)
}

// display returns a result metric in the unit its descriptor declares.
func display(desc check.Descriptor, res check.Result, key string) (float64, bool) {
	v, ok := res.Metric(key)
	if !ok {
		return 0, false
	}
	if def, found := desc.Metric(key); found {
		v = def.Display(v)
	}
	return v, true
}

// Status returns a snapshot of the last result and run counters.
func (m *Monitor) Status() check.StatusSnapshot {
	return m.status.Snapshot()
}

// Describe returns the metric definitions of the underlying check.
func (m *Monitor) Describe() check.Descriptor {
	return m.check.Describe()
}

// LastRun returns the most recent cycle, if any.
func (m *Monitor) LastRun() (Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Run{}, false
	}
	return *m.last, true
}
