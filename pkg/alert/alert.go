// Package alert raises notifications when a speed test falls below the
// configured download threshold.
//
// Every notification channel is attempted independently and concurrently;
// a failing channel is logged and reported in the Evaluation but never
// blocks another channel or the caller.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kylerisse/ispwatch/pkg/check"
	"github.com/kylerisse/ispwatch/pkg/metrics"
	"github.com/kylerisse/ispwatch/pkg/store"
	"github.com/sirupsen/logrus"
)

// DefaultThresholdMbps is used when no threshold is configured.
const DefaultThresholdMbps = 800

// ErrNotification wraps every delivery failure.
var ErrNotification = errors.New("notification failed")

// Skip reasons reported in an Outcome.
const (
	SkipNotConfigured = "not configured"
	SkipCooldown      = "cooldown"
)

// Alert is the content of one notification.
type Alert struct {
	DownloadMbps  float64
	ThresholdMbps float64
	At            time.Time
}

// Message is the plain text body used for email.
func (a Alert) Message() string {
	return fmt.Sprintf("Download speed dropped to %.1f Mbps (below %g Mbps)", a.DownloadMbps, a.ThresholdMbps)
}

// Text is the short form used for chat webhooks.
func (a Alert) Text() string {
	return fmt.Sprintf("⚠️ ISP Speed Alert: %.1f Mbps (<%g)", a.DownloadMbps, a.ThresholdMbps)
}

// Notifier delivers an alert over one channel.
type Notifier interface {
	// Channel names the channel (e.g. "email").
	Channel() string
	// Enabled reports whether the channel has a destination configured.
	Enabled() bool
	// Notify delivers the alert.
	Notify(ctx context.Context, a Alert) error
}

// Outcome is the result of one channel for one evaluation.
type Outcome struct {
	Channel   string `json:"channel"`
	Attempted bool   `json:"attempted"`
	Skipped   string `json:"skipped,omitempty"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// Delivered reports whether the channel was attempted and succeeded.
func (o Outcome) Delivered() bool {
	return o.Attempted && o.Err == nil
}

// Evaluation describes what Evaluate decided and did.
type Evaluation struct {
	// Evaluated is false when the result carried no usable download rate.
	Evaluated     bool      `json:"evaluated"`
	Breached      bool      `json:"breached"`
	DownloadMbps  float64   `json:"download_mbps,omitempty"`
	ThresholdMbps float64   `json:"threshold_mbps"`
	Outcomes      []Outcome `json:"outcomes,omitempty"`
}

// Attempts counts the channels that were attempted.
func (e Evaluation) Attempts() int {
	n := 0
	for _, o := range e.Outcomes {
		if o.Attempted {
			n++
		}
	}
	return n
}

// Dispatcher compares results against the threshold and notifies.
type Dispatcher struct {
	threshold float64
	cooldown  time.Duration
	notifiers []Notifier
	now       func() time.Time
	logger    *logrus.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher) error

// WithNotifiers sets the notification channels, attempted in this order.
func WithNotifiers(n ...Notifier) Option {
	return func(d *Dispatcher) error {
		for _, nn := range n {
			if nn == nil {
				return fmt.Errorf("notifier must not be nil")
			}
		}
		d.notifiers = n
		return nil
	}
}

// WithCooldown suppresses a channel for d after it delivered an alert.
// Zero disables the cooldown, so every breach notifies every channel.
func WithCooldown(d time.Duration) Option {
	return func(disp *Dispatcher) error {
		if d < 0 {
			return fmt.Errorf("cooldown must not be negative, got %v", d)
		}
		disp.cooldown = d
		return nil
	}
}

// WithClock sets the time source used for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		d.now = now
		return nil
	}
}

// NewDispatcher creates a Dispatcher for the given threshold in Mbps.
func NewDispatcher(thresholdMbps float64, logger *logrus.Logger, opts ...Option) (*Dispatcher, error) {
	if thresholdMbps <= 0 {
		return nil, fmt.Errorf("alert: threshold must be positive, got %v", thresholdMbps)
	}

	d := &Dispatcher{
		threshold: thresholdMbps,
		now:       time.Now,
		logger:    logger,
		lastSent:  make(map[string]time.Time),
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("alert: %w", err)
		}
	}

	return d, nil
}

// ThresholdMbps returns the configured threshold.
func (d *Dispatcher) ThresholdMbps() float64 {
	return d.threshold
}

// Evaluate checks a speed test result. A result without a valid download
// rate (a failed run) is ignored. A download rate strictly below the
// threshold notifies every channel; at or above it nothing is sent.
func (d *Dispatcher) Evaluate(ctx context.Context, res check.Result) Evaluation {
	eval := Evaluation{ThresholdMbps: d.threshold}

	bps, ok := res.Metric(store.KeyDownload)
	if !ok {
		d.logger.Debugf("Alert: result has no download rate, skipping evaluation")
		return eval
	}

	eval.Evaluated = true
	eval.DownloadMbps = store.ToMbps(bps)
	if eval.DownloadMbps >= d.threshold {
		d.logger.Debugf("Alert: %.1f Mbps is not below %g Mbps", eval.DownloadMbps, d.threshold)
		return eval
	}

	eval.Breached = true
	metrics.ThresholdBreaches.Inc()
	d.logger.Warnf("ALERT: %.1f Mbps < %g", eval.DownloadMbps, d.threshold)

	a := Alert{
		DownloadMbps:  eval.DownloadMbps,
		ThresholdMbps: d.threshold,
		At:            res.Timestamp,
	}
	eval.Outcomes = d.dispatch(ctx, a)
	return eval
}

// dispatch runs every channel concurrently and collects their outcomes in
// notifier order.
func (d *Dispatcher) dispatch(ctx context.Context, a Alert) []Outcome {
	outcomes := make([]Outcome, len(d.notifiers))

	var wg sync.WaitGroup
	for i, n := range d.notifiers {
		outcomes[i] = Outcome{Channel: n.Channel()}

		if !n.Enabled() {
			outcomes[i].Skipped = SkipNotConfigured
			metrics.Notifications.WithLabelValues(n.Channel(), metrics.OutcomeSkipped).Inc()
			continue
		}
		if d.coolingDown(n.Channel()) {
			d.logger.Infof("Alert: %s suppressed by %v cooldown", n.Channel(), d.cooldown)
			outcomes[i].Skipped = SkipCooldown
			metrics.Notifications.WithLabelValues(n.Channel(), metrics.OutcomeSkipped).Inc()
			continue
		}

		outcomes[i].Attempted = true
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			outcomes[i].Err = d.notify(ctx, n, a)
			if outcomes[i].Err != nil {
				outcomes[i].Error = outcomes[i].Err.Error()
			}
		}(i, n)
	}
	wg.Wait()

	return outcomes
}

// notify delivers through one channel, recovering from a panicking
// notifier so the other channels are unaffected.
func (d *Dispatcher) notify(ctx context.Context, n Notifier, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrNotification, n.Channel(), r)
		}
		if err != nil {
			d.logger.Errorf("Alert: %s alert failed: %v", n.Channel(), err)
			metrics.Notifications.WithLabelValues(n.Channel(), metrics.OutcomeFailed).Inc()
			return
		}
		d.markSent(n.Channel())
		d.logger.Infof("Alert: %s alert sent", n.Channel())
		metrics.Notifications.WithLabelValues(n.Channel(), metrics.OutcomeOK).Inc()
	}()

	if err := n.Notify(ctx, a); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotification, n.Channel(), err)
	}
	return nil
}

func (d *Dispatcher) coolingDown(channel string) bool {
	if d.cooldown <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastSent[channel]
	return ok && d.now().Sub(last) < d.cooldown
}

func (d *Dispatcher) markSent(channel string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSent[channel] = d.now()
}
