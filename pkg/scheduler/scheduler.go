// Package scheduler runs the periodic speed test and daily graph jobs.
//
// An Automation owns at most one background loop. Start launches it,
// Stop cancels it; a job already running when Stop is called completes
// and the loop exits right after it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kylerisse/ispwatch/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often the loop checks for due jobs.
const DefaultPollInterval = 30 * time.Second

// ErrAlreadyRunning is returned by Start while a loop is alive.
var ErrAlreadyRunning = errors.New("automation already running")

// JobFunc is the work of one job.
type JobFunc func(ctx context.Context) error

// job is a named unit of work with its schedule and bookkeeping.
type job struct {
	name     string
	schedule Schedule
	run      JobFunc

	next    time.Time
	lastRun time.Time
	lastErr error
	runs    int
}

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Next      time.Time `json:"next,omitzero"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
}

// Status is a point-in-time view of the automation.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// Automation starts and stops the scheduling loop.
type Automation struct {
	poll   time.Duration
	now    func() time.Time
	logger *logrus.Logger

	mu      sync.Mutex
	jobs    []*job
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Option is a functional option for configuring an Automation.
type Option func(*Automation) error

// WithPollInterval sets how often the loop checks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(a *Automation) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", d)
		}
		a.poll = d
		return nil
	}
}

// WithClock sets the time source used to decide when jobs are due.
func WithClock(now func() time.Time) Option {
	return func(a *Automation) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		a.now = now
		return nil
	}
}

// WithJob registers a job. Jobs run sequentially in registration order
// when several are due in the same poll.
func WithJob(name string, schedule Schedule, run JobFunc) Option {
	return func(a *Automation) error {
		if name == "" {
			return fmt.Errorf("job name must not be empty")
		}
		if schedule == nil || run == nil {
			return fmt.Errorf("job %q needs a schedule and a function", name)
		}
		for _, j := range a.jobs {
			if j.name == name {
				return fmt.Errorf("duplicate job %q", name)
			}
		}
		a.jobs = append(a.jobs, &job{name: name, schedule: schedule, run: run})
		return nil
	}
}

// New creates an idle Automation.
func New(logger *logrus.Logger, opts ...Option) (*Automation, error) {
	a := &Automation{
		poll:   DefaultPollInterval,
		now:    time.Now,
		logger: logger,
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}

	// Done on an idle automation is already closed.
	a.done = make(chan struct{})
	close(a.done)

	return a, nil
}

// Start launches the loop. It returns ErrAlreadyRunning if a loop is
// still alive, including one that was stopped but is finishing a job.
func (a *Automation) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	start := a.now()
	for _, j := range a.jobs {
		j.next = j.schedule.Next(start)
		a.logger.Infof("Scheduler: job %s %s, first run at %s", j.name, j.schedule, j.next.UTC().Format(time.RFC3339))
	}

	metrics.AutomationRunning.Set(1)
	go a.loop(ctx, a.done)

	a.logger.Infof("Scheduler: automation started, polling every %v", a.poll)
	return nil
}

// Stop cancels the loop. It does not wait; use Done to observe the exit.
// Stopping an idle automation does nothing.
func (a *Automation) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		a.logger.Infof("Scheduler: stop requested")
	}
}

// Running reports whether a loop is alive.
func (a *Automation) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Done returns a channel closed when the current loop has exited.
func (a *Automation) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Status returns the running state and per-job bookkeeping.
func (a *Automation) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{Running: a.running, Jobs: make([]JobStatus, 0, len(a.jobs))}
	for _, j := range a.jobs {
		js := JobStatus{
			Name:     j.name,
			Schedule: j.schedule.String(),
			LastRun:  j.lastRun,
			Runs:     j.runs,
		}
		if a.running {
			js.Next = j.next
		}
		if j.lastErr != nil {
			js.LastError = j.lastErr.Error()
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

// loop polls for due jobs until ctx is cancelled.
func (a *Automation) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		metrics.AutomationRunning.Set(0)
		a.logger.Infof("Scheduler: automation stopped")
		close(done)
	}()

	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runPending(ctx)
		}
	}
}

// runPending runs every due job. Jobs get a context that survives Stop,
// so a speed test in progress is not cut short; no further job starts
// once the loop is cancelled.
func (a *Automation) runPending(ctx context.Context) {
	jobCtx := context.WithoutCancel(ctx)

	for _, j := range a.dueJobs() {
		if ctx.Err() != nil {
			return
		}

		a.logger.Debugf("Scheduler: running job %s", j.name)
		err := a.runJob(jobCtx, j)

		a.mu.Lock()
		now := a.now()
		j.lastRun = now
		j.lastErr = err
		j.runs++
		j.next = j.schedule.Next(now)
		a.mu.Unlock()

		metrics.JobRuns.WithLabelValues(j.name).Inc()
		if err != nil {
			a.logger.Errorf("Scheduler: job %s failed: %v", j.name, err)
		}
	}
}

func (a *Automation) dueJobs() []*job {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var due []*job
	for _, j := range a.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
		}
	}
	return due
}

// runJob isolates a panicking job so the loop keeps running.
func (a *Automation) runJob(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
	}()
	return j.run(ctx)
}
