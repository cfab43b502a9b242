package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kylerisse/ispwatch/pkg/check"
	"github.com/kylerisse/ispwatch/pkg/monitor"
	"github.com/kylerisse/ispwatch/pkg/scheduler"
	"github.com/kylerisse/ispwatch/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultListenPort is the dashboard port.
const DefaultListenPort = "8501"

// History supplies stored samples.
type History interface {
	LoadAll() ([]store.Row, error)
}

// Runner performs manual measurement cycles and reports the latest state.
type Runner interface {
	TryRun(ctx context.Context) (monitor.Run, error)
	Status() check.StatusSnapshot
	LastRun() (monitor.Run, bool)
	Describe() check.Descriptor
}

// Automation is the periodic schedule controlled from the dashboard.
type Automation interface {
	Start() error
	Stop()
	Status() scheduler.Status
}

// Settings is the read-only configuration shown on the dashboard.
type Settings struct {
	ThresholdMbps     float64 `json:"threshold_mbps"`
	AlertEmail        string  `json:"alert_email,omitempty"`
	WebhookConfigured bool    `json:"webhook_configured"`
	RunInterval       string  `json:"run_interval"`
	PollInterval      string  `json:"poll_interval"`
	GraphAt           string  `json:"graph_at"`
	DataFile          string  `json:"data_file"`
	GraphDir          string  `json:"graph_dir"`
	LogFile           string  `json:"log_file,omitempty"`
}

// Server is the dashboard HTTP server.
type Server struct {
	history    History
	runner     Runner
	automation Automation
	settings   Settings
	listenPort string
	limiter    *rate.Limiter
	logger     *logrus.Logger

	srv *http.Server
}

// Option is a functional option for configuring a Server.
type Option func(*Server) error

// WithListenPort sets the TCP port the dashboard listens on.
func WithListenPort(port string) Option {
	return func(s *Server) error {
		if port == "" {
			return fmt.Errorf("listen port must not be empty")
		}
		s.listenPort = port
		return nil
	}
}

// WithRateLimit sets the token bucket shared by all clients.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Server) error {
		if r <= 0 || burst <= 0 {
			return fmt.Errorf("rate limit must be positive, got %v/%d", r, burst)
		}
		s.limiter = rate.NewLimiter(r, burst)
		return nil
	}
}

// New creates a dashboard server. It does not listen until Start.
func New(history History, runner Runner, automation Automation, settings Settings, logger *logrus.Logger, opts ...Option) (*Server, error) {
	if history == nil || runner == nil || automation == nil {
		return nil, fmt.Errorf("server: history, runner and automation are required")
	}

	s := &Server{
		history:    history,
		runner:     runner,
		automation: automation,
		settings:   settings,
		listenPort: DefaultListenPort,
		limiter:    rate.NewLimiter(rate.Limit(20), 50),
		logger:     logger,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
	}

	return s, nil
}

// Start binds the listen port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+s.listenPort)
	if err != nil {
		return fmt.Errorf("server: listen on port %s: %w", s.listenPort, err)
	}

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// A manual run holds the response open for the whole speed test.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Infof("Starting dashboard on port %v...", s.listenPort)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatalf("Dashboard server failed: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, waiting for in-flight requests until
// ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("Dashboard stopped.")
	return nil
}
