// Package app builds the ispwatch components from a Config.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/kylerisse/ispwatch/pkg/alert"
	"github.com/kylerisse/ispwatch/pkg/check/speedtest"
	"github.com/kylerisse/ispwatch/pkg/config"
	"github.com/kylerisse/ispwatch/pkg/graph"
	"github.com/kylerisse/ispwatch/pkg/monitor"
	"github.com/kylerisse/ispwatch/pkg/scheduler"
	"github.com/kylerisse/ispwatch/pkg/server"
	"github.com/kylerisse/ispwatch/pkg/store"
	"github.com/sirupsen/logrus"
)

// Job names used by the automation loop.
const (
	JobSpeedtest  = "speedtest"
	JobDailyGraph = "daily-graph"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Speedtest  *speedtest.Speedtest
	Alerts     *alert.Dispatcher
	Monitor    *monitor.Monitor
	Graphs     *graph.Generator
	Automation *scheduler.Automation

	logger *logrus.Logger
}

// New wires every component. The data directory is created if needed.
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("app: create data dir: %w", err)
	}

	a := &App{Config: cfg, logger: logger}
	a.Store = store.New(cfg.DataFile(), logger)

	var err error
	a.Speedtest, err = speedtest.New(a.Store, logger,
		speedtest.WithBinaries(cfg.SpeedtestBinaries...),
		speedtest.WithArgs(cfg.SpeedtestArgs...),
		speedtest.WithTimeout(cfg.SpeedtestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Alerts, err = alert.NewDispatcher(cfg.AlertThreshold, logger,
		alert.WithNotifiers(a.notifiers()...),
		alert.WithCooldown(cfg.AlertCooldown),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.Monitor = monitor.New(a.Speedtest, a.Alerts, logger)

	a.Graphs, err = graph.NewGenerator(a.Store, cfg.GraphDir, cfg.AlertThreshold, logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	daily, err := cfg.DailyAt()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.Automation, err = scheduler.New(logger,
		scheduler.WithPollInterval(cfg.PollInterval),
		scheduler.WithJob(JobSpeedtest, scheduler.Every(cfg.RunInterval), a.runSpeedtest),
		scheduler.WithJob(JobDailyGraph, daily, a.generateGraph),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	return a, nil
}

// notifiers returns the email and webhook channels. Email goes through
// Brevo when an API key is configured and the SMTP relay otherwise.
func (a *App) notifiers() []alert.Notifier {
	cfg := a.Config

	var mailer alert.Mailer
	if cfg.BrevoAPIKey != "" {
		mailer = alert.NewBrevoMailer(cfg.BrevoAPIKey, cfg.SMTPFrom)
	} else {
		mailer = alert.NewSMTPMailer(alert.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			From:     cfg.SMTPFrom,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			Timeout:  cfg.SMTPTimeout,
			StartTLS: cfg.SMTPStartTLS,
		})
	}

	return []alert.Notifier{
		alert.NewEmailNotifier(cfg.AlertEmail, mailer),
		alert.NewWebhookNotifier(cfg.WebhookURL, nil),
	}
}

func (a *App) runSpeedtest(ctx context.Context) error {
	return a.Monitor.RunOnce(ctx).Result.Err
}

func (a *App) generateGraph(context.Context) error {
	path, err := a.Graphs.Generate()
	if err != nil {
		return err
	}
	if path != "" {
		a.logger.Infof("daily graph written to %s", path)
	}
	return nil
}

// Settings returns the dashboard's view of the configuration.
func (a *App) Settings() server.Settings {
	cfg := a.Config
	return server.Settings{
		ThresholdMbps:     a.Alerts.ThresholdMbps(),
		AlertEmail:        cfg.AlertEmail,
		WebhookConfigured: cfg.WebhookURL != "",
		RunInterval:       cfg.RunInterval.String(),
		PollInterval:      cfg.PollInterval.String(),
		GraphAt:           cfg.GraphAt,
		DataFile:          a.Store.Path(),
		GraphDir:          a.Graphs.Dir(),
		LogFile:           cfg.LogFile,
	}
}

// NewServer builds the dashboard server over the wired components.
func (a *App) NewServer(opts ...server.Option) (*server.Server, error) {
	opts = append([]server.Option{server.WithListenPort(a.Config.ListenPort)}, opts...)
	return server.New(a.Store, a.Monitor, a.Automation, a.Settings(), a.logger, opts...)
}
