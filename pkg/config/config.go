// Package config loads ispwatch settings from defaults, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kylerisse/ispwatch/pkg/alert"
	"github.com/kylerisse/ispwatch/pkg/scheduler"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// DataFileName is the JSON-lines history file inside DataDir.
const DataFileName = "speedtest_data.json"

// Config is the full runtime configuration. Keys map one to one onto
// upper-cased environment variables (alert_threshold is ALERT_THRESHOLD).
type Config struct {
	AlertThreshold float64       `mapstructure:"alert_threshold"`
	AlertEmail     string        `mapstructure:"alert_email"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	AlertCooldown  time.Duration `mapstructure:"alert_cooldown"`

	SMTPAddr     string        `mapstructure:"smtp_addr"`
	SMTPFrom     string        `mapstructure:"smtp_from"`
	SMTPUser     string        `mapstructure:"smtp_user"`
	SMTPPassword string        `mapstructure:"smtp_password"`
	SMTPTimeout  time.Duration `mapstructure:"smtp_timeout"`
	SMTPStartTLS bool          `mapstructure:"smtp_starttls"`
	BrevoAPIKey  string        `mapstructure:"brevo_api_key"`

	DataDir    string `mapstructure:"data_dir"`
	GraphDir   string `mapstructure:"graph_dir"`
	ListenPort string `mapstructure:"listen_port"`

	SpeedtestBinaries []string      `mapstructure:"speedtest_binaries"`
	SpeedtestArgs     []string      `mapstructure:"speedtest_args"`
	SpeedtestTimeout  time.Duration `mapstructure:"speedtest_timeout"`

	RunInterval  time.Duration `mapstructure:"run_interval"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	GraphAt      string        `mapstructure:"graph_at"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// Load reads the configuration. path names an optional YAML file; an
// empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetDefault("alert_threshold", alert.DefaultThresholdMbps)
	v.SetDefault("alert_email", "")
	v.SetDefault("webhook_url", "")
	v.SetDefault("alert_cooldown", "0s")

	v.SetDefault("smtp_addr", alert.DefaultSMTPAddr)
	v.SetDefault("smtp_from", "")
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_timeout", alert.DefaultSMTPTimeout.String())
	v.SetDefault("smtp_starttls", false)
	v.SetDefault("brevo_api_key", "")

	v.SetDefault("data_dir", "./speedtest_logs")
	v.SetDefault("graph_dir", "")
	v.SetDefault("listen_port", "8501")

	v.SetDefault("speedtest_binaries", []string{"speedtest", "speedtest-cli"})
	v.SetDefault("speedtest_args", []string{"--json"})
	v.SetDefault("speedtest_timeout", "60s")

	v.SetDefault("run_interval", "8h")
	v.SetDefault("poll_interval", scheduler.DefaultPollInterval.String())
	v.SetDefault("graph_at", "23:59")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.GraphDir == "" {
		cfg.GraphDir = filepath.Join(cfg.DataDir, "plots")
	}
	return &cfg, nil
}

// DataFile returns the path of the history file.
func (c *Config) DataFile() string {
	return filepath.Join(c.DataDir, DataFileName)
}

// DailyAt returns the parsed daily graph time.
func (c *Config) DailyAt() (scheduler.DailyAt, error) {
	return scheduler.ParseDailyAt(c.GraphAt)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.AlertThreshold <= 0 {
		add("ALERT_THRESHOLD must be positive, got %v", c.AlertThreshold)
	}
	if c.AlertCooldown < 0 {
		add("ALERT_COOLDOWN must not be negative, got %v", c.AlertCooldown)
	}
	if c.AlertEmail != "" {
		if _, err := mail.ParseAddress(c.AlertEmail); err != nil {
			add("ALERT_EMAIL %q is not a valid address: %v", c.AlertEmail, err)
		}
	}
	if c.SMTPFrom != "" {
		if _, err := mail.ParseAddress(c.SMTPFrom); err != nil {
			add("SMTP_FROM %q is not a valid address: %v", c.SMTPFrom, err)
		}
	}
	if c.WebhookURL != "" {
		if err := alert.ValidateWebhookURL(c.WebhookURL); err != nil {
			add("WEBHOOK_URL: %v", err)
		}
	}
	if c.SMTPTimeout <= 0 {
		add("SMTP_TIMEOUT must be positive, got %v", c.SMTPTimeout)
	}
	if c.DataDir == "" {
		add("DATA_DIR must not be empty")
	}
	if port, err := strconv.Atoi(c.ListenPort); err != nil || port < 1 || port > 65535 {
		add("LISTEN_PORT must be a port number, got %q", c.ListenPort)
	}
	if len(c.SpeedtestBinaries) == 0 {
		add("SPEEDTEST_BINARIES must name at least one binary")
	}
	if c.SpeedtestTimeout <= 0 {
		add("SPEEDTEST_TIMEOUT must be positive, got %v", c.SpeedtestTimeout)
	}
	if c.RunInterval <= 0 {
		add("RUN_INTERVAL must be positive, got %v", c.RunInterval)
	}
	if c.PollInterval <= 0 {
		add("POLL_INTERVAL must be positive, got %v", c.PollInterval)
	}
	if _, err := c.DailyAt(); err != nil {
		add("GRAPH_AT: %v", err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		add("LOG_LEVEL: %v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid settings: %w", errors.Join(errs...))
	}
	return nil
}
