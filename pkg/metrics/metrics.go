// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	SpeedtestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ispwatch_speedtest_runs_total",
		Help: "Speed test invocations by outcome.",
	}, []string{"outcome"})

	DownloadMbps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ispwatch_download_mbps",
		Help: "Download rate of the last successful speed test.",
	})

	UploadMbps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ispwatch_upload_mbps",
		Help: "Upload rate of the last successful speed test.",
	})

	PingMilliseconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ispwatch_ping_milliseconds",
		Help: "Ping latency of the last successful speed test.",
	})

	SpeedtestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ispwatch_speedtest_duration_seconds",
		Help:    "Wall time of a speed test invocation.",
		Buckets: []float64{5, 10, 15, 20, 30, 45, 60, 90, 120},
	})

	ThresholdBreaches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ispwatch_threshold_breaches_total",
		Help: "Speed tests whose download rate was below the alert threshold.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ispwatch_notifications_total",
		Help: "Alert notifications by channel and outcome.",
	}, []string{"channel", "outcome"})

	AutomationRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ispwatch_automation_running",
		Help: "Whether the periodic schedule is active (1) or not (0).",
	})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ispwatch_scheduled_job_runs_total",
		Help: "Scheduled job executions by job name.",
	}, []string{"job"})

	GraphsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ispwatch_daily_graphs_total",
		Help: "Daily graph generations by outcome.",
	}, []string{"outcome"})
)
