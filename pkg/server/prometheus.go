package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the default registry, which holds the collectors
// of pkg/metrics plus the Go runtime and process collectors.
func (s *Server) metricsHandler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			ErrorLog:      s.logger,
			ErrorHandling: promhttp.ContinueOnError,
		}),
	)
}
