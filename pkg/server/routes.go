package server

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

// Handler builds the full route table wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/results", s.handleResults)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/settings", s.handleSettings)
	mux.HandleFunc("GET /api/graphs", s.handleGraphs)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/automation", s.handleAutomation)
	mux.HandleFunc("POST /api/automation/start", s.handleAutomationStart)
	mux.HandleFunc("POST /api/automation/stop", s.handleAutomationStop)
	mux.HandleFunc("GET /chart/samples.png", s.handleSamplesChart)
	mux.Handle("GET /metrics", s.metricsHandler())

	// Serve generated daily graphs from the graph directory
	imgFS := http.FileServer(http.Dir(s.settings.GraphDir))
	mux.Handle("GET /imgs/", noCacheMiddleware(http.StripPrefix("/imgs/", imgFS)))

	content, err := fs.Sub(staticFiles, "static")
	if err != nil {
		s.logger.Fatalf("Failed to create sub filesystem: %v", err)
	}
	mux.Handle("GET /", noCacheMiddleware(http.FileServer(http.FS(content))))

	rl := newRateLimitMiddleware(s.limiter)
	return allowMethods(rl(securityHeadersMiddleware(mux)), http.MethodGet, http.MethodHead, http.MethodPost)
}
