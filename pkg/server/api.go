package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kylerisse/ispwatch/pkg/alert"
	"github.com/kylerisse/ispwatch/pkg/check"
	"github.com/kylerisse/ispwatch/pkg/graph"
	"github.com/kylerisse/ispwatch/pkg/monitor"
	"github.com/kylerisse/ispwatch/pkg/scheduler"
	"github.com/kylerisse/ispwatch/pkg/store"
)

// ResultsResponse lists stored samples, newest first.
type ResultsResponse struct {
	Count   int         `json:"count"`
	Results []store.Row `json:"results"`
}

// SummaryResponse aggregates history and the latest state for the
// dashboard header.
type SummaryResponse struct {
	Summary       store.Summary        `json:"summary"`
	Daily         []graph.DayAverage   `json:"daily"`
	ThresholdMbps float64              `json:"threshold_mbps"`
	Status        check.StatusSnapshot `json:"status"`
	LastAlert     *alert.Evaluation    `json:"last_alert,omitempty"`
	Automation    bool                 `json:"automation"`
	// Metrics labels the raw result metrics and their display units.
	Metrics check.Descriptor `json:"metrics"`
}

// GraphFile is one generated daily graph.
type GraphFile struct {
	Name string `json:"name"`
	Day  string `json:"day"`
	URL  string `json:"url"`
}

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	rows, err := s.history.LoadAll()
	if err != nil {
		s.logger.Errorf("API Handler: failed to load history: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	rows = store.NewestFirst(rows)
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(rows) {
			rows = rows[:limit]
		}
	}

	writeJSON(w, http.StatusOK, ResultsResponse{Count: len(rows), Results: rows})
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	rows, err := s.history.LoadAll()
	if err != nil {
		s.logger.Errorf("API Handler: failed to load history: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	resp := SummaryResponse{
		Summary:       store.Summarize(rows),
		Daily:         graph.DailyAverages(rows),
		ThresholdMbps: s.settings.ThresholdMbps,
		Status:        s.runner.Status(),
		Metrics:       s.runner.Describe(),
		Automation:    s.automation.Status().Running,
	}
	if last, ok := s.runner.LastRun(); ok && last.Alert.Evaluated {
		resp.LastAlert = &last.Alert
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings)
}

// handleRun performs a speed test while the client waits. The run is
// detached from the request so a closed browser tab does not abort a
// measurement that will be stored anyway.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.TryRun(context.WithoutCancel(r.Context()))
	if errors.Is(err, monitor.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Errorf("API Handler: manual run failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Speed test failed")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleAutomation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.automation.Status())
}

func (s *Server) handleAutomationStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.automation.Start(); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Errorf("API Handler: failed to start automation: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to start automation")
		return
	}
	writeJSON(w, http.StatusOK, s.automation.Status())
}

func (s *Server) handleAutomationStop(w http.ResponseWriter, _ *http.Request) {
	s.automation.Stop()
	// The loop may still be finishing a job, so this reports Accepted.
	writeJSON(w, http.StatusAccepted, s.automation.Status())
}

// handleGraphs lists generated daily graphs, newest day first.
func (s *Server) handleGraphs(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(s.settings.GraphDir)
	if err != nil && !os.IsNotExist(err) {
		s.logger.Errorf("API Handler: failed to list graphs: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list graphs")
		return
	}

	graphs := []GraphFile{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "daily_avg_") || filepath.Ext(name) != ".png" {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, "daily_avg_"), ".png")
		if _, err := time.Parse(graph.DayLayout, day); err != nil {
			continue
		}
		graphs = append(graphs, GraphFile{Name: name, Day: day, URL: "/imgs/" + name})
	}
	sort.Slice(graphs, func(i, j int) bool {
		return graphs[i].Day > graphs[j].Day
	})

	writeJSON(w, http.StatusOK, graphs)
}

func (s *Server) handleSamplesChart(w http.ResponseWriter, _ *http.Request) {
	rows, err := s.history.LoadAll()
	if err != nil {
		s.logger.Errorf("API Handler: failed to load history: %v", err)
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		http.Error(w, "No samples yet", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := graph.RenderSamples(&buf, rows, s.settings.ThresholdMbps); err != nil {
		s.logger.Errorf("API Handler: failed to render chart: %v", err)
		http.Error(w, "Failed to render chart", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
