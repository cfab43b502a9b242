package server

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kylerisse/ispwatch/pkg/monitor"
	"github.com/kylerisse/ispwatch/pkg/store"
)

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleResults_NewestFirst(t *testing.T) {
	s, deps := newTestServer(t)
	deps.history.rows = []store.Row{
		rowAt("2024-05-01T08:00:00Z", 100, 10, 20),
		rowAt("2024-05-01T16:00:00Z", 300, 30, 15),
		rowAt("2024-05-01T12:00:00Z", 200, 20, 10),
	}

	w := serve(t, s.Handler(), http.MethodGet, "/api/results")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body ResultsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 3 {
		t.Fatalf("expected 3 results, got %d", body.Count)
	}
	want := []float64{300, 200, 100}
	for i, r := range body.Results {
		if r.DownloadMbps != want[i] {
			t.Errorf("result %d: expected %v Mbps, got %v", i, want[i], r.DownloadMbps)
		}
	}
}

func TestHandleResults_Limit(t *testing.T) {
	s, deps := newTestServer(t)
	deps.history.rows = []store.Row{
		rowAt("2024-05-01T08:00:00Z", 100, 10, 20),
		rowAt("2024-05-01T16:00:00Z", 300, 30, 15),
	}
	h := s.Handler()

	w := serve(t, h, http.MethodGet, "/api/results?limit=1")
	var body ResultsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 1 || body.Results[0].DownloadMbps != 300 {
		t.Errorf("unexpected limited results %+v", body)
	}

	if w := serve(t, h, http.MethodGet, "/api/results?limit=-1"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative limit, got %d", w.Code)
	}
}

func TestHandleResults_Empty(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(t, s.Handler(), http.MethodGet, "/api/results")

	var body map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(body["results"]) != "[]" {
		t.Errorf("expected empty array, got %s", body["results"])
	}
}

func TestHandleSummary(t *testing.T) {
	s, deps := newTestServer(t)
	deps.history.rows = []store.Row{
		rowAt("2024-05-01T08:00:00Z", 100, 10, 20),
		rowAt("2024-05-01T16:00:00Z", 300, 30, 10),
		rowAt("2024-05-02T08:00:00Z", 500, 50, 12),
	}
	deps.automation.running = true

	w := serve(t, s.Handler(), http.MethodGet, "/api/summary")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body SummaryResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Summary.Count != 3 || body.Summary.AvgDownloadMbps != 300 || body.Summary.AvgUploadMbps != 30 {
		t.Errorf("unexpected summary %+v", body.Summary)
	}
	if len(body.Daily) != 2 || body.Daily[0].DownloadMbps != 200 {
		t.Errorf("unexpected daily averages %+v", body.Daily)
	}
	if body.ThresholdMbps != 800 {
		t.Errorf("expected threshold 800, got %v", body.ThresholdMbps)
	}
	if !body.Automation {
		t.Error("expected automation running")
	}
	if body.LastAlert != nil {
		t.Error("expected no last alert before any run")
	}
	if def, ok := body.Metrics.Metric("download"); !ok || def.Unit != "Mbps" || def.Display(412.5e6) != 412.5 {
		t.Errorf("unexpected metric definitions %+v", body.Metrics)
	}
}

func TestHandleSettings(t *testing.T) {
	s, _ := newTestServer(t)

	w := serve(t, s.Handler(), http.MethodGet, "/api/settings")

	var body Settings
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ThresholdMbps != 800 || body.GraphAt != "23:59" || body.WebhookConfigured {
		t.Errorf("unexpected settings %+v", body)
	}
}

func TestHandleRun(t *testing.T) {
	s, deps := newTestServer(t)
	h := s.Handler()

	w := serve(t, h, http.MethodPost, "/api/run")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if deps.runner.calls != 1 {
		t.Errorf("expected 1 run, got %d", deps.runner.calls)
	}
	if deps.runner.ctxErr != nil {
		t.Errorf("run context should be live, got %v", deps.runner.ctxErr)
	}

	var body struct {
		Result struct {
			Success bool               `json:"success"`
			Metrics map[string]float64 `json:"metrics"`
		} `json:"result"`
		Alert struct {
			Breached bool `json:"breached"`
		} `json:"alert"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !body.Result.Success || body.Result.Metrics["download"] != 412_500_000 || !body.Alert.Breached {
		t.Errorf("unexpected run body %+v", body)
	}

	// The summary now reports the alert of the last run.
	w = serve(t, h, http.MethodGet, "/api/summary")
	var summary SummaryResponse
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.LastAlert == nil || !summary.LastAlert.Breached {
		t.Errorf("expected last alert in summary, got %+v", summary.LastAlert)
	}
}

func TestHandleRun_Busy(t *testing.T) {
	s, deps := newTestServer(t)
	deps.runner.err = monitor.ErrBusy

	w := serve(t, s.Handler(), http.MethodPost, "/api/run")

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Error == "" {
		t.Error("expected error message")
	}
}

func TestHandleAutomation_StartStop(t *testing.T) {
	s, deps := newTestServer(t)
	h := s.Handler()

	w := serve(t, h, http.MethodPost, "/api/automation/start")
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	if !deps.automation.running {
		t.Error("expected automation running")
	}

	if w := serve(t, h, http.MethodPost, "/api/automation/start"); w.Code != http.StatusConflict {
		t.Errorf("second start: expected 409, got %d", w.Code)
	}

	w = serve(t, h, http.MethodGet, "/api/automation")
	var st struct {
		Running bool `json:"running"`
	}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if !st.Running {
		t.Error("expected running status")
	}

	if w := serve(t, h, http.MethodPost, "/api/automation/stop"); w.Code != http.StatusAccepted {
		t.Errorf("stop: expected 202, got %d", w.Code)
	}
	if deps.automation.running || deps.automation.stops != 1 {
		t.Errorf("expected stopped automation, got %+v", deps.automation)
	}
}

func TestHandleGraphs(t *testing.T) {
	s, _ := newTestServer(t)
	dir := s.settings.GraphDir
	for _, name := range []string{
		"daily_avg_2024-05-01.png",
		"daily_avg_2024-05-03.png",
		"daily_avg_garbage.png",
		".daily_avg_123.png",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	h := s.Handler()
	w := serve(t, h, http.MethodGet, "/api/graphs")

	var graphs []GraphFile
	if err := json.NewDecoder(w.Body).Decode(&graphs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(graphs) != 2 {
		t.Fatalf("expected 2 graphs, got %+v", graphs)
	}
	if graphs[0].Day != "2024-05-03" || graphs[0].URL != "/imgs/daily_avg_2024-05-03.png" {
		t.Errorf("unexpected first graph %+v", graphs[0])
	}

	// The listed URL is served from the graph directory.
	w = serve(t, h, http.MethodGet, graphs[0].URL)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for %s, got %d", graphs[0].URL, w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc == "" {
		t.Error("expected no-cache headers on graph images")
	}
}

func TestHandleGraphs_MissingDir(t *testing.T) {
	s, _ := newTestServer(t)
	s.settings.GraphDir = filepath.Join(t.TempDir(), "missing")

	w := serve(t, s.Handler(), http.MethodGet, "/api/graphs")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := bytes.TrimSpace(w.Body.Bytes()); string(body) != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestHandleSamplesChart(t *testing.T) {
	s, deps := newTestServer(t)
	h := s.Handler()

	if w := serve(t, h, http.MethodGet, "/chart/samples.png"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 with no samples, got %d", w.Code)
	}

	deps.history.rows = []store.Row{
		rowAt("2024-05-01T08:00:00Z", 100, 10, 20),
		rowAt("2024-05-01T16:00:00Z", 300, 30, 10),
	}
	w := serve(t, h, http.MethodGet, "/chart/samples.png")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	if _, err := png.Decode(w.Body); err != nil {
		t.Errorf("response is not a PNG: %v", err)
	}
}
