package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kylerisse/ispwatch/pkg/alert"
	"github.com/kylerisse/ispwatch/pkg/scheduler"
	"github.com/kylerisse/ispwatch/pkg/server"
	"github.com/kylerisse/ispwatch/pkg/store"
)

// Client talks to a running ispwatchd dashboard.
type Client struct {
	base string
	http *http.Client
}

// RunResult is the client view of a manual run.
type RunResult struct {
	Result struct {
		Timestamp time.Time          `json:"timestamp"`
		Success   bool               `json:"success"`
		Metrics   map[string]float64 `json:"metrics"`
		Error     string             `json:"error"`
	} `json:"result"`
	Alert alert.Evaluation `json:"alert"`
}

// NewClient returns a client for the dashboard at baseURL. A nil
// httpClient gets one whose timeout outlasts a speed test.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Summary fetches /api/summary.
func (c *Client) Summary(ctx context.Context) (server.SummaryResponse, error) {
	var out server.SummaryResponse
	err := c.do(ctx, http.MethodGet, "/api/summary", &out)
	return out, err
}

// Results fetches the newest limit samples.
func (c *Client) Results(ctx context.Context, limit int) ([]store.Row, error) {
	var out server.ResultsResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/results?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Run triggers a speed test and waits for it.
func (c *Client) Run(ctx context.Context) (RunResult, error) {
	var out RunResult
	err := c.do(ctx, http.MethodPost, "/api/run", &out)
	return out, err
}

// StartAutomation starts the periodic schedule.
func (c *Client) StartAutomation(ctx context.Context) (scheduler.Status, error) {
	var out scheduler.Status
	err := c.do(ctx, http.MethodPost, "/api/automation/start", &out)
	return out, err
}

// StopAutomation stops the periodic schedule.
func (c *Client) StopAutomation(ctx context.Context) (scheduler.Status, error) {
	var out scheduler.Status
	err := c.do(ctx, http.MethodPost, "/api/automation/stop", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e server.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
