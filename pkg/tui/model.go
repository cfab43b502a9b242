// Package tui is a terminal dashboard for a running ispwatchd.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kylerisse/ispwatch/pkg/check"
	"github.com/kylerisse/ispwatch/pkg/scheduler"
	"github.com/kylerisse/ispwatch/pkg/server"
	"github.com/kylerisse/ispwatch/pkg/store"
)

const (
	// DefaultRefresh is how often the view reloads from the daemon.
	DefaultRefresh = 30 * time.Second

	resultRows     = 10
	requestTimeout = 10 * time.Second
)

// defaultMetrics labels metrics until the daemon has described them.
var defaultMetrics = check.Descriptor{
	Metrics: []check.MetricDef{
		{ResultKey: store.KeyDownload, Label: "Download", Unit: "Mbps", Scale: 1e6},
		{ResultKey: store.KeyUpload, Label: "Upload", Unit: "Mbps", Scale: 1e6},
		{ResultKey: store.KeyPing, Label: "Ping", Unit: "ms"},
	},
}

type tickMsg time.Time

type refreshMsg struct {
	summary server.SummaryResponse
	results []store.Row
	err     error
}

type runMsg struct {
	run RunResult
	err error
}

type automationMsg struct {
	running bool
	err     error
}

// API is the part of the dashboard API the model uses.
type API interface {
	Summary(ctx context.Context) (server.SummaryResponse, error)
	Results(ctx context.Context, limit int) ([]store.Row, error)
	Run(ctx context.Context) (RunResult, error)
	StartAutomation(ctx context.Context) (scheduler.Status, error)
	StopAutomation(ctx context.Context) (scheduler.Status, error)
}

// Model is the bubbletea model of the terminal dashboard.
type Model struct {
	api      API
	refresh  time.Duration
	summary  server.SummaryResponse
	results  []store.Row
	loaded   bool
	testing  bool
	message  string
	isError  bool
	lastLoad time.Time
}

// NewModel creates a model polling api every refresh interval.
func NewModel(api API, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return Model{api: api, refresh: refresh}
}

// Init loads the first view and starts the refresh timer.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.refresh), load(m.api))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func load(api API) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		summary, err := api.Summary(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		results, err := api.Results(ctx, resultRows)
		return refreshMsg{summary: summary, results: results, err: err}
	}
}

func runNow(api API) tea.Cmd {
	return func() tea.Msg {
		run, err := api.Run(context.Background())
		return runMsg{run: run, err: err}
	}
}

func setAutomation(api API, start bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		var (
			st  scheduler.Status
			err error
		)
		if start {
			st, err = api.StartAutomation(ctx)
		} else {
			st, err = api.StopAutomation(ctx)
		}
		return automationMsg{running: st.Running, err: err}
	}
}

// Update handles keys, timers and API replies.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.testing {
				m.say("A speed test is already running.", true)
				return m, nil
			}
			m.testing = true
			m.say("Running speed test...", false)
			return m, runNow(m.api)
		case "s":
			return m, setAutomation(m.api, true)
		case "x":
			return m, setAutomation(m.api, false)
		case "u":
			return m, load(m.api)
		}

	case tickMsg:
		return m, tea.Batch(tick(m.refresh), load(m.api))

	case refreshMsg:
		if msg.err != nil {
			m.say("Refresh failed: "+msg.err.Error(), true)
			return m, nil
		}
		m.summary = msg.summary
		m.results = msg.results
		m.loaded = true
		m.lastLoad = time.Now()

	case runMsg:
		m.testing = false
		switch {
		case msg.err != nil:
			m.say("Run failed: "+msg.err.Error(), true)
		case msg.run.Result.Error != "":
			m.say("Speed test failed: "+msg.run.Result.Error, true)
		default:
			down := m.metric(store.KeyDownload)
			up := m.metric(store.KeyUpload)
			text := fmt.Sprintf("%s %.1f %s, %s %.1f %s.",
				down.Label, down.Display(msg.run.Result.Metrics[store.KeyDownload]), down.Unit,
				strings.ToLower(up.Label), up.Display(msg.run.Result.Metrics[store.KeyUpload]), up.Unit)
			if msg.run.Alert.Breached {
				text += fmt.Sprintf(" Below %g Mbps, alert sent.", msg.run.Alert.ThresholdMbps)
			}
			m.say(text, msg.run.Alert.Breached)
		}
		return m, load(m.api)

	case automationMsg:
		if msg.err != nil {
			m.say("Automation: "+msg.err.Error(), true)
			return m, nil
		}
		m.summary.Automation = msg.running
		if msg.running {
			m.say("Automation started.", false)
		} else {
			m.say("Automation stopping.", false)
		}
	}
	return m, nil
}

// metric returns the definition of a result key as described by the
// daemon, falling back to the built-in speed test units.
func (m Model) metric(key string) check.MetricDef {
	if def, ok := m.summary.Metrics.Metric(key); ok {
		return def
	}
	def, _ := defaultMetrics.Metric(key)
	return def
}

func (m *Model) say(text string, isError bool) {
	m.message = text
	m.isError = isError
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ISP Speed Analyzer"))
	b.WriteString("\n\n")

	if !m.loaded {
		b.WriteString(labelStyle.Render("Loading..."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderMetrics())
		b.WriteString("\n")
		b.WriteString(m.renderResults())
		b.WriteString(labelStyle.Render("updated " + m.lastLoad.Format("15:04:05")))
		b.WriteString("\n")
	}

	if m.message != "" {
		style := okStyle
		if m.isError {
			style = critStyle
		}
		b.WriteString(style.Render(m.message))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("r run now  s start automation  x stop automation  u refresh  q quit"))
	return b.String()
}

func (m Model) renderMetrics() string {
	s := m.summary.Summary
	threshold := m.summary.ThresholdMbps

	cell := func(label, value string, style lipgloss.Style) string {
		return panelStyle.Render(labelStyle.Render(label) + "\n" + style.Render(value))
	}

	avgDown, avgUp := "-", "-"
	if s.Count > 0 {
		avgDown = fmt.Sprintf("%.1f Mbps", s.AvgDownloadMbps)
		avgUp = fmt.Sprintf("%.1f Mbps", s.AvgUploadMbps)
	}

	automation := critStyle.Render("stopped")
	if m.summary.Automation {
		automation = okStyle.Render("running")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		cell("Avg download", avgDown, speedStyle(s.AvgDownloadMbps, threshold)),
		cell("Avg upload", avgUp, valueStyle),
		cell("Tests", fmt.Sprintf("%d", s.Count), valueStyle),
		cell("Threshold", fmt.Sprintf("%g Mbps", threshold), valueStyle),
		panelStyle.Render(labelStyle.Render("Automation")+"\n"+automation),
	)
}

func (m Model) renderResults() string {
	if len(m.results) == 0 {
		return labelStyle.Render("No speed tests recorded yet.") + "\n"
	}

	var b strings.Builder
	down, up, ping := m.metric(store.KeyDownload), m.metric(store.KeyUpload), m.metric(store.KeyPing)
	header := func(def check.MetricDef) string { return def.Label + " (" + def.Unit + ")" }
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-20s %16s %16s %12s", "Recorded (UTC)", header(down), header(up), header(ping))))
	b.WriteString("\n")
	for _, r := range m.results {
		line := fmt.Sprintf("%-20s %16.1f %16.1f %12.1f",
			r.RecordedAt.UTC().Format("2006-01-02 15:04:05"),
			r.DownloadMbps, r.UploadMbps, r.Ping)
		b.WriteString(speedStyle(r.DownloadMbps, m.summary.ThresholdMbps).Render(line))
		b.WriteString("\n")
	}
	return b.String()
}
