// Package graph renders speed test history as PNG charts.
package graph

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kylerisse/ispwatch/pkg/metrics"
	"github.com/kylerisse/ispwatch/pkg/store"
	"github.com/sirupsen/logrus"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	// DayLayout formats the calendar day used in file names and labels.
	DayLayout = "2006-01-02"

	defaultWidth  = 1000
	defaultHeight = 500
)

var (
	downloadColor  = chart.ColorBlue
	uploadColor    = chart.ColorGreen
	thresholdColor = chart.ColorRed
)

// Loader supplies the stored history.
type Loader interface {
	LoadAll() ([]store.Row, error)
}

// DayAverage is the mean download and upload rate of one UTC day.
type DayAverage struct {
	Day          time.Time `json:"day"`
	DownloadMbps float64   `json:"download"`
	UploadMbps   float64   `json:"upload"`
	Samples      int       `json:"samples"`
}

// DailyAverages groups rows by UTC calendar day and averages each day.
// The result is ascending by day.
func DailyAverages(rows []store.Row) []DayAverage {
	byDay := make(map[time.Time]*DayAverage)
	for _, r := range rows {
		t := r.RecordedAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		avg, ok := byDay[day]
		if !ok {
			avg = &DayAverage{Day: day}
			byDay[day] = avg
		}
		avg.DownloadMbps += r.DownloadMbps
		avg.UploadMbps += r.UploadMbps
		avg.Samples++
	}

	out := make([]DayAverage, 0, len(byDay))
	for _, avg := range byDay {
		avg.DownloadMbps /= float64(avg.Samples)
		avg.UploadMbps /= float64(avg.Samples)
		out = append(out, *avg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Day.Before(out[j].Day)
	})
	return out
}

// FileName returns the daily graph file name for the given day.
func FileName(day time.Time) string {
	return fmt.Sprintf("daily_avg_%s.png", day.UTC().Format(DayLayout))
}

// Generator writes the daily average chart into a directory.
type Generator struct {
	source    Loader
	dir       string
	threshold float64
	now       func() time.Time
	width     int
	height    int
	logger    *logrus.Logger
}

// Option is a functional option for configuring a Generator.
type Option func(*Generator) error

// WithClock sets the time source that names the output file.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		g.now = now
		return nil
	}
}

// WithSize sets the image size in pixels.
func WithSize(width, height int) Option {
	return func(g *Generator) error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("size must be positive, got %dx%d", width, height)
		}
		g.width = width
		g.height = height
		return nil
	}
}

// NewGenerator creates a Generator reading from source and writing to dir.
// thresholdMbps is drawn as a dashed reference line.
func NewGenerator(source Loader, dir string, thresholdMbps float64, logger *logrus.Logger, opts ...Option) (*Generator, error) {
	if source == nil {
		return nil, fmt.Errorf("graph: source must not be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("graph: output directory must not be empty")
	}

	g := &Generator{
		source:    source,
		dir:       dir,
		threshold: thresholdMbps,
		now:       time.Now,
		width:     defaultWidth,
		height:    defaultHeight,
		logger:    logger,
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("graph: %w", err)
		}
	}

	return g, nil
}

// Dir returns the output directory.
func (g *Generator) Dir() string {
	return g.dir
}

// Generate renders the daily average chart and returns the written path.
// With no stored samples nothing is written and the path is empty. An
// existing file for the same day is replaced atomically.
func (g *Generator) Generate() (string, error) {
	rows, err := g.source.LoadAll()
	if err != nil {
		metrics.GraphsGenerated.WithLabelValues(metrics.OutcomeFailed).Inc()
		return "", fmt.Errorf("graph: load history: %w", err)
	}
	if len(rows) == 0 {
		g.logger.Infof("Graph: no samples yet, skipping daily graph")
		metrics.GraphsGenerated.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return "", nil
	}

	days := DailyAverages(rows)
	path := filepath.Join(g.dir, FileName(g.now()))

	if err := g.writeAtomic(path, func(w io.Writer) error {
		return renderDaily(w, days, g.threshold, g.width, g.height)
	}); err != nil {
		metrics.GraphsGenerated.WithLabelValues(metrics.OutcomeFailed).Inc()
		return "", fmt.Errorf("graph: %w", err)
	}

	metrics.GraphsGenerated.WithLabelValues(metrics.OutcomeOK).Inc()
	g.logger.Infof("Graph saved: %s (%d days)", path, len(days))
	return path, nil
}

// writeAtomic renders into a temporary file next to path and renames it
// into place.
func (g *Generator) writeAtomic(path string, render func(io.Writer) error) error {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", g.dir, err)
	}

	tmp, err := os.CreateTemp(g.dir, ".daily_avg_*.png")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := render(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

func renderDaily(w io.Writer, days []DayAverage, threshold float64, width, height int) error {
	xs := make([]time.Time, len(days))
	down := make([]float64, len(days))
	up := make([]float64, len(days))
	for i, d := range days {
		xs[i] = d.Day
		down[i] = d.DownloadMbps
		up[i] = d.UploadMbps
	}

	ch := chart.Chart{
		Title:      "Daily Average Speeds",
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:           "Date",
			ValueFormatter: chart.TimeValueFormatterWithFormat(DayLayout),
		},
		YAxis: chart.YAxis{
			Name:  "Mbps",
			Range: yRange(threshold, down, up),
		},
		Series: timeSeries(xs, 24*time.Hour, threshold, down, up),
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	return ch.Render(chart.PNG, w)
}

// RenderSamples draws every stored sample over time with the threshold
// line. It backs the dashboard chart.
func RenderSamples(w io.Writer, rows []store.Row, threshold float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("graph: no samples to render")
	}

	sorted := make([]store.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordedAt.Before(sorted[j].RecordedAt)
	})

	xs := make([]time.Time, len(sorted))
	down := make([]float64, len(sorted))
	up := make([]float64, len(sorted))
	for i, r := range sorted {
		xs[i] = r.RecordedAt.UTC()
		down[i] = r.DownloadMbps
		up[i] = r.UploadMbps
	}

	ch := chart.Chart{
		Title:      "Speed Over Time",
		Width:      defaultWidth,
		Height:     400,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:           "Time (UTC)",
			ValueFormatter: chart.TimeValueFormatterWithFormat("01-02 15:04"),
		},
		YAxis: chart.YAxis{
			Name:  "Mbps",
			Range: yRange(threshold, down, up),
		},
		Series: timeSeries(xs, time.Hour, threshold, down, up),
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	if err := ch.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	return nil
}

// timeSeries builds the download, upload and threshold series. go-chart
// cannot render a series with a single x value, so a lone point is padded
// with a copy one pad later.
func timeSeries(xs []time.Time, pad time.Duration, threshold float64, down, up []float64) []chart.Series {
	if len(xs) == 1 || xs[0].Equal(xs[len(xs)-1]) {
		xs = append(xs[:len(xs):len(xs)], xs[len(xs)-1].Add(pad))
		down = append(down[:len(down):len(down)], down[len(down)-1])
		up = append(up[:len(up):len(up)], up[len(up)-1])
	}

	first, last := xs[0], xs[len(xs)-1]
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Download",
			XValues: xs,
			YValues: down,
			Style:   lineStyle(downloadColor),
		},
		chart.TimeSeries{
			Name:    "Upload",
			XValues: xs,
			YValues: up,
			Style:   lineStyle(uploadColor),
		},
	}
	if threshold > 0 {
		st := lineStyle(thresholdColor)
		st.StrokeDashArray = []float64{6, 4}
		series = append(series, chart.TimeSeries{
			Name:    fmt.Sprintf("Threshold (%g Mbps)", threshold),
			XValues: []time.Time{first, last},
			YValues: []float64{threshold, threshold},
			Style:   st,
		})
	}
	return series
}

func lineStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeColor: col,
		StrokeWidth: 2,
		DotColor:    col,
		DotWidth:    3,
	}
}

// yRange starts the axis at zero and leaves headroom above the largest
// value, which also keeps a flat series from producing a zero range.
func yRange(threshold float64, series ...[]float64) *chart.ContinuousRange {
	top := threshold
	for _, s := range series {
		for _, v := range s {
			if !math.IsNaN(v) && v > top {
				top = v
			}
		}
	}
	if top <= 0 {
		top = 1
	}
	return &chart.ContinuousRange{Min: 0, Max: top * 1.1}
}
