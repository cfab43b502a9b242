package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "logs", "speedtest_data.json"), testLogger())
}

func TestLoadAll_MissingFile(t *testing.T) {
	s := newTestStore(t)

	rows, err := s.LoadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestAppend_CreatesDirectoryAndFile(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append(Sample{Download: 1, Upload: 1, RecordedAt: time.Now()}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("expected log file at %s: %v", s.Path(), err)
	}
}

func TestAppend_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	recorded := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	sample := Sample{
		Download:   412_500_000,
		Upload:     98_000_000,
		Ping:       11.25,
		RecordedAt: recorded,
		Extra: map[string]json.RawMessage{
			"server": json.RawMessage(`{"name":"Frankfurt","id":"1234"}`),
		},
	}
	if err := s.Append(sample); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rows, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	r := rows[0]
	if r.DownloadMbps != 412.5 {
		t.Errorf("expected download 412.5 Mbps, got %v", r.DownloadMbps)
	}
	if r.UploadMbps != 98 {
		t.Errorf("expected upload 98 Mbps, got %v", r.UploadMbps)
	}
	if r.Ping != 11.25 {
		t.Errorf("expected ping 11.25, got %v", r.Ping)
	}
	if !r.RecordedAt.Equal(recorded) {
		t.Errorf("expected recorded_at %v, got %v", recorded, r.RecordedAt)
	}
	if got := string(r.Extra["server"]); !strings.Contains(got, "Frankfurt") {
		t.Errorf("expected server field to be preserved, got %q", got)
	}
}

func TestAppend_OneRecordPerLine(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Append(Sample{Download: float64(i), RecordedAt: time.Now()}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line %d is not valid JSON: %q", i, line)
		}
	}
}

func TestLoadAll_SkipsMalformedLine(t *testing.T) {
	s := newTestStore(t)
	content := `{"download": 100000000, "upload": 20000000, "ping": 9, "recorded_at": "2025-01-01T10:00:00Z"}
{"download":
{"download": 300000000, "upload": 40000000, "ping": 7, "recorded_at": "2025-01-01T18:00:00Z"}
`
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rows, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].DownloadMbps != 100 || rows[1].DownloadMbps != 300 {
		t.Errorf("expected rows in file order [100 300], got [%v %v]", rows[0].DownloadMbps, rows[1].DownloadMbps)
	}
}

func TestLoadAll_SkipsOversizedLine(t *testing.T) {
	s := newTestStore(t)
	content := `{"download": 100000000, "upload": 20000000, "ping": 9, "recorded_at": "2025-01-01T10:00:00Z"}` + "\n" +
		strings.Repeat("x", 2*maxLineSize) + "\n" +
		`{"download": 300000000, "upload": 40000000, "ping": 7, "recorded_at": "2025-01-01T18:00:00Z"}` + "\r\n" +
		`{"download": 500000000, "upload": 60000000, "ping": 5, "recorded_at": "2025-01-02T08:00:00Z"}`
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rows, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].DownloadMbps != 100 || rows[1].DownloadMbps != 300 || rows[2].DownloadMbps != 500 {
		t.Errorf("expected rows in file order [100 300 500], got %+v", rows)
	}
}

func TestReadRecord_LineAtLimit(t *testing.T) {
	line := strings.Repeat("y", maxLineSize)
	r := bufio.NewReaderSize(strings.NewReader(line+"\n"+line+"z\n"), 4096)

	got, err := readRecord(r)
	if err != nil || len(got) != maxLineSize {
		t.Fatalf("expected %d bytes, got %d (%v)", maxLineSize, len(got), err)
	}
	if _, err := readRecord(r); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for an over-long line, got %v", err)
	}
	if _, err := readRecord(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestLoadAll_SkipsRecordsMissingRequiredFields(t *testing.T) {
	s := newTestStore(t)
	content := `{"error": "No speedtest CLI found"}
{"download": 1000000, "upload": 1000000, "recorded_at": "not a time"}
{"download": 2000000, "upload": 1000000, "recorded_at": "2025-01-01T10:00:00"}
`
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rows, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].DownloadMbps != 2 {
		t.Errorf("expected download 2 Mbps, got %v", rows[0].DownloadMbps)
	}
	if rows[0].Ping != 0 {
		t.Errorf("expected missing ping to default to 0, got %v", rows[0].Ping)
	}
}

func TestParseLine_WrapsErrParse(t *testing.T) {
	_, err := parseLine([]byte("{not json"))
	if !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 6, 1, 23, 59, 0, 500000000, time.UTC)

	cases := []struct {
		name  string
		input string
	}{
		{"rfc3339 utc", "2024-06-01T23:59:00.5Z"},
		{"rfc3339 offset", "2024-06-02T01:59:00.5+02:00"},
		{"naive iso", "2024-06-01T23:59:00.500000"},
		{"naive space", "2024-06-01 23:59:00.5"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseTimestamp(c.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("expected %v, got %v", want, got)
			}
			if got.Location() != time.UTC {
				t.Errorf("expected UTC location, got %v", got.Location())
			}
		})
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for unrecognized timestamp")
	}
}

func TestSampleUnmarshal_NumericStrings(t *testing.T) {
	var s Sample
	input := `{"download": "5e6", "upload": "1000000", "ping": "−1", "recorded_at": "2024-01-01T00:00:00Z"}`
	if err := json.Unmarshal([]byte(input), &s); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if s.Download != 5e6 || s.Upload != 1e6 || s.Ping != -1 {
		t.Errorf("unexpected values: %+v", s)
	}
}

func TestLoadAll_SkipsNullRates(t *testing.T) {
	s := newTestStore(t)
	content := `{"download": 100000000, "upload": 20000000, "ping": 9, "recorded_at": "2025-01-01T10:00:00Z"}
{"download": null, "upload": 20000000, "ping": 9, "recorded_at": "2025-01-01T12:00:00Z"}
{"download": 300000000, "upload": 40000000, "ping": null, "recorded_at": "2025-01-01T14:00:00Z"}
{"download": 500000000, "upload": 60000000, "ping": 5, "recorded_at": "2025-01-01T18:00:00Z"}
`
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rows, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(rows) != 2 || rows[0].DownloadMbps != 100 || rows[1].DownloadMbps != 500 {
		t.Errorf("expected rows [100 500], got %+v", rows)
	}
	if _, err := parseLine([]byte(`{"download": null, "upload": 1, "recorded_at": "2025-01-01T12:00:00Z"}`)); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestAppend_ConcurrentWritersKeepWholeRecords(t *testing.T) {
	s := newTestStore(t)
	other := New(s.Path(), testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		target := s
		if i%2 == 1 {
			target = other
		}
		go func(st *Store, n int) {
			defer wg.Done()
			extra := map[string]json.RawMessage{
				"padding": json.RawMessage(`"` + strings.Repeat("x", 2048) + `"`),
			}
			if err := st.Append(Sample{Download: float64(n), RecordedAt: time.Now(), Extra: extra}); err != nil {
				t.Errorf("Append failed: %v", err)
			}
		}(target, i)
	}
	wg.Wait()

	rows, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(rows) != 50 {
		t.Errorf("expected 50 intact rows, got %d", len(rows))
	}
}
