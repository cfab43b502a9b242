package check

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestResult_ZeroValue(t *testing.T) {
	var r Result
	if r.Success {
		t.Error("zero Result should not be successful")
	}
	if r.Err != nil {
		t.Error("zero Result should have nil error")
	}
	if r.Metrics != nil {
		t.Error("zero Result should have nil metrics")
	}
	if !r.Timestamp.IsZero() {
		t.Error("zero Result should have zero timestamp")
	}
}

func TestResult_Metric(t *testing.T) {
	r := Result{
		Timestamp: time.Now(),
		Success:   true,
		Metrics:   map[string]float64{"download": 4e8},
	}
	if v, ok := r.Metric("download"); !ok || v != 4e8 {
		t.Errorf("expected download=4e8, got %v (ok=%v)", v, ok)
	}
	if _, ok := r.Metric("upload"); ok {
		t.Error("expected missing metric to report false")
	}
}

func TestResult_MetricIgnoredOnError(t *testing.T) {
	r := Result{
		Success: true,
		Metrics: map[string]float64{"download": 4e8},
		Err:     errors.New("boom"),
	}
	if _, ok := r.Metric("download"); ok {
		t.Error("metrics of a result carrying an error must not be used")
	}
}

func TestResult_MarshalJSON_Success(t *testing.T) {
	r := Result{
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Success:   true,
		Metrics:   map[string]float64{"download": 1},
		Record:    json.RawMessage(`{"download":1}`),
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, `"record":{"download":1}`) {
		t.Errorf("expected record in output, got %s", body)
	}
	if strings.Contains(body, `"error"`) {
		t.Errorf("did not expect error field, got %s", body)
	}
}

func TestResult_MarshalJSON_Error(t *testing.T) {
	r := Result{Err: errors.New("no speedtest CLI found")}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"error":"no speedtest CLI found"`) {
		t.Errorf("expected error field, got %s", data)
	}
}
