package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record keys owned by the store. Every other key in a record is carried
// through untouched in Sample.Extra.
const (
	KeyDownload   = "download"
	KeyUpload     = "upload"
	KeyPing       = "ping"
	KeyRecordedAt = "recorded_at"
)

// bitsPerMegabit converts the stored bits/sec rates to Mbps.
const bitsPerMegabit = 1e6

// naiveLayouts are accepted for recorded_at values written without a zone.
// They are interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Sample is one speed test measurement as persisted in the log.
type Sample struct {
	// Download is the download rate in bits per second.
	Download float64
	// Upload is the upload rate in bits per second.
	Upload float64
	// Ping is the round trip latency in milliseconds.
	Ping float64
	// RecordedAt is when the sample was taken, in UTC.
	RecordedAt time.Time
	// Extra holds every other field reported by the measurement tool.
	Extra map[string]json.RawMessage
}

// MarshalJSON flattens the sample into a single self-describing object.
func (s Sample) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[KeyDownload] = s.Download
	out[KeyUpload] = s.Upload
	out[KeyPing] = s.Ping
	out[KeyRecordedAt] = s.RecordedAt.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// UnmarshalJSON parses a record. download, upload and recorded_at are
// required; ping defaults to zero when absent.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var parsed Sample
	var err error

	if parsed.Download, err = requiredNumber(raw, KeyDownload); err != nil {
		return err
	}
	if parsed.Upload, err = requiredNumber(raw, KeyUpload); err != nil {
		return err
	}
	if v, ok := raw[KeyPing]; ok {
		if parsed.Ping, err = parseNumber(v); err != nil {
			return fmt.Errorf("field %q: %w", KeyPing, err)
		}
	}

	ts, ok := raw[KeyRecordedAt]
	if !ok {
		return fmt.Errorf("missing field %q", KeyRecordedAt)
	}
	var tsStr string
	if err := json.Unmarshal(ts, &tsStr); err != nil {
		return fmt.Errorf("field %q: %w", KeyRecordedAt, err)
	}
	if parsed.RecordedAt, err = ParseTimestamp(tsStr); err != nil {
		return fmt.Errorf("field %q: %w", KeyRecordedAt, err)
	}

	for _, k := range []string{KeyDownload, KeyUpload, KeyPing, KeyRecordedAt} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		parsed.Extra = raw
	}

	*s = parsed
	return nil
}

// ParseTimestamp accepts RFC 3339 timestamps and zone-less ISO 8601
// timestamps, returning the instant in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func requiredNumber(raw map[string]json.RawMessage, key string) (float64, error) {
	v, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	n, err := parseNumber(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return n, nil
}

// parseNumber reads a JSON number, or a string holding one.
func parseNumber(v json.RawMessage) (float64, error) {
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return 0, fmt.Errorf("null value")
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(v))
	}
	// Some tools print a unicode minus sign.
	s = strings.ReplaceAll(strings.TrimSpace(s), "−", "-")
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return n, nil
}

// Row is a loaded sample converted for presentation.
type Row struct {
	RecordedAt   time.Time                  `json:"recorded_at"`
	DownloadMbps float64                    `json:"download"`
	UploadMbps   float64                    `json:"upload"`
	Ping         float64                    `json:"ping"`
	Extra        map[string]json.RawMessage `json:"-"`
}

// RowFromSample converts bits/sec rates to Mbps.
func RowFromSample(s Sample) Row {
	return Row{
		RecordedAt:   s.RecordedAt,
		DownloadMbps: s.Download / bitsPerMegabit,
		UploadMbps:   s.Upload / bitsPerMegabit,
		Ping:         s.Ping,
		Extra:        s.Extra,
	}
}

// ToMbps converts a bits/sec rate to Mbps.
func ToMbps(bitsPerSecond float64) float64 {
	return bitsPerSecond / bitsPerMegabit
}
