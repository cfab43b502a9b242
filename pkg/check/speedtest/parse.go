package speedtest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kylerisse/ispwatch/pkg/store"
)

// parseOutput decodes CLI output into a sample with rates in bits/sec.
//
// Two shapes are understood:
//   - speedtest-cli: "download"/"upload" are numbers in bits/sec, "ping" in ms.
//   - Ookla speedtest: "download"/"upload" are objects whose "bandwidth" is
//     bytes/sec, "ping" is an object with "latency" in ms.
//
// Fields other than the rates are kept as pass-through fields. The nested
// Ookla objects are kept under "<name>_detail".
func parseOutput(out []byte) (store.Sample, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return store.Sample{}, fmt.Errorf("empty output")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		return store.Sample{}, fmt.Errorf("output is not a JSON object: %w", err)
	}

	var sample store.Sample
	var err error

	if sample.Download, err = rate(raw, store.KeyDownload); err != nil {
		return store.Sample{}, err
	}
	if sample.Upload, err = rate(raw, store.KeyUpload); err != nil {
		return store.Sample{}, err
	}
	if v, ok := raw[store.KeyPing]; ok {
		if sample.Ping, err = latency(v); err != nil {
			return store.Sample{}, fmt.Errorf("field %q: %w", store.KeyPing, err)
		}
	}

	extra := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		switch k {
		case store.KeyDownload, store.KeyUpload, store.KeyPing:
			if isObject(v) {
				extra[k+"_detail"] = v
			}
		case store.KeyRecordedAt:
			// stamped by the runner
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		sample.Extra = extra
	}

	return sample, nil
}

// rate reads a transfer rate and returns it in bits/sec.
func rate(raw map[string]json.RawMessage, key string) (float64, error) {
	v, ok := raw[key]
	if !ok {
		return 0, fmt.Errorf("output has no %q field", key)
	}
	if isNull(v) {
		return 0, fmt.Errorf("field %q is null", key)
	}

	var bps float64
	if err := json.Unmarshal(v, &bps); err == nil {
		return bps, nil
	}

	var nested struct {
		Bandwidth *float64 `json:"bandwidth"`
	}
	if err := json.Unmarshal(v, &nested); err != nil || nested.Bandwidth == nil {
		return 0, fmt.Errorf("field %q is neither a number nor an object with bandwidth", key)
	}
	return *nested.Bandwidth * 8, nil
}

// latency reads a ping value in milliseconds.
func latency(v json.RawMessage) (float64, error) {
	if isNull(v) {
		return 0, fmt.Errorf("value is null")
	}
	var ms float64
	if err := json.Unmarshal(v, &ms); err == nil {
		return ms, nil
	}

	var nested struct {
		Latency *float64 `json:"latency"`
	}
	if err := json.Unmarshal(v, &nested); err != nil || nested.Latency == nil {
		return 0, fmt.Errorf("neither a number nor an object with latency")
	}
	return *nested.Latency, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}
