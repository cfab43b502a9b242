package check

// MetricDef describes a single metric produced by a check type.
type MetricDef struct {
	// ResultKey is the key used in Result.Metrics (e.g. "download").
	ResultKey string `json:"key"`

	// Label is a human-readable label for graphs and display.
	Label string `json:"label"`

	// Unit is the display unit (e.g. "Mbps").
	Unit string `json:"unit"`

	// Scale is the divisor applied to convert the raw value to the
	// display unit. A speed test stores bits/sec and displays Mbps,
	// so Scale is 1e6. A value of 0 or 1 means no scaling is applied.
	Scale float64 `json:"scale,omitempty"`
}

// Display converts a raw metric value to its display unit.
func (m MetricDef) Display(raw float64) float64 {
	if m.Scale > 1 {
		return raw / m.Scale
	}
	return raw
}

// Descriptor declares metadata about a check, including what metrics it
// produces.
type Descriptor struct {
	// Label is a human-readable label used for graph titles.
	Label string `json:"label"`

	// Metrics lists the metrics this check produces.
	Metrics []MetricDef `json:"metrics"`
}

// Metric returns the definition for a result key.
func (d Descriptor) Metric(key string) (MetricDef, bool) {
	for _, m := range d.Metrics {
		if m.ResultKey == key {
			return m, true
		}
	}
	return MetricDef{}, false
}
