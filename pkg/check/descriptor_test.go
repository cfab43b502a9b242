package check

import (
	"testing"
)

func TestDescriptor_ZeroValue(t *testing.T) {
	var d Descriptor
	if d.Metrics != nil {
		t.Error("zero Descriptor should have nil Metrics")
	}
}

func TestDescriptor_Metric(t *testing.T) {
	d := Descriptor{
		Metrics: []MetricDef{
			{ResultKey: "download", Label: "Download", Unit: "Mbps", Scale: 1e6},
			{ResultKey: "ping", Label: "Ping", Unit: "ms"},
		},
	}
	m, ok := d.Metric("ping")
	if !ok {
		t.Fatal("expected ping metric")
	}
	if m.Unit != "ms" {
		t.Errorf("expected unit ms, got %q", m.Unit)
	}
	if _, ok := d.Metric("jitter"); ok {
		t.Error("expected unknown metric to report false")
	}
}

func TestMetricDef_Display(t *testing.T) {
	cases := []struct {
		name string
		def  MetricDef
		raw  float64
		want float64
	}{
		{"scaled", MetricDef{Scale: 1e6}, 412_500_000, 412.5},
		{"zero scale", MetricDef{}, 12.5, 12.5},
		{"unit scale", MetricDef{Scale: 1}, 7, 7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.def.Display(c.raw); got != c.want {
				t.Errorf("expected %v, got %v", c.want, got)
			}
		})
	}
}
