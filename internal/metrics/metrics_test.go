package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	Register(reg)

	URLChecks.WithLabelValues("active").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var value float64
	for _, mf := range families {
		if mf.GetName() != "jobpipe_url_checks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" && lp.GetValue() == "active" {
					value = m.GetCounter().GetValue()
				}
			}
		}
	}
	if value < 1 {
		t.Errorf("jobpipe_url_checks_total{status=active} = %v, want >= 1", value)
	}
}
