package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// value returns the value of the series of family name whose labels include
// every given pair, or -1 if there is none.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, metric := range f.GetMetric() {
			have := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				have[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if have[k] != v {
					continue series
				}
			}
			switch {
			case metric.Counter != nil:
				return metric.GetCounter().GetValue()
			case metric.Gauge != nil:
				return metric.GetGauge().GetValue()
			case metric.Histogram != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return -1
}

func TestMetrics_Updates(t *testing.T) {
	m := New()

	m.ObserveUpdate("msd", OutcomeAccepted)
	m.ObserveUpdate("msd", OutcomeAccepted)
	m.ObserveUpdate("msd", OutcomeDropped)
	m.ObserveUpdate("vacf", OutcomeRejected)

	if got := value(t, m, "taucorr_updates_total", map[string]string{"correlator": "msd", "outcome": "accepted"}); got != 2 {
		t.Errorf("accepted msd updates = %f, want 2", got)
	}
	if got := value(t, m, "taucorr_updates_total", map[string]string{"correlator": "vacf", "outcome": "rejected"}); got != 1 {
		t.Errorf("rejected vacf updates = %f, want 1", got)
	}
}

func TestMetrics_StepsAndResident(t *testing.T) {
	m := New()

	m.ObserveStep(time.Millisecond)
	m.ObserveStep(2 * time.Millisecond)
	m.SetResident("msd", 42)
	m.ObserveCheckpoint()

	if got := value(t, m, "taucorr_steps_total", nil); got != 2 {
		t.Errorf("steps = %f, want 2", got)
	}
	if got := value(t, m, "taucorr_step_duration_seconds", nil); got != 2 {
		t.Errorf("step observations = %f, want 2", got)
	}
	if got := value(t, m, "taucorr_resident_samples", map[string]string{"correlator": "msd"}); got != 42 {
		t.Errorf("resident = %f, want 42", got)
	}
	if got := value(t, m, "taucorr_checkpoints_total", nil); got != 1 {
		t.Errorf("checkpoints = %f, want 1", got)
	}
}

func TestMetrics_Forget(t *testing.T) {
	m := New()
	m.ObserveUpdate("msd", OutcomeAccepted)
	m.SetResident("msd", 3)

	m.Forget("msd")

	if got := value(t, m, "taucorr_updates_total", map[string]string{"correlator": "msd"}); got != -1 {
		t.Errorf("expected no msd update series, got %f", got)
	}
	if got := value(t, m, "taucorr_resident_samples", map[string]string{"correlator": "msd"}); got != -1 {
		t.Errorf("expected no msd resident series, got %f", got)
	}
}

func TestMetrics_WriteFile(t *testing.T) {
	m := New()
	m.ObserveUpdate("msd", OutcomeAccepted)

	path := filepath.Join(t.TempDir(), "taucorr.prom")
	if err := m.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `taucorr_updates_total{correlator="msd",outcome="accepted"} 1`) {
		t.Errorf("unexpected metrics file:\n%s", data)
	}
}
