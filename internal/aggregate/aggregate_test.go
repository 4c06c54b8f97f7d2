package aggregate

import (
	"math"
	"testing"
)

func TestSummary_Basic(t *testing.T) {
	s := New("pos", 0, 0)

	if !s.IsEmpty() {
		t.Error("new summary should be empty")
	}

	s.Add(10.0, 5)
	s.Add(-20.0, 6)
	s.Add(30.0, 7)

	if s.Count() != 3 {
		t.Errorf("expected count=3, got %d", s.Count())
	}

	r := s.Result()

	if r.Sum != 20.0 {
		t.Errorf("expected sum=20, got %f", r.Sum)
	}
	if r.Min != -20.0 {
		t.Errorf("expected min=-20, got %f", r.Min)
	}
	if r.Max != 30.0 {
		t.Errorf("expected max=30, got %f", r.Max)
	}
	if math.Abs(r.Avg-20.0/3) > 1e-12 {
		t.Errorf("expected avg=%f, got %f", 20.0/3, r.Avg)
	}
	if r.FirstStep != 5 || r.LastStep != 7 {
		t.Errorf("expected steps 5..7, got %d..%d", r.FirstStep, r.LastStep)
	}
	if r.HasPercentiles() {
		t.Error("should not have percentiles")
	}
}

func TestSummary_Empty(t *testing.T) {
	r := New("pos", 1, 0.01).Result()

	if r.Count != 0 || r.Min != 0 || r.Max != 0 || r.Avg != 0 {
		t.Errorf("empty result should be zero, got %+v", r)
	}
	if r.HasPercentiles() {
		t.Error("empty summary should not report percentiles")
	}
}

func TestSummary_Percentiles(t *testing.T) {
	s := New("pos", 0, 0.01)

	for i := 1; i <= 1000; i++ {
		s.Add(float64(i), int64(i))
	}

	r := s.Result()
	if !r.HasPercentiles() {
		t.Fatal("expected percentiles")
	}

	check := func(name string, got *float64, want float64) {
		if math.Abs(*got-want)/want > 0.02 {
			t.Errorf("%s = %f, want about %f", name, *got, want)
		}
	}
	check("p50", r.P50, 500)
	check("p90", r.P90, 900)
	check("p95", r.P95, 950)
	check("p99", r.P99, 990)
}

func TestSummary_Reset(t *testing.T) {
	s := New("pos", 0, 0.01)
	s.Add(1, 0)
	s.Add(2, 1)

	s.Reset()

	if !s.IsEmpty() {
		t.Error("summary should be empty after reset")
	}

	s.Add(7, 9)
	r := s.Result()
	if r.Min != 7 || r.Max != 7 || r.FirstStep != 9 {
		t.Errorf("stale state after reset: %+v", r)
	}
	if !r.HasPercentiles() || math.Abs(*r.P50-7) > 0.1 {
		t.Error("sketch should restart after reset")
	}
}

func TestSet(t *testing.T) {
	set := NewSet("pos", 3, 0)

	set.Add([]float64{1, 2, 3}, 0)
	set.Add([]float64{3, 4, 5}, 1)

	results := set.Results()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Observable != "pos" || r.Component != i {
			t.Errorf("unexpected identity %s/%d", r.Observable, r.Component)
		}
		if want := float64(i) + 2; r.Avg != want {
			t.Errorf("component %d: avg %f, want %f", i, r.Avg, want)
		}
	}
}

func TestSet_Reset(t *testing.T) {
	set := NewSet("vel", 2, 0.01)
	set.Add([]float64{1, 2}, 0)
	set.Add([]float64{3, 4}, 1)

	set.Reset()
	for _, r := range set.Results() {
		if r.Count != 0 || r.HasPercentiles() {
			t.Errorf("component %d not reset: %+v", r.Component, r)
		}
	}

	set.Add([]float64{5, 6}, 7)
	if r := set.Results()[1]; r.Count != 1 || r.Min != 6 || r.FirstStep != 7 {
		t.Errorf("unexpected state after reset: %+v", r)
	}
}
