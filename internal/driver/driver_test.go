package driver

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xtxerr/taucorr/internal/config"
	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/metrics"
	"github.com/xtxerr/taucorr/internal/observable"
	"github.com/xtxerr/taucorr/internal/parquet"
)

const runYAML = `
time_step: 0.01
steps: 2000
observables:
  - name: pos
    kind: ballistic
    velocity: [1, 2, 3]
  - name: vel
    kind: constant
    value: [1, 2, 3]
correlators:
  - name: msd
    observable: pos
    operator: square_distance_componentwise
    tau_lin: 10
    tau_max: 5
    delta_N: 1
  - name: vacf
    observable: vel
    operator: scalar_product
    tau_lin: 8
    tau_max: 2
    delta_N: 2
`

func buildDriver(t *testing.T, yaml string) *Driver {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d, err := FromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	return d
}

func counter(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) float64 {
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
			for _, lp := range metric.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
					continue series
				}
			}
			if metric.Counter != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return -1
}

func TestFromConfig_Run(t *testing.T) {
	d := buildDriver(t, runYAML)

	if got := d.Names(); !reflect.DeepEqual(got, []string{"msd", "vacf"}) {
		t.Fatalf("unexpected names %v", got)
	}

	if err := d.Run(context.Background(), 2000); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.Steps() != 2000 {
		t.Errorf("expected 2000 steps, got %d", d.Steps())
	}

	rows, err := d.Result("msd")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("msd has no rows")
	}
	v := []float64{1, 2, 3}
	for _, row := range rows {
		for k, got := range row.Values {
			want := v[k] * row.Tau * v[k] * row.Tau
			if math.Abs(got-want) > 1e-6*(1+want) {
				t.Errorf("msd tau=%g component %d: got %g, want %g", row.Tau, k, got, want)
			}
		}
	}

	// Constant velocity: <v(0).v(tau)> = |v|^2 at every lag.
	rows, err = d.Result("vacf")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	for _, row := range rows {
		if math.Abs(row.Values[0]-14) > 1e-9 {
			t.Errorf("vacf tau=%g: got %g, want 14", row.Tau, row.Values[0])
		}
	}

	corr, ok := d.Correlator("vacf")
	if !ok {
		t.Fatal("vacf not registered")
	}
	if corr.Frames() != 1000 {
		t.Errorf("delta_N=2 should admit 1000 samples, got %d", corr.Frames())
	}
}

func TestDriver_Metrics(t *testing.T) {
	d := buildDriver(t, runYAML)
	if err := d.Run(context.Background(), 10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m := d.Metrics()
	if got := counter(t, m, "taucorr_steps_total", nil); got != 10 {
		t.Errorf("steps = %f, want 10", got)
	}
	if got := counter(t, m, "taucorr_updates_total", map[string]string{"correlator": "msd", "outcome": "accepted"}); got != 10 {
		t.Errorf("msd accepted = %f, want 10", got)
	}
	if got := counter(t, m, "taucorr_updates_total", map[string]string{"correlator": "vacf", "outcome": "dropped"}); got != 5 {
		t.Errorf("vacf dropped = %f, want 5", got)
	}
}

func TestDriver_Summaries(t *testing.T) {
	d := buildDriver(t, runYAML)
	if err := d.Run(context.Background(), 100); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results := d.Summaries()
	if len(results) != 6 {
		t.Fatalf("expected 6 summaries (pos, vel x 3), got %d", len(results))
	}
	for _, r := range results {
		// Each observable is sampled once per step even when shared.
		if r.Count != 100 {
			t.Errorf("%s[%d]: count %d, want 100", r.Observable, r.Component, r.Count)
		}
	}
	if results[0].Observable != "pos" || results[3].Observable != "vel" {
		t.Errorf("summaries not ordered by observable: %s, %s", results[0].Observable, results[3].Observable)
	}
	if r := results[3]; r.Min != 1 || r.Max != 1 {
		t.Errorf("vel[0] range %g..%g, want 1..1", r.Min, r.Max)
	}
}

func TestDriver_ResumeResetsSummaries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d := buildDriver(t, runYAML)
	if err := d.Run(ctx, 50); err != nil {
		t.Fatal(err)
	}
	if err := d.Checkpoint(ctx, dir); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(ctx, 20); err != nil {
		t.Fatal(err)
	}

	if err := d.Resume(dir); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	for _, r := range d.Summaries() {
		if r.Count != 0 {
			t.Errorf("%s[%d]: count %d after resume, want 0", r.Observable, r.Component, r.Count)
		}
	}

	if err := d.Run(ctx, 10); err != nil {
		t.Fatal(err)
	}
	for _, r := range d.Summaries() {
		if r.Count != 10 || r.FirstStep != 50 {
			t.Errorf("%s[%d]: count %d first step %d, want 10 from step 50",
				r.Observable, r.Component, r.Count, r.FirstStep)
		}
	}
}

func TestDriver_Add(t *testing.T) {
	d := New(Options{})

	pos, err := observable.NewConstant("pos", []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	corr, err := correlator.New(correlator.Config{
		Operation: correlator.OpScalarProduct,
		TauLin:    4,
		TauMax:    10,
		DeltaN:    1,
		DimA:      3,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Add("", corr, pos, nil); !errors.IsValidation(err) {
		t.Errorf("expected validation error for empty name, got %v", err)
	}
	if err := d.Add("c", corr, pos, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := d.Add("c", corr, pos, nil); !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	narrow, _ := observable.NewConstant("x", []float64{1})
	if err := d.Add("d", corr, narrow, nil); !errors.IsDimensionMismatch(err) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}

	if _, err := d.Remove("missing"); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if got, err := d.Remove("c"); err != nil || got != corr {
		t.Errorf("Remove: %v", err)
	}
	if len(d.Names()) != 0 {
		t.Errorf("expected no correlators, got %v", d.Names())
	}
}

func TestDriver_StepFailure(t *testing.T) {
	d := New(Options{})

	traj, err := observable.NewTrajectory("traj", []parquet.TrajectoryRow{
		{Step: 0, Values: []float64{1}},
		{Step: 1, Values: []float64{2}},
		{Step: 2, Values: []float64{3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	corr, _ := correlator.New(correlator.Config{
		Operation: correlator.OpScalarProduct,
		TauLin:    2,
		TauMax:    2,
		DeltaN:    1,
		DimA:      1,
	})
	if err := d.Add("c", corr, traj, nil); err != nil {
		t.Fatal(err)
	}

	err = d.Run(context.Background(), 5)
	if !errors.IsNotFound(err) {
		t.Fatalf("expected not found past the trajectory end, got %v", err)
	}
	if d.Steps() != 3 {
		t.Errorf("expected 3 completed steps, got %d", d.Steps())
	}
	if corr.Frames() != 3 {
		t.Errorf("expected 3 admitted samples, got %d", corr.Frames())
	}
	if got := counter(t, d.Metrics(), "taucorr_updates_total", map[string]string{"outcome": "rejected"}); got != 1 {
		t.Errorf("rejected = %f, want 1", got)
	}
}

func TestDriver_RunCancelled(t *testing.T) {
	d := buildDriver(t, runYAML)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Run(ctx, 100); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if d.Steps() != 0 {
		t.Errorf("expected no steps, got %d", d.Steps())
	}
}

func TestDriver_Finalize(t *testing.T) {
	d := buildDriver(t, runYAML)
	if err := d.Run(context.Background(), 50); err != nil {
		t.Fatal(err)
	}

	if err := d.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// Already finalized correlators are skipped.
	if err := d.Finalize(); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}

	if err := d.Step(); !errors.Is(err, errors.ErrFinalized) {
		t.Errorf("expected ErrFinalized after finalize, got %v", err)
	}
}

func TestDriver_CheckpointResume(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	full := buildDriver(t, runYAML)
	if err := full.Run(ctx, 300); err != nil {
		t.Fatal(err)
	}
	if err := full.Checkpoint(ctx, dir); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := full.Run(ctx, 200); err != nil {
		t.Fatal(err)
	}

	resumed := buildDriver(t, runYAML)
	if err := resumed.Resume(dir); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Steps() != 300 {
		t.Fatalf("expected resumed step 300, got %d", resumed.Steps())
	}
	if err := resumed.Run(ctx, 200); err != nil {
		t.Fatal(err)
	}

	for _, name := range full.Names() {
		want, _ := full.Result(name)
		got, _ := resumed.Result(name)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: resumed result differs from uninterrupted run", name)
		}
	}

	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Step != 300 || len(m.Correlators) != 2 {
		t.Errorf("unexpected manifest %+v", m)
	}
	if got := counter(t, full.Metrics(), "taucorr_checkpoints_total", nil); got != 1 {
		t.Errorf("checkpoints = %f, want 1", got)
	}
}

func TestDriver_RunCheckpoints(t *testing.T) {
	dir := t.TempDir()
	d := buildDriver(t, runYAML)
	d.opts.CheckpointDir = dir
	d.opts.CheckpointEvery = 40

	if err := d.Run(context.Background(), 100); err != nil {
		t.Fatal(err)
	}

	m, err := ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Step != 80 {
		t.Errorf("expected last checkpoint at step 80, got %d", m.Step)
	}
}

func TestDriver_ResumeMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d := buildDriver(t, runYAML)
	if err := d.Run(ctx, 100); err != nil {
		t.Fatal(err)
	}
	if err := d.Checkpoint(ctx, dir); err != nil {
		t.Fatal(err)
	}

	// Same names, different vacf compression.
	other := buildDriver(t, runYAML[:len(runYAML)-1]+"\n    compress_a: discard1\n")
	if err := other.Run(ctx, 10); err != nil {
		t.Fatal(err)
	}
	before, _ := other.Result("msd")

	err := other.Resume(dir)
	if !errors.IsSnapshotMismatch(err) {
		t.Fatalf("expected snapshot mismatch, got %v", err)
	}
	if other.Steps() != 10 {
		t.Errorf("step changed on failed resume: %d", other.Steps())
	}
	after, _ := other.Result("msd")
	if !reflect.DeepEqual(before, after) {
		t.Error("msd changed on failed resume")
	}

	if err := New(Options{}).Resume(t.TempDir()); !errors.IsNotFound(err) {
		t.Errorf("expected not found for empty dir, got %v", err)
	}
}

func TestConfigMismatch(t *testing.T) {
	cfg := correlator.Config{
		Operation: correlator.OpScalarProduct,
		TauLin:    8,
		TauMax:    2,
		DeltaN:    1,
		TimeStep:  0.01,
		DimA:      3,
	}
	target, err := correlator.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	cfg.TauLin = 10
	other, err := correlator.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	err = configMismatch("vacf", target, other.Snapshot())
	if !errors.IsSnapshotMismatch(err) || !strings.Contains(err.Error(), "tau_lin") {
		t.Errorf("expected a tau_lin mismatch, got %v", err)
	}

	// A snapshot the field checks accept still must not pass silently.
	err = configMismatch("vacf", target, target.Snapshot())
	if !errors.IsSnapshotMismatch(err) {
		t.Errorf("expected snapshot mismatch for an accepted snapshot, got %v", err)
	}
}

func TestDriver_ResumeCorrupt(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d := buildDriver(t, runYAML)
	if err := d.Checkpoint(ctx, dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vacf.tauc"), []byte("TAUC\xff"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := buildDriver(t, runYAML).Resume(dir); !errors.Is(err, errors.ErrSnapshotCorrupt) {
		t.Errorf("expected ErrSnapshotCorrupt, got %v", err)
	}
}

func TestDriver_Export(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	d := buildDriver(t, runYAML)
	if err := d.Run(context.Background(), 500); err != nil {
		t.Fatal(err)
	}

	paths, err := d.Export(context.Background(), dir, parquet.DefaultOptions())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "msd.parquet" {
		t.Fatalf("unexpected paths %v", paths)
	}

	rows, err := parquet.ReadResults(paths[0])
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	want, _ := d.Result("msd")
	if got := parquet.CorrelationRows(rows); !reflect.DeepEqual(got, want) {
		t.Errorf("exported table differs from result")
	}
	for _, r := range rows {
		if r.Correlator != "msd" {
			t.Fatalf("unexpected correlator %q", r.Correlator)
		}
	}
}
