// Package driver runs the sampling loop: every step it samples the
// registered observables and feeds the correlators that use them, in
// insertion order.
//
// A Driver owns its correlators. Checkpoint and Resume persist them as
// snapshots so that an interrupted run continues as if uninterrupted.
package driver

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xtxerr/taucorr/internal/aggregate"
	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/logging"
	"github.com/xtxerr/taucorr/internal/metrics"
	"github.com/xtxerr/taucorr/internal/observable"
	"github.com/xtxerr/taucorr/internal/validation"
)

var log = logging.Component("driver")

// Options configures a Driver.
type Options struct {
	// Metrics receives the driver counters. Nil creates a private instance.
	Metrics *metrics.Metrics

	// Summaries enables running statistics of every sampled observable.
	Summaries bool

	// PercentileAccuracy enables DDSketch percentiles in the summaries.
	// Zero disables them.
	PercentileAccuracy float64

	// CheckpointDir receives snapshots during Run. Empty disables them.
	CheckpointDir string

	// CheckpointEvery writes a checkpoint every N steps during Run.
	CheckpointEvery int64
}

// Driver updates a set of correlators from their observables.
type Driver struct {
	mu sync.Mutex

	opts    Options
	metrics *metrics.Metrics

	entries []*entry // Insertion order
	byName  map[string]*entry

	summaries map[string]*aggregate.Set
	step      int64

	// Scratch: samples of the current step by observable name
	samples map[string][]float64
}

type entry struct {
	name string
	corr *correlator.Correlator
	a, b observable.Observable
}

// New creates an empty driver.
func New(opts Options) *Driver {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Driver{
		opts:      opts,
		metrics:   m,
		byName:    make(map[string]*entry),
		summaries: make(map[string]*aggregate.Set),
		samples:   make(map[string][]float64),
	}
}

// Add registers a correlator fed from a (and b; nil b autocorrelates a).
// The observable widths must match the correlator's.
func (d *Driver) Add(name string, corr *correlator.Correlator, a, b observable.Observable) error {
	if err := validation.ValidateCorrelatorName(name); err != nil {
		return err
	}
	if corr == nil || a == nil {
		return errors.NewValidation("correlator", "needs a correlator and an observable")
	}
	if b == nil {
		b = a
	}

	cfg := corr.Config()
	if a.Dim() != cfg.DimA {
		return errors.Wrapf(errors.NewDimensionMismatch("observable "+a.Name(), a.Dim(), cfg.DimA), "correlator %s", name)
	}
	if b.Dim() != cfg.DimB {
		return errors.Wrapf(errors.NewDimensionMismatch("observable "+b.Name(), b.Dim(), cfg.DimB), "correlator %s", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byName[name]; exists {
		return errors.NewAlreadyExists("correlator", name)
	}

	e := &entry{name: name, corr: corr, a: a, b: b}
	d.entries = append(d.entries, e)
	d.byName[name] = e

	if d.opts.Summaries {
		for _, o := range []observable.Observable{a, b} {
			if _, ok := d.summaries[o.Name()]; !ok {
				d.summaries[o.Name()] = aggregate.NewSet(o.Name(), o.Dim(), d.opts.PercentileAccuracy)
			}
		}
	}

	d.metrics.SetResident(name, corr.ResidentSamples())
	log.Debug("correlator added", "correlator", name, "operator", cfg.Operation,
		"tau_lin", cfg.TauLin, "tau_max", cfg.TauMax, "depth", corr.Depth())
	return nil
}

// Remove unregisters a correlator and returns it.
func (d *Driver) Remove(name string) (*correlator.Correlator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byName[name]
	if !ok {
		return nil, errors.NewNotFound("correlator", name)
	}

	delete(d.byName, name)
	for i, x := range d.entries {
		if x == e {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			break
		}
	}

	d.metrics.Forget(name)
	log.Debug("correlator removed", "correlator", name)
	return e.corr, nil
}

// Step samples every observable once and updates every correlator. A failing
// update aborts the step; correlators updated before it keep the sample and
// the step counter does not advance.
func (d *Driver) Step() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stepLocked()
}

func (d *Driver) stepLocked() error {
	start := time.Now()
	clear(d.samples)

	for _, e := range d.entries {
		a, err := d.sample(e.a)
		if err != nil {
			d.metrics.ObserveUpdate(e.name, metrics.OutcomeRejected)
			return errors.Wrapf(err, "correlator %s: step %d", e.name, d.step)
		}
		b, err := d.sample(e.b)
		if err != nil {
			d.metrics.ObserveUpdate(e.name, metrics.OutcomeRejected)
			return errors.Wrapf(err, "correlator %s: step %d", e.name, d.step)
		}

		frames := e.corr.Frames()
		if err := e.corr.UpdatePair(a, b); err != nil {
			d.metrics.ObserveUpdate(e.name, metrics.OutcomeRejected)
			log.Warn("update rejected", "correlator", e.name, "step", d.step, "error", err)
			return errors.Wrapf(err, "correlator %s: step %d", e.name, d.step)
		}

		if e.corr.Frames() > frames {
			d.metrics.ObserveUpdate(e.name, metrics.OutcomeAccepted)
			d.metrics.SetResident(e.name, e.corr.ResidentSamples())
		} else {
			d.metrics.ObserveUpdate(e.name, metrics.OutcomeDropped)
		}
	}

	d.step++
	d.metrics.ObserveStep(time.Since(start))
	return nil
}

// sample returns the value of o at the current step, sampling each
// observable at most once per step.
func (d *Driver) sample(o observable.Observable) ([]float64, error) {
	if x, ok := d.samples[o.Name()]; ok {
		return x, nil
	}

	x, err := o.Sample(d.step)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", o.Name(), err)
	}
	d.samples[o.Name()] = x

	if s, ok := d.summaries[o.Name()]; ok {
		s.Add(x, d.step)
	}
	return x, nil
}

// Run performs steps driver steps. Cancellation is checked between steps;
// a step in progress always completes. With a checkpoint directory set, a
// checkpoint is written every CheckpointEvery steps.
func (d *Driver) Run(ctx context.Context, steps int64) error {
	log.Info("run started", "steps", steps, "from_step", d.Steps(), "correlators", len(d.Names()))
	start := time.Now()

	for i := int64(0); i < steps; i++ {
		if err := ctx.Err(); err != nil {
			log.Info("run cancelled", "step", d.Steps())
			return err
		}

		if err := d.Step(); err != nil {
			return err
		}

		if d.opts.CheckpointDir != "" && d.opts.CheckpointEvery > 0 && d.Steps()%d.opts.CheckpointEvery == 0 {
			if err := d.Checkpoint(ctx, d.opts.CheckpointDir); err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
		}
	}

	log.Info("run finished", "steps", steps, "elapsed", time.Since(start))
	return nil
}

// Finalize drains every correlator that is not yet finalized.
func (d *Driver) Finalize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, e := range d.entries {
		if e.corr.Finalized() {
			continue
		}
		if err := e.corr.Finalize(); err != nil {
			errs = append(errs, errors.Wrapf(err, "correlator %s", e.name))
			continue
		}
		d.metrics.SetResident(e.name, e.corr.ResidentSamples())
	}
	return errors.Join(errs...)
}

// Result returns the correlation table of the named correlator.
func (d *Driver) Result(name string) ([]correlator.Row, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byName[name]
	if !ok {
		return nil, errors.NewNotFound("correlator", name)
	}
	return e.corr.Result(), nil
}

// Correlator returns the named correlator.
func (d *Driver) Correlator(name string) (*correlator.Correlator, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return e.corr, true
}

// Names returns the correlator names in update order.
func (d *Driver) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, len(d.entries))
	for i, e := range d.entries {
		names[i] = e.name
	}
	return names
}

// Steps returns the number of completed steps.
func (d *Driver) Steps() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.step
}

// Summaries returns the statistics of every sampled observable component,
// ordered by observable name. They cover the steps since New or the last
// Resume.
func (d *Driver) Summaries() []aggregate.Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.summaries))
	for name := range d.summaries {
		names = append(names, name)
	}
	slices.Sort(names)

	var out []aggregate.Result
	for _, name := range names {
		out = append(out, d.summaries[name].Results()...)
	}
	return out
}

// Metrics returns the driver metrics.
func (d *Driver) Metrics() *metrics.Metrics {
	return d.metrics
}

// Stats returns per-correlator statistics in update order.
func (d *Driver) Stats() []CorrelatorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]CorrelatorStats, len(d.entries))
	for i, e := range d.entries {
		out[i] = CorrelatorStats{
			Name:        e.name,
			Observable:  e.a.Name(),
			ObservableB: e.b.Name(),
			Stats:       e.corr.Stats(),
		}
	}
	return out
}

// CorrelatorStats holds the statistics of one registered correlator.
type CorrelatorStats struct {
	Name        string
	Observable  string
	ObservableB string
	correlator.Stats
}
