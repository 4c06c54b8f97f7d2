// Package correlator implements an online multiple-tau correlator.
//
// A Correlator consumes a stream of observable samples and accumulates the
// time-correlation function op(A(t), B(t+tau)) for lags spanning many orders
// of magnitude, without keeping the sample history. Recent samples are kept
// verbatim; older ones are merged pairwise into coarser levels (blocking base
// 2), so memory is O(depth * tauLin * dim) for any stream length.
//
// Usage:
//
//	c, err := correlator.New(correlator.Config{
//		Operation: correlator.OpSquareDistanceComponentwise,
//		TauLin:    16,
//		TauMax:    100,
//		DeltaN:    1,
//		TimeStep:  0.01,
//		DimA:      3,
//	})
//	for step := 0; step < n; step++ {
//		if err := c.Update(position(step)); err != nil { ... }
//	}
//	rows := c.Result()
//
// A Correlator is not safe for concurrent use. Independent instances share no
// state.
package correlator

import (
	"fmt"
	"math"

	"github.com/xtxerr/taucorr/internal/buffer"
	"github.com/xtxerr/taucorr/internal/errors"
)

// Config holds the immutable parameters of a Correlator.
type Config struct {
	// Operation is applied to every (older A, newer B) pair.
	Operation Operation

	// CompressA and CompressB merge samples moving up the hierarchy.
	// Zero selects CompressLinear.
	CompressA Compression
	CompressB Compression

	// TauLin is the number of lags resolved on each level. Must be even, >= 2.
	TauLin int

	// TauMax is the largest lag time that must be covered.
	TauMax float64

	// DeltaN admits one sample every DeltaN calls to Update.
	DeltaN int

	// TimeStep is the time between two calls to Update. Zero selects 1.
	TimeStep float64

	// DimA is the width of A samples; DimB of B samples (zero means DimA).
	DimA int
	DimB int

	// Args are the squared widths (w_x, w_y, w_z) used by OpFCSACF.
	Args [3]float64
}

// withDefaults fills the optional fields.
func (c Config) withDefaults() Config {
	if c.CompressA == 0 {
		c.CompressA = CompressLinear
	}
	if c.CompressB == 0 {
		c.CompressB = CompressLinear
	}
	if c.TimeStep == 0 {
		c.TimeStep = 1
	}
	if c.DimB == 0 {
		c.DimB = c.DimA
	}
	return c
}

// Dt returns the time between two admitted samples.
func (c Config) Dt() float64 {
	c = c.withDefaults()
	return float64(c.DeltaN) * c.TimeStep
}

// Validate checks the configuration and reports every violation.
func (c Config) Validate() error {
	c = c.withDefaults()
	errs := errors.NewValidationErrors()

	if c.TauLin < 2 {
		errs.Add(errors.NewInvalidValue("tau_lin", c.TauLin, "must be >= 2"))
	} else if c.TauLin%2 != 0 {
		errs.Add(errors.NewInvalidValue("tau_lin", c.TauLin, "must be even"))
	}

	if c.DeltaN < 1 {
		errs.Add(errors.NewInvalidValue("delta_N", c.DeltaN, "must be >= 1"))
	}

	if !(c.TimeStep > 0) || math.IsInf(c.TimeStep, 0) {
		errs.Add(errors.NewInvalidValue("time_step", c.TimeStep, "must be positive and finite"))
	}

	if c.DimA < 1 {
		errs.Add(errors.NewInvalidValue("dim", c.DimA, "must be >= 1"))
	}
	if c.DimB < 1 {
		errs.Add(errors.NewInvalidValue("dim_b", c.DimB, "must be >= 1"))
	}

	if !c.CompressA.valid() {
		errs.Add(errors.NewInvalidValue("compress_a", c.CompressA, "unknown compression"))
	}
	if !c.CompressB.valid() {
		errs.Add(errors.NewInvalidValue("compress_b", c.CompressB, "unknown compression"))
	}

	if _, known := operationNames[c.Operation]; !known {
		errs.Add(errors.NewInvalidValue("operator", c.Operation, "must be one of "+operationList()))
	} else if c.DimA >= 1 && c.DimB >= 1 {
		if _, err := c.Operation.OutputWidth(c.DimA, c.DimB); err != nil {
			errs.Add(err)
		}
	}

	if c.Operation == OpFCSACF {
		for i, w := range c.Args {
			if w == 0 || math.IsNaN(w) {
				errs.Add(errors.NewInvalidValue(fmt.Sprintf("args[%d]", i), w, "fcs_acf needs non-zero widths"))
			}
		}
	}

	if !errs.HasErrors() {
		dt := c.Dt()
		switch {
		case math.IsNaN(c.TauMax) || math.IsInf(c.TauMax, 0):
			errs.Add(errors.NewInvalidValue("tau_max", c.TauMax, "must be finite"))
		case c.TauMax < float64(c.TauLin)*dt:
			errs.Add(errors.NewInvalidValue("tau_max", c.TauMax,
				fmt.Sprintf("must be >= tau_lin*dt = %g", float64(c.TauLin)*dt)))
		case hierarchyDepth(c.TauLin, c.TauMax, dt) > maxDepth:
			errs.Add(errors.NewInvalidValue("tau_max", c.TauMax,
				fmt.Sprintf("needs more than %d compression levels", maxDepth)))
		}
	}

	return errs.Err()
}

// Correlator accumulates a multiple-tau correlation function.
type Correlator struct {
	cfg   Config
	dt    float64
	width int

	h       *hierarchy
	bins    *bins
	scratch []float64

	frames    uint64 // Samples admitted to level 0
	pending   int    // Calls since the last admitted sample
	finalized bool

	sumA []float64 // Running sums of admitted A samples
	sumB []float64
}

// New validates cfg and allocates an empty correlator.
func New(cfg Config) (*Correlator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	width, _ := cfg.Operation.OutputWidth(cfg.DimA, cfg.DimB)
	dt := cfg.Dt()
	depth := hierarchyDepth(cfg.TauLin, cfg.TauMax, dt)

	return &Correlator{
		cfg:     cfg,
		dt:      dt,
		width:   width,
		h:       newHierarchy(cfg.TauLin, depth, cfg.DimA, cfg.DimB, cfg.CompressA, cfg.CompressB),
		bins:    newBins(cfg.TauLin, depth, width),
		scratch: make([]float64, width),
		sumA:    make([]float64, cfg.DimA),
		sumB:    make([]float64, cfg.DimB),
	}, nil
}

// Update feeds one sample of an autocorrelation (B = A).
func (c *Correlator) Update(sample []float64) error {
	return c.UpdatePair(sample, sample)
}

// UpdatePair feeds one sample of each observable. Only every DeltaN-th call
// is admitted; the others are dropped after validation. A rejected call
// leaves the correlator unchanged.
func (c *Correlator) UpdatePair(a, b []float64) error {
	if c.finalized {
		return errors.ErrFinalized
	}
	if len(a) != c.cfg.DimA {
		return errors.NewDimensionMismatch("sample A", len(a), c.cfg.DimA)
	}
	if len(b) != c.cfg.DimB {
		return errors.NewDimensionMismatch("sample B", len(b), c.cfg.DimB)
	}

	c.pending++
	if c.pending < c.cfg.DeltaN {
		return nil
	}
	c.pending = 0
	c.frames++

	highest := c.h.admit(c.frames, a, b)

	for k, x := range a {
		c.sumA[k] += x
	}
	for k, x := range b {
		c.sumB[k] += x
	}

	c.correlate(0)
	for level := 1; level < highest+2; level++ {
		c.correlate(level)
	}
	return nil
}

// correlate pairs the newest B sample on a level with the older A samples
// on the same level and accumulates the results.
func (c *Correlator) correlate(level int) {
	ringA, ringB := c.h.a[level], c.h.b[level]
	tauLin := c.cfg.TauLin

	n := ringB.Len() // min(tauLin+1, samples ever admitted)

	first := 0
	if level > 0 {
		first = tauLin/2 + 1
	}

	newest := ringB.Back(0)
	for j := first; j < n; j++ {
		c.cfg.Operation.apply(c.scratch, ringA.Back(j), newest, c.cfg.Args)
		c.bins.add(binIndex(tauLin, level, j), c.scratch)
	}
}

// Finalize drains the samples still held in the hierarchy into the longer
// lags. Call it once at the end of data collection; further updates fail.
func (c *Correlator) Finalize() error {
	if c.finalized {
		return errors.Wrap(errors.ErrFinalized, "finalize")
	}
	c.finalized = true
	c.h.drain(c.correlate)
	return nil
}

// Result returns the normalized correlation table. Lags without pairs are
// omitted; rows are in ascending lag order. Row 0, once present, is the lag-0
// self-correlation: every admitted sample pairs with itself, including the
// first. Result does not modify state.
func (c *Correlator) Result() []Row {
	return c.bins.rows(c.dt)
}

// LagTimes returns every lag time the correlator can produce, including lags
// that have no pairs yet.
func (c *Correlator) LagTimes() []float64 {
	out := make([]float64, len(c.bins.lags))
	for i, lag := range c.bins.lags {
		out[i] = float64(lag) * c.dt
	}
	return out
}

// SampleSizes returns the pair count of every lag, aligned with LagTimes.
func (c *Correlator) SampleSizes() []uint64 {
	return append([]uint64(nil), c.bins.counts...)
}

// Shape returns the dimensions of the full result: lags x output width.
func (c *Correlator) Shape() []int {
	return []int{len(c.bins.lags), c.width}
}

// NumLags returns the number of lags in the table.
func (c *Correlator) NumLags() int {
	return len(c.bins.lags)
}

// Averages returns the mean of the admitted A and B samples.
// Both are nil before the first admitted sample.
func (c *Correlator) Averages() (a, b []float64) {
	if c.frames == 0 {
		return nil, nil
	}
	a = make([]float64, len(c.sumA))
	for k, s := range c.sumA {
		a[k] = s / float64(c.frames)
	}
	b = make([]float64, len(c.sumB))
	for k, s := range c.sumB {
		b[k] = s / float64(c.frames)
	}
	return a, b
}

// Config returns the configuration with defaults filled in.
func (c *Correlator) Config() Config {
	return c.cfg
}

// Dt returns the time between two admitted samples.
func (c *Correlator) Dt() float64 {
	return c.dt
}

// Depth returns the number of compression levels.
func (c *Correlator) Depth() int {
	return c.h.depth()
}

// OutputWidth returns the number of values per result row.
func (c *Correlator) OutputWidth() int {
	return c.width
}

// ResidentSamples returns the number of A samples currently stored.
func (c *Correlator) ResidentSamples() int {
	return c.h.resident()
}

// Frames returns the number of admitted samples.
func (c *Correlator) Frames() uint64 {
	return c.frames
}

// Finalized reports whether Finalize has been called.
func (c *Correlator) Finalized() bool {
	return c.finalized
}

// Stats returns correlator statistics.
func (c *Correlator) Stats() Stats {
	return Stats{
		Frames:          c.frames,
		PendingCalls:    c.pending,
		Depth:           c.h.depth(),
		Capacity:        c.h.capacity(),
		ResidentSamples: c.h.resident(),
		Lags:            len(c.bins.lags),
		FilledLags:      c.bins.filled(),
		Finalized:       c.finalized,
	}
}

// LevelStats returns the ring occupancy of every compression level, level 0
// first.
func (c *Correlator) LevelStats() []buffer.RingStats {
	return c.h.levelStats()
}

// Stats holds correlator statistics.
type Stats struct {
	Frames          uint64 // Samples admitted
	PendingCalls    int    // Calls since the last admitted sample
	Depth           int    // Compression levels
	Capacity        int    // Sample slots per observable
	ResidentSamples int    // Occupied sample slots per observable
	Lags            int    // Lags in the table
	FilledLags      int    // Lags with at least one pair
	Finalized       bool
}
