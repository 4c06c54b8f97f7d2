// Package observable defines the quantities a driver samples each step and
// the built-in implementations.
package observable

import (
	"fmt"
	"sort"

	"github.com/xtxerr/taucorr/internal/config"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/parquet"
)

// Observable produces one vector per simulation step.
type Observable interface {
	// Name identifies the observable in logs and summaries.
	Name() string

	// Dim is the width of every sample.
	Dim() int

	// Sample returns the value at step. The returned slice may be reused by
	// the next call.
	Sample(step int64) ([]float64, error)
}

// Ballistic is a particle moving at constant velocity:
// x(step) = origin + velocity*step*timeStep.
type Ballistic struct {
	name     string
	origin   []float64
	velocity []float64
	timeStep float64
	buf      []float64
}

// NewBallistic creates a ballistic observable. A nil origin starts at zero.
func NewBallistic(name string, origin, velocity []float64, timeStep float64) (*Ballistic, error) {
	if len(velocity) == 0 {
		return nil, errors.NewValidation("velocity", "must have at least one component")
	}
	if origin == nil {
		origin = make([]float64, len(velocity))
	}
	if len(origin) != len(velocity) {
		return nil, errors.NewDimensionMismatch("origin", len(origin), len(velocity))
	}
	return &Ballistic{
		name:     name,
		origin:   append([]float64(nil), origin...),
		velocity: append([]float64(nil), velocity...),
		timeStep: timeStep,
		buf:      make([]float64, len(velocity)),
	}, nil
}

func (b *Ballistic) Name() string { return b.name }
func (b *Ballistic) Dim() int     { return len(b.velocity) }

func (b *Ballistic) Sample(step int64) ([]float64, error) {
	t := float64(step) * b.timeStep
	for k := range b.buf {
		b.buf[k] = b.origin[k] + b.velocity[k]*t
	}
	return b.buf, nil
}

// Constant returns the same vector every step.
type Constant struct {
	name  string
	value []float64
}

// NewConstant creates a constant observable.
func NewConstant(name string, value []float64) (*Constant, error) {
	if len(value) == 0 {
		return nil, errors.NewValidation("value", "must have at least one component")
	}
	return &Constant{name: name, value: append([]float64(nil), value...)}, nil
}

func (c *Constant) Name() string { return c.name }
func (c *Constant) Dim() int     { return len(c.value) }

func (c *Constant) Sample(int64) ([]float64, error) {
	return c.value, nil
}

// Trajectory replays a recorded observable: step i returns the row whose
// step column is i.
type Trajectory struct {
	name    string
	dim     int
	first   int64
	samples [][]float64
}

// NewTrajectory wraps recorded rows. Steps must be consecutive; they are
// sorted first.
func NewTrajectory(name string, rows []parquet.TrajectoryRow) (*Trajectory, error) {
	if len(rows) == 0 {
		return nil, errors.NewValidation("trajectory", "has no rows")
	}

	sorted := append([]parquet.TrajectoryRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Step < sorted[j].Step })

	t := &Trajectory{
		name:    name,
		dim:     len(sorted[0].Values),
		first:   sorted[0].Step,
		samples: make([][]float64, len(sorted)),
	}
	if t.dim == 0 {
		return nil, errors.NewValidation("trajectory", "rows have no values")
	}

	for i, r := range sorted {
		if r.Step != t.first+int64(i) {
			return nil, errors.NewValidation("trajectory",
				fmt.Sprintf("steps are not consecutive: expected %d, found %d", t.first+int64(i), r.Step))
		}
		if len(r.Values) != t.dim {
			return nil, errors.Wrapf(errors.NewDimensionMismatch("row", len(r.Values), t.dim), "step %d", r.Step)
		}
		t.samples[i] = r.Values
	}
	return t, nil
}

// OpenTrajectory reads a trajectory Parquet file.
func OpenTrajectory(name, path string) (*Trajectory, error) {
	rows, err := parquet.ReadTrajectory(path)
	if err != nil {
		return nil, fmt.Errorf("read trajectory %s: %w", path, err)
	}
	return NewTrajectory(name, rows)
}

func (t *Trajectory) Name() string { return t.name }
func (t *Trajectory) Dim() int     { return t.dim }

// Len returns the number of recorded steps.
func (t *Trajectory) Len() int { return len(t.samples) }

func (t *Trajectory) Sample(step int64) ([]float64, error) {
	i := step - t.first
	if i < 0 || i >= int64(len(t.samples)) {
		return nil, errors.NewNotFound("trajectory step", fmt.Sprintf("%s@%d", t.name, step))
	}
	return t.samples[i], nil
}

// FromConfig builds an observable from its configuration.
func FromConfig(cfg config.ObservableConfig, timeStep float64) (Observable, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case config.KindBallistic:
		return NewBallistic(cfg.Name, cfg.Origin, cfg.Velocity, timeStep)
	case config.KindConstant:
		return NewConstant(cfg.Name, cfg.Value)
	case config.KindTrajectory:
		return OpenTrajectory(cfg.Name, cfg.Path)
	default:
		return nil, errors.NewInvalidValue("kind", cfg.Kind, "unknown observable kind")
	}
}

// Record samples obs for steps [0, steps) and writes them to a trajectory
// file.
func Record(obs Observable, path string, steps int64, opts parquet.Options) error {
	w, err := parquet.NewTrajectoryWriter(path, obs.Dim(), opts)
	if err != nil {
		return err
	}

	for step := int64(0); step < steps; step++ {
		x, err := obs.Sample(step)
		if err != nil {
			w.Close()
			return err
		}
		if err := w.Write(step, x); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
