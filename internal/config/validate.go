package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/logging"
	"github.com/xtxerr/taucorr/internal/validation"
)

// Validate checks the configuration for errors. Correlator parameters are
// checked with correlator.ParseParams whenever the observable widths are
// known without opening files.
func (c *Config) Validate() error {
	var errs []error

	if !(c.TimeStep > 0) || math.IsInf(c.TimeStep, 0) {
		errs = append(errs, errors.NewInvalidValue("time_step", c.TimeStep, "must be positive and finite"))
	}

	if c.Steps < 0 {
		errs = append(errs, errors.NewInvalidValue("steps", c.Steps, "must be non-negative"))
	}

	if err := c.validateObservables(); err != nil {
		errs = append(errs, fmt.Errorf("observables: %w", err))
	}

	if err := c.validateCorrelators(); err != nil {
		errs = append(errs, fmt.Errorf("correlators: %w", err))
	}

	if err := c.Output.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}

	if err := c.Percentile.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("percentile: %w", err))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %v: %w", err, errors.ErrInvalidConfig))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateObservables() error {
	var errs []error
	seen := make(map[string]bool)

	for i, o := range c.Observables {
		if err := o.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("[%d] %s: %w", i, o.Name, err))
		}
		if o.Name != "" {
			if seen[o.Name] {
				errs = append(errs, errors.NewAlreadyExists("observable", o.Name))
			}
			seen[o.Name] = true
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks one observable.
func (o *ObservableConfig) Validate() error {
	var errs []error

	if err := validation.ValidateObservableName(o.Name); err != nil {
		errs = append(errs, err)
	}

	switch o.Kind {
	case KindBallistic:
		if len(o.Velocity) == 0 {
			errs = append(errs, errors.NewValidation("velocity", "is required for a ballistic observable"))
		}
		if len(o.Origin) != 0 && len(o.Origin) != len(o.Velocity) {
			errs = append(errs, errors.NewValidation("origin",
				fmt.Sprintf("has %d components, velocity has %d", len(o.Origin), len(o.Velocity))))
		}
	case KindConstant:
		if len(o.Value) == 0 {
			errs = append(errs, errors.NewValidation("value", "is required for a constant observable"))
		}
	case KindTrajectory:
		if o.Path == "" {
			errs = append(errs, errors.NewValidation("path", "is required for a trajectory observable"))
		}
	default:
		errs = append(errs, errors.NewInvalidValue("kind", o.Kind,
			"must be one of: "+strings.Join([]string{KindBallistic, KindConstant, KindTrajectory}, ", ")))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateCorrelators() error {
	if len(c.Correlators) == 0 {
		return errors.NewValidation("correlators", "at least one correlator is required")
	}

	var errs []error
	seen := make(map[string]bool)

	for i, cc := range c.Correlators {
		if err := c.validateCorrelator(cc); err != nil {
			errs = append(errs, fmt.Errorf("[%d] %s: %w", i, cc.Name, err))
		}
		if cc.Name != "" {
			if seen[cc.Name] {
				errs = append(errs, errors.NewAlreadyExists("correlator", cc.Name))
			}
			seen[cc.Name] = true
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateCorrelator(cc CorrelatorConfig) error {
	var errs []error

	if err := validation.ValidateCorrelatorName(cc.Name); err != nil {
		errs = append(errs, err)
	}

	a, okA := c.Observable(cc.Observable)
	if !okA {
		errs = append(errs, errors.NewInvalidValue("observable", cc.Observable, "no such observable"))
	}

	b := a
	okB := okA
	if cc.ObservableB != "" {
		b, okB = c.Observable(cc.ObservableB)
		if !okB {
			errs = append(errs, errors.NewInvalidValue("observable_b", cc.ObservableB, "no such observable"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	// Trajectory widths are checked when the driver is built.
	if a.Dim() == 0 || b.Dim() == 0 {
		return nil
	}
	if _, err := correlator.ParseParams(c.CorrelatorParams(cc, a.Dim(), b.Dim())); err != nil {
		return err
	}
	return nil
}

// Validate checks the output configuration.
func (c *OutputConfig) Validate() error {
	var errs []error

	if c.Dir == "" {
		errs = append(errs, errors.NewValidation("dir", "is required"))
	}

	validCompression := map[string]bool{
		"zstd":   true,
		"snappy": true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty means none
	}
	if !validCompression[c.Compression] {
		errs = append(errs, errors.NewInvalidValue("compression", c.Compression,
			"must be one of: zstd, snappy, lz4, gzip, none"))
	}

	if c.CheckpointEvery < 0 {
		errs = append(errs, errors.NewInvalidValue("checkpoint_every", c.CheckpointEvery, "must be non-negative"))
	}
	if c.CheckpointEvery > 0 && c.CheckpointDir == "" {
		errs = append(errs, errors.NewValidation("checkpoint_dir", "is required when checkpoint_every is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the percentile configuration.
func (c *PercentileConfig) Validate() error {
	if c.Enabled && (c.Accuracy <= 0 || c.Accuracy >= 1) {
		return errors.NewInvalidValue("accuracy", c.Accuracy, "must be between 0 and 1")
	}
	return nil
}
