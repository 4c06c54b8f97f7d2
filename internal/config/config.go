// Package config loads the YAML run configuration: the observables to
// sample, the correlators fed from them and where results go.
//
// Example:
//
//	time_step: 0.01
//	steps: 20000
//	observables:
//	  - name: pos
//	    kind: ballistic
//	    velocity: [1, 2, 3]
//	correlators:
//	  - name: msd
//	    observable: pos
//	    operator: square_distance_componentwise
//	    tau_lin: 16
//	    tau_max: 100
//	    delta_N: 1
//	output:
//	  dir: results
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/taucorr/config"
	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
)

// Observable kinds.
const (
	KindBallistic  = "ballistic"
	KindConstant   = "constant"
	KindTrajectory = "trajectory"
)

// Config represents a complete run configuration.
type Config struct {
	// TimeStep is the simulation time between two driver steps.
	TimeStep float64 `yaml:"time_step"`

	// Steps is the number of driver steps to run.
	Steps int `yaml:"steps"`

	// Observables are the sampled quantities.
	Observables []ObservableConfig `yaml:"observables"`

	// Correlators are updated from the observables every step.
	Correlators []CorrelatorConfig `yaml:"correlators"`

	// Output configures result tables, checkpoints and metrics.
	Output OutputConfig `yaml:"output"`

	// Percentile configures DDSketch summaries of the observables.
	Percentile PercentileConfig `yaml:"percentile"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// ObservableConfig describes one observable.
type ObservableConfig struct {
	Name string `yaml:"name"`

	// Kind is one of: ballistic, constant, trajectory.
	Kind string `yaml:"kind"`

	// Origin and Velocity define a ballistic observable:
	// x(step) = origin + velocity*step*time_step. Origin defaults to zero.
	Origin   []float64 `yaml:"origin"`
	Velocity []float64 `yaml:"velocity"`

	// Value is the vector returned by a constant observable.
	Value []float64 `yaml:"value"`

	// Path is the Parquet trajectory file read by a trajectory observable.
	Path string `yaml:"path"`
}

// Dim returns the width of the observable, or 0 if it is only known once
// the trajectory file is opened.
func (o *ObservableConfig) Dim() int {
	switch o.Kind {
	case KindBallistic:
		return len(o.Velocity)
	case KindConstant:
		return len(o.Value)
	default:
		return 0
	}
}

// CorrelatorConfig describes one correlator. All keys other than name,
// observable and observable_b are correlator parameters, validated by
// correlator.ParseParams.
type CorrelatorConfig struct {
	Name string `yaml:"name"`

	// Observable feeds A (and B, unless ObservableB is set).
	Observable string `yaml:"observable"`

	// ObservableB feeds B for a cross-correlation.
	ObservableB string `yaml:"observable_b,omitempty"`

	Params map[string]any `yaml:",inline"`
}

// OutputConfig configures outputs.
type OutputConfig struct {
	// Dir receives one Parquet result table per correlator.
	Dir string `yaml:"dir"`

	// Compression is the Parquet codec: zstd, snappy, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// CheckpointDir receives correlator snapshots. Empty disables checkpoints.
	CheckpointDir string `yaml:"checkpoint_dir"`

	// CheckpointEvery writes a checkpoint every N steps. Zero writes only
	// the final checkpoint.
	CheckpointEvery int `yaml:"checkpoint_every"`

	// MetricsFile receives Prometheus text metrics at the end of a run.
	MetricsFile string `yaml:"metrics_file"`

	// Finalize drains the correlators before export.
	Finalize bool `yaml:"finalize"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration. Unknown keys outside the
// correlator entries are rejected.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config file: %v: %w", err, errors.ErrInvalidConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults and no
// observables or correlators.
func DefaultConfig() *Config {
	return &Config{
		TimeStep: defaults.DefaultTimeStep,
		Steps:    defaults.DefaultSteps,
		Output: OutputConfig{
			Dir:             defaults.DefaultOutputDir,
			Compression:     defaults.DefaultParquetCompression,
			CheckpointEvery: defaults.DefaultCheckpointEvery,
		},
		Percentile: PercentileConfig{
			Enabled:  true,
			Accuracy: defaults.DefaultPercentileAccuracy,
		},
		Log: LogConfig{
			Level: defaults.DefaultLogLevel,
		},
	}
}

// Observable returns the observable with the given name.
func (c *Config) Observable(name string) (ObservableConfig, bool) {
	for _, o := range c.Observables {
		if o.Name == name {
			return o, true
		}
	}
	return ObservableConfig{}, false
}

// CorrelatorParams returns the keyword parameters of cc with the values
// implied by the run filled in: dim and dim_b from the observable widths and
// time_step from the run. Explicit keys are left alone.
func (c *Config) CorrelatorParams(cc CorrelatorConfig, dimA, dimB int) map[string]any {
	params := make(map[string]any, len(cc.Params)+3)
	for k, v := range cc.Params {
		params[k] = v
	}

	if _, ok := params[correlator.KeyDim]; !ok {
		params[correlator.KeyDim] = dimA
	}
	if cc.ObservableB != "" {
		if _, ok := params[correlator.KeyDimB]; !ok {
			params[correlator.KeyDimB] = dimB
		}
	}
	if _, ok := params[correlator.KeyTimeStep]; !ok {
		params[correlator.KeyTimeStep] = c.TimeStep
	}
	return params
}
