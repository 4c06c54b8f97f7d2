// Package config provides configuration defaults for the taucorr
// application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values in the run configuration file or with
// command line flags.
package config

// =============================================================================
// Run Defaults
// =============================================================================

const (
	// DefaultTimeStep is the simulation time between two driver steps.
	// Override via config: time_step
	DefaultTimeStep = 0.01

	// DefaultSteps is the number of driver steps of a run.
	// Override via config: steps, or --steps
	DefaultSteps = 10000

	// DefaultCheckpointEvery disables periodic checkpoints. A final
	// checkpoint is still written when a checkpoint directory is set.
	// Override via config: output.checkpoint_every
	DefaultCheckpointEvery = 0
)

// =============================================================================
// Output Defaults
// =============================================================================

const (
	// DefaultOutputDir receives result tables.
	// Override via config: output.dir, or --out
	DefaultOutputDir = "results"

	// DefaultParquetCompression is the codec for result and trajectory files.
	// One of: zstd, snappy, lz4, gzip, none.
	// Override via config: output.compression
	DefaultParquetCompression = "zstd"

	// DefaultResultFileSuffix names result tables: <correlator>.parquet.
	DefaultResultFileSuffix = ".parquet"

	// DefaultSnapshotFileSuffix names checkpoints: <correlator>.tauc.
	DefaultSnapshotFileSuffix = ".tauc"
)

// =============================================================================
// Summary Defaults
// =============================================================================

const (
	// DefaultPercentileAccuracy is the DDSketch relative accuracy of the
	// observable summaries (0.01 = 1% error).
	// Override via config: percentile.accuracy
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryMemoryLimit is the DuckDB memory limit for the query command.
	// Override via --memory-limit
	DefaultQueryMemoryLimit = "1GB"

	// DefaultResultsView is the SQL view over all exported result tables.
	DefaultResultsView = "results"
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is one of debug, info, warn, error.
	// Override via config: log.level, or --log-level
	DefaultLogLevel = "info"
)
