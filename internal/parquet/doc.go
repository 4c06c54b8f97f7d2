// Package parquet implements Parquet file reading and writing for
// correlation tables and observable trajectories.
//
// The package provides:
//   - ResultWriter/ResultReader for correlation tables, one row per
//     (correlator, lag, component)
//   - TrajectoryWriter/ReadTrajectory for recorded observables
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Conversion between correlator rows and Parquet rows
package parquet
