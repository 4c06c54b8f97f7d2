package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/taucorr/internal/correlator"
)

// Options configures the Parquet writers.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int64
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

func writerOptions(opts Options) []parquet.WriterOption {
	wo := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.RowGroupSize > 0 {
		wo = append(wo, parquet.MaxRowsPerRowGroup(opts.RowGroupSize))
	}
	return wo
}

// ResultRow is one value of a correlation table in Parquet format: the
// component-th output of the correlator at one lag.
type ResultRow struct {
	Correlator string  `parquet:"correlator,dict"`
	Lag        int64   `parquet:"lag"`
	Tau        float64 `parquet:"tau"`
	Count      int64   `parquet:"count"`
	Component  int32   `parquet:"component"`
	Value      float64 `parquet:"value"`
}

// ResultRows flattens a correlation table into Parquet rows, one per
// (lag, component).
func ResultRows(name string, rows []correlator.Row) []ResultRow {
	var out []ResultRow
	for _, r := range rows {
		for k, v := range r.Values {
			out = append(out, ResultRow{
				Correlator: name,
				Lag:        r.Lag,
				Tau:        r.Tau,
				Count:      int64(r.Count),
				Component:  int32(k),
				Value:      v,
			})
		}
	}
	return out
}

// CorrelationRows groups Parquet rows of a single correlator back into a
// correlation table. Input order is kept for lags; components are placed by
// index.
func CorrelationRows(rows []ResultRow) []correlator.Row {
	var out []correlator.Row
	index := make(map[int64]int)

	for _, r := range rows {
		i, ok := index[r.Lag]
		if !ok {
			i = len(out)
			index[r.Lag] = i
			out = append(out, correlator.Row{
				Tau:   r.Tau,
				Lag:   r.Lag,
				Count: uint64(r.Count),
			})
		}
		row := &out[i]
		for int(r.Component) >= len(row.Values) {
			row.Values = append(row.Values, 0)
		}
		row.Values[r.Component] = r.Value
	}
	return out
}

// ResultWriter writes correlation tables to a Parquet file.
type ResultWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ResultRow]
	rowCount int64
	closed   bool
}

// NewResultWriter creates a new result Parquet writer.
func NewResultWriter(path string, opts Options) (*ResultWriter, error) {
	f, err := create(path)
	if err != nil {
		return nil, err
	}

	return &ResultWriter{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[ResultRow](f, writerOptions(opts)...),
	}, nil
}

// Write appends the table of the named correlator.
func (w *ResultWriter) Write(name string, rows []correlator.Row) error {
	return w.WriteRows(ResultRows(name, rows))
}

// WriteRows appends rows to the Parquet file.
func (w *ResultWriter) WriteRows(rows []ResultRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes and closes the writer.
func (w *ResultWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *ResultWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *ResultWriter) Path() string {
	return w.path
}

// WriteResults writes one correlator's table to path in a single call.
func WriteResults(path, name string, rows []correlator.Row, opts Options) error {
	w, err := NewResultWriter(path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(name, rows); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// TrajectoryRow is one sample of a recorded observable.
type TrajectoryRow struct {
	Step   int64     `parquet:"step"`
	Values []float64 `parquet:"values,list"`
}

// TrajectoryWriter records an observable, one row per step.
type TrajectoryWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[TrajectoryRow]
	dim      int
	rowCount int64
	closed   bool
}

// NewTrajectoryWriter creates a trajectory writer for vectors of width dim.
func NewTrajectoryWriter(path string, dim int, opts Options) (*TrajectoryWriter, error) {
	f, err := create(path)
	if err != nil {
		return nil, err
	}

	return &TrajectoryWriter{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[TrajectoryRow](f, writerOptions(opts)...),
		dim:    dim,
	}, nil
}

// Write appends the sample for step.
func (w *TrajectoryWriter) Write(step int64, values []float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if len(values) != w.dim {
		return fmt.Errorf("trajectory sample has %d components, expected %d", len(values), w.dim)
	}

	row := TrajectoryRow{Step: step, Values: append([]float64(nil), values...)}
	if _, err := w.writer.Write([]TrajectoryRow{row}); err != nil {
		return fmt.Errorf("write row: %w", err)
	}

	w.rowCount++
	return nil
}

// Close flushes and closes the writer.
func (w *TrajectoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *TrajectoryWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

func create(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return f, nil
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
