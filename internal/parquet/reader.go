package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ResultReader reads correlation tables from a Parquet file.
type ResultReader struct {
	file   *os.File
	reader *parquet.GenericReader[ResultRow]
	path   string
}

// NewResultReader creates a new result Parquet reader.
func NewResultReader(path string) (*ResultReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &ResultReader{
		file:   f,
		reader: parquet.NewGenericReader[ResultRow](f, parquet.ReadBufferSize(1024*1024)),
		path:   path,
	}, nil
}

// Read reads up to n rows from the file. It returns io.EOF once the file is
// exhausted.
func (r *ResultReader) Read(n int) ([]ResultRow, error) {
	rows := make([]ResultRow, n)
	count, err := r.reader.Read(rows)
	if count == 0 && err != nil {
		return nil, err
	}
	return rows[:count], nil
}

// ReadAll reads all rows from the file.
func (r *ResultReader) ReadAll() ([]ResultRow, error) {
	rows := make([]ResultRow, r.reader.NumRows())
	n, err := readFull(r.reader, rows)
	if err != nil {
		return nil, err
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *ResultReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *ResultReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *ResultReader) Path() string {
	return r.path
}

// ReadResults reads every row of a result file.
func ReadResults(path string) ([]ResultRow, error) {
	r, err := NewResultReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.ReadAll()
}

// ReadTrajectory reads a trajectory file written by TrajectoryWriter. The
// returned samples are ordered as stored; the caller maps steps to rows.
func ReadTrajectory(path string) ([]TrajectoryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[TrajectoryRow](f)
	defer reader.Close()

	rows := make([]TrajectoryRow, reader.NumRows())
	n, err := readFull(reader, rows)
	if err != nil {
		return nil, err
	}
	return rows[:n], nil
}

// readFull reads until rows is filled or the file ends.
func readFull[T any](reader *parquet.GenericReader[T], rows []T) (int, error) {
	total := 0
	for total < len(rows) {
		n, err := reader.Read(rows[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return total, fmt.Errorf("read rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
