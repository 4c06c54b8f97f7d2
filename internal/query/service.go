// Package query runs SQL over exported result tables with DuckDB.
//
// Every Parquet file of a result directory is exposed as one view named
// "results" with the columns of parquet.ResultRow.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/marcboeker/go-duckdb"

	defaults "github.com/xtxerr/taucorr/config"
	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/logging"
	"github.com/xtxerr/taucorr/internal/parquet"
)

var log = logging.Component("query")

// Options configures the query service.
type Options struct {
	// MemoryLimit caps DuckDB memory, e.g. "1GB". Empty keeps the default.
	MemoryLimit string

	// View names the view over the result files.
	View string
}

// DefaultOptions returns the default query options.
func DefaultOptions() Options {
	return Options{
		MemoryLimit: defaults.DefaultQueryMemoryLimit,
		View:        defaults.DefaultResultsView,
	}
}

// Service provides SQL access to a directory of result tables.
type Service struct {
	mu sync.RWMutex

	dir  string
	view string
	db   *sql.DB

	queries atomic.Int64
	rows    atomic.Int64
	errors  atomic.Int64
}

// Open opens an in-memory DuckDB database over the result files in dir.
// A directory without result files yields ErrNotFound.
func Open(ctx context.Context, dir string, opts Options) (*Service, error) {
	if opts.View == "" {
		opts.View = defaults.DefaultResultsView
	}

	pattern := filepath.Join(dir, "*"+defaults.DefaultResultFileSuffix)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list result files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.NewNotFound("result files", pattern)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if opts.MemoryLimit != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET memory_limit=%s", quote(opts.MemoryLimit))); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	view := fmt.Sprintf("CREATE VIEW %q AS SELECT * FROM read_parquet(%s)", opts.View, quote(pattern))
	if _, err := db.ExecContext(ctx, view); err != nil {
		db.Close()
		return nil, fmt.Errorf("create view: %w", err)
	}

	log.Debug("query service opened", "dir", dir, "files", len(files), "view", opts.View)
	return &Service{dir: dir, view: opts.View, db: db}, nil
}

// Close closes the database.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Correlators returns the names of the correlators in the result files.
func (s *Service) Correlators(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT correlator FROM %q ORDER BY correlator", s.view))
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("query correlators: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		names = append(names, name)
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(names)))
	return names, rows.Err()
}

// Correlation returns the correlation table of the named correlator in
// ascending lag order.
func (s *Service) Correlation(ctx context.Context, name string) ([]correlator.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT correlator, lag, tau, count, component, value
		FROM %q
		WHERE correlator = $1
		ORDER BY lag, component
	`, s.view)

	rows, err := s.db.QueryContext(ctx, query, name)
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("query correlation: %w", err)
	}
	defer rows.Close()

	var results []parquet.ResultRow
	for rows.Next() {
		var r parquet.ResultRow
		if err := rows.Scan(&r.Correlator, &r.Lag, &r.Tau, &r.Count, &r.Component, &r.Value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(results)))

	if len(results) == 0 {
		return nil, errors.NewNotFound("correlator", name)
	}
	return parquet.CorrelationRows(results), nil
}

// Query executes an ad-hoc SQL statement and returns every row as a map
// from column name to value.
func (s *Service) Query(ctx context.Context, query string) ([]string, []map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.errors.Add(1)
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.queries.Add(1)
	s.rows.Add(int64(len(results)))
	return columns, results, rows.Err()
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	return Stats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		Errors:          s.errors.Load(),
	}
}

// Stats holds service statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// quote returns s as a SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
