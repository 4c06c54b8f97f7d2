package query

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xtxerr/taucorr/internal/correlator"
	"github.com/xtxerr/taucorr/internal/errors"
	"github.com/xtxerr/taucorr/internal/parquet"
)

func writeTables(t *testing.T) (string, map[string][]correlator.Row) {
	t.Helper()
	dir := t.TempDir()

	tables := map[string][]correlator.Row{
		"msd": {
			{Lag: 0, Tau: 0, Count: 100, Values: []float64{0, 0}},
			{Lag: 1, Tau: 0.5, Count: 99, Values: []float64{0.25, 1}},
			{Lag: 4, Tau: 2, Count: 40, Values: []float64{4, 16}},
		},
		"vacf": {
			{Lag: 0, Tau: 0, Count: 10, Values: []float64{14}},
			{Lag: 2, Tau: 1, Count: 8, Values: []float64{13.5}},
		},
	}
	for name, rows := range tables {
		path := filepath.Join(dir, name+".parquet")
		if err := parquet.WriteResults(path, name, rows, parquet.DefaultOptions()); err != nil {
			t.Fatalf("WriteResults: %v", err)
		}
	}
	return dir, tables
}

func openService(t *testing.T, dir string) *Service {
	t.Helper()
	svc, err := Open(context.Background(), dir, DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestService_Open(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), DefaultOptions())
	if !errors.IsNotFound(err) {
		t.Errorf("expected not found for empty dir, got %v", err)
	}

	dir, _ := writeTables(t)
	svc := openService(t, dir)

	// Close is idempotent.
	if err := svc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestService_Correlators(t *testing.T) {
	dir, _ := writeTables(t)
	svc := openService(t, dir)

	names, err := svc.Correlators(context.Background())
	if err != nil {
		t.Fatalf("Correlators: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"msd", "vacf"}) {
		t.Errorf("unexpected names %v", names)
	}
}

func TestService_Correlation(t *testing.T) {
	dir, tables := writeTables(t)
	svc := openService(t, dir)
	ctx := context.Background()

	for name, want := range tables {
		got, err := svc.Correlation(ctx, name)
		if err != nil {
			t.Fatalf("Correlation(%s): %v", name, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: got %+v, want %+v", name, got, want)
		}
	}

	if _, err := svc.Correlation(ctx, "missing"); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_Query(t *testing.T) {
	dir, _ := writeTables(t)
	svc := openService(t, dir)

	columns, results, err := svc.Query(context.Background(),
		"SELECT correlator, count(*) AS n FROM results GROUP BY correlator ORDER BY correlator")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !reflect.DeepEqual(columns, []string{"correlator", "n"}) {
		t.Errorf("unexpected columns %v", columns)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(results))
	}
	if results[0]["correlator"] != "msd" || results[0]["n"] != int64(6) {
		t.Errorf("unexpected first row %v", results[0])
	}

	if _, _, err := svc.Query(context.Background(), "SELECT * FROM nowhere"); err == nil {
		t.Error("expected error for unknown table")
	}

	stats := svc.Stats()
	if stats.QueriesExecuted != 1 || stats.RowsReturned != 2 || stats.Errors != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
