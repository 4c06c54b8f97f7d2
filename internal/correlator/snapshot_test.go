package correlator

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/xtxerr/taucorr/internal/errors"
)

func feed(t *testing.T, c *Correlator, rng *rand.Rand, n int) {
	t.Helper()
	dim := c.Config().DimA
	for i := 0; i < n; i++ {
		x := make([]float64, dim)
		for k := range x {
			x[k] = rng.NormFloat64()
		}
		if err := c.Update(x); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
}

func snapshotConfig() Config {
	return Config{
		Operation: OpComponentwiseProduct,
		CompressB: CompressDiscard2,
		TauLin:    6,
		TauMax:    200,
		DeltaN:    3,
		TimeStep:  0.1,
		DimA:      2,
	}
}

func TestSnapshot_LoadContinuesIdentically(t *testing.T) {
	original := mustNew(t, snapshotConfig())
	feed(t, original, rand.New(rand.NewSource(3)), 1001) // leaves pending calls

	data, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !reflect.DeepEqual(restored.Result(), original.Result()) {
		t.Fatal("restored result differs")
	}
	if restored.Stats() != original.Stats() {
		t.Fatalf("restored stats differ: %+v vs %+v", restored.Stats(), original.Stats())
	}

	// Both must evolve identically from here.
	feed(t, original, rand.New(rand.NewSource(4)), 5000)
	feed(t, restored, rand.New(rand.NewSource(4)), 5000)

	if !reflect.DeepEqual(restored.Result(), original.Result()) {
		t.Error("results diverged after restore")
	}
	ra, rb := restored.Averages()
	oa, ob := original.Averages()
	if !reflect.DeepEqual(ra, oa) || !reflect.DeepEqual(rb, ob) {
		t.Error("averages diverged after restore")
	}
}

func TestSnapshot_RestoreIntoExisting(t *testing.T) {
	original := mustNew(t, snapshotConfig())
	feed(t, original, rand.New(rand.NewSource(5)), 700)

	data, err := original.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	target := mustNew(t, snapshotConfig())
	feed(t, target, rand.New(rand.NewSource(6)), 50)
	if err := target.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if !reflect.DeepEqual(target.Result(), original.Result()) {
		t.Error("restored result differs")
	}
}

func TestSnapshot_Finalized(t *testing.T) {
	c := mustNew(t, snapshotConfig())
	feed(t, c, rand.New(rand.NewSource(8)), 300)
	if err := c.Finalize(); err != nil {
		t.Fatal(err)
	}

	data, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}

	if !restored.Finalized() {
		t.Error("finalized flag lost")
	}
	if err := restored.Update([]float64{1, 2}); !errors.Is(err, errors.ErrFinalized) {
		t.Errorf("expected ErrFinalized, got %v", err)
	}
}

func TestSnapshot_Mismatch(t *testing.T) {
	c := mustNew(t, snapshotConfig())
	feed(t, c, rand.New(rand.NewSource(9)), 100)
	data, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	cfg := snapshotConfig()
	cfg.TauLin = 8
	cfg.DeltaN = 1
	target := mustNew(t, cfg)
	feed(t, target, rand.New(rand.NewSource(10)), 20)
	before := target.Result()

	err = target.Restore(data)
	if !errors.Is(err, errors.ErrSnapshotMismatch) {
		t.Fatalf("expected ErrSnapshotMismatch, got %v", err)
	}
	if !errors.IsSnapshotMismatch(err) {
		t.Error("IsSnapshotMismatch should match")
	}
	for _, field := range []string{"tau_lin", "delta_N"} {
		if !strings.Contains(err.Error(), field+":") {
			t.Errorf("error should name %s: %v", field, err)
		}
	}

	if !reflect.DeepEqual(target.Result(), before) {
		t.Error("failed restore modified the target")
	}
}

func TestSnapshot_Corrupt(t *testing.T) {
	c := mustNew(t, snapshotConfig())
	feed(t, c, rand.New(rand.NewSource(11)), 100)
	data, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string][]byte{
		"empty":     nil,
		"no header": []byte("not a snapshot"),
		"truncated": data[:len(data)-5],
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(input); !errors.Is(err, errors.ErrSnapshotCorrupt) {
				t.Errorf("Load: expected ErrSnapshotCorrupt, got %v", err)
			}

			target := mustNew(t, snapshotConfig())
			if err := target.Restore(input); !errors.IsSnapshotMismatch(err) {
				t.Errorf("Restore: expected snapshot error, got %v", err)
			}
		})
	}
}

func TestSnapshot_Decode(t *testing.T) {
	c := mustNew(t, snapshotConfig())
	feed(t, c, rand.New(rand.NewSource(12)), 60)

	data, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	var s Snapshot
	if err := s.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if !reflect.DeepEqual(&s, c.Snapshot()) {
		t.Error("decoded snapshot differs from captured state")
	}

	cfg, err := s.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg != c.Config() {
		t.Errorf("snapshot config %+v, want %+v", cfg, c.Config())
	}
}
