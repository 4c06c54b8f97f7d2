package correlator

import (
	"strings"
	"testing"

	"github.com/xtxerr/taucorr/internal/errors"
)

func validParams() map[string]any {
	return map[string]any{
		"operator": "square_distance_componentwise",
		"tau_lin":  16,
		"tau_max":  100.0,
		"delta_N":  2,
		"dim":      3,
	}
}

func TestParseParams_Valid(t *testing.T) {
	cfg, err := ParseParams(validParams())
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}

	if cfg.Operation != OpSquareDistanceComponentwise {
		t.Errorf("unexpected operation %v", cfg.Operation)
	}
	if cfg.TauLin != 16 || cfg.TauMax != 100 || cfg.DeltaN != 2 || cfg.DimA != 3 {
		t.Errorf("unexpected config %+v", cfg)
	}

	// Defaults
	if cfg.DimB != 3 || cfg.TimeStep != 1 || cfg.CompressA != CompressLinear || cfg.CompressB != CompressLinear {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestParseParams_MissingKeys(t *testing.T) {
	params := map[string]any{
		"operator": "scalar_product",
		"tau_lin":  8,
	}

	_, err := ParseParams(params)
	if !errors.Is(err, errors.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if !errors.IsValidation(err) {
		t.Error("missing keys should be a validation error")
	}

	msg := err.Error()
	for _, key := range []string{"tau_max", "delta_N", "dim", "allowed:", "given:"} {
		if !strings.Contains(msg, key) {
			t.Errorf("error should mention %q: %s", key, msg)
		}
	}
}

func TestParseParams_UnknownKeys(t *testing.T) {
	params := validParams()
	params["tau_min"] = 1

	_, err := ParseParams(params)
	if !errors.Is(err, errors.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if errors.Is(err, errors.ErrMissingField) {
		t.Error("no key is missing")
	}
	if !strings.Contains(err.Error(), "unknown keys: [tau_min]") {
		t.Errorf("error should name the unknown key: %v", err)
	}
}

func TestParseParams_BadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"fractional tau_lin", "tau_lin", 2.5},
		{"string tau_max", "tau_max", "long"},
		{"unknown operator", "operator", "laplacian"},
		{"odd tau_lin", "tau_lin", 7},
		{"zero delta_N", "delta_N", 0},
		{"bad compression", "compress_a", "gzip"},
		{"short args", "args", []any{1.0, 2.0}},
		{"zero dim_b", "dim_b", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			params[tt.key] = tt.value

			_, err := ParseParams(params)
			if !errors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseParams_NumericTypes(t *testing.T) {
	params := validParams()
	params["tau_lin"] = int64(8)
	params["tau_max"] = 50 // int accepted for a float key
	params["delta_N"] = 1.0
	params["dim"] = uint32(6)
	params["operator"] = "fcs_acf"
	params["args"] = []any{1, 2.0, 4}

	cfg, err := ParseParams(params)
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if cfg.TauLin != 8 || cfg.TauMax != 50 || cfg.DeltaN != 1 || cfg.DimA != 6 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Args != [3]float64{1, 2, 4} {
		t.Errorf("unexpected args %v", cfg.Args)
	}
}

func TestParseParams_IntegerWidths(t *testing.T) {
	tests := []struct {
		name   string
		tauLin any
		tauMax any
	}{
		{"int", int(10), int(100)},
		{"int8", int8(10), int8(100)},
		{"int16", int16(10), int16(100)},
		{"int32", int32(10), int32(100)},
		{"int64", int64(10), int64(100)},
		{"uint", uint(10), uint(100)},
		{"uint8", uint8(10), uint8(100)},
		{"uint16", uint16(10), uint16(100)},
		{"uint32", uint32(10), uint32(100)},
		{"uint64", uint64(10), uint64(100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			params["tau_lin"] = tt.tauLin
			params["tau_max"] = tt.tauMax

			cfg, err := ParseParams(params)
			if err != nil {
				t.Fatalf("ParseParams: %v", err)
			}
			if cfg.TauLin != 10 || cfg.TauMax != 100 {
				t.Errorf("got tau_lin %d tau_max %g", cfg.TauLin, cfg.TauMax)
			}
		})
	}
}

func TestConfig_ParamsRoundTrip(t *testing.T) {
	cfg := Config{
		Operation: OpTensorProduct,
		CompressA: CompressDiscard1,
		CompressB: CompressDiscard2,
		TauLin:    4,
		TauMax:    20,
		DeltaN:    3,
		TimeStep:  0.5,
		DimA:      2,
		DimB:      3,
	}

	got, err := ParseParams(cfg.Params())
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if got != cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestNewFromParams(t *testing.T) {
	c, err := NewFromParams(validParams())
	if err != nil {
		t.Fatalf("NewFromParams: %v", err)
	}
	if c.Dt() != 2 {
		t.Errorf("expected dt=2, got %g", c.Dt())
	}

	params := validParams()
	delete(params, "operator")
	if _, err := NewFromParams(params); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}
