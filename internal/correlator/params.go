package correlator

import (
	"fmt"
	"math"
	"sort"

	"github.com/xtxerr/taucorr/internal/errors"
)

// Parameter keys accepted by ParseParams.
const (
	KeyOperator  = "operator"
	KeyTauLin    = "tau_lin"
	KeyTauMax    = "tau_max"
	KeyDeltaN    = "delta_N"
	KeyDim       = "dim"
	KeyDimB      = "dim_b"
	KeyCompressA = "compress_a"
	KeyCompressB = "compress_b"
	KeyTimeStep  = "time_step"
	KeyArgs      = "args"
)

// RequiredKeys returns the keys every parameter set must contain.
func RequiredKeys() []string {
	return []string{KeyOperator, KeyTauLin, KeyTauMax, KeyDeltaN, KeyDim}
}

// OptionalKeys returns the keys a parameter set may contain.
func OptionalKeys() []string {
	return []string{KeyDimB, KeyCompressA, KeyCompressB, KeyTimeStep, KeyArgs}
}

// AllowedKeys returns the union of required and optional keys.
func AllowedKeys() []string {
	return append(RequiredKeys(), OptionalKeys()...)
}

// ParseParams converts a keyword parameter set, as read from a config file,
// into a validated Config. Unknown and missing keys are reported together
// with the allowed and given key sets. Numeric values may be any Go integer
// or float type; integer keys reject fractional values.
func ParseParams(params map[string]any) (Config, error) {
	given := make([]string, 0, len(params))
	for k := range params {
		given = append(given, k)
	}
	sort.Strings(given)

	allowed := make(map[string]bool)
	for _, k := range AllowedKeys() {
		allowed[k] = true
	}

	var missing, unknown []string
	for _, k := range RequiredKeys() {
		if _, ok := params[k]; !ok {
			missing = append(missing, k)
		}
	}
	for _, k := range given {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if err := errors.NewKeySetError(AllowedKeys(), given, missing, unknown); err != nil {
		return Config{}, err
	}

	var cfg Config
	errs := errors.NewValidationErrors()

	if name, err := stringParam(params, KeyOperator); err != nil {
		errs.Add(err)
	} else if op, err := ParseOperation(name); err != nil {
		errs.Add(err)
	} else {
		cfg.Operation = op
	}

	var err error
	if cfg.TauLin, err = intParam(params, KeyTauLin); err != nil {
		errs.Add(err)
	}
	if cfg.TauMax, err = floatParam(params, KeyTauMax); err != nil {
		errs.Add(err)
	}
	if cfg.DeltaN, err = intParam(params, KeyDeltaN); err != nil {
		errs.Add(err)
	}
	if cfg.DimA, err = intParam(params, KeyDim); err != nil {
		errs.Add(err)
	}

	if _, ok := params[KeyDimB]; ok {
		if cfg.DimB, err = intParam(params, KeyDimB); err != nil {
			errs.Add(err)
		} else if cfg.DimB < 1 {
			errs.Add(errors.NewInvalidValue(KeyDimB, cfg.DimB, "must be >= 1"))
		}
	}

	if _, ok := params[KeyTimeStep]; ok {
		if cfg.TimeStep, err = floatParam(params, KeyTimeStep); err != nil {
			errs.Add(err)
		} else if !(cfg.TimeStep > 0) {
			errs.Add(errors.NewInvalidValue(KeyTimeStep, cfg.TimeStep, "must be positive"))
		}
	}

	for _, key := range []string{KeyCompressA, KeyCompressB} {
		if _, ok := params[key]; !ok {
			continue
		}
		name, err := stringParam(params, key)
		if err != nil {
			errs.Add(err)
			continue
		}
		c, err := ParseCompression(name)
		if err != nil {
			errs.Add(errors.Wrap(err, key))
			continue
		}
		if key == KeyCompressA {
			cfg.CompressA = c
		} else {
			cfg.CompressB = c
		}
	}

	if _, ok := params[KeyArgs]; ok {
		if cfg.Args, err = argsParam(params, KeyArgs); err != nil {
			errs.Add(err)
		}
	}

	if errs.HasErrors() {
		return Config{}, errs.Err()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// NewFromParams parses params and constructs a Correlator.
func NewFromParams(params map[string]any) (*Correlator, error) {
	cfg, err := ParseParams(params)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Params returns the keyword form of the configuration. ParseParams(Params())
// yields an equivalent Config.
func (c Config) Params() map[string]any {
	c = c.withDefaults()
	return map[string]any{
		KeyOperator:  c.Operation.String(),
		KeyTauLin:    c.TauLin,
		KeyTauMax:    c.TauMax,
		KeyDeltaN:    c.DeltaN,
		KeyDim:       c.DimA,
		KeyDimB:      c.DimB,
		KeyCompressA: c.CompressA.String(),
		KeyCompressB: c.CompressB.String(),
		KeyTimeStep:  c.TimeStep,
		KeyArgs:      []float64{c.Args[0], c.Args[1], c.Args[2]},
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	s, ok := params[key].(string)
	if !ok {
		return "", errors.NewInvalidValue(key, params[key], "must be a string")
	}
	return s, nil
}

func intParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		if v > math.MaxInt32 {
			return 0, errors.NewInvalidValue(key, v, "out of range")
		}
		return int(v), nil
	case float32:
		return intFromFloat(key, float64(v))
	case float64:
		return intFromFloat(key, v)
	default:
		return 0, errors.NewInvalidValue(key, params[key], "must be an integer")
	}
}

func intFromFloat(key string, f float64) (int, error) {
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, errors.NewInvalidValue(key, f, "must be an integer")
	}
	return int(f), nil
}

func floatParam(params map[string]any, key string) (float64, error) {
	f, ok := toFloat(params[key])
	if !ok {
		return 0, errors.NewInvalidValue(key, params[key], "must be a number")
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}

func argsParam(params map[string]any, key string) ([3]float64, error) {
	var out [3]float64
	var values []float64

	switch v := params[key].(type) {
	case [3]float64:
		return v, nil
	case []float64:
		values = v
	case []any:
		for i, x := range v {
			f, ok := toFloat(x)
			if !ok {
				return out, errors.NewInvalidValue(fmt.Sprintf("%s[%d]", key, i), x, "must be a number")
			}
			values = append(values, f)
		}
	default:
		return out, errors.NewInvalidValue(key, params[key], "must be a list of 3 numbers")
	}

	if len(values) != 3 {
		return out, errors.NewInvalidValue(key, values, "must be a list of 3 numbers")
	}
	copy(out[:], values)
	return out, nil
}
