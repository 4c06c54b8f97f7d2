// Package validation checks user-supplied names. Correlator names become
// result and snapshot file names, so they must be safe path components.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xtxerr/taucorr/internal/errors"
)

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// ObservableNameRules returns the rules for observable names.
func ObservableNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// CorrelatorNameRules returns the rules for correlator names. Dots are
// allowed inside the name; the file suffix is added separately.
func CorrelatorNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    200,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules. The error
// wraps ErrInvalidConfig.
func ValidateName(field, name string, rules NameRules) error {
	if err := checkName(name, rules); err != nil {
		return errors.NewInvalidValue(field, name, err.Error())
	}
	return nil
}

func checkName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("too short: minimum %d characters", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("too long: maximum %d characters", rules.MaxLength)
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("control character at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("path separator at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// ValidateCorrelatorName validates a correlator name.
func ValidateCorrelatorName(name string) error {
	return ValidateName("name", name, CorrelatorNameRules())
}

// ValidateObservableName validates an observable name.
func ValidateObservableName(name string) error {
	return ValidateName("name", name, ObservableNameRules())
}
