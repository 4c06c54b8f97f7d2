// Package errors holds the error definitions shared by every taucorr package.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - CLI exit code mapping
// - Error wrapping utilities
// - A collector for multi-key validation failures

package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// Process exit codes - returned by the taucorr CLI
// ============================================================================

const (
	ExitOK                = 0
	ExitInternal          = 1
	ExitInvalidConfig     = 2
	ExitDimensionMismatch = 3
	ExitSnapshotMismatch  = 4
	ExitNotFound          = 5
	ExitFinalized         = 6
)

// ExitName returns a human-readable name for an exit code.
func ExitName(code int) string {
	switch code {
	case ExitOK:
		return "OK"
	case ExitInternal:
		return "Internal"
	case ExitInvalidConfig:
		return "InvalidConfig"
	case ExitDimensionMismatch:
		return "DimensionMismatch"
	case ExitSnapshotMismatch:
		return "SnapshotMismatch"
	case ExitNotFound:
		return "NotFound"
	case ExitFinalized:
		return "Finalized"
	default:
		return fmt.Sprintf("Exit(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Construction errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required key")
	ErrUnknownField  = errors.New("unknown key")

	// Update errors
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrFinalized         = errors.New("correlator is finalized")

	// Snapshot errors
	ErrSnapshotMismatch = errors.New("snapshot mismatch")
	ErrSnapshotCorrupt  = errors.New("snapshot corrupt")

	// Lookup errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsValidation returns true if err rejects construction parameters.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownField)
}

// IsDimensionMismatch returns true if a sample had the wrong shape.
func IsDimensionMismatch(err error) bool {
	return errors.Is(err, ErrDimensionMismatch)
}

// IsSnapshotMismatch returns true if a snapshot could not be restored.
func IsSnapshotMismatch(err error) bool {
	return errors.Is(err, ErrSnapshotMismatch) ||
		errors.Is(err, ErrSnapshotCorrupt)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ============================================================================
// Error to exit code mapping
// ============================================================================

// ExitCode maps an error to the CLI exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsValidation(err):
		return ExitInvalidConfig
	case IsDimensionMismatch(err):
		return ExitDimensionMismatch
	case IsSnapshotMismatch(err):
		return ExitSnapshotMismatch
	case IsNotFound(err):
		return ExitNotFound
	case Is(err, ErrFinalized):
		return ExitFinalized
	default:
		return ExitInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewAlreadyExists creates an already-exists error with context.
func NewAlreadyExists(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrAlreadyExists)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewDimensionMismatch reports a vector of the wrong width.
func NewDimensionMismatch(what string, got, want int) error {
	return fmt.Errorf("%s has %d components, expected %d: %w", what, got, want, ErrDimensionMismatch)
}

// NewSnapshotMismatch reports a snapshot whose recorded configuration differs
// from the restore target.
func NewSnapshotMismatch(field string, snapshot, target interface{}) error {
	return fmt.Errorf("%s: snapshot has %v, target has %v: %w", field, snapshot, target, ErrSnapshotMismatch)
}

// NewKeySetError describes a keyword set violation, listing the allowed,
// given, missing and unknown keys. It wraps ErrMissingField and/or
// ErrUnknownField, both of which count as validation errors.
func NewKeySetError(allowed, given, missing, unknown []string) error {
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}

	var parts []string
	var sentinels []error
	if len(missing) > 0 {
		parts = append(parts, "missing keys: "+joinSorted(missing))
		sentinels = append(sentinels, ErrMissingField)
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown keys: "+joinSorted(unknown))
		sentinels = append(sentinels, ErrUnknownField)
	}
	parts = append(parts, "allowed: "+joinSorted(allowed), "given: "+joinSorted(given))

	return &keySetError{msg: strings.Join(parts, "; "), sentinels: sentinels}
}

type keySetError struct {
	msg       string
	sentinels []error
}

func (e *keySetError) Error() string { return e.msg }

// Unwrap exposes the sentinels for errors.Is; ErrInvalidConfig is always
// included.
func (e *keySetError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.sentinels...)
}

func joinSorted(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return "[" + strings.Join(sorted, ", ") + "]"
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns all collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
