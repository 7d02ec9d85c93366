package leak

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the engine's public operations.
var (
	// ErrRuntimeTrackingDisabled is returned by runtime analysis when the
	// process-side resource registry was never enabled.
	ErrRuntimeTrackingDisabled = errors.New("runtime leak tracking is disabled")

	// ErrSnapshotNotFound is returned when a snapshot id is not present in
	// the snapshot store. Referencing an unknown snapshot is a programmer
	// error and is surfaced immediately rather than recovered.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// ValidationCode classifies why a fix failed validation.
type ValidationCode string

const (
	ValidationInvalidSyntax ValidationCode = "INVALID_SYNTAX"
	ValidationFileNotFound  ValidationCode = "FILE_NOT_FOUND"
	ValidationError         ValidationCode = "VALIDATION_ERROR"
)

// FixValidationError reports a single fix that failed validation. The
// batch keeps going; these are collected, never thrown past the batch.
type FixValidationError struct {
	FixID   string         `json:"fixId"`
	Code    ValidationCode `json:"code"`
	Message string         `json:"message"`
}

func (e *FixValidationError) Error() string {
	return fmt.Sprintf("fix %s: %s: %s", e.FixID, e.Code, e.Message)
}

// AnalysisError wraps a per-file failure (parse error, timeout). It is
// caught at the scan boundary and yields an empty report list for the
// file; it never aborts a project-wide scan.
type AnalysisError struct {
	File string
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis of %s failed: %v", e.File, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// ConfigurationError reports a configuration value outside its documented
// range. Raised eagerly at construction time; values are never silently
// clamped.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s = %v (%s)", e.Field, e.Value, e.Reason)
}
