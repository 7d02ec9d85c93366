package fix

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"leakhound/internal/leak"
)

// ValidationResult is the outcome of a fix-validation batch. The batch
// always completes: every fix lands in exactly one of applied, failed,
// or skipped, and per-fix errors are collected rather than thrown.
type ValidationResult struct {
	Fixes struct {
		Applied []leak.Fix `json:"applied"`
		Failed  []leak.Fix `json:"failed"`
		Skipped []leak.Fix `json:"skipped"`
	} `json:"fixes"`
	Errors   []leak.FixValidationError `json:"errors"`
	Warnings []string                  `json:"warnings"`
	Summary  string                    `json:"summary"`
}

// Validator checks fix batches against the filesystem and a confidence
// floor.
type Validator struct {
	minConfidence float64
	stat          func(string) (os.FileInfo, error)
	log           *zap.Logger
}

// NewValidator creates a validator. Fixes below minConfidence are
// skipped rather than validated.
func NewValidator(minConfidence float64, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{minConfidence: minConfidence, stat: os.Stat, log: log}
}

// WithStat overrides filesystem checks, for tests.
func (v *Validator) WithStat(stat func(string) (os.FileInfo, error)) *Validator {
	v.stat = stat
	return v
}

// ValidateFixes classifies each fix as applied (passed validation and
// eligible for application), failed, or skipped. Failures never abort
// the rest of the batch.
func (v *Validator) ValidateFixes(fixes []leak.Fix) *ValidationResult {
	result := &ValidationResult{}
	for _, f := range fixes {
		if f.Confidence < v.minConfidence {
			result.Fixes.Skipped = append(result.Fixes.Skipped, f)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("fix %s skipped: confidence %.2f below floor %.2f", f.ID, f.Confidence, v.minConfidence))
			continue
		}
		if _, err := v.stat(f.File); err != nil {
			result.Fixes.Failed = append(result.Fixes.Failed, f)
			result.Errors = append(result.Errors, leak.FixValidationError{
				FixID:   f.ID,
				Code:    leak.ValidationFileNotFound,
				Message: fmt.Sprintf("target file %s: %v", f.File, err),
			})
			continue
		}
		if verr := ValidateFix(&f); verr != nil {
			result.Fixes.Failed = append(result.Fixes.Failed, f)
			result.Errors = append(result.Errors, *verr)
			v.log.Warn("fix failed validation",
				zap.String("fix_id", f.ID),
				zap.String("code", string(verr.Code)))
			continue
		}
		if f.RequiresManualReview {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("fix %s passed validation but requires manual review", f.ID))
		}
		result.Fixes.Applied = append(result.Fixes.Applied, f)
	}
	result.Summary = fmt.Sprintf("%d applied, %d failed, %d skipped of %d fixes",
		len(result.Fixes.Applied), len(result.Fixes.Failed), len(result.Fixes.Skipped), len(fixes))
	return result
}
