package fix

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leakhound/internal/leak"
)

func TestValidateFixesClassifiesBatch(t *testing.T) {
	v := NewValidator(0.3, nil).WithStat(func(path string) (os.FileInfo, error) {
		if path == "missing.js" {
			return nil, os.ErrNotExist
		}
		return nil, nil
	})

	fixes := []leak.Fix{
		{ID: "low", File: "a.js", Confidence: 0.2, FixedCode: "function f() { clearInterval(id); }"},
		{ID: "gone", File: "missing.js", Confidence: 0.9, FixedCode: "function f() { clearInterval(id); }"},
		{ID: "broken", File: "b.js", Confidence: 0.9, FixedCode: "function f() { clearInterval(id);"},
		{ID: "good", File: "c.js", Confidence: 0.9, FixedCode: "function f() { clearInterval(id); }"},
		{ID: "reviewed", File: "d.js", Confidence: 0.5, RequiresManualReview: true, FixedCode: "function f() { es.close(); }"},
	}

	result := v.ValidateFixes(fixes)

	require.Len(t, result.Fixes.Applied, 2)
	require.Len(t, result.Fixes.Failed, 2)
	require.Len(t, result.Fixes.Skipped, 1)
	assert.Equal(t, "low", result.Fixes.Skipped[0].ID)
	assert.Equal(t, "good", result.Fixes.Applied[0].ID)
	assert.Equal(t, "reviewed", result.Fixes.Applied[1].ID)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, leak.ValidationFileNotFound, result.Errors[0].Code)
	assert.Equal(t, "gone", result.Errors[0].FixID)
	assert.Equal(t, leak.ValidationInvalidSyntax, result.Errors[1].Code)
	assert.Equal(t, "broken", result.Errors[1].FixID)

	// One warning for the skip, one for the manual-review pass.
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "below floor")
	assert.Contains(t, result.Warnings[1], "manual review")

	assert.Equal(t, "2 applied, 2 failed, 1 skipped of 5 fixes", result.Summary)
}

func TestValidateFixesEmptyBatch(t *testing.T) {
	result := NewValidator(0.3, nil).ValidateFixes(nil)
	assert.Empty(t, result.Fixes.Applied)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "0 applied, 0 failed, 0 skipped of 0 fixes", result.Summary)
}
