package fix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leakhound/internal/analysis"
	"leakhound/internal/config"
	"leakhound/internal/leak"
)

// reportsFor scans src the way the engine would and returns the leak
// reports, keeping the test focused on fix synthesis.
func reportsFor(t *testing.T, path, src string) []leak.Report {
	t.Helper()
	catalog := analysis.NewCatalog()
	inspector := analysis.NewInspector(catalog)
	matcher := analysis.NewMatcher(catalog, analysis.NewConfidenceModel(config.Default().Confidence))

	scopes, err := inspector.Inspect(context.Background(), path, []byte(src))
	require.NoError(t, err)
	var reports []leak.Report
	for i := range scopes {
		reports = append(reports, matcher.Match(path, &scopes[i])...)
	}
	return reports
}

func generatorFor(src string) *Generator {
	return NewGenerator(analysis.NewCatalog()).WithFileReader(func(string) ([]byte, error) {
		return []byte(src), nil
	})
}

func TestGenerateFixSynthesizesTeardown(t *testing.T) {
	src := `import { useEffect } from 'react';

export function Ticker() {
  useEffect(() => {
    const id = setInterval(() => tick(), 1000);
  }, []);
  return <div />;
}
`
	reports := reportsFor(t, "Ticker.jsx", src)
	require.Len(t, reports, 1)

	fix, err := generatorFor(src).GenerateFix(context.Background(), reports[0])
	require.NoError(t, err)

	assert.Equal(t, leak.FixAutomatic, fix.Category)
	assert.False(t, fix.RequiresManualReview)
	assert.Contains(t, fix.FixedCode, "return () => {")
	assert.Contains(t, fix.FixedCode, "clearInterval(id)")
	assert.True(t, analysis.BracesBalanced(fix.FixedCode))
	assert.Nil(t, ValidateFix(fix))
	assert.NotEmpty(t, fix.Metadata.EstimatedImpact)
	assert.Equal(t, reports[0].ID, fix.LeakID)
}

func TestGenerateFixAppendsToExistingTeardown(t *testing.T) {
	src := `import { useEffect } from 'react';

export function Dashboard() {
  useEffect(() => {
    const id = setInterval(poll, 1000);
    const onResize = () => relayout();
    window.addEventListener('resize', onResize);
    return () => {
      window.removeEventListener('resize', onResize);
    };
  }, []);
  return <main />;
}
`
	reports := reportsFor(t, "Dashboard.jsx", src)
	require.Len(t, reports, 1)
	require.Equal(t, leak.CategoryInterval, reports[0].Category)

	fix, err := generatorFor(src).GenerateFix(context.Background(), reports[0])
	require.NoError(t, err)

	assert.Equal(t, leak.FixAutomatic, fix.Category)
	assert.Contains(t, fix.FixedCode, "clearInterval(id)")
	// The existing teardown statement survives the patch.
	assert.Contains(t, fix.FixedCode, "removeEventListener('resize', onResize)")
	assert.True(t, analysis.BracesBalanced(fix.FixedCode))
	assert.Nil(t, ValidateFix(fix))
}

func TestGenerateFixWrapsExpressionTeardown(t *testing.T) {
	src := `import { useEffect } from 'react';

export function Twin() {
  useEffect(() => {
    const a = setInterval(first, 100);
    const b = setInterval(second, 200);
    return () => clearInterval(a);
  }, []);
  return <span />;
}
`
	reports := reportsFor(t, "Twin.jsx", src)
	require.Len(t, reports, 1)
	require.Equal(t, "b", reports[0].Scope.BoundIdentifier)

	fix, err := generatorFor(src).GenerateFix(context.Background(), reports[0])
	require.NoError(t, err)

	assert.Contains(t, fix.FixedCode, "{ clearInterval(a); clearInterval(b); }")
	assert.True(t, analysis.BracesBalanced(fix.FixedCode))
	assert.Nil(t, ValidateFix(fix))
}

func TestGenerateFixOutsideHookIsManual(t *testing.T) {
	src := `function startPolling() {
  const id = setInterval(fetchStatus, 5000);
  return id;
}
`
	reports := reportsFor(t, "polling.js", src)
	require.Len(t, reports, 1)

	fix, err := generatorFor(src).GenerateFix(context.Background(), reports[0])
	require.NoError(t, err)

	assert.Equal(t, leak.FixManual, fix.Category)
	assert.True(t, fix.RequiresManualReview)
	assert.Less(t, fix.Confidence, reports[0].Confidence)
	assert.Contains(t, fix.FixedCode, "// cleanup required: clearInterval(id)")
	assert.Equal(t, "high", fix.Metadata.RiskLevel)
	assert.Nil(t, ValidateFix(fix))
}

func TestGenerateFixCapturesUnboundAcquisition(t *testing.T) {
	src := `import { useEffect } from 'react';

export function Beacon() {
  useEffect(() => {
    setInterval(ping, 50);
  }, []);
  return <i />;
}
`
	reports := reportsFor(t, "Beacon.jsx", src)
	require.Len(t, reports, 1)
	require.True(t, reports[0].RequiresManualReview)

	fix, err := generatorFor(src).GenerateFix(context.Background(), reports[0])
	require.NoError(t, err)

	assert.Equal(t, leak.FixSuggested, fix.Category)
	assert.Equal(t, "medium", fix.Metadata.RiskLevel)
	assert.Contains(t, fix.FixedCode, "const intervalId = setInterval(ping, 50)")
	assert.Contains(t, fix.FixedCode, "clearInterval(intervalId)")
	assert.True(t, analysis.BracesBalanced(fix.FixedCode))
	assert.Nil(t, ValidateFix(fix))
}

func TestGenerateFixStaleReport(t *testing.T) {
	src := `function noop() { return 1; }
`
	g := generatorFor(src)
	_, err := g.GenerateFix(context.Background(), leak.Report{
		ID:       "stale",
		File:     "noop.js",
		Line:     1,
		Column:   1,
		Category: leak.CategoryInterval,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer matches")
}

func TestValidateFixRejections(t *testing.T) {
	cases := []struct {
		name string
		code string
		want leak.ValidationCode
	}{
		{"empty patch", "   \n", leak.ValidationError},
		{"unbalanced braces", "function f() { clearInterval(id);", leak.ValidationInvalidSyntax},
		{"unresolved placeholder", "function f() { clearInterval({ident}); }", leak.ValidationInvalidSyntax},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verr := ValidateFix(&leak.Fix{ID: "f1", FixedCode: tc.code})
			require.NotNil(t, verr)
			assert.Equal(t, tc.want, verr.Code)
			assert.Equal(t, "f1", verr.FixID)
		})
	}

	assert.Nil(t, ValidateFix(&leak.Fix{ID: "ok", FixedCode: "function f() { clearInterval(id); }"}))
}
