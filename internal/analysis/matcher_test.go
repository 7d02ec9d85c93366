package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leakhound/internal/config"
	"leakhound/internal/leak"
)

// scanSource runs the full static pipeline over one source string.
func scanSource(t *testing.T, path, source string) []leak.Report {
	t.Helper()
	catalog := NewCatalog()
	inspector := NewInspector(catalog)
	scopes, err := inspector.Inspect(context.Background(), path, []byte(source))
	require.NoError(t, err)

	matcher := NewMatcher(catalog, NewConfidenceModel(config.Default().Confidence))
	var reports []leak.Report
	for i := range scopes {
		reports = append(reports, matcher.Match(path, &scopes[i])...)
	}
	return reports
}

func TestMatcherIntervalPairing(t *testing.T) {
	t.Run("bound interval released in teardown scores zero reports", func(t *testing.T) {
		src := `
useEffect(() => {
  const id = setInterval(tick, 1000);
  return () => clearInterval(id);
}, []);
`
		assert.Empty(t, scanSource(t, "app.js", src))
	})

	t.Run("same body without teardown is one high-severity report", func(t *testing.T) {
		src := `
useEffect(() => {
  const id = setInterval(tick, 1000);
}, []);
`
		reports := scanSource(t, "app.js", src)
		require.Len(t, reports, 1)
		r := reports[0]
		assert.Equal(t, "uncleaned-interval", r.Type)
		assert.Equal(t, leak.SeverityHigh, r.Severity)
		assert.GreaterOrEqual(t, r.Confidence, 0.85)
		assert.LessOrEqual(t, r.Confidence, 1.0)
		assert.False(t, r.RequiresManualReview)
		assert.Equal(t, leak.DetectionStatic, r.Metadata.DetectionMethod)
		assert.Equal(t, "leak/uncleaned-interval", r.Metadata.RuleID)
	})

	t.Run("unbound interval in plain function needs review", func(t *testing.T) {
		src := `
function startPolling() {
  setInterval(tick, 1000);
}
`
		reports := scanSource(t, "app.js", src)
		require.Len(t, reports, 1)
		r := reports[0]
		assert.True(t, r.RequiresManualReview)
		assert.Less(t, r.Confidence, 0.6)
		assert.Equal(t, "startPolling", r.Context)
	})

	t.Run("unbound interval with category-level release is weakly matched", func(t *testing.T) {
		src := `
useEffect(() => {
  setInterval(tick, 1000);
  return () => clearInterval(handle);
}, []);
`
		reports := scanSource(t, "app.js", src)
		require.Len(t, reports, 1)
		assert.True(t, reports[0].RequiresManualReview)
		assert.InDelta(t, 0.6, reports[0].Confidence, 1e-9)
	})

	t.Run("release outside the teardown scope does not count", func(t *testing.T) {
		src := `
useEffect(() => {
  const id = setInterval(tick, 1000);
  if (stopped) clearInterval(id);
  return () => {};
}, []);
`
		reports := scanSource(t, "app.js", src)
		require.Len(t, reports, 1)
	})

	t.Run("interval in component without teardown is critical", func(t *testing.T) {
		src := `
function Dashboard() {
  useEffect(() => {
    const id = setInterval(refresh, 500);
  }, []);
  return <div />;
}
`
		reports := scanSource(t, "dashboard.jsx", src)
		require.Len(t, reports, 1)
		assert.Equal(t, leak.SeverityCritical, reports[0].Severity)
		assert.InDelta(t, 1.0, reports[0].Confidence, 1e-9)
	})
}

func TestMatcherIdentityPairing(t *testing.T) {
	t.Run("two intervals, one released, pairing is by identifier", func(t *testing.T) {
		src := `
useEffect(() => {
  const a = setInterval(fast, 100);
  const b = setInterval(slow, 5000);
  return () => clearInterval(a);
}, []);
`
		reports := scanSource(t, "app.js", src)
		require.Len(t, reports, 1)
		assert.Contains(t, reports[0].CodeSnippet, "slow")
	})

	t.Run("event listener matched by handler identifier", func(t *testing.T) {
		src := `
useEffect(() => {
  window.addEventListener('scroll', onScroll);
  return () => window.removeEventListener('scroll', onScroll);
}, []);
`
		assert.Empty(t, scanSource(t, "app.js", src))
	})

	t.Run("event listener with no matching removal leaks", func(t *testing.T) {
		src := `
useEffect(() => {
  window.addEventListener('scroll', onScroll);
  return () => window.removeEventListener('scroll', otherHandler);
}, []);
`
		reports := scanSource(t, "app.js", src)
		require.Len(t, reports, 1)
		assert.Equal(t, "event-listener", reports[0].Type)
		assert.Equal(t, leak.SeverityHigh, reports[0].Severity)
	})

	t.Run("websocket closed via receiver is matched", func(t *testing.T) {
		src := `
useEffect(() => {
  const ws = new WebSocket(url);
  return () => ws.close();
}, []);
`
		assert.Empty(t, scanSource(t, "app.js", src))
	})

	t.Run("subscription without unsubscribe leaks", func(t *testing.T) {
		src := `
useEffect(() => {
  const sub = source.subscribe(onNext);
  return () => {};
}, []);
`
		reports := scanSource(t, "app.js", src)
		require.Len(t, reports, 1)
		assert.Equal(t, "subscription", reports[0].Type)
	})

	t.Run("eventsource without close leaks", func(t *testing.T) {
		src := `
useEffect(() => {
  const es = new EventSource('/stream');
}, []);
`
		reports := scanSource(t, "app.js", src)
		require.Len(t, reports, 1)
		assert.Equal(t, "eventsource", reports[0].Type)
		assert.Contains(t, reports[0].SuggestedFix, "es.close()")
	})
}

func TestMatcherScopeIndependence(t *testing.T) {
	// A release in a sibling effect must not satisfy an acquisition in
	// another effect; each scope is analyzed independently.
	src := `
useEffect(() => {
  const id = setInterval(tick, 1000);
}, []);

useEffect(() => {
  return () => clearInterval(id);
}, []);
`
	reports := scanSource(t, "app.js", src)
	require.Len(t, reports, 1)
	assert.Equal(t, "uncleaned-interval", reports[0].Type)
}

func TestMatcherTimeoutSeverity(t *testing.T) {
	src := `
useEffect(() => {
  const t = setTimeout(fire, 200);
}, []);
`
	reports := scanSource(t, "app.js", src)
	require.Len(t, reports, 1)
	assert.Equal(t, "uncleaned-timeout", reports[0].Type)
	assert.Equal(t, leak.SeverityMedium, reports[0].Severity)
}

func TestPrefilter(t *testing.T) {
	catalog := NewCatalog()
	assert.True(t, catalog.ContainsAcquisition("const id = setInterval(f, 1)"))
	assert.True(t, catalog.ContainsAcquisition("el.addEventListener('x', h)"))
	assert.True(t, catalog.ContainsAcquisition("new WebSocket(url)"))
	assert.False(t, catalog.ContainsAcquisition("const x = compute(1, 2);"))
}
