package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"leakhound/internal/config"
	"leakhound/internal/leak"
)

func TestConfidenceDeterministic(t *testing.T) {
	m := NewConfidenceModel(config.Default().Confidence)
	scope := leak.ScopeContext{IsInComponent: true, IsInEffectHook: true}
	first := m.Score(leak.CategoryInterval, scope, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.Score(leak.CategoryInterval, scope, false))
	}
}

func TestConfidenceAdjustments(t *testing.T) {
	m := NewConfidenceModel(config.Default().Confidence)

	cases := []struct {
		name       string
		cat        leak.Category
		scope      leak.ScopeContext
		unverified bool
		confidence float64
		severity   leak.Severity
		review     bool
	}{
		{
			name:       "interval in effect hook in component with no teardown clamps to max",
			cat:        leak.CategoryInterval,
			scope:      leak.ScopeContext{IsInComponent: true, IsInEffectHook: true},
			confidence: 1.0,
			severity:   leak.SeverityCritical,
		},
		{
			name:       "interval with teardown present still clamps to max",
			cat:        leak.CategoryInterval,
			scope:      leak.ScopeContext{IsInComponent: true, IsInEffectHook: true, HasTeardownCallback: true},
			confidence: 1.0,
			severity:   leak.SeverityHigh,
		},
		{
			name:       "unbound interval in a plain function stays below threshold",
			cat:        leak.CategoryInterval,
			scope:      leak.ScopeContext{},
			unverified: true,
			confidence: 0.4,
			severity:   leak.SeverityHigh,
			review:     true,
		},
		{
			name:       "bound interval in a plain function",
			cat:        leak.CategoryInterval,
			scope:      leak.ScopeContext{},
			confidence: 0.7,
			severity:   leak.SeverityHigh,
		},
		{
			name:       "timeout in effect hook without teardown",
			cat:        leak.CategoryTimeout,
			scope:      leak.ScopeContext{IsInEffectHook: true},
			confidence: 0.9,
			severity:   leak.SeverityMedium,
		},
		{
			name:       "timeout in a plain function is low severity",
			cat:        leak.CategoryTimeout,
			scope:      leak.ScopeContext{},
			confidence: 0.5,
			severity:   leak.SeverityLow,
		},
		{
			name:       "event listener in component",
			cat:        leak.CategoryEventListener,
			scope:      leak.ScopeContext{IsInComponent: true},
			confidence: 0.7,
			severity:   leak.SeverityHigh,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := m.Score(tc.cat, tc.scope, tc.unverified)
			assert.InDelta(t, tc.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tc.severity, got.Severity)
			assert.Equal(t, tc.review, got.RequiresManualReview)
		})
	}
}

func TestConfidenceClamping(t *testing.T) {
	cfg := config.Default().Confidence
	cfg.Base = 0.1
	cfg.UnboundPenalty = 0.5
	m := NewConfidenceModel(cfg)

	got := m.Score(leak.CategoryTimeout, leak.ScopeContext{}, true)
	assert.InDelta(t, cfg.Min, got.Confidence, 1e-9)
	assert.True(t, got.RequiresManualReview)
}
