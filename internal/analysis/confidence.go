package analysis

import (
	"leakhound/internal/config"
	"leakhound/internal/leak"
)

// Score is the confidence model's verdict for one candidate.
type Score struct {
	Confidence           float64
	Severity             leak.Severity
	RequiresManualReview bool
}

// ConfidenceModel maps (category, scope context) to a deterministic
// confidence and severity. It is a fixed rule table, not a learned
// model: identical inputs always produce identical outputs, which the
// test contract depends on.
type ConfidenceModel struct {
	cfg config.ConfidenceConfig
}

// NewConfidenceModel builds the model from its configured adjustments.
func NewConfidenceModel(cfg config.ConfidenceConfig) *ConfidenceModel {
	return &ConfidenceModel{cfg: cfg}
}

// Score applies the adjustment rules in order. Each adjustment is
// independent and additive; the sum is clamped to [Min, Max].
//
// The no-teardown bonus applies only inside effect hooks: a teardown
// callback is the effect hook's cleanup construct, so its absence says
// nothing about a plain function.
func (m *ConfidenceModel) Score(cat leak.Category, scope leak.ScopeContext, identityUnverified bool) Score {
	c := m.cfg.Base
	if cat == leak.CategoryInterval {
		c += m.cfg.IntervalBonus
	}
	if scope.IsInComponent {
		c += m.cfg.ComponentBonus
	}
	if scope.IsInEffectHook {
		c += m.cfg.EffectHookBonus
	}
	review := false
	if identityUnverified {
		c -= m.cfg.UnboundPenalty
		review = true
	}
	if scope.IsInEffectHook && !scope.HasTeardownCallback {
		c += m.cfg.NoTeardownBonus
	}
	if c < m.cfg.Min {
		c = m.cfg.Min
	}
	if c > m.cfg.Max {
		c = m.cfg.Max
	}
	return Score{
		Confidence:           c,
		Severity:             m.severity(cat, scope),
		RequiresManualReview: review,
	}
}

// severity buckets an unmatched candidate. Rules, first match wins:
// critical for an interval in a component with no teardown at all; high
// for the always-on resource categories; medium for timeouts in reactive
// contexts; low otherwise.
func (m *ConfidenceModel) severity(cat leak.Category, scope leak.ScopeContext) leak.Severity {
	switch {
	case cat == leak.CategoryInterval && scope.IsInComponent && !scope.HasTeardownCallback:
		return leak.SeverityCritical
	case cat == leak.CategoryInterval,
		cat == leak.CategoryEventListener,
		cat == leak.CategoryEventSource,
		cat == leak.CategoryWebSocket,
		cat == leak.CategorySubscription:
		return leak.SeverityHigh
	case cat == leak.CategoryTimeout && (scope.IsInEffectHook || scope.IsInComponent):
		return leak.SeverityMedium
	default:
		return leak.SeverityLow
	}
}
