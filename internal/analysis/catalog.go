package analysis

import (
	"strings"

	"leakhound/internal/leak"
)

// CallSpec describes how a category's acquisition or release appears in
// source. A call site matches when its shape and name hit any field.
type CallSpec struct {
	// Callees match plain function calls: setInterval(...).
	Callees []string
	// Members match method calls by property name: el.addEventListener(...).
	Members []string
	// Constructors match new-expressions: new WebSocket(...).
	Constructors []string
	// ReceiverMethods match method calls on the bound identifier of the
	// acquisition: sub.unsubscribe(), ws.close().
	ReceiverMethods []string
	// WithinTimerCallback restricts matches to sites located inside a
	// timer callback argument (memory-accumulation style patterns).
	WithinTimerCallback bool
}

// Empty reports whether the spec matches nothing statically.
func (s CallSpec) Empty() bool {
	return len(s.Callees) == 0 && len(s.Members) == 0 &&
		len(s.Constructors) == 0 && len(s.ReceiverMethods) == 0
}

// Pattern is one row of the catalog: everything the engine knows about a
// leak category. No category-specific logic lives anywhere else; adding a
// category means adding a row (plus a registry hook for runtime tracking).
type Pattern struct {
	Category        leak.Category
	Acquisition     CallSpec
	Release         CallSpec
	DefaultSeverity leak.Severity
	// FixTemplate is the release statement with {ident} standing for the
	// bound identifier. Empty means no automatic fix exists.
	FixTemplate string
	RuleID      string
	// RuntimeOnly rows are never matched statically; they exist for the
	// runtime analyzer and for the closed wire enumeration.
	RuntimeOnly bool
	Description string
}

// Catalog is the read-only pattern table.
type Catalog struct {
	patterns []Pattern
	byCat    map[leak.Category]*Pattern
}

// NewCatalog builds the static catalog.
func NewCatalog() *Catalog {
	patterns := []Pattern{
		{
			Category:        leak.CategoryEventListener,
			Acquisition:     CallSpec{Members: []string{"addEventListener"}},
			Release:         CallSpec{Members: []string{"removeEventListener"}},
			DefaultSeverity: leak.SeverityHigh,
			FixTemplate:     "", // release is derived by rewriting the acquisition call
			RuleID:          "leak/event-listener",
			Description:     "event listener registered without a matching removeEventListener",
		},
		{
			Category:        leak.CategoryInterval,
			Acquisition:     CallSpec{Callees: []string{"setInterval"}},
			Release:         CallSpec{Callees: []string{"clearInterval"}},
			DefaultSeverity: leak.SeverityHigh,
			FixTemplate:     "clearInterval({ident});",
			RuleID:          "leak/uncleaned-interval",
			Description:     "interval created without a matching clearInterval",
		},
		{
			Category:        leak.CategoryTimeout,
			Acquisition:     CallSpec{Callees: []string{"setTimeout"}},
			Release:         CallSpec{Callees: []string{"clearTimeout"}},
			DefaultSeverity: leak.SeverityMedium,
			FixTemplate:     "clearTimeout({ident});",
			RuleID:          "leak/uncleaned-timeout",
			Description:     "timeout created without a matching clearTimeout",
		},
		{
			Category:        leak.CategoryEventSource,
			Acquisition:     CallSpec{Constructors: []string{"EventSource"}},
			Release:         CallSpec{ReceiverMethods: []string{"close"}},
			DefaultSeverity: leak.SeverityHigh,
			FixTemplate:     "{ident}.close();",
			RuleID:          "leak/eventsource",
			Description:     "EventSource opened without a matching close",
		},
		{
			Category:        leak.CategoryWebSocket,
			Acquisition:     CallSpec{Constructors: []string{"WebSocket"}},
			Release:         CallSpec{ReceiverMethods: []string{"close"}},
			DefaultSeverity: leak.SeverityHigh,
			FixTemplate:     "{ident}.close();",
			RuleID:          "leak/websocket",
			Description:     "WebSocket opened without a matching close",
		},
		{
			Category:        leak.CategorySubscription,
			Acquisition:     CallSpec{Members: []string{"subscribe"}},
			Release:         CallSpec{Members: []string{"unsubscribe"}, ReceiverMethods: []string{"unsubscribe"}},
			DefaultSeverity: leak.SeverityHigh,
			FixTemplate:     "{ident}.unsubscribe();",
			RuleID:          "leak/subscription",
			Description:     "observable subscribed without a matching unsubscribe",
		},
		{
			Category:        leak.CategoryAbortController,
			Acquisition:     CallSpec{Constructors: []string{"AbortController"}},
			Release:         CallSpec{ReceiverMethods: []string{"abort"}},
			DefaultSeverity: leak.SeverityMedium,
			FixTemplate:     "{ident}.abort();",
			RuleID:          "leak/abort-controller",
			Description:     "AbortController created without a matching abort",
		},
		{
			Category:        leak.CategoryMissingTeardown,
			Acquisition:     CallSpec{Members: []string{"on", "addListener"}},
			Release:         CallSpec{Members: []string{"off", "removeListener", "removeAllListeners"}},
			DefaultSeverity: leak.SeverityMedium,
			FixTemplate:     "",
			RuleID:          "leak/missing-teardown",
			Description:     "emitter listener registered without teardown",
		},
		{
			Category:        leak.CategoryMemoryAccumulation,
			Acquisition:     CallSpec{Members: []string{"push", "set", "add"}, WithinTimerCallback: true},
			Release:         CallSpec{Members: []string{"clear", "splice", "shift", "delete"}},
			DefaultSeverity: leak.SeverityLow,
			FixTemplate:     "",
			RuleID:          "leak/memory-accumulation",
			Description:     "collection grows inside a recurring timer callback with no pruning",
		},
		{
			Category:        leak.CategoryCircularReference,
			Acquisition:     CallSpec{},
			Release:         CallSpec{},
			DefaultSeverity: leak.SeverityLow,
			RuleID:          "leak/circular-reference",
			RuntimeOnly:     true,
			Description:     "objects retained through reference cycles",
		},
	}

	byCat := make(map[leak.Category]*Pattern, len(patterns))
	for i := range patterns {
		byCat[patterns[i].Category] = &patterns[i]
	}
	return &Catalog{patterns: patterns, byCat: byCat}
}

// Patterns returns the table rows in catalog order.
func (c *Catalog) Patterns() []Pattern { return c.patterns }

// Lookup returns the row for a category, or nil for unknown categories.
func (c *Catalog) Lookup(cat leak.Category) *Pattern { return c.byCat[cat] }

// AcquisitionCallee resolves a plain-call function name to its category.
func (c *Catalog) AcquisitionCallee(name string) (leak.Category, bool) {
	for _, p := range c.patterns {
		for _, callee := range p.Acquisition.Callees {
			if callee == name {
				return p.Category, true
			}
		}
	}
	return "", false
}

// AcquisitionMember resolves a method-call property name to its category.
func (c *Catalog) AcquisitionMember(name string) (leak.Category, bool) {
	for _, p := range c.patterns {
		for _, member := range p.Acquisition.Members {
			if member == name {
				return p.Category, true
			}
		}
	}
	return "", false
}

// AcquisitionConstructor resolves a new-expression constructor name.
func (c *Catalog) AcquisitionConstructor(name string) (leak.Category, bool) {
	for _, p := range c.patterns {
		for _, ctor := range p.Acquisition.Constructors {
			if ctor == name {
				return p.Category, true
			}
		}
	}
	return "", false
}

// ReleaseMatches reports whether a release site (callee or member name)
// belongs to the category's release spec.
func (c *Catalog) ReleaseMatches(cat leak.Category, callee, member string) bool {
	p := c.byCat[cat]
	if p == nil {
		return false
	}
	for _, name := range p.Release.Callees {
		if name == callee && callee != "" {
			return true
		}
	}
	for _, name := range p.Release.Members {
		if name == member && member != "" {
			return true
		}
	}
	for _, name := range p.Release.ReceiverMethods {
		if name == member && member != "" {
			return true
		}
	}
	return false
}

// PrefilterTokens returns the source substrings whose absence proves a
// file contains no statically matchable acquisition. Used as the cheap
// pre-parse gate.
func (c *Catalog) PrefilterTokens() []string {
	var tokens []string
	for _, p := range c.patterns {
		if p.RuntimeOnly || p.Acquisition.WithinTimerCallback {
			continue
		}
		tokens = append(tokens, p.Acquisition.Callees...)
		for _, m := range p.Acquisition.Members {
			tokens = append(tokens, "."+m)
		}
		for _, ctor := range p.Acquisition.Constructors {
			tokens = append(tokens, "new "+ctor)
		}
	}
	return tokens
}

// ContainsAcquisition reports whether source can possibly contain an
// acquisition, by raw substring presence.
func (c *Catalog) ContainsAcquisition(source string) bool {
	for _, tok := range c.PrefilterTokens() {
		if strings.Contains(source, tok) {
			return true
		}
	}
	return false
}
