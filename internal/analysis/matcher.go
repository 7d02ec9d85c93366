package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leakhound/internal/leak"
)

// Matcher pairs acquisition sites with release sites under the scope and
// identity rules, and emits the unmatched ones as leak reports.
//
// Pairing is identity-based: a bound acquisition is released only by a
// release call naming that exact identifier inside the declared teardown
// sub-scope. A release appearing anywhere else in the file does not run
// on unmount/re-run and therefore does not count. Unbound acquisitions
// fall back to category-level matching with a confidence penalty, since
// the identity of what was released is unverifiable.
type Matcher struct {
	catalog    *Catalog
	confidence *ConfidenceModel
	now        func() time.Time
}

// NewMatcher creates a matcher over a catalog and confidence model.
func NewMatcher(catalog *Catalog, confidence *ConfidenceModel) *Matcher {
	return &Matcher{catalog: catalog, confidence: confidence, now: time.Now}
}

// Match runs the pairing pass over one scope and returns a report per
// unmatched (or weakly matched) acquisition.
func (m *Matcher) Match(file string, scope *Scope) []leak.Report {
	var reports []leak.Report
	for i := range scope.Acquisitions {
		acq := &scope.Acquisitions[i]
		cand, leaked := m.matchOne(acq, scope)
		if !leaked {
			continue
		}
		reports = append(reports, m.report(file, cand, acq))
	}
	return reports
}

// matchOne applies the pairing rules to a single acquisition. The
// returned candidate is meaningful only when leaked is true.
func (m *Matcher) matchOne(acq *Site, scope *Scope) (leak.Candidate, bool) {
	cand := leak.Candidate{
		Category:        acq.Category,
		SourceOffset:    acq.Offset,
		Line:            acq.Line,
		Column:          acq.Column,
		BoundIdentifier: acq.BoundIdentifier,
		Snippet:         acq.CallText,
		Scope:           scope.Context,
	}
	cand.Scope.BoundIdentifier = acq.BoundIdentifier

	// Without a teardown callback nothing in this scope is released by
	// construction; skip the search entirely.
	if !scope.HasTeardown() {
		return cand, true
	}

	if acq.BoundIdentifier != "" {
		for i := range scope.Releases {
			if m.releasesIdentifier(&scope.Releases[i], acq.Category, acq.BoundIdentifier) {
				return cand, false
			}
		}
		return cand, true
	}

	// Unbound acquisition: any release of the matching category counts,
	// but only weakly.
	for i := range scope.Releases {
		rel := &scope.Releases[i]
		if m.catalog.ReleaseMatches(acq.Category, rel.CalleeName, rel.MemberName) {
			cand.WeaklyMatched = true
			return cand, true
		}
	}
	return cand, true
}

// releasesIdentifier reports whether a release site of the category
// releases the given identifier, either by naming it in its argument
// list or by being invoked on it.
func (m *Matcher) releasesIdentifier(rel *Site, cat leak.Category, ident string) bool {
	if !m.catalog.ReleaseMatches(cat, rel.CalleeName, rel.MemberName) {
		return false
	}
	for _, arg := range rel.Args {
		if arg == ident {
			return true
		}
	}
	return rel.Receiver == ident
}

// report promotes a candidate to an immutable leak report, annotated by
// the confidence model.
func (m *Matcher) report(file string, cand leak.Candidate, acq *Site) leak.Report {
	pattern := m.catalog.Lookup(cand.Category)
	score := m.confidence.Score(cand.Category, cand.Scope, cand.WeaklyMatched || cand.BoundIdentifier == "")

	return leak.Report{
		ID:                   uuid.NewString(),
		Type:                 cand.Category.WireType(),
		Severity:             score.Severity,
		Confidence:           score.Confidence,
		File:                 file,
		Line:                 cand.Line,
		Column:               cand.Column,
		Description:          m.describe(pattern, &cand),
		SuggestedFix:         SuggestedRelease(pattern, acq),
		CodeSnippet:          cand.Snippet,
		Context:              cand.Scope.EnclosingName,
		RequiresManualReview: score.RequiresManualReview,
		Metadata: leak.ReportMetadata{
			DetectedAt:      m.now(),
			DetectionMethod: leak.DetectionStatic,
			RuleID:          pattern.RuleID,
		},
		Category: cand.Category,
		Scope:    cand.Scope,
	}
}

func (m *Matcher) describe(pattern *Pattern, cand *leak.Candidate) string {
	desc := pattern.Description
	if cand.WeaklyMatched {
		desc += " (a release of this kind exists in the teardown, but its target could not be verified)"
	} else if cand.Scope.HasTeardownCallback {
		desc += " (the teardown callback does not release it)"
	} else if cand.Scope.IsInEffectHook {
		desc += " (the effect declares no teardown callback)"
	}
	return desc
}

// SuggestedRelease renders the release statement for an acquisition:
// the catalog template with the bound identifier substituted, or a
// rewrite of the acquisition call for argument-released categories.
func SuggestedRelease(pattern *Pattern, acq *Site) string {
	if pattern.FixTemplate != "" {
		ident := acq.BoundIdentifier
		if ident == "" {
			ident = "{ident}"
		}
		return strings.ReplaceAll(pattern.FixTemplate, "{ident}", ident)
	}
	// Derive the release by swapping the method name on the original
	// call: el.addEventListener(...) -> el.removeEventListener(...).
	if acq.MemberName != "" && len(pattern.Release.Members) > 0 {
		rewritten := strings.Replace(acq.CallText, acq.MemberName+"(", pattern.Release.Members[0]+"(", 1)
		if rewritten != acq.CallText {
			return rewritten + ";"
		}
	}
	if pattern.Category == leak.CategoryMemoryAccumulation {
		return fmt.Sprintf("// prune %s periodically or cap its size", acq.Receiver)
	}
	return ""
}
