// Package fix synthesizes minimal source patches for leak reports and
// validates batches of fixes. Applying a fix to disk is deliberately
// outside this package: patches are produced, validated, and handed to
// a human-gated applier.
package fix

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"leakhound/internal/analysis"
	"leakhound/internal/leak"
)

// identNames supplies the synthesized variable name per category when an
// unbound acquisition has to be captured first (strategy d).
var identNames = map[leak.Category]string{
	leak.CategoryInterval:        "intervalId",
	leak.CategoryTimeout:         "timeoutId",
	leak.CategoryEventSource:     "source",
	leak.CategoryWebSocket:       "socket",
	leak.CategorySubscription:    "subscription",
	leak.CategoryAbortController: "controller",
}

// Generator produces a Fix from a leak report by re-anchoring the
// report in its source scope and applying one of four strategies.
type Generator struct {
	catalog   *analysis.Catalog
	inspector *analysis.Inspector
	dmp       *diffmatchpatch.DiffMatchPatch
	readFile  func(string) ([]byte, error)
}

// NewGenerator creates a generator over the shared catalog.
func NewGenerator(catalog *analysis.Catalog) *Generator {
	return &Generator{
		catalog:   catalog,
		inspector: analysis.NewInspector(catalog),
		dmp:       diffmatchpatch.New(),
		readFile:  os.ReadFile,
	}
}

// WithFileReader overrides source loading, for tests.
func (g *Generator) WithFileReader(read func(string) ([]byte, error)) *Generator {
	g.readFile = read
	return g
}

// GenerateFix builds the minimal patch for one report. Strategy, by
// scope context:
//
//	(a) a teardown callback exists: append the release as its last
//	    statement;
//	(b) no teardown but inside an effect hook: synthesize the teardown
//	    callback before the effect body's closing brace;
//	(c) outside any effect hook: no canonical unmount point exists, so
//	    the release is emitted as an annotation needing manual review;
//	(d) the acquisition is unbound: first capture its result in a new
//	    variable, then fall through to (a) or (b).
func (g *Generator) GenerateFix(ctx context.Context, report leak.Report) (*leak.Fix, error) {
	source, err := g.readFile(report.File)
	if err != nil {
		return nil, fmt.Errorf("load source for fix: %w", err)
	}

	scope, site, err := g.anchor(ctx, report, source)
	if err != nil {
		return nil, err
	}

	original := string(source[scope.BodyStart:scope.BodyEnd])
	pattern := g.catalog.Lookup(report.Category)

	fix := &leak.Fix{
		ID:         uuid.NewString(),
		LeakID:     report.ID,
		File:       report.File,
		Line:       report.Line,
		Column:     report.Column,
		Confidence: report.Confidence,
		Category:   leak.FixAutomatic,
		Metadata:   leak.FixMetadata{RiskLevel: "low"},
	}

	ident := site.BoundIdentifier
	body := original
	bodyOffset := scope.BodyStart

	// Strategy (d): capture the unbound acquisition result first so a
	// release statement has something to name.
	if ident == "" && strings.Contains(pattern.FixTemplate, "{ident}") {
		ident = identNames[report.Category]
		if ident == "" {
			ident = "resource"
		}
		callStart := site.Offset - bodyOffset
		if callStart < 0 || callStart+len(site.CallText) > len(body) {
			return nil, fmt.Errorf("cannot re-anchor acquisition call in %s:%d", report.File, report.Line)
		}
		body = body[:callStart] + "const " + ident + " = " + body[callStart:]
		fix.Category = leak.FixSuggested
		fix.Metadata.RiskLevel = "medium"
	}

	boundSite := *site
	boundSite.BoundIdentifier = ident
	release := analysis.SuggestedRelease(pattern, &boundSite)
	if release == "" {
		release = report.SuggestedFix
	}

	switch {
	case scope.Context.HasTeardownCallback:
		// (a) append inside the existing teardown body. The teardown
		// range shifts if (d) inserted text before it.
		shift := len(body) - len(original)
		if scope.TeardownIsBlock {
			insertAt := scope.TeardownEnd - 1 - bodyOffset + shift
			if insertAt < 0 || insertAt > len(body) {
				return nil, fmt.Errorf("cannot locate teardown block in %s:%d", report.File, report.Line)
			}
			body = body[:insertAt] + indentLine(release, "      ") + body[insertAt:]
		} else {
			// Expression-bodied teardown arrow: wrap the expression in
			// a block so the release can follow it.
			start := scope.TeardownStart - bodyOffset + shift
			end := scope.TeardownEnd - bodyOffset + shift
			if start < 0 || end > len(body) || start > end {
				return nil, fmt.Errorf("cannot locate teardown expression in %s:%d", report.File, report.Line)
			}
			body = body[:start] + "{ " + body[start:end] + "; " + release + " }" + body[end:]
		}

	case scope.Context.IsInEffectHook:
		// (b) synthesize the teardown callback before the closing brace.
		teardown := fmt.Sprintf("\n    return () => {\n      %s\n    };\n  ", release)
		body = body[:len(body)-1] + teardown + "}"

	default:
		// (c) no canonical unmount point: annotate only.
		fix.Category = leak.FixManual
		fix.RequiresManualReview = true
		fix.Confidence = reduced(report.Confidence)
		fix.Metadata.RiskLevel = "high"
		body = body[:len(body)-1] + fmt.Sprintf("  // cleanup required: %s\n", release) + "}"
	}

	fix.OriginalCode = original
	fix.FixedCode = body
	fix.Metadata.EstimatedImpact = g.estimateImpact(original, body)
	return fix, nil
}

// anchor re-locates the report's acquisition site in the parsed source.
func (g *Generator) anchor(ctx context.Context, report leak.Report, source []byte) (*analysis.Scope, *analysis.Site, error) {
	scopes, err := g.inspector.Inspect(ctx, report.File, source)
	if err != nil {
		return nil, nil, err
	}
	for i := range scopes {
		for j := range scopes[i].Acquisitions {
			site := &scopes[i].Acquisitions[j]
			if site.Line == report.Line && site.Column == report.Column && site.Category == report.Category {
				return &scopes[i], site, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("report %s no longer matches source %s:%d (file changed since scan?)", report.ID, report.File, report.Line)
}

func (g *Generator) estimateImpact(original, fixed string) string {
	diffs := g.dmp.DiffMain(original, fixed, false)
	inserted, deleted := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		}
	}
	return fmt.Sprintf("+%d/-%d chars", inserted, deleted)
}

func indentLine(stmt, indent string) string {
	return indent + stmt + "\n    "
}

func reduced(confidence float64) float64 {
	c := confidence - 0.2
	if c < 0.1 {
		c = 0.1
	}
	return c
}

// ValidateFix checks a single fix's patch: balanced braces (the same
// string-aware scanner the extractor uses) and no unresolved template
// placeholder. A failing fix is rejected, never silently applied.
func ValidateFix(fix *leak.Fix) *leak.FixValidationError {
	if strings.TrimSpace(fix.FixedCode) == "" {
		return &leak.FixValidationError{FixID: fix.ID, Code: leak.ValidationError, Message: "fix has no patched code"}
	}
	if !analysis.BracesBalanced(fix.FixedCode) {
		return &leak.FixValidationError{FixID: fix.ID, Code: leak.ValidationInvalidSyntax, Message: "patched code has unbalanced braces"}
	}
	if strings.Contains(fix.FixedCode, "{ident}") {
		return &leak.FixValidationError{FixID: fix.ID, Code: leak.ValidationInvalidSyntax, Message: "patched code contains an unresolved placeholder"}
	}
	return nil
}
