// Package leak defines the shared data model of the leak detection engine:
// leak categories, severities, reports, fixes, and memory snapshots. These
// types are part of the wire contract consumed by external tooling (CLI,
// lint adapters) and must stay stable.
package leak

import (
	"time"
)

// Category identifies a class of resource acquisition that can leak.
// The set is closed; adding a category means adding a catalog row.
type Category string

const (
	CategoryEventListener      Category = "event-listener"
	CategoryInterval           Category = "interval"
	CategoryTimeout            Category = "timeout"
	CategoryEventSource        Category = "eventsource"
	CategoryWebSocket          Category = "websocket"
	CategorySubscription       Category = "subscription"
	CategoryAbortController    Category = "abort-controller"
	CategoryMissingTeardown    Category = "missing-teardown"
	CategoryMemoryAccumulation Category = "memory-accumulation"
	CategoryCircularReference  Category = "circular-reference"
)

// Categories lists every known category in catalog order.
func Categories() []Category {
	return []Category{
		CategoryEventListener,
		CategoryInterval,
		CategoryTimeout,
		CategoryEventSource,
		CategoryWebSocket,
		CategorySubscription,
		CategoryAbortController,
		CategoryMissingTeardown,
		CategoryMemoryAccumulation,
		CategoryCircularReference,
	}
}

// WireType returns the report type string emitted for this category.
// The two timer categories historically report as "uncleaned-*" and
// consumers depend on that spelling; everything else reports the
// category name unchanged.
func (c Category) WireType() string {
	switch c {
	case CategoryInterval:
		return "uncleaned-interval"
	case CategoryTimeout:
		return "uncleaned-timeout"
	default:
		return string(c)
	}
}

// Severity ranks how urgent a leak is. Ordering is part of the contract:
// low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity for comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// DetectionMethod records how a report was produced.
type DetectionMethod string

const (
	DetectionStatic  DetectionMethod = "static"
	DetectionRuntime DetectionMethod = "runtime"
)

// ScopeContext captures the lexical surroundings of an analyzed callback
// body. It is derived once per scope and never mutated afterwards.
type ScopeContext struct {
	IsInEffectHook      bool   `json:"isInEffectHook"`
	IsInComponent       bool   `json:"isInComponent"`
	HasTeardownCallback bool   `json:"hasTeardownCallback"`
	BoundIdentifier     string `json:"boundIdentifier,omitempty"`
	EnclosingName       string `json:"enclosingName,omitempty"`
}

// Candidate is an acquisition site that survived release matching.
// Candidates live only for the duration of a single file scan; each is
// either promoted to a Report or discarded.
type Candidate struct {
	Category        Category
	SourceOffset    int
	Line            int
	Column          int
	BoundIdentifier string
	WeaklyMatched   bool
	Snippet         string
	Scope           ScopeContext
}

// ReportMetadata carries provenance for a leak report.
type ReportMetadata struct {
	DetectedAt      time.Time       `json:"detectedAt"`
	DetectionMethod DetectionMethod `json:"detectionMethod"`
	RuleID          string          `json:"ruleId"`
}

// Report is one detected leak. Severity and confidence are pure functions
// of (category, scope context); a Report is immutable once produced.
type Report struct {
	ID                   string         `json:"id"`
	Type                 string         `json:"type"`
	Severity             Severity       `json:"severity"`
	Confidence           float64        `json:"confidence"`
	File                 string         `json:"file"`
	Line                 int            `json:"line"`
	Column               int            `json:"column"`
	Description          string         `json:"description"`
	SuggestedFix         string         `json:"suggestedFix"`
	CodeSnippet          string         `json:"codeSnippet"`
	Context              string         `json:"context"`
	RequiresManualReview bool           `json:"requiresManualReview"`
	Metadata             ReportMetadata `json:"metadata"`

	// Category is the canonical category behind Type; Scope is retained so
	// downstream fix generation can re-anchor without re-deriving context.
	Category Category     `json:"-"`
	Scope    ScopeContext `json:"-"`
}

// FixCategory describes how safely a fix can be applied.
type FixCategory string

const (
	FixAutomatic FixCategory = "automatic"
	FixSuggested FixCategory = "suggested"
	FixManual    FixCategory = "manual"
)

// FixMetadata carries impact estimation for a generated fix.
type FixMetadata struct {
	EstimatedImpact string `json:"estimatedImpact"`
	RiskLevel       string `json:"riskLevel"`
}

// Fix is a minimal source patch for exactly one leak report. A Fix is
// never mutated; re-fixing produces a new Fix.
type Fix struct {
	ID                   string      `json:"id"`
	LeakID               string      `json:"leakId"`
	File                 string      `json:"file"`
	Line                 int         `json:"line"`
	Column               int         `json:"column"`
	OriginalCode         string      `json:"originalCode"`
	FixedCode            string      `json:"fixedCode"`
	Confidence           float64     `json:"confidence"`
	RequiresManualReview bool        `json:"requiresManualReview"`
	Category             FixCategory `json:"category"`
	Metadata             FixMetadata `json:"metadata"`
}

// MemoryUsage is a point-in-time view of process memory, in bytes.
type MemoryUsage struct {
	HeapUsed     uint64 `json:"heapUsed"`
	HeapTotal    uint64 `json:"heapTotal"`
	External     uint64 `json:"external"`
	ArrayBuffers uint64 `json:"arrayBuffers"`
	RSS          uint64 `json:"rss"`
}

// PerformanceMetrics is a point-in-time view of collector and CPU cost.
type PerformanceMetrics struct {
	GCCount    uint32        `json:"gcCount"`
	GCDuration time.Duration `json:"gcDuration"`
	CPUUsage   float64       `json:"cpuUsage"`
}

// ResourceCounts tracks live acquired resources by kind.
type ResourceCounts struct {
	EventListeners int `json:"eventListeners"`
	Intervals      int `json:"intervals"`
	Timeouts       int `json:"timeouts"`
	Subscriptions  int `json:"subscriptions"`
	Connections    int `json:"connections"`
}

// Total sums every tracked resource kind.
func (r ResourceCounts) Total() int {
	return r.EventListeners + r.Intervals + r.Timeouts + r.Subscriptions + r.Connections
}

// MemorySnapshot is an immutable capture of memory, performance, and
// resource counters at a single instant.
type MemorySnapshot struct {
	ID                 string             `json:"id"`
	Timestamp          time.Time          `json:"timestamp"`
	Description        string             `json:"description,omitempty"`
	MemoryUsage        MemoryUsage        `json:"memoryUsage"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`
	ResourceCounts     ResourceCounts     `json:"resourceCounts"`
}

// RuntimeLeakReport is the result of analyzing a live process rather than
// source text.
type RuntimeLeakReport struct {
	MemoryUsage        MemoryUsage    `json:"memoryUsage"`
	ActiveResources    ResourceCounts `json:"activeResources"`
	SuspiciousPatterns []string       `json:"suspiciousPatterns"`
	Recommendations    []string       `json:"recommendations"`
}
