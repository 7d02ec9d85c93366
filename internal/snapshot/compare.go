package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leakhound/internal/config"
	"leakhound/internal/leak"
)

const bytesPerMB = 1024 * 1024

// ResourceDeltas is the per-kind change in live resource counts.
type ResourceDeltas struct {
	EventListeners int `json:"eventListeners"`
	Intervals      int `json:"intervals"`
	Timeouts       int `json:"timeouts"`
	Subscriptions  int `json:"subscriptions"`
	Connections    int `json:"connections"`
}

// Total sums every kind's delta.
func (d ResourceDeltas) Total() int {
	return d.EventListeners + d.Intervals + d.Timeouts + d.Subscriptions + d.Connections
}

// consistentDirection reports whether every nonzero delta shares one
// sign, with at least one nonzero delta.
func (d ResourceDeltas) consistentDirection() bool {
	pos, neg := 0, 0
	for _, v := range []int{d.EventListeners, d.Intervals, d.Timeouts, d.Subscriptions, d.Connections} {
		switch {
		case v > 0:
			pos++
		case v < 0:
			neg++
		}
	}
	return (pos > 0) != (neg > 0)
}

// ComparisonResult is the stateless diff of two snapshots, computed
// fresh on every call and never cached. Memory deltas are in megabytes,
// signed: after minus before.
type ComparisonResult struct {
	BeforeID           string         `json:"beforeId"`
	AfterID            string         `json:"afterId"`
	Interval           time.Duration  `json:"interval"`
	MemoryDelta        float64        `json:"memoryDelta"`
	MemoryDeltaPercent float64        `json:"memoryDeltaPercent"`
	ResourceDeltas     ResourceDeltas `json:"resourceDeltas"`
	GCCountDelta       int            `json:"gcCountDelta"`
	GCDurationDelta    time.Duration  `json:"gcDurationDelta"`
	CPUDelta           float64        `json:"cpuDelta"`

	HasMemoryLeak      bool   `json:"hasMemoryLeak"`
	LeakSeverity       string `json:"leakSeverity,omitempty"`
	RegressionDetected bool   `json:"regressionDetected"`
}

// CompareSnapshots diffs two stored snapshots. Referencing an unknown
// id is a programmer error and fails immediately.
func (e *Engine) CompareSnapshots(beforeID, afterID string) (*ComparisonResult, error) {
	before, err := e.Snapshot(beforeID)
	if err != nil {
		return nil, err
	}
	after, err := e.Snapshot(afterID)
	if err != nil {
		return nil, err
	}
	result := e.compare(before, after)
	return &result, nil
}

func (e *Engine) compare(before, after *leak.MemorySnapshot) ComparisonResult {
	r := ComparisonResult{
		BeforeID:        before.ID,
		AfterID:         after.ID,
		Interval:        after.Timestamp.Sub(before.Timestamp),
		MemoryDelta:     (float64(after.MemoryUsage.HeapUsed) - float64(before.MemoryUsage.HeapUsed)) / bytesPerMB,
		GCCountDelta:    int(after.PerformanceMetrics.GCCount) - int(before.PerformanceMetrics.GCCount),
		GCDurationDelta: after.PerformanceMetrics.GCDuration - before.PerformanceMetrics.GCDuration,
		CPUDelta:        after.PerformanceMetrics.CPUUsage - before.PerformanceMetrics.CPUUsage,
		ResourceDeltas: ResourceDeltas{
			EventListeners: after.ResourceCounts.EventListeners - before.ResourceCounts.EventListeners,
			Intervals:      after.ResourceCounts.Intervals - before.ResourceCounts.Intervals,
			Timeouts:       after.ResourceCounts.Timeouts - before.ResourceCounts.Timeouts,
			Subscriptions:  after.ResourceCounts.Subscriptions - before.ResourceCounts.Subscriptions,
			Connections:    after.ResourceCounts.Connections - before.ResourceCounts.Connections,
		},
	}
	if before.MemoryUsage.HeapUsed > 0 {
		r.MemoryDeltaPercent = r.MemoryDelta * bytesPerMB / float64(before.MemoryUsage.HeapUsed) * 100
	}

	// Bucket boundaries are inclusive: a delta sitting exactly on a
	// threshold belongs to the stronger bucket.
	r.HasMemoryLeak = r.MemoryDelta > e.cfg.LeakThresholdMB
	if r.HasMemoryLeak {
		switch {
		case r.MemoryDelta >= e.cfg.SevereThresholdMB:
			r.LeakSeverity = "severe"
		case r.MemoryDelta >= e.cfg.ModerateThresholdMB:
			r.LeakSeverity = "moderate"
		default:
			r.LeakSeverity = "minor"
		}
	}
	r.RegressionDetected = r.MemoryDelta > e.regCfg.MemoryThresholdMB ||
		r.ResourceDeltas.Total() > e.regCfg.ResourceThreshold ||
		r.GCDurationDelta > e.regCfg.PerformanceThreshold
	return r
}

// RegressionResult classifies a baseline-to-current comparison against
// per-dimension thresholds. Stateless and derived.
type RegressionResult struct {
	Detected   bool    `json:"detected"`
	Type       string  `json:"type"`     // memory | resource | performance | mixed | none
	Severity   string  `json:"severity"` // none | minor | moderate | severe
	Confidence float64 `json:"confidence"`

	MemoryRegression      bool             `json:"memoryRegression"`
	ResourceRegression    bool             `json:"resourceRegression"`
	PerformanceRegression bool             `json:"performanceRegression"`
	Comparison            ComparisonResult `json:"comparison"`
}

// DetectRegression compares a baseline (snapshot id or baseline name)
// with a current snapshot. Nil thresholds fall back to the configured
// defaults.
func (e *Engine) DetectRegression(baselineID, currentID string, thresholds *config.RegressionConfig) (*RegressionResult, error) {
	th := e.regCfg
	if thresholds != nil {
		th = *thresholds
		// Caller thresholds usually set only the detection triple; zero
		// confidence knobs keep their configured defaults.
		if th.ConfidenceDeltaMB <= 0 {
			th.ConfidenceDeltaMB = e.regCfg.ConfidenceDeltaMB
		}
		if th.MinSampleInterval <= 0 {
			th.MinSampleInterval = e.regCfg.MinSampleInterval
		}
	}
	cmp, err := e.CompareSnapshots(baselineID, currentID)
	if err != nil {
		return nil, err
	}

	res := &RegressionResult{
		MemoryRegression:      cmp.MemoryDelta > th.MemoryThresholdMB,
		ResourceRegression:    cmp.ResourceDeltas.Total() > th.ResourceThreshold,
		PerformanceRegression: cmp.GCDurationDelta > th.PerformanceThreshold,
		Comparison:            *cmp,
	}
	res.Detected = res.MemoryRegression || res.ResourceRegression || res.PerformanceRegression

	crossed := 0
	for _, b := range []bool{res.MemoryRegression, res.ResourceRegression, res.PerformanceRegression} {
		if b {
			crossed++
		}
	}
	switch {
	case !res.Detected:
		res.Type = "none"
	case crossed > 1:
		res.Type = "mixed"
	case res.MemoryRegression:
		res.Type = "memory"
	case res.ResourceRegression:
		res.Type = "resource"
	default:
		res.Type = "performance"
	}

	// Severity scales with how many multiples of the memory threshold
	// were exceeded.
	switch {
	case !res.Detected:
		res.Severity = "none"
	case cmp.MemoryDelta >= 4*th.MemoryThresholdMB:
		res.Severity = "severe"
	case cmp.MemoryDelta >= 2*th.MemoryThresholdMB:
		res.Severity = "moderate"
	default:
		res.Severity = "minor"
	}

	confidence := 0.5
	if cmp.MemoryDelta > th.ConfidenceDeltaMB || cmp.MemoryDelta < -th.ConfidenceDeltaMB {
		confidence += 0.2
	}
	if cmp.ResourceDeltas.consistentDirection() {
		confidence += 0.2
	}
	if cmp.Interval < th.MinSampleInterval {
		confidence -= 0.1
	}
	res.Confidence = clamp(confidence, 0, 1)

	e.log.Debug("regression check",
		zap.String("baseline", baselineID),
		zap.String("current", currentID),
		zap.Bool("detected", res.Detected),
		zap.String("type", res.Type),
		zap.String("severity", res.Severity))
	return res, nil
}

// FixEffectivenessResult quantifies how much a fix reduced memory and
// resource usage without causing a regression.
type FixEffectivenessResult struct {
	FixID                  string           `json:"fixId"`
	BeforeID               string           `json:"beforeId"`
	AfterID                string           `json:"afterId"`
	EffectivenessScore     float64          `json:"effectivenessScore"` // 0..100
	Success                bool             `json:"success"`
	MemoryReductionMB      float64          `json:"memoryReductionMb"`
	MemoryReductionPercent float64          `json:"memoryReductionPercent"`
	ResourcesFreed         int              `json:"resourcesFreed"`
	PerformanceImprovement float64          `json:"performanceImprovement"` // ms of GC time recovered
	Comparison             ComparisonResult `json:"comparison"`
}

// MeasureFixEffectiveness snapshots around testFn and scores the fix.
// testFn exercises the code path the fix addresses; its error aborts
// the measurement.
func (e *Engine) MeasureFixEffectiveness(ctx context.Context, fix *leak.Fix, testFn func(context.Context) error) (*FixEffectivenessResult, error) {
	// Snapshot ids carry a per-run suffix: the store is append-only, so
	// measuring the same fix twice must not reuse ids.
	runID := uuid.NewString()[:8]
	beforeID := fmt.Sprintf("fix-%s-%s-before", fix.ID, runID)
	afterID := fmt.Sprintf("fix-%s-%s-after", fix.ID, runID)

	before, err := e.CreateSnapshot(ctx, beforeID, "before fix measurement")
	if err != nil {
		return nil, err
	}
	if err := testFn(ctx); err != nil {
		return nil, fmt.Errorf("fix measurement test run: %w", err)
	}
	after, err := e.CreateSnapshot(ctx, afterID, "after fix measurement")
	if err != nil {
		return nil, err
	}

	cmp := e.compare(before, after)
	return scoreEffectiveness(fix.ID, cmp), nil
}

// scoreEffectiveness is the pure scoring half of the measurement, split
// out so arbitrary comparison inputs stay testable.
func scoreEffectiveness(fixID string, cmp ComparisonResult) *FixEffectivenessResult {
	res := &FixEffectivenessResult{
		FixID:                  fixID,
		BeforeID:               cmp.BeforeID,
		AfterID:                cmp.AfterID,
		MemoryReductionMB:      -cmp.MemoryDelta,
		MemoryReductionPercent: -cmp.MemoryDeltaPercent,
		ResourcesFreed:         -cmp.ResourceDeltas.Total(),
		PerformanceImprovement: -float64(cmp.GCDurationDelta.Milliseconds()),
		Comparison:             cmp,
	}
	score := minf(40, res.MemoryReductionMB*2) +
		minf(30, res.MemoryReductionPercent) +
		minf(20, float64(res.ResourcesFreed)*4) +
		minf(10, res.PerformanceImprovement)
	res.EffectivenessScore = clamp(score, 0, 100)
	res.Success = res.EffectivenessScore > 50 && !cmp.RegressionDetected
	return res
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
