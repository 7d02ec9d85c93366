package runtimetrack

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"leakhound/internal/config"
	"leakhound/internal/leak"
)

// Analyzer produces runtime leak reports from the registry and process
// memory counters. It requires runtime tracking to be enabled.
type Analyzer struct {
	cfg      config.RuntimeConfig
	registry *Registry
	log      *zap.Logger
}

// NewAnalyzer wires an analyzer to a registry. The registry may be nil
// only when tracking is disabled.
func NewAnalyzer(cfg config.RuntimeConfig, registry *Registry, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, registry: registry, log: log}
}

// Analyze inspects the live process. Returns ErrRuntimeTrackingDisabled
// when tracking was never enabled.
func (a *Analyzer) Analyze() (*leak.RuntimeLeakReport, error) {
	if !a.cfg.Enabled || a.registry == nil {
		return nil, leak.ErrRuntimeTrackingDisabled
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	report := &leak.RuntimeLeakReport{
		MemoryUsage: leak.MemoryUsage{
			HeapUsed:  ms.HeapAlloc,
			HeapTotal: ms.HeapSys,
			External:  ms.StackSys,
			RSS:       ms.Sys,
		},
		ActiveResources: a.registry.Counts(),
	}

	longRunning := a.registry.DetectLongRunning(a.cfg.LongRunningTimerThreshold)
	for _, t := range longRunning {
		report.SuspiciousPatterns = append(report.SuspiciousPatterns,
			fmt.Sprintf("%s %q alive for over %s (context: %s)", t.Kind, t.Handle, a.cfg.LongRunningTimerThreshold, t.Context))
	}
	if len(longRunning) > 0 {
		report.Recommendations = append(report.Recommendations,
			"clear long-lived timers when their owning scope is torn down")
	}
	if report.ActiveResources.EventListeners > a.cfg.ListenerWarnCount {
		report.SuspiciousPatterns = append(report.SuspiciousPatterns,
			fmt.Sprintf("%d live event listeners exceed the warning threshold of %d",
				report.ActiveResources.EventListeners, a.cfg.ListenerWarnCount))
		report.Recommendations = append(report.Recommendations,
			"audit listener registration paths for missing removeEventListener calls")
	}

	a.log.Debug("runtime analysis complete",
		zap.Int("active_resources", report.ActiveResources.Total()),
		zap.Int("suspicious_patterns", len(report.SuspiciousPatterns)),
		zap.Duration("timer_threshold", a.cfg.LongRunningTimerThreshold))
	return report, nil
}
