// Package engine is the public facade of the leak detection engine:
// file and project scans, runtime analysis, fix generation/validation,
// and the snapshot operations. External tooling (CLI, lint adapters)
// calls these operations and consumes the report/fix structures.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leakhound/internal/analysis"
	"leakhound/internal/config"
	"leakhound/internal/fix"
	"leakhound/internal/leak"
	"leakhound/internal/logging"
	"leakhound/internal/runtimetrack"
	"leakhound/internal/snapshot"
)

// defaultExtensions are scanned when no include patterns are given.
var defaultExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

// ScanOptions controls a project-wide scan.
type ScanOptions struct {
	Root            string          `json:"root"`
	IncludePatterns []string        `json:"includePatterns,omitempty"`
	ExcludePatterns []string        `json:"excludePatterns,omitempty"`
	Severity        []leak.Severity `json:"severity,omitempty"`
	Types           []string        `json:"types,omitempty"`
	MaxFiles        int             `json:"maxFiles,omitempty"`
	Parallel        bool            `json:"parallel"`
}

// ProjectReport aggregates a project scan. A project scan always
// completes and returns partial results even when individual files fail.
type ProjectReport struct {
	TotalLeaks      int                   `json:"totalLeaks"`
	LeaksByType     map[string]int        `json:"leaksByType"`
	LeaksBySeverity map[leak.Severity]int `json:"leaksBySeverity"`
	Reports         []leak.Report         `json:"reports"`
	Summary         string                `json:"summary"`
	FilesScanned    int                   `json:"filesScanned"`
	FilesSkipped    int                   `json:"filesSkipped"`
	FilesFailed     int                   `json:"filesFailed"`
	Duration        time.Duration         `json:"duration"`
}

// Engine owns all engine state: configuration, catalog, scan cache,
// optional runtime registry, and the snapshot store. Engines are
// independent; two instances share nothing.
type Engine struct {
	cfg        config.Config
	log        *zap.Logger
	catalog    *analysis.Catalog
	confidence *analysis.ConfidenceModel
	cache      *scanCache
	watcher    *Watcher

	registry        *runtimetrack.Registry
	runtimeAnalyzer *runtimetrack.Analyzer

	snapshots *snapshot.Engine
	generator *fix.Generator
	validator *fix.Validator
}

// New validates the configuration and wires an engine. The logger may
// be nil for a silent engine.
func New(cfg config.Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	catalog := analysis.NewCatalog()
	e := &Engine{
		cfg:        cfg,
		log:        log,
		catalog:    catalog,
		confidence: analysis.NewConfidenceModel(cfg.Confidence),
		cache:      newScanCache(cfg.Scan.CacheTTL),
		generator:  fix.NewGenerator(catalog),
		validator:  fix.NewValidator(cfg.MinFixConfidence, logging.Named(log, "fix")),
	}

	if cfg.Runtime.Enabled {
		e.registry = runtimetrack.NewRegistry()
	}
	e.runtimeAnalyzer = runtimetrack.NewAnalyzer(cfg.Runtime, e.registry, logging.Named(log, "runtime"))
	e.snapshots = snapshot.NewEngine(cfg.Snapshot, cfg.Regression, counterSource(e.registry), logging.Named(log, "snapshot"))

	if cfg.Scan.WatchInvalidation {
		w, err := newWatcher(e.cache, logging.Named(log, "watcher"))
		if err != nil {
			return nil, fmt.Errorf("start watch invalidation: %w", err)
		}
		e.watcher = w
		w.Start()
	}
	return e, nil
}

// counterSource keeps a nil registry from becoming a non-nil interface.
func counterSource(r *runtimetrack.Registry) snapshot.CounterSource {
	if r == nil {
		return nil
	}
	return r
}

// Close releases the engine's background resources.
func (e *Engine) Close() {
	if e.watcher != nil {
		e.watcher.Stop()
	}
}

// Registry exposes the runtime resource registry, nil when runtime
// tracking is disabled.
func (e *Engine) Registry() *runtimetrack.Registry { return e.registry }

// Snapshots exposes the snapshot engine.
func (e *Engine) Snapshots() *snapshot.Engine { return e.snapshots }

// scanOutcome separates deliberate skips (vanished or oversized files)
// from real analysis failures so project totals stay honest.
type scanOutcome int

const (
	scanOK scanOutcome = iota
	scanSkipped
	scanFailed
)

// ScanFile analyzes one file and returns its leak reports. When code is
// nil the file is read from disk and the scan cache applies. Analysis
// failures (parse errors, per-file timeout) are logged and yield a nil
// report list; they never propagate. A clean successful scan returns an
// empty non-nil slice.
func (e *Engine) ScanFile(ctx context.Context, path string, code []byte) []leak.Report {
	reports, _ := e.scanFile(ctx, path, code)
	return reports
}

func (e *Engine) scanFile(ctx context.Context, path string, code []byte) ([]leak.Report, scanOutcome) {
	var info os.FileInfo
	if code == nil {
		var err error
		info, err = os.Stat(path)
		if err != nil {
			e.log.Warn("scan skipped: stat failed", zap.String("file", path), zap.Error(err))
			return nil, scanSkipped
		}
		if e.cfg.Scan.MaxFileBytes > 0 && info.Size() > e.cfg.Scan.MaxFileBytes {
			e.log.Debug("scan skipped: file too large", zap.String("file", path), zap.Int64("size", info.Size()))
			return nil, scanSkipped
		}
		if e.watcher != nil {
			if err := e.watcher.AddPath(path); err != nil {
				e.log.Debug("watch registration failed", zap.String("file", path), zap.Error(err))
			}
		}
		if reports, ok := e.cache.Get(path, info); ok {
			return reports, scanOK
		}
		code, err = os.ReadFile(path)
		if err != nil {
			e.log.Warn("file read failed", zap.String("file", path), zap.Error(err))
			return nil, scanFailed
		}
	}

	reports, err := e.scan(ctx, path, code)
	if err != nil {
		var aerr *leak.AnalysisError
		if errors.As(err, &aerr) || errors.Is(err, context.DeadlineExceeded) {
			e.log.Warn("file analysis failed", zap.String("file", path), zap.Error(err))
			return nil, scanFailed
		}
		e.log.Error("file analysis failed", zap.String("file", path), zap.Error(err))
		return nil, scanFailed
	}

	if info != nil {
		e.cache.Put(path, info, reports)
	}
	return reports, scanOK
}

// scan is the uncached single-file pipeline: prefilter, parse, match.
func (e *Engine) scan(ctx context.Context, path string, code []byte) ([]leak.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Scan.FileTimeout)
	defer cancel()

	source := string(code)
	if !e.catalog.ContainsAcquisition(source) {
		return []leak.Report{}, nil
	}

	// Inspectors hold per-parser state, so each scan builds its own;
	// concurrent file scans must not share one.
	inspector := analysis.NewInspector(e.catalog)
	scopes, err := inspector.Inspect(ctx, path, code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// Parse failures degrade to the text classifier rather than
		// dropping the file entirely.
		e.log.Warn("parse failed, using text fallback", zap.String("file", path), zap.Error(err))
		scopes = analysis.FallbackScopes(e.catalog, source)
	}

	matcher := analysis.NewMatcher(e.catalog, e.confidence)
	var reports []leak.Report
	for i := range scopes {
		if err := ctx.Err(); err != nil {
			return nil, &leak.AnalysisError{File: path, Err: err}
		}
		reports = append(reports, matcher.Match(path, &scopes[i])...)
	}
	if reports == nil {
		reports = []leak.Report{}
	}
	return reports, nil
}

// ScanProject walks the project tree and scans every matching file,
// sequentially or in parallel. Individual file failures reduce to empty
// results; the scan always completes.
func (e *Engine) ScanProject(ctx context.Context, opts ScanOptions) (*ProjectReport, error) {
	start := time.Now()
	root := opts.Root
	if root == "" {
		root = "."
	}

	files, err := e.collectFiles(root, opts)
	if err != nil {
		return nil, fmt.Errorf("collect project files: %w", err)
	}
	if e.watcher != nil {
		if err := e.watcher.Add(root); err != nil {
			e.log.Warn("watch registration failed", zap.String("root", root), zap.Error(err))
		}
	}

	limit := 1
	if opts.Parallel {
		limit = e.cfg.Scan.Parallelism
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	var all []leak.Report
	failed, skipped := 0, 0
	for _, path := range files {
		g.Go(func() error {
			reports, outcome := e.scanFile(gctx, path, nil)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case scanFailed:
				failed++
			case scanSkipped:
				skipped++
			}
			all = append(all, reports...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all = filterReports(all, opts)
	sort.Slice(all, func(i, j int) bool {
		if all[i].File != all[j].File {
			return all[i].File < all[j].File
		}
		return all[i].Line < all[j].Line
	})

	report := &ProjectReport{
		TotalLeaks:      len(all),
		LeaksByType:     make(map[string]int),
		LeaksBySeverity: make(map[leak.Severity]int),
		Reports:         all,
		FilesScanned:    len(files),
		FilesSkipped:    skipped,
		FilesFailed:     failed,
		Duration:        time.Since(start),
	}
	for _, r := range all {
		report.LeaksByType[r.Type]++
		report.LeaksBySeverity[r.Severity]++
	}
	report.Summary = summarize(report)

	e.log.Info("project scan complete",
		zap.Int("files", len(files)),
		zap.Int("leaks", report.TotalLeaks),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// collectFiles walks root honoring ignore/include/exclude patterns and
// the file cap.
func (e *Engine) collectFiles(root string, opts ScanOptions) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries never abort the walk
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if d.IsDir() {
			if path != root && e.ignored(rel, d.Name(), opts.ExcludePatterns) {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.MaxFiles > 0 && len(files) >= opts.MaxFiles {
			return filepath.SkipAll
		}
		if e.ignored(rel, d.Name(), opts.ExcludePatterns) {
			return nil
		}
		if !matchesInclude(rel, opts.IncludePatterns) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func (e *Engine) ignored(rel, name string, extra []string) bool {
	patterns := append(append([]string{}, e.cfg.Scan.IgnorePatterns...), extra...)
	for _, pat := range patterns {
		if pat == name || pat == rel {
			return true
		}
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

func matchesInclude(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return defaultExtensions[strings.ToLower(filepath.Ext(rel))]
	}
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

func filterReports(reports []leak.Report, opts ScanOptions) []leak.Report {
	if len(opts.Severity) == 0 && len(opts.Types) == 0 {
		return reports
	}
	out := reports[:0]
	for _, r := range reports {
		if len(opts.Severity) > 0 && !containsSeverity(opts.Severity, r.Severity) {
			continue
		}
		if len(opts.Types) > 0 && !containsString(opts.Types, r.Type) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsSeverity(list []leak.Severity, s leak.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func summarize(r *ProjectReport) string {
	if r.TotalLeaks == 0 {
		return fmt.Sprintf("no leaks detected across %d files", r.FilesScanned)
	}
	parts := make([]string, 0, 4)
	for _, sev := range []leak.Severity{leak.SeverityCritical, leak.SeverityHigh, leak.SeverityMedium, leak.SeverityLow} {
		if n := r.LeaksBySeverity[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return fmt.Sprintf("%d potential leaks across %d files (%s)", r.TotalLeaks, r.FilesScanned, strings.Join(parts, ", "))
}

// AnalyzeRuntime inspects the live process. Requires runtime tracking;
// returns ErrRuntimeTrackingDisabled otherwise.
func (e *Engine) AnalyzeRuntime() (*leak.RuntimeLeakReport, error) {
	return e.runtimeAnalyzer.Analyze()
}

// GenerateFix synthesizes a patch for one report.
func (e *Engine) GenerateFix(ctx context.Context, report leak.Report) (*leak.Fix, error) {
	return e.generator.GenerateFix(ctx, report)
}

// ValidateFixes validates a fix batch; the batch always completes.
func (e *Engine) ValidateFixes(fixes []leak.Fix) *fix.ValidationResult {
	return e.validator.ValidateFixes(fixes)
}

// CreateSnapshot, CompareSnapshots, DetectRegression, SetBaseline, and
// the export/import pair delegate to the snapshot engine; they are part
// of the public operation surface.

func (e *Engine) CreateSnapshot(ctx context.Context, id, description string) (*leak.MemorySnapshot, error) {
	return e.snapshots.CreateSnapshot(ctx, id, description)
}

func (e *Engine) CompareSnapshots(beforeID, afterID string) (*snapshot.ComparisonResult, error) {
	return e.snapshots.CompareSnapshots(beforeID, afterID)
}

func (e *Engine) DetectRegression(baselineID, currentID string, thresholds *config.RegressionConfig) (*snapshot.RegressionResult, error) {
	return e.snapshots.DetectRegression(baselineID, currentID, thresholds)
}

func (e *Engine) SetBaseline(snapshotID, name string) error {
	return e.snapshots.SetBaseline(snapshotID, name)
}

func (e *Engine) ExportSnapshots() ([]byte, error) { return e.snapshots.Export() }

func (e *Engine) ImportSnapshots(data []byte) error { return e.snapshots.Import(data) }
