// Package logging constructs the zap loggers used across the engine.
// Loggers are always injected; no package keeps a global logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger, at debug level when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Named returns a subsystem logger derived from base. A nil base yields
// a no-op logger so library code never has to nil-check.
func Named(base *zap.Logger, subsystem string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(subsystem)
}
