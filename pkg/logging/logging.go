// Package logging builds the process-wide zap.Logger every component
// accepts as a collaborator (spec ambient stack, §10).
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger at the given level ("debug", "info", "warn",
// "error"). json selects JSON encoding for production log shipping;
// otherwise a human-readable console encoder is used.
func New(level string, json bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: unrecognised level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if !json {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	return cfg.Build()
}

// Must panics if New returns an error; intended for process startup where
// a broken log config should fail fast.
func Must(level string, json bool) *zap.Logger {
	l, err := New(level, json)
	if err != nil {
		panic(err)
	}
	return l
}
