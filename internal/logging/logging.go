// Package logging wires up the zap logger shared by every component.
// Components receive a *zap.Logger through their constructors; nothing
// here is a package-level global, per SPEC_FULL §9's "global mutable
// singletons" redesign flag.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mnemosyne/mnemosyne/internal/config"
)

// New builds a *zap.Logger from a LoggingConfig. JSON encoding is used
// for production deployments; console encoding (closer to the teacher's
// own `[COMPONENT] message` log.Printf style) is used otherwise.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if !cfg.JSON {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// Component returns a child logger tagged with a component field,
// generalizing the teacher's "[SPAWNER]"/"[BRIDGE]"/"[MAIN]" prefixes
// into a structured zap field.
func Component(logger *zap.Logger, name string) *zap.Logger {
	return logger.With(zap.String("component", name))
}
