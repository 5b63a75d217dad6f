// Package logging builds the bridge's zap loggers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option adjusts the zap configuration before the logger is built.
type Option func(*zap.Config) error

// WithLevel sets the minimum level ("debug", "info", "warn", "error").
func WithLevel(level string) Option {
	return func(cfg *zap.Config) error {
		lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return nil
	}
}

// WithDevelopment switches to human-readable console output with stack traces
// on warnings. The level set by WithLevel is kept.
func WithDevelopment(dev bool) Option {
	return func(cfg *zap.Config) error {
		if !dev {
			return nil
		}
		cfg.Development = true
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.Sampling = nil
		return nil
	}
}

// WithFields attaches fields to every log line.
func WithFields(fields map[string]any) Option {
	return func(cfg *zap.Config) error {
		if cfg.InitialFields == nil {
			cfg.InitialFields = map[string]any{}
		}
		for key, value := range fields {
			if key == "" {
				continue
			}
			cfg.InitialFields[key] = value
		}
		return nil
	}
}

// WithOutputPaths replaces the default stderr output, e.g. with a log file.
func WithOutputPaths(paths ...string) Option {
	return func(cfg *zap.Config) error {
		if len(paths) > 0 {
			cfg.OutputPaths = paths
		}
		return nil
	}
}

// New builds a logger from zap's production config with options applied in order.
func New(options ...Option) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	for _, option := range options {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
