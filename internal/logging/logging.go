// Package logging constructs the structured logger shared by every
// component of the stat server.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.SugaredLogger at INFO level, or DEBUG when debug is true,
// matching the documented effect of the boolean `debug` config key.
func New(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Component returns a child logger tagged with the originating component,
// so every log line carries the same field the error envelope carries.
func Component(logger *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return logger.With("component", name)
}

// Resource returns a child logger additionally tagged with a resource name.
func Resource(logger *zap.SugaredLogger, resource string) *zap.SugaredLogger {
	return logger.With("resource", resource)
}
