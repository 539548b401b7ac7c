// Package logging builds the zap.Logger every other package takes by
// injection, grounded on dev-mohitbeniwal-echo/api/logging/logger.go's
// production config and ISO8601 time encoding, adapted to return the
// logger rather than install it as a package global.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap.Logger at the given level ("debug", "info",
// "warn", or "error").
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg.Level.SetLevel(parsed)

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger, nil
}
