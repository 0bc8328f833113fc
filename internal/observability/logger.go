package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the production JSON logger with the level taken from LOG_LEVEL.
func NewLogger() (*zap.Logger, error) {
	return NewLoggerWithOptions(os.Getenv("LOG_LEVEL"), nil)
}

// NewLoggerWithOptions builds the production JSON logger. level overrides LOG_LEVEL
// parsing rules (empty means info); outputPaths defaults to stderr so CLI output on
// stdout stays clean.
func NewLoggerWithOptions(level string, outputPaths []string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(level)
	if len(outputPaths) > 0 {
		config.OutputPaths = outputPaths
	}

	return config.Build()
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
