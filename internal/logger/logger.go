// Package logger wraps zap with the service's production defaults: JSON
// output on stdout, errors on stderr, and a level taken from configuration.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Logger wraps the zap logger used across the service.
type Logger struct {
	*zap.Logger
}

// New builds a production logger at the given level. An empty level means
// info.
func New(level string) (*Logger, error) {
	parsed := zapcore.InfoLevel

	if level != "" {
		var err error

		parsed, err = zapcore.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid log level %q", level)
		}
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(parsed)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: zapLogger}, nil
}

// NewLogger builds a logger at the default info level.
func NewLogger() (*Logger, error) {
	return New("")
}

// Named returns a child logger scoped to a subsystem, so sync, store and
// server lines are distinguishable in combined output.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// Sync flushes any buffered log entries. Safe on a nil inner logger.
func (l *Logger) Sync() error {
	if l.Logger != nil {
		return l.Logger.Sync()
	}

	return nil
}
