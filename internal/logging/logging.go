// Package logging builds the process-wide zap logger.
package logging

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing JSON (or "console") lines to stderr at level.
func New(level, format string) (*zap.Logger, error) {
	return build(zapcore.Lock(os.Stderr), level, format)
}

func build(out zapcore.WriteSyncer, level, format string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig())
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig())
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	core := zapcore.NewCore(encoder, out, lvl)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// ParseLevel accepts debug, info, warn, error (case-insensitive). Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", level)
	}
}

// Sync flushes buffered entries, ignoring the EINVAL/ENOTTY that syncing a
// terminal returns on Linux.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
