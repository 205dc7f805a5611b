// Package logging builds the zap logger. Stdout carries protocol frames, so
// log output goes to stderr or a file and never to stdout.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/standardbeagle/autousing/internal/config"
)

// New creates a logger from the log section of the configuration. The
// returned cleanup flushes buffered entries and closes the log file.
func New(cfg config.Log) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}

	sink := zapcore.Lock(os.Stderr)
	closeFile := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.Lock(f)
		closeFile = func() { _ = f.Close() }
	}

	logger := zap.New(zapcore.NewCore(newEncoder(cfg.Format), sink, level), zap.AddCaller())
	cleanup := func() {
		if err := logger.Sync(); err != nil && !isStdoutSyncError(err) {
			fmt.Fprintf(os.Stderr, "flush log: %v\n", err)
		}
		closeFile()
	}
	return logger, cleanup, nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// isStdoutSyncError reports the EINVAL/ENOTTY Linux returns when syncing a
// terminal or pipe
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
