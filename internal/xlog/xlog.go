// Package xlog wires up the zap logger shared by the executor, preprocessor
// and both cmd/ binaries.
package xlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console-encoded zap.Logger. verbose lowers the level to
// Debug; otherwise only Info and above are emitted.
func New(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "" // CLI output stays terse; timestamps add noise for a one-shot tool
	encoder := zapcore.NewConsoleEncoder(cfg)

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// Nop returns a logger that discards everything, used by package tests that
// don't want stray output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
