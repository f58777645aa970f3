// Package logging is a thin wrapper over go.uber.org/zap providing the
// four diagnostic severities the HMA lock manager needs: NOTICE,
// WARNING, BUSY_DEADLOCK, and CANTOPEN. It is grounded on the way
// talent-plan-tinykv's scheduler wraps zap behind a small package-level
// logger (scheduler/server/config/config.go builds a *zap.Logger from a
// level string) rather than passing *zap.Logger around directly.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger implements pagelock.Logger. The zero value is not usable; build
// one with New or Nop.
type Logger struct {
	z *zap.SugaredLogger
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error"; unrecognized values fall back to "info"), writing development-
// formatted output to stderr.
func New(level string) (*Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z.Sugar()}, nil
}

// Nop discards every diagnostic; useful in tests and short-lived CLI runs
// that don't want log output interleaved with their own.
func Nop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// Notice logs at Info: a crashed client's slot was recovered.
func (l *Logger) Notice(format string, args ...interface{}) {
	l.z.Infof(format, args...)
}

// Warning logs at Warn: cumulative writer time crossed a whole second.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.z.Warnf(format, args...)
}

// DeadlockConflict logs at Error: a genuine, non-recoverable lock
// conflict was returned to the caller as BusyDeadlock.
func (l *Logger) DeadlockConflict(page uint32) {
	l.z.Errorw("busy deadlock", "page", page)
}

// CantOpen logs at Error: a stat/open/ftruncate/mmap failure on the HMA
// file.
func (l *Logger) CantOpen(format string, args ...interface{}) {
	l.z.Errorf(format, args...)
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error { return l.z.Sync() }
