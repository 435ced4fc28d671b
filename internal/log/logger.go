// Package log provides a global logger with configurable logging level. Messages are written to
// stderr so that they never interleave with report output on stdout.

package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anomalies that are not expected to occur during normal use.
	LevelWarning              // Logs anomalies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var globalLogLevel = LevelWarning
var logMutex sync.Mutex
var sugar = newLogger(zapcore.Lock(os.Stderr))

func newLogger(w zapcore.WriteSyncer) *zap.SugaredLogger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), w, zapcore.DebugLevel)
	return zap.New(core).Sugar()
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w zapcore.WriteSyncer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	sugar = newLogger(w)
}

func SetLevel(level Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	globalLogLevel = level
}

func logger(level Level) *zap.SugaredLogger {
	logMutex.Lock()
	defer logMutex.Unlock()
	if level > globalLogLevel {
		return nil
	}
	return sugar
}

func Debug(format string, a ...interface{}) {
	if l := logger(LevelDebug); l != nil {
		l.Debugf(format, a...)
	}
}

func Info(format string, a ...interface{}) {
	if l := logger(LevelInfo); l != nil {
		l.Infof(format, a...)
	}
}

func Warning(format string, a ...interface{}) {
	if l := logger(LevelWarning); l != nil {
		l.Warnf(format, a...)
	}
}

func Error(format string, a ...interface{}) {
	if l := logger(LevelError); l != nil {
		l.Errorf(format, a...)
	}
}

// Sync flushes buffered log entries. Call before exiting.
func Sync() {
	logMutex.Lock()
	defer logMutex.Unlock()
	_ = sugar.Sync()
}
