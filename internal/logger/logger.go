package logger

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It is usable before Init (discards).
var Logger = logr.Discard()

var base *zap.Logger

// Init builds a JSON zap logger on stdout and wraps it for logr consumers.
// debug enables V(1) output.
func Init(debug bool) logr.Logger {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.DisableStacktrace = true
	zc.OutputPaths = []string{"stdout"}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := zc.Build()
	if err != nil {
		panic(err)
	}
	base = z
	Logger = zapr.NewLogger(z)
	return Logger
}

// Sync flushes buffered entries.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

func Error(err error, msg string, args ...any) {
	Logger.Error(err, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.V(1).Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger.Info(msg, append([]any{"severity", "warn"}, args...)...)
}
