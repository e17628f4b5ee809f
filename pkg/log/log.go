package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	levels = map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"panic":   zapcore.PanicLevel,
		"fatal":   zapcore.FatalLevel,
	}
)

func init() {
	Redirect(os.Stdout)
}

// Redirect replaces the global logger with a JSON logger writing to w at
// the shared atomic level.
func Redirect(w io.Writer) {
	zap.ReplaceGlobals(zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		logLevel,
	)))
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// Logger carries a fixed set of fields, typically the job being handled.
type Logger struct {
	s *zap.SugaredLogger
}

// With returns a Logger that prefixes every entry with keysAndValues.
func With(keysAndValues ...interface{}) Logger {
	return Logger{s: zap.S().With(keysAndValues...)}
}

// With adds more fields to an existing Logger.
func (l Logger) With(keysAndValues ...interface{}) Logger {
	return Logger{s: l.s.With(keysAndValues...)}
}

func (l Logger) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }
func (l Logger) Info(msg string, keysAndValues ...interface{}) { l.s.Infow(msg, keysAndValues...) }
func (l Logger) Warn(msg string, keysAndValues ...interface{}) { l.s.Warnw(msg, keysAndValues...) }
func (l Logger) Error(msg string, keysAndValues ...interface{}) { l.s.Errorw(msg, keysAndValues...) }

// Debug logs at debug level with structured key/value pairs.
// See https://godoc.org/go.uber.org/zap.
func Debug(msg string, keysAndValues ...interface{}) {
	zap.S().Debugw(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...interface{}) {
	zap.S().Infow(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...interface{}) {
	zap.S().Warnw(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...interface{}) {
	zap.S().Errorw(msg, keysAndValues...)
}

// Panic logs and then panics with msg.
func Panic(msg string, keysAndValues ...interface{}) {
	zap.S().Panicw(msg, keysAndValues...)
}

// Fatal logs and exits the process with status 1.
func Fatal(msg string, keysAndValues ...interface{}) {
	zap.S().Fatalw(msg, keysAndValues...)
}

// SetLevel parses level case-insensitively ("warning" is accepted for warn)
// and applies it to every logger created by this package.
func SetLevel(level string) error {
	l, ok := levels[Clean(level)]
	if !ok {
		return fmt.Errorf("invalid log level string: %v", level)
	}
	logLevel.SetLevel(l)
	return nil
}

func GetLevel() zapcore.Level {
	return logLevel.Level()
}

// Clean lowercases and trims a level string.
func Clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
