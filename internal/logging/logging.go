// Package logging wraps zap behind a small interface so the rest of the
// module logs through one seam and tests can pass a nop logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin structured logger over zap.
type Logger struct {
	z *zap.Logger
}

// Field is one key/value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// New builds a production logger at the given level.
// Levels: debug, info, warning, off. Unknown levels fall back to info.
func New(level string) (*Logger, error) {
	if level == "off" {
		return Nop(), nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	cfg.EncoderConfig.MessageKey = "message"
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func zapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warning", "warn":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// With returns a child logger carrying the given fields on every line.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(convert(fields)...)}
}

// Debug writes a debug-level line.
func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, convert(fields)...) }

// Info writes an info-level line.
func (l *Logger) Info(msg string, fields ...Field) { l.z.Info(msg, convert(fields)...) }

// Warn writes a warning-level line.
func (l *Logger) Warn(msg string, fields ...Field) { l.z.Warn(msg, convert(fields)...) }

// Error writes an error-level line for err.
func (l *Logger) Error(err error, fields ...Field) {
	l.z.Error(err.Error(), convert(fields)...)
}

func convert(fields []Field) []zapcore.Field {
	out := make([]zapcore.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
