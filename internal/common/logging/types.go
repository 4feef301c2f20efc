// Package logging is the structured logger shared by every package. It wraps
// zap behind a small interface so callers never import zap directly.
package logging

import (
	"context"
	"io"
	"strings"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// Field is a key-value pair attached to a log entry
type Field struct {
	Key   string
	Value interface{}
}

// Logger is implemented by ZapAdapter
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	// WithContext attaches the correlation id carried by ctx, if any
	WithContext(ctx context.Context) Logger
}

// Format selects the encoder
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Config describes a logger
type Config struct {
	Level  zapcore.Level
	Format Format
	// Output defaults to stdout
	Output io.Writer
	// Name is added as the logger name on every entry
	Name string
	// Fields are attached to every entry
	Fields []Field
}

// ParseLevel maps LOG_LEVEL values to zap levels. "warning" is accepted as
// an alias; anything unknown is info.
func ParseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return level
}

// ParseFormat maps LOG_FORMAT; anything but "console" is JSON
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatConsole)) {
		return FormatConsole
	}
	return FormatJSON
}

type holder struct{ logger Logger }

var global atomic.Pointer[holder]

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(logger Logger) {
	global.Store(&holder{logger: logger})
}

// GetGlobalLogger returns the process-wide logger, creating an info-level
// JSON logger on stdout on first use
func GetGlobalLogger() Logger {
	if h := global.Load(); h != nil {
		return h.logger
	}
	global.CompareAndSwap(nil, &holder{logger: NewDefaultLogger()})
	return global.Load().logger
}

func Debug(msg string, fields ...Field) {
	GetGlobalLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	GetGlobalLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	GetGlobalLogger().Warn(msg, fields...)
}

func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}
