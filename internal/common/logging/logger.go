package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewDefaultLogger logs info and above as JSON to stdout
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(Config{Level: zapcore.InfoLevel, Format: FormatJSON})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &ZapAdapter{logger: zap.NewNop()}
}

// ConfigFromEnv reads LOG_LEVEL, LOG_FORMAT and ENVIRONMENT. LOG_FILE is
// opened by InitGlobalLogger.
func ConfigFromEnv() Config {
	cfg := Config{
		Level:  ParseLevel(os.Getenv("LOG_LEVEL")),
		Format: ParseFormat(os.Getenv("LOG_FORMAT")),
		Name:   "signflow",
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Fields = append(cfg.Fields, String("environment", env))
	}
	return cfg
}

// InitGlobalLogger installs the environment-configured logger as the
// global one. Output goes to stdout unless LOG_FILE names a file.
func InitGlobalLogger() {
	cfg := ConfigFromEnv()

	logFileName := os.Getenv("LOG_FILE")
	if logFileName != "" {
		file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			panic(fmt.Sprintf("Failed to open log file %s: %v", logFileName, err))
		}
		cfg.Output = io.MultiWriter(os.Stdout, file)
	}

	logger, err := NewZapLogger(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	SetGlobalLogger(logger)

	logger.Debug("Logger initialized",
		String("level", cfg.Level.String()),
		String("format", string(cfg.Format)),
		String("log_file", logFileName))
}

// MustSync flushes buffered entries of the global logger; call before exit
func MustSync() {
	if z, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = z.Sync()
	}
}

// WithContext is a convenience function to add context to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}
