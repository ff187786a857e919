// Package logger provides structured logging for FactuLink
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *zap.Logger
	rotator      *lumberjack.Logger
	mu           sync.RWMutex
)

// Config represents logger configuration
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console

	// File enables a rotating log file next to stdout. Empty disables it.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns the configuration used when Init was never called.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Encoding:   "json",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// Init initializes the global logger, replacing any previous one.
func Init(cfg Config) error {
	l, rot, err := newLogger(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	old, oldRot := globalLogger, rotator
	globalLogger, rotator = l, rot
	mu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
	if oldRot != nil {
		_ = oldRot.Close()
	}
	return nil
}

func newLogger(cfg Config) (*zap.Logger, *lumberjack.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleConfig := encoderConfig
	if cfg.Development {
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var stdoutEncoder zapcore.Encoder
	switch cfg.Encoding {
	case "", "json":
		stdoutEncoder = zapcore.NewJSONEncoder(consoleConfig)
	case "console":
		stdoutEncoder = zapcore.NewConsoleEncoder(consoleConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log encoding %q", cfg.Encoding)
	}

	atomicLevel := zap.NewAtomicLevelAt(level)
	cores := []zapcore.Core{
		zapcore.NewCore(stdoutEncoder, zapcore.Lock(os.Stdout), atomicLevel),
	}

	// The file always gets plain JSON so it can be shipped as is.
	var rot *lumberjack.Logger
	if cfg.File != "" {
		rot = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rot),
			atomicLevel,
		))
	}

	opts := []zap.Option{zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(zapcore.NewTee(cores...), opts...), rot, nil
}

// ParseLevel accepts the zap level names plus TRACE, WARNING and CRITICAL,
// in any case. zap has nothing below debug, so TRACE maps to debug.
func ParseLevel(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return zapcore.DebugLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	case "critical":
		return zapcore.DPanicLevel, nil
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return level, fmt.Errorf("invalid log level: %w", err)
	}
	return level, nil
}

// Get returns the global logger
func Get() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	if err := Init(DefaultConfig()); err != nil {
		// Fallback to basic logger
		fallback, _ := zap.NewProduction()
		mu.Lock()
		globalLogger = fallback
		mu.Unlock()
		return fallback
	}

	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Named returns a child logger tagged the way listener components log:
// a component name and, when set, the business it serves.
func Named(component, business string) *zap.Logger {
	fields := []zap.Field{zap.String("component", component)}
	if business != "" {
		fields = append(fields, zap.String("business", business))
	}
	return Get().With(fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

// Sync flushes any buffered log entries and closes the rotating file.
// It is the last thing the process does on shutdown.
func Sync() error {
	mu.RLock()
	l, rot := globalLogger, rotator
	mu.RUnlock()

	var err error
	if l != nil {
		err = l.Sync()
	}
	if rot != nil {
		if cerr := rot.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
