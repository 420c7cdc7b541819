package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger and remembers its dotted name so child loggers
// read like "engine.registry".
type Logger struct {
	*zap.Logger
	name string
}

// NewLoggerFromEnv builds a logger for the given environment. "dev" gives a
// colored console encoder, anything else JSON. level accepts zap level names
// and falls back to info.
func NewLoggerFromEnv(env, level string) *Logger {
	var cfg zap.Config
	if strings.EqualFold(env, "dev") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "@timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}
	cfg.Level = lvl

	zl, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("unable to build logger: %v", err))
	}
	return &Logger{Logger: zl}
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func (l *Logger) GetName() string {
	return l.name
}

func (l *Logger) Named(name string) *Logger {
	newName := name
	if l.name != "" {
		newName = fmt.Sprintf("%s.%s", l.name, name)
	}
	return &Logger{
		Logger: l.Logger.Named(name),
		name:   newName,
	}
}

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		name:   l.name,
	}
}

// AtExit flushes buffered entries. Meant to be deferred right after the
// logger is created.
func (l *Logger) AtExit() {
	if l.Logger != nil {
		_ = l.Logger.Sync()
	}
}
