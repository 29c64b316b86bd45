package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

// NewLogger returns a JSON production logger.
func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()

	// Parse log level
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// NewDevelopment returns a human-readable logger for the CLI.
func NewDevelopment(level string) (*Logger, error) {
	config := zap.NewDevelopmentConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{logger}, nil
}

// ForFormat picks NewLogger for "json" and NewDevelopment otherwise.
func ForFormat(format, level string) (*Logger, error) {
	if format == "json" {
		return NewLogger(level)
	}
	return NewDevelopment(level)
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *zap.Logger {
	return l.Named(name)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
