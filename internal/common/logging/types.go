// Package logging provides structured logging types and interfaces
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log message.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a level name to a LogLevel. Unrecognized names
// fall back to InfoLevel.
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the structured logging interface used throughout the
// dispatcher. Error takes the error separately so adapters can attach
// it under a well-known key.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// LogConfig configures a logger instance.
type LogConfig struct {
	Level      LogLevel
	Output     io.Writer // nil means stdout
	TimeFormat string
	Prefix     string
}

// DefaultLogConfig reads the level from LOG_LEVEL and leaves the rest
// at defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      ParseLevel(os.Getenv("LOG_LEVEL")),
		TimeFormat: time.RFC3339,
	}
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger
	initOnce     sync.Once
)

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the process-wide logger, creating a default
// one on first use.
func GetGlobalLogger() Logger {
	initOnce.Do(func() {
		globalMu.Lock()
		if globalLogger == nil {
			globalLogger = NewDefaultLogger()
		}
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Package-level shortcuts routed through the global logger.

func Debug(msg string, fields ...Field) { GetGlobalLogger().Debug(msg, fields...) }

func Info(msg string, fields ...Field) { GetGlobalLogger().Info(msg, fields...) }

func Warn(msg string, fields ...Field) { GetGlobalLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) { GetGlobalLogger().Error(msg, err, fields...) }
