package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitGlobalLogger initializes the global logger instance
func InitGlobalLogger(level LogLevel, format string, journal *Journal) *Logger {
	var logger *Logger
	if format == "json" {
		logger = NewLogger(level, os.Stdout)
	} else {
		logger = NewLogger(level, zerolog.ConsoleWriter{Out: os.Stdout})
	}

	if journal != nil {
		logger.AttachJournal(journal)
	}

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	return logger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(InfoLevel, os.Stdout)
	}
	return globalLogger
}

// Debug logs a debug message
func Debug(msg string) {
	GetGlobalLogger().logger.Debug().Msg(msg)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	GetGlobalLogger().logger.Info().Msg(fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	GetGlobalLogger().logger.Warn().Msg(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	GetGlobalLogger().logger.Error().Msg(fmt.Sprintf(format, args...))
}

// Fatalf logs a formatted fatal message and exits
func Fatalf(format string, args ...interface{}) {
	GetGlobalLogger().logger.Fatal().Msg(fmt.Sprintf(format, args...))
}

// WithModule creates a logger with module field
func WithModule(module string) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().Str("module", module).Logger()
	return &logger
}

// WithJob creates a logger with job-related fields
func WithJob(queue, jobType string) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().
		Str("queue", queue).
		Str("job_type", jobType).
		Logger()
	return &logger
}

// WithError creates a logger with error field
func WithError(err error) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().Err(err).Logger()
	return &logger
}
