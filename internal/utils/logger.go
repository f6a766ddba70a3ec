package utils

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	// Level sets the minimum log level (debug, info, warn, error, fatal, panic)
	Level string
	// Pretty enables pretty console output for interactive runs
	Pretty bool
	// CallerInfo adds file and line number to logs
	CallerInfo bool
	// LogFile specifies the log file path (empty means Output, or stderr)
	LogFile string
	// Output overrides stderr when no LogFile is set
	Output io.Writer
}

// NewLogger creates a new logger instance with the given configuration
func NewLogger(config LoggerConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}

	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	if config.LogFile != "" {
		output = openLogFile(config.LogFile, output)
	}

	// Pretty output only makes sense on a terminal stream
	if config.Pretty && config.LogFile == "" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	if config.CallerInfo {
		logger = logger.With().Caller().Logger()
	}

	return logger
}

// openLogFile opens path for appending, falling back to the given writer on any error
func openLogFile(path string, fallback io.Writer) io.Writer {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fallback
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fallback
	}
	return file
}

// SetupGlobalLogger sets up the global logger with the given configuration
func SetupGlobalLogger(config LoggerConfig) zerolog.Logger {
	logger := NewLogger(config)
	log.Logger = logger
	return logger
}

// Component returns a child logger tagged with the component name
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// NopLogger returns a disabled logger, mostly for tests
func NopLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		Pretty:     false,
		CallerInfo: false,
	}
}

// DevelopmentConfig returns a logger configuration suitable for local runs
func DevelopmentConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "debug",
		Pretty:     true,
		CallerInfo: true,
	}
}
