// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. The process talks to its
// caller over stdout in some deployments, so logs default to stderr.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Str("service", "rt-gateway").Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts LogLevel to zerolog.Level. Unknown values fall back to
// info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow
//   - every RT request (method, path, status, duration, request_id)
//   - cursor page fetches
//   - reference data cache hits, misses, revalidations
//
// Info: lifecycle
//   - startup settings (URL, auth mode, TLS verification)
//   - probe success, server ready, shutdown
//   - bulk run start and completion summary
//
// Warn: degraded but serving
//   - startup probe failure (the process stays up)
//   - per-item bulk failures
//   - Redis unavailable, cache read/write errors
//   - follow-up reads after create/update that failed
//
// Error: needs attention
//   - configuration errors
//   - HTTP listener failure
//
// Context Fields:
//   - component: package emitting the line (session, gateway, bulk, ...)
//   - method, path, status: RT request
//   - request_id: X-Request-ID sent to RT
//   - kind: failure kind (authentication, conflict, network, ...)
//   - ref: entity reference, "type/id"
//   - run_id: bulk run identifier
