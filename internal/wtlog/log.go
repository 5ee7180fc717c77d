// Package wtlog provides structured, component-scoped logging for the
// storage engine, grounded on cuemby-warren/pkg/log: a single global
// zerolog.Logger configured once via Init, with WithComponent child loggers
// carrying a "component" field so cache/checkpoint/txn log lines can be
// filtered independently.
package wtlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Safe for concurrent use.
var Logger zerolog.Logger

func init() {
	Init(Config{Level: InfoLevel, Output: os.Stderr})
}

// Level mirrors the verbose=[...] option family in spec.md §6.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init (re)configures the global logger. Connection.Open calls this with
// the log level from Config.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the owning component,
// e.g. "cache", "checkpoint", "txn", "block".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
