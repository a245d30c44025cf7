// Package logger provides structured logging for the fleet tools using zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls log level and destinations.
type Config struct {
	Level      string `json:"level"`
	Debug      bool   `json:"debug"`
	Output     string `json:"output"` // "stdout" (default) or "stderr"
	TimeFormat string `json:"time_format"`
	// File, when set, mirrors every event as a JSON line to this path in
	// addition to the console output.
	File string `json:"file"`
}

// New builds a logger from cfg. The console stream is human-readable; the
// optional file mirror keeps the machine-readable JSON form. The returned
// closer is nil when no file mirror is configured.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	var console io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		console = os.Stderr
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
		}
	}

	out := zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}

	var closer io.Closer
	var w io.Writer = out
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("opening log file: %w", err)
		}
		closer = f
		w = zerolog.MultiLevelWriter(out, f)
	}

	l := zerolog.New(w).Level(level).With().Timestamp().Logger()

	return l, closer, nil
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
