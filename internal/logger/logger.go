// Package logger provides the process-wide structured logger.
//
// It wraps log/slog with a switchable level and format (text for terminals,
// JSON for machine consumption). Engines log through the package-level
// helpers so the CLI and tests can reconfigure output in one place.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	mu      sync.RWMutex
	level   = new(slog.LevelVar)
	format  = "text"
	output  io.Writer = os.Stderr
	slogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
)

// Init reconfigures the logger from cfg. Empty fields keep their current
// values.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Output != "" {
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			output = os.Stdout
		case "stderr":
			output = os.Stderr
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			output = f
		}
	}
	if cfg.Level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
			return fmt.Errorf("invalid log level %q", cfg.Level)
		}
		level.Set(l)
	}
	if cfg.Format != "" {
		f := strings.ToLower(cfg.Format)
		if f != "text" && f != "json" {
			return fmt.Errorf("invalid log format %q", cfg.Format)
		}
		format = f
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		slogger = slog.New(slog.NewJSONHandler(output, opts))
	} else {
		slogger = slog.New(slog.NewTextHandler(output, opts))
	}
	return nil
}

// InitWithWriter points the logger at a custom writer; primarily for tests.
func InitWithWriter(w io.Writer, cfgLevel, cfgFormat string) {
	mu.Lock()
	output = w
	mu.Unlock()
	_ = Init(Config{Level: cfgLevel, Format: cfgFormat})
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with structured key/value pairs.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger { return get().With(args...) }
