// Package logging writes server lifecycle events to stdout and a
// rotating file. The ingestion and CLI paths log through logrus; this
// wrapper exists for the long-running serve path, where operators want
// a machine-readable trail that survives restarts.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Config controls the server log destination.
type Config struct {
	Level     slog.Level
	File      string // rotating log file; empty logs to stdout only
	MaxBytes  int64  // rotation threshold
	Keep      int    // rotated files to keep
	JSON      bool
	AddSource bool
}

// DefaultConfig logs INFO as JSON to logs/tscope.log. With debug set it
// logs DEBUG as text with source locations, which reads better in a
// terminal.
func DefaultConfig(debug bool) Config {
	cfg := Config{
		Level:    slog.LevelInfo,
		File:     filepath.Join("logs", "tscope.log"),
		MaxBytes: 10 << 20,
		Keep:     3,
		JSON:     true,
	}
	if debug {
		cfg.Level = slog.LevelDebug
		cfg.JSON = false
		cfg.AddSource = true
	}
	return cfg
}

var (
	mu     sync.Mutex
	active *slog.Logger
	file   *os.File
)

// Initialize opens the log destination and installs the package-level
// logger. Calling it again replaces the destination.
func Initialize(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	out := io.Writer(os.Stdout)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		if err := rotate(cfg); err != nil {
			return err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		if file != nil {
			file.Close()
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	if cfg.JSON {
		active = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		active = slog.New(slog.NewTextHandler(out, opts))
	}
	return nil
}

// rotate shifts an oversized log file into the numbered backup chain
// (file.1 is the newest backup, file.Keep the oldest).
func rotate(cfg Config) error {
	max := cfg.MaxBytes
	if max <= 0 {
		max = 10 << 20
	}
	info, err := os.Stat(cfg.File)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < max {
		return nil
	}

	keep := cfg.Keep
	if keep <= 0 {
		keep = 3
	}
	for i := keep - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", cfg.File, i), fmt.Sprintf("%s.%d", cfg.File, i+1))
	}
	if err := os.Rename(cfg.File, cfg.File+".1"); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	return nil
}

// Close closes the log file if one is open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

func logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if active == nil {
		return slog.Default()
	}
	return active
}

func Debug(msg string, args ...any) { logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { logger().Warn(msg, args...) }
func Error(msg string, args ...any) { logger().Error(msg, args...) }
