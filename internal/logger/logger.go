// Package logger builds the two logging surfaces craftctl has: structured
// slog output for craftctl itself, and rotating capture files for the
// managed server's console.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Structured log levels accepted by SlogConfig.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Structured log formats accepted by SlogConfig.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Rotation defaults for console capture files.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of rotated files
	DefaultMaxAgeDays = 7  // days
)

// Config carries both logging concerns so one struct can be handed around.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// SlogConfig shapes craftctl's own structured output.
type SlogConfig struct {
	Level      string // debug|info|warn|error, default info
	Format     string // text|json, default text
	Color      bool   // ANSI level colors, text format only
	TimeStamps bool
	Source     bool
}

// FileConfig shapes the rotating capture of the server's console.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string // base directory, empty disables file capture
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // rotated files to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // gzip rotated files
}

// NewSlogger returns the structured logger for craftctl itself, writing to
// stderr so server console capture and action output never interleave.
func (c Config) NewSlogger() *slog.Logger {
	return slog.New(c.handler(os.Stderr))
}

func (c Config) handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}
	if c.Slog.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	if c.Slog.Color {
		return NewColorTextHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConsoleWriter returns the rotating writer that captures the server's
// console stream under Dir/<name>.console.log, or nil when file capture is
// disabled. The caller owns closing it.
func (c Config) ConsoleWriter(name string) io.WriteCloser {
	if c.File.Dir == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   filepath.Join(c.File.Dir, name+".console.log"),
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
