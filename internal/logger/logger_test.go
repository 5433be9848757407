package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"Verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHandlerTextNoTimestamps(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelInfo, Format: FormatText}}
	log := slog.New(cfg.handler(&buf))

	log.Debug("hidden")
	log.Info("visible", slog.String("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record leaked at info level: %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "k=v") {
		t.Fatalf("missing info record or attr: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("timestamps should be suppressed: %q", out)
	}
}

func TestHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Format: FormatJSON, TimeStamps: true}}
	log := slog.New(cfg.handler(&buf))
	log.Warn("careful")
	out := buf.String()
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"msg":"careful"`) {
		t.Fatalf("not JSON output: %q", out)
	}
	if !strings.Contains(out, `"time"`) {
		t.Fatalf("timestamps requested but missing: %q", out)
	}
}

func TestHandlerColorPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Format: FormatText, Color: true}}
	log := slog.New(cfg.handler(&buf))
	log.Error("boom")
	out := buf.String()
	// TextHandler quotes messages holding control bytes, so the escape may
	// surface raw or in \x1b form.
	if !strings.Contains(out, "\x1b[31m") && !strings.Contains(out, `\x1b[31m`) {
		t.Fatalf("expected red ANSI code in output: %q", out)
	}
	if !strings.Contains(out, "boom") {
		t.Fatalf("message missing: %q", out)
	}
}

func TestConsoleWriterDisabledWithoutDir(t *testing.T) {
	var cfg Config
	if w := cfg.ConsoleWriter("server"); w != nil {
		t.Fatalf("expected nil writer when Dir is empty")
	}
}

func TestConsoleWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	w := cfg.ConsoleWriter("server")
	if w == nil {
		t.Fatal("expected writer when Dir is set")
	}
	if _, err := w.Write([]byte("console line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeIf(w)
	path := filepath.Join(dir, "server.console.log")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("console log not created at %s: %v", path, err)
	}
}

func TestConsoleWriterDefaults(t *testing.T) {
	cfg := Config{File: FileConfig{Dir: t.TempDir()}}
	l, ok := cfg.ConsoleWriter("n").(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	closeIf(l)
}

func TestConsoleWriterOverrides(t *testing.T) {
	cfg := Config{File: FileConfig{Dir: t.TempDir(), MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	l := cfg.ConsoleWriter("n").(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	closeIf(l)
}
