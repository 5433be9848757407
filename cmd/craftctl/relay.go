package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/craftctl/internal/config"
	"github.com/loykin/craftctl/internal/logger"
	"github.com/loykin/craftctl/internal/relay"
)

// runRelay is the body of the detached relay reader process. It pumps the
// server's console stream (fd 3) into the rotating capture file and feeds
// pipe lines into the server's stdin (fd 4) until the server stops or
// disappears.
func runRelay(cfg *config.Config, globalFlags *GlobalFlags, console, serverIn *os.File) error {
	log, closeLog := relayLogger(cfg, globalFlags)
	defer closeLog()

	var consoleOut io.Writer = io.Discard
	capture := logger.Config{File: logger.FileConfig{
		Dir:        cfg.Log.Dir,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}}.ConsoleWriter("server")
	if capture != nil {
		defer func() { _ = capture.Close() }()
		consoleOut = capture
	}

	// The console read end sees EOF exactly when the server exits; the
	// spawner dropped its duplicate descriptors right after launch.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		_, _ = io.Copy(consoleOut, console)
	}()

	ctx, stop := notifyContext()
	defer stop()

	reader := &relay.Reader{
		Channel:      relay.Channel{PipePath: cfg.PipeFile, PIDPath: cfg.PIDFile},
		Out:          serverIn,
		ReadTimeout:  cfg.ReadTimeout,
		StartupGrace: cfg.StartupGrace(),
		Logger:       log,
	}
	log.Info("relay reader running", "pipe", cfg.PipeFile)
	err := reader.Run(ctx)
	if errors.Is(err, context.Canceled) {
		// Told to go away while the server keeps running; not a failure.
		return nil
	}
	if err != nil {
		return err
	}

	// The stop command was forwarded but the server is still flushing its
	// shutdown lines; hold the capture open until the console stream ends.
	var bound <-chan time.Time
	if d := cfg.StopTimeout; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		bound = t.C
	}
	select {
	case <-pumpDone:
	case <-bound:
		log.Warn("console stream still open after stop timeout")
	case <-ctx.Done():
	}
	log.Info("relay reader done")
	return nil
}

// relayLogger builds the relay's own diagnostic logger. The process is
// detached from any terminal, so diagnostics append to a plain file next to
// the console capture; failing that they go to the usual stderr handler.
func relayLogger(cfg *config.Config, globalFlags *GlobalFlags) (*slog.Logger, func()) {
	noop := func() {}
	if err := os.MkdirAll(cfg.Log.Dir, 0o755); err != nil {
		return buildLogger(globalFlags), noop
	}
	path := filepath.Join(cfg.Log.Dir, "relay.log")
	// #nosec 302 -- the path is under the configured log directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return buildLogger(globalFlags), noop
	}
	h := slog.NewTextHandler(f, &slog.HandlerOptions{Level: logger.ParseLevel(globalFlags.LogLevel)})
	return slog.New(h), func() { _ = f.Close() }
}
