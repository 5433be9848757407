//go:build !windows

package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/craftctl/internal/errdefs"
	"github.com/loykin/craftctl/internal/pidfile"
	"github.com/loykin/craftctl/internal/probe"
)

// StopCommand is the console command that shuts the server down. A relay
// line equal to it hands cleanup ownership to the reader.
const StopCommand = "stop"

const (
	defaultReadTimeout  = 3 * time.Second
	defaultStartupGrace = 10 * time.Second
)

// Reader is the long-lived loop pumping pipe lines into the server's input.
// One Reader is spawned per server start and lives exactly as long as the
// server does. Out is the server's input stream, so forwarding a line and
// echoing it are a single write.
type Reader struct {
	Channel Channel
	Out     io.Writer

	// ReadTimeout bounds each pipe read so the loop can re-validate that
	// the server still exists between lines.
	ReadTimeout time.Duration

	// StartupGrace tolerates a missing or not-yet-alive identity during
	// start, before the reader has seen the server alive once. After the
	// first sighting any not-alive observation is terminal.
	StartupGrace time.Duration

	Logger *slog.Logger
}

// Run pumps the pipe until the server stops, disappears, or ctx is
// canceled.
//
// A literal stop line is forwarded first; the reader then removes the
// identity file and the pipe and returns nil. It is the sole owner of
// post-stop cleanup, synchronized with the server acting on the command
// rather than with whoever requested the stop. A server that vanishes
// without a stop is caught by the liveness re-check between timed reads;
// the reader performs the same cleanup and returns ErrServerDisappeared.
// Cancellation exits without cleanup because the server keeps running.
func (r *Reader) Run(ctx context.Context) error {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := r.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	grace := r.StartupGrace
	if grace <= 0 {
		grace = defaultStartupGrace
	}

	// O_RDWR so the open never blocks waiting for a writer and the loop
	// never sees EOF when a one-shot writer closes its end.
	f, err := os.OpenFile(r.Channel.PipePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", errdefs.ErrPipeCreation, r.Channel.PipePath, err)
	}
	defer func() { _ = f.Close() }()

	// Wake a blocked read immediately on cancellation.
	unhook := context.AfterFunc(ctx, func() {
		_ = f.SetReadDeadline(time.Unix(1, 0))
	})
	defer unhook()

	check := probe.PIDFile{Path: r.Channel.PIDPath}
	started := time.Now()
	sawLive := false

	buf := make([]byte, 4096)
	var pending []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = f.SetReadDeadline(time.Now().Add(timeout))
		n, err := f.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := string(pending[:idx])
				pending = pending[idx+1:]
				stop, ferr := r.deliver(line, check, log)
				if ferr != nil {
					return ferr
				}
				if stop {
					r.cleanup(log)
					return nil
				}
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("relay: read pipe %s: %w", r.Channel.PipePath, err)
		}

		// No complete line within the timeout: is the server still there?
		pid, alive, cerr := check.Check()
		if cerr != nil {
			log.Warn("relay: identity file unreadable", "error", cerr)
			continue
		}
		if alive {
			sawLive = true
			continue
		}
		if !sawLive && time.Since(started) < grace {
			// Start is still settling; the identity may not be recorded yet.
			continue
		}
		log.Warn("relay: server disappeared without stop", "pid", pid)
		r.cleanup(log)
		return errdefs.ErrServerDisappeared
	}
}

// deliver forwards one line verbatim and reports whether it was the stop
// command. A failed write to the server's input usually means the server
// exited mid-line, so liveness decides between disappearance and a plain
// write error.
func (r *Reader) deliver(line string, check probe.PIDFile, log *slog.Logger) (bool, error) {
	if _, err := io.WriteString(r.Out, line+"\n"); err != nil {
		if _, alive, cerr := check.Check(); cerr == nil && !alive {
			log.Warn("relay: server input closed", "error", err)
			r.cleanup(log)
			return false, errdefs.ErrServerDisappeared
		}
		return false, fmt.Errorf("relay: forward to server input: %w", err)
	}
	return line == StopCommand, nil
}

func (r *Reader) cleanup(log *slog.Logger) {
	if err := pidfile.Remove(r.Channel.PIDPath); err != nil {
		log.Warn("relay: cleanup identity file", "error", err)
	}
	if err := r.Channel.Remove(); err != nil {
		log.Warn("relay: cleanup pipe", "error", err)
	}
}
