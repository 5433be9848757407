//go:build !windows

// Package relay owns the command conduit between short-lived craftctl
// invocations and the long-running server: a named pipe on disk plus the
// reader loop that pumps lines written to the pipe into the server's input
// stream.
package relay

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/loykin/craftctl/internal/errdefs"
	"github.com/loykin/craftctl/internal/probe"
)

// Channel names the two filesystem artifacts a supervised server leaves
// behind: the command pipe and the identity file liveness checks read.
type Channel struct {
	PipePath string
	PIDPath  string
}

// Create makes the named pipe. An existing pipe at the path is reused so a
// crashed run does not block the next start; any other kind of file
// occupying the path is a hard error, because start must never feed
// commands into a regular file.
func (c Channel) Create() error {
	err := unix.Mkfifo(c.PipePath, 0o644)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("%w: mkfifo %s: %v", errdefs.ErrPipeCreation, c.PipePath, err)
	}
	fi, statErr := os.Stat(c.PipePath)
	if statErr != nil {
		return fmt.Errorf("%w: stat %s: %v", errdefs.ErrPipeCreation, c.PipePath, statErr)
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%w: %s exists and is not a pipe", errdefs.ErrPipeCreation, c.PipePath)
	}
	return nil
}

// Remove deletes the pipe. A pipe that is already gone is not an error;
// cleanup runs from more than one place.
func (c Channel) Remove() error {
	if err := os.Remove(c.PipePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("relay: remove pipe %s: %w", c.PipePath, err)
	}
	return nil
}

// Send delivers one command line through the pipe. The server must be
// confirmed alive first; when it is not, Send fails with ErrNotRunning and
// performs no write at all. OS-level delivery failures, including a pipe
// with no reader on the other end, surface as ErrSendCommand.
func (c Channel) Send(command string) error {
	_, alive, err := probe.PIDFile{Path: c.PIDPath}.Check()
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrNotRunning, err)
	}
	if !alive {
		return errdefs.ErrNotRunning
	}
	f, err := os.OpenFile(c.PipePath, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", errdefs.ErrSendCommand, c.PipePath, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("%w: write %s: %v", errdefs.ErrSendCommand, c.PipePath, err)
	}
	return nil
}
