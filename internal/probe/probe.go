//go:build !windows

// Package probe answers one question: is the process with a given PID alive
// right now. It sends signal 0 and treats every failure the same way, so a
// PID we lack permission to signal reads as not alive rather than as a
// server we could never control anyway.
package probe

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/loykin/craftctl/internal/pidfile"
)

// Alive reports whether pid names a live process. Non-positive PIDs are
// never alive; signal-0 semantics would otherwise target process groups.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// PIDFile couples an identity file with the liveness check.
type PIDFile struct {
	Path string
}

// Check reads the identity file and probes the recorded PID. It returns the
// PID and whether that process is alive. A missing file means no server and
// is not an error; an unreadable or garbled file is reported so callers can
// distinguish "stopped" from "broken state".
func (p PIDFile) Check() (int, bool, error) {
	pid, err := pidfile.Read(p.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return pid, Alive(pid), nil
}
