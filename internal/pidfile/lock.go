//go:build !windows

package pidfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/loykin/craftctl/internal/errdefs"
)

// Lock is an advisory exclusive lock scoped to one work directory. Actions
// that mutate server state hold it so that concurrent invocations fail fast
// instead of interleaving.
type Lock struct {
	f *os.File
}

// Acquire takes the lock at path without blocking. When another invocation
// already holds it the returned error wraps errdefs.ErrLockHeld. The lock
// file is created if absent and never deleted; ownership lives in the flock,
// not in the file's existence.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pidfile: open lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", errdefs.ErrLockHeld, path)
		}
		return nil, fmt.Errorf("pidfile: flock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock and closes the underlying file. Calling Release on
// a nil or already-released lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
