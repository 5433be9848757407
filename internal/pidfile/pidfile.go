// Package pidfile stores the identity of the managed server process as a
// single numeric line on disk. The file is the only durable record linking
// a work directory to its running server, so writes are atomic and reads
// ignore anything after the first line.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// Write records pid at path atomically. The file holds the decimal PID and
// a trailing newline, nothing else.
func Write(path string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("pidfile: refusing to write pid %d", pid)
	}
	if err := renameio.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	return nil
}

// Read returns the PID stored at path. Only the first line is considered;
// surrounding whitespace is tolerated. A missing file surfaces as an
// fs.ErrNotExist wrapped error so callers can treat it as "no server".
func Read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("pidfile: parse %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pidfile: parse %s: non-positive pid %d", path, pid)
	}
	return pid, nil
}

// Remove deletes the identity file. A file that is already gone is not an
// error: removal is attempted from several cleanup paths and only one of
// them wins.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidfile: remove %s: %w", path, err)
	}
	return nil
}
