package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPidFileRoundTrip(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "craftctl-serve.pid")
	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	got, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(got) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file content = %q, want %d", got, os.Getpid())
	}
	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("remove pid file: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("pid file should be gone, stat err = %v", err)
	}
}

func TestRemovePidFileEmptyPath(t *testing.T) {
	if err := removePidFile(""); err != nil {
		t.Fatalf("empty pid file path should be a no-op, got %v", err)
	}
}
