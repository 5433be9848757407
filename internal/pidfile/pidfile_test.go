package pidfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	if err := Write(path, 4321); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "4321\n" {
		t.Fatalf("file content = %q, want %q", string(b), "4321\n")
	}
	pid, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != 4321 {
		t.Fatalf("pid = %d, want 4321", pid)
	}
}

func TestReadFirstLineOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	if err := os.WriteFile(path, []byte("  777 \ntrailing junk\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	pid, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != 777 {
		t.Fatalf("pid = %d, want 777", pid)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.pid"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestReadGarbage(t *testing.T) {
	for _, content := range []string{"", "\n", "not-a-pid\n", "-5\n", "0\n", "12x34\n"} {
		path := filepath.Join(t.TempDir(), "server.pid")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
		if _, err := Read(path); err == nil {
			t.Fatalf("content %q: expected parse error", content)
		}
	}
}

func TestWriteRejectsNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	if err := Write(path, 0); err == nil {
		t.Fatal("expected error for pid 0")
	}
	if err := Write(path, -1); err == nil {
		t.Fatal("expected error for negative pid")
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("file should not exist after rejected writes, stat err = %v", err)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	if err := Write(path, 99); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Second removal must be silent: cleanup runs from more than one path.
	if err := Remove(path); err != nil {
		t.Fatalf("remove of missing file: %v", err)
	}
}
