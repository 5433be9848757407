//go:build !windows

package craftctl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loykin/craftctl/internal/config"
	"github.com/loykin/craftctl/internal/errdefs"
	"github.com/loykin/craftctl/internal/history"
	"github.com/loykin/craftctl/internal/pidfile"
)

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
	closed bool
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) last(t *testing.T) history.Event {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		t.Fatalf("no journal events recorded")
	}
	return m.events[len(m.events)-1]
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	workDir := t.TempDir()
	writeFile(t, filepath.Join(workDir, "server.properties"), "level-name=overworld\nserver-port=25565\n")
	writeFile(t, filepath.Join(workDir, "overworld", "level.dat"), "level seed")
	writeFile(t, filepath.Join(workDir, "ops.txt"), "admin\n")
	return &config.Config{
		WorkDir:        workDir,
		Command:        "/bin/false",
		PIDFile:        filepath.Join(workDir, "server.pid"),
		PipeFile:       filepath.Join(workDir, "command.pipe"),
		LockFile:       filepath.Join(workDir, ".craftctl.lock"),
		SettleInterval: 50 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		ReadTimeout:    50 * time.Millisecond,
		Backup: config.BackupConfig{
			Dir:          filepath.Join(workDir, "backups"),
			Retention:    -1,
			SupportGlobs: []string{"*.txt"},
		},
	}
}

func openServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenReadsLevelName(t *testing.T) {
	s := openServer(t, testConfig(t))
	if s.World() != "overworld" {
		t.Fatalf("world = %q, want overworld", s.World())
	}
	if got := filepath.Base(s.engine.WorldDir); got != "overworld" {
		t.Fatalf("engine world dir = %q", s.engine.WorldDir)
	}
}

func TestOpenDefaultsWorld(t *testing.T) {
	cfg := testConfig(t)
	if err := os.Remove(filepath.Join(cfg.WorkDir, "server.properties")); err != nil {
		t.Fatal(err)
	}
	s := openServer(t, cfg)
	if s.World() != "world" {
		t.Fatalf("world = %q, want default", s.World())
	}
}

func TestOpenRejectsBadHistoryDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = &config.HistoryConfig{DSN: "bogus://nowhere"}
	if _, err := Open(cfg, nil); err == nil {
		t.Fatalf("expected error for unsupported DSN")
	}
}

func TestBackupListAndLatest(t *testing.T) {
	s := openServer(t, testConfig(t))
	ctx := context.Background()

	path, err := s.Backup(ctx)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "overworld", "level.dat")); err != nil {
		t.Fatalf("snapshot world missing: %v", err)
	}

	entries, err := s.Backups()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	latest, err := s.LatestBackup()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != path {
		t.Fatalf("latest = %q, want %q", latest, path)
	}
}

func TestBackupJournalsEvent(t *testing.T) {
	s := openServer(t, testConfig(t))
	sink := &memorySink{}
	s.sink = sink

	path, err := s.Backup(context.Background())
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	ev := sink.last(t)
	if ev.Action != history.ActionBackup || !ev.OK || ev.Detail != path {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestStopNotRunningJournalsFailure(t *testing.T) {
	s := openServer(t, testConfig(t))
	sink := &memorySink{}
	s.sink = sink

	err := s.Stop(context.Background())
	if !errors.Is(err, errdefs.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	ev := sink.last(t)
	if ev.Action != history.ActionStop || ev.OK {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestMutatingActionsRespectLock(t *testing.T) {
	cfg := testConfig(t)
	s := openServer(t, cfg)

	lock, err := pidfile.Acquire(cfg.LockFile)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.Backup(context.Background()); !errors.Is(err, errdefs.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.Backup(context.Background()); err != nil {
		t.Fatalf("backup after release: %v", err)
	}
}

func TestSendValidation(t *testing.T) {
	s := openServer(t, testConfig(t))
	ctx := context.Background()

	if err := s.Send(ctx); !errors.Is(err, errdefs.ErrSendCommand) {
		t.Fatalf("no commands: got %v", err)
	}
	if err := s.Send(ctx, "say hi\nstop"); !errors.Is(err, errdefs.ErrSendCommand) {
		t.Fatalf("embedded newline: got %v", err)
	}
	// Valid line, but nothing is running to receive it.
	if err := s.Send(ctx, "list"); !errors.Is(err, errdefs.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStopWithBackupSkipsWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Retention = 0
	s := openServer(t, cfg)

	err := s.StopWithBackup(context.Background(), true)
	// The disabled backup is skipped with a warning; the stop itself then
	// fails because nothing is running.
	if !errors.Is(err, errdefs.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, statErr := os.Stat(cfg.Backup.Dir); !os.IsNotExist(statErr) {
		t.Fatalf("no snapshot should have been created")
	}
}

func TestStopWithBackupFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	s := openServer(t, cfg)
	if err := os.RemoveAll(filepath.Join(cfg.WorkDir, "overworld")); err != nil {
		t.Fatal(err)
	}

	err := s.StopWithBackup(context.Background(), true)
	if !errors.Is(err, errdefs.ErrWorldDataCopy) {
		t.Fatalf("expected world copy failure to abort the stop, got %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	s := openServer(t, cfg)
	ctx := context.Background()

	snapshot, err := s.Backup(ctx)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	worldFile := filepath.Join(cfg.WorkDir, "overworld", "level.dat")
	writeFile(t, worldFile, "corrupted")

	restored, err := s.Restore(ctx, "")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != snapshot {
		t.Fatalf("restored %q, want %q", restored, snapshot)
	}
	b, err := os.ReadFile(worldFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "level seed" {
		t.Fatalf("world content = %q after restore", b)
	}
	// Snapshot plus the safety backup taken before the swap.
	entries, err := s.Backups()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestCloseReleasesSinkOnce(t *testing.T) {
	s := openServer(t, testConfig(t))
	sink := &memorySink{}
	s.sink = sink
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sink.closed {
		t.Fatalf("sink not closed")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
