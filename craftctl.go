// Package craftctl manages the lifecycle of one long-running world server:
// start, stop, restart, status, console command relay, crash-consistent
// backups with retention and a latest pointer, and snapshot restore behind
// a safety backup.
//
// The package is the embeddable facade over the internal components. The
// craftctl CLI and the serve-mode admin API both drive it; external
// consumers can too.
package craftctl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/craftctl/internal/backup"
	"github.com/loykin/craftctl/internal/config"
	"github.com/loykin/craftctl/internal/errdefs"
	"github.com/loykin/craftctl/internal/history"
	"github.com/loykin/craftctl/internal/history/factory"
	"github.com/loykin/craftctl/internal/metrics"
	"github.com/loykin/craftctl/internal/pidfile"
	"github.com/loykin/craftctl/internal/probe"
	"github.com/loykin/craftctl/internal/props"
	"github.com/loykin/craftctl/internal/restore"
	"github.com/loykin/craftctl/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Status = supervisor.Status

type WatchEvent = supervisor.WatchEvent

type WatchCleanupFunc = supervisor.WatchCleanupFunc

type BackupEntry = backup.Entry

type HistoryEvent = history.Event

type HistorySink = history.Sink

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Server is the facade over one configured world server. Mutating actions
// take the work directory's advisory lock so concurrent invocations fail
// fast with ErrLockHeld instead of interleaving.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	world    string
	sup      *supervisor.Supervisor
	engine   *backup.Engine
	restorer *restore.Restorer
	sink     history.Sink
}

// Open wires the components for cfg: the world name from server.properties,
// the supervisor, the backup engine, the restorer, and the journal sink when
// a history DSN is configured. A nil logger falls back to the default.
func Open(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("craftctl: nil config")
	}
	if log == nil {
		log = slog.Default()
	}

	pr, err := props.Load(cfg.WorkDir)
	if err != nil {
		return nil, err
	}
	world := pr.LevelName()
	worldDir := filepath.Join(cfg.WorkDir, world)

	sup := supervisor.New(cfg, log)
	alive := func() bool {
		_, ok, err := probe.PIDFile{Path: cfg.PIDFile}.Check()
		return err == nil && ok
	}
	engine := &backup.Engine{
		WorkDir:      cfg.WorkDir,
		WorldDir:     worldDir,
		Dir:          cfg.Backup.Dir,
		Retention:    cfg.Backup.Retention,
		Mode:         cfg.Backup.Mode,
		SupportGlobs: cfg.Backup.SupportGlobs,
		Relay:        sup.Channel(),
		Alive:        alive,
		Logger:       log,
	}
	restorer := &restore.Restorer{
		WorldDir: worldDir,
		Engine:   engine,
		Control:  sup,
		Alive:    alive,
		Logger:   log,
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		world:    world,
		sup:      sup,
		engine:   engine,
		restorer: restorer,
	}
	if cfg.History != nil && cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("craftctl: open journal sink: %w", err)
		}
		s.sink = sink
	}
	return s, nil
}

// World returns the level name read from server.properties at Open time.
func (s *Server) World() string { return s.world }

// Close releases the journal sink. The managed server is unaffected; it
// deliberately outlives every craftctl invocation.
func (s *Server) Close() error {
	if s.sink == nil {
		return nil
	}
	err := s.sink.Close()
	s.sink = nil
	return err
}

// Status probes the identity file. Read-only: no lock, no journal entry.
func (s *Server) Status() (Status, error) {
	return s.sup.Status()
}

// Watch streams status transitions until ctx ends. See supervisor.Watch.
func (s *Server) Watch(ctx context.Context, interval time.Duration) (<-chan WatchEvent, WatchCleanupFunc, error) {
	return s.sup.Watch(ctx, interval)
}

// Start brings the server up.
func (s *Server) Start(ctx context.Context) error {
	return s.withLock(func() error {
		err := s.sup.Start(ctx)
		s.refreshUpMetric()
		s.record(ctx, history.ActionStart, "", err)
		return err
	})
}

// Stop shuts the server down, taking a backup first when the configuration
// asks for one.
func (s *Server) Stop(ctx context.Context) error {
	return s.StopWithBackup(ctx, s.cfg.Backup.BeforeStop)
}

// StopWithBackup shuts the server down with an explicit say over the
// pre-stop backup, overriding the configured default. A pre-stop backup
// that fails aborts the stop, except when backups are disabled outright;
// that only logs a warning.
func (s *Server) StopWithBackup(ctx context.Context, backupFirst bool) error {
	return s.withLock(func() error {
		if backupFirst {
			if _, err := s.backupLocked(ctx); err != nil {
				if !errors.Is(err, errdefs.ErrBackupsDisabled) {
					return fmt.Errorf("backup before stop: %w", err)
				}
				s.log.Warn("backup before stop skipped, backups are disabled")
			}
		}
		err := s.sup.Stop(ctx)
		s.refreshUpMetric()
		s.record(ctx, history.ActionStop, "", err)
		return err
	})
}

// Restart stops and starts the server. The configured pre-stop backup
// applies to the stop half.
func (s *Server) Restart(ctx context.Context) error {
	return s.withLock(func() error {
		if s.cfg.Backup.BeforeStop {
			if _, err := s.backupLocked(ctx); err != nil {
				if !errors.Is(err, errdefs.ErrBackupsDisabled) {
					return fmt.Errorf("backup before restart: %w", err)
				}
				s.log.Warn("backup before restart skipped, backups are disabled")
			}
		}
		err := s.sup.Restart(ctx)
		s.refreshUpMetric()
		s.record(ctx, history.ActionRestart, "", err)
		return err
	})
}

// Backup creates one snapshot now and returns its path.
func (s *Server) Backup(ctx context.Context) (string, error) {
	var path string
	err := s.withLock(func() error {
		var err error
		path, err = s.backupLocked(ctx)
		return err
	})
	return path, err
}

// Backups lists completed snapshots, newest first.
func (s *Server) Backups() ([]BackupEntry, error) {
	return s.engine.List()
}

// LatestBackup resolves the latest pointer to a snapshot path.
func (s *Server) LatestBackup() (string, error) {
	return s.engine.LatestTarget()
}

// Restore swaps a snapshot back in behind a safety backup. An empty source
// means the latest backup. It returns the source that was restored.
func (s *Server) Restore(ctx context.Context, source string) (string, error) {
	var restored string
	err := s.withLock(func() error {
		var err error
		restored, err = s.restorer.Restore(ctx, source)
		s.refreshUpMetric()
		s.record(ctx, history.ActionRestore, restored, err)
		return err
	})
	return restored, err
}

// Send relays console commands to the live server, in order, one line each.
// Sending is read-only with respect to craftctl state and takes no lock.
func (s *Server) Send(ctx context.Context, commands ...string) error {
	err := s.send(commands)
	s.record(ctx, history.ActionSend, strings.Join(commands, "; "), err)
	return err
}

func (s *Server) send(commands []string) error {
	if len(commands) == 0 {
		return fmt.Errorf("%w: no commands given", errdefs.ErrSendCommand)
	}
	for _, cmd := range commands {
		if strings.TrimSpace(cmd) == "" || strings.ContainsAny(cmd, "\n\r") {
			return fmt.Errorf("%w: command must be one non-empty line: %q", errdefs.ErrSendCommand, cmd)
		}
	}
	ch := s.sup.Channel()
	for _, cmd := range commands {
		if err := ch.Send(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) backupLocked(ctx context.Context) (string, error) {
	started := time.Now()
	path, err := s.engine.Create(ctx, backup.Options{})
	if err == nil {
		metrics.ObserveBackup(time.Since(started).Seconds(), snapshotSize(path))
	}
	s.record(ctx, history.ActionBackup, path, err)
	return path, err
}

func (s *Server) withLock(fn func() error) error {
	lock, err := pidfile.Acquire(s.cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()
	return fn()
}

// refreshUpMetric reads liveness fresh instead of assuming the action's
// outcome; a failed restart can leave the server either way.
func (s *Server) refreshUpMetric() {
	if st, err := s.sup.Status(); err == nil {
		metrics.SetServerUp(st.Running)
	}
}

// record journals one completed action and counts it. Journaling is
// best-effort and detached from the action's context so a cancelled action
// still leaves a trace.
func (s *Server) record(ctx context.Context, action history.Action, detail string, actionErr error) {
	metrics.RecordAction(string(action), actionErr == nil)
	if s.sink == nil {
		return
	}
	if actionErr != nil {
		detail = actionErr.Error()
	}
	ev := history.New(action, detail, actionErr == nil)
	if err := s.sink.Send(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("journal write failed", "action", action, "error", err)
	}
}

// snapshotSize sizes a completed snapshot, walking the tree when the
// snapshot is an uncompressed directory. Best-effort; sizing failures
// report zero rather than failing the backup.
func snapshotSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !fi.IsDir() {
		return fi.Size()
	}
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
