// Package restore swaps a prior snapshot's world data back into the
// server's working directory, bracketed by a safety backup and, when the
// server is live, a full stop before the swap and a start after it.
package restore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/loykin/craftctl/internal/backup"
	"github.com/loykin/craftctl/internal/errdefs"
)

// MarkerName is the provenance file written into a restored world
// directory. Its single line is the absolute path the data came from.
const MarkerName = "restored_from.txt"

// Controller is the slice of the supervisor a restore drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Snapshotter is the slice of the backup engine a restore uses.
type Snapshotter interface {
	Create(ctx context.Context, opts backup.Options) (string, error)
	LatestTarget() (string, error)
}

// Restorer replaces the live world directory with snapshot data.
type Restorer struct {
	WorldDir string // live world directory being replaced
	Engine   Snapshotter
	Control  Controller
	Alive    func() bool // liveness capture, nil means stopped
	Logger   *slog.Logger
}

func (r *Restorer) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Restore swaps in the world data of the snapshot at source and returns
// the source actually used. An empty source resolves the latest pointer.
// The source must be an uncompressed snapshot directory holding the world
// subdirectory; archived snapshots need manual extraction first.
//
// The current data is safety-backed-up before anything is touched, and
// that backup is the recovery path if a later step fails. Liveness is
// captured exactly once, so the decision to restart matches the decision
// to stop even if the server exits mid-restore.
func (r *Restorer) Restore(ctx context.Context, source string) (string, error) {
	log := r.log()
	if source == "" {
		resolved, err := r.Engine.LatestTarget()
		if err != nil {
			return "", err
		}
		source = resolved
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("%w: resolve source: %v", errdefs.ErrRestore, err)
	}
	source = abs

	worldName := filepath.Base(r.WorldDir)
	srcWorld := filepath.Join(source, worldName)
	if fi, err := os.Stat(srcWorld); err != nil || !fi.IsDir() {
		return "", fmt.Errorf("%w: %s does not hold an uncompressed %s directory", errdefs.ErrRestore, source, worldName)
	}

	safety, err := r.Engine.Create(ctx, backup.Options{Safety: true})
	if err != nil {
		return "", fmt.Errorf("%w: safety backup: %v", errdefs.ErrRestore, err)
	}
	log.Info("safety backup complete", "path", safety)

	running := r.Alive != nil && r.Alive()
	if running {
		if err := r.Control.Stop(ctx); err != nil {
			return "", fmt.Errorf("%w: stop server: %v", errdefs.ErrRestore, err)
		}
	}

	if err := os.RemoveAll(r.WorldDir); err != nil {
		return "", fmt.Errorf("%w: delete current world: %v", errdefs.ErrRestore, err)
	}
	if err := backup.CopyTree(ctx, srcWorld, r.WorldDir); err != nil {
		return "", fmt.Errorf("%w: copy world from %s: %v", errdefs.ErrRestore, srcWorld, err)
	}
	if err := renameio.WriteFile(filepath.Join(r.WorldDir, MarkerName), []byte(source+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("%w: write provenance marker: %v", errdefs.ErrRestore, err)
	}

	if running {
		if err := r.Control.Start(ctx); err != nil {
			return "", fmt.Errorf("%w: restart server: %v", errdefs.ErrRestore, err)
		}
	}
	log.Info("restore complete", "source", source)
	return source, nil
}
