// Package backup takes point-in-time snapshots of the server's world data
// and maintains the retained history plus its "latest" pointer. While the
// server is live, every copy is bracketed by console commands that flush
// and pause its writes so snapshots are self-consistent.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/craftctl/internal/errdefs"
)

const (
	timestampLayout = "20060102150405"
	latestName      = "latest"
)

// Console commands bracketing the copy while the server is live.
const (
	cmdSaveAll = "save-all"
	cmdSaveOff = "save-off"
	cmdSaveOn  = "save-on"
)

// Sender relays console commands into a live server.
type Sender interface {
	Send(command string) error
}

// Engine performs snapshots for one server. All fields are plain
// configuration; the zero value of the optional ones disables the
// corresponding behavior.
type Engine struct {
	WorkDir  string // server working directory, source of support files
	WorldDir string // world data directory to snapshot
	Dir      string // backup root

	// Retention: negative keeps everything, zero disables backups,
	// positive N keeps the N newest snapshots plus the pointer.
	Retention int

	Mode         Mode     // archive format for finished snapshots
	SupportGlobs []string // WorkDir-relative patterns copied next to the world

	Relay  Sender      // quiesce/resume channel, may be nil
	Alive  func() bool // liveness check, nil means never running
	Logger *slog.Logger

	// now is overridable so tests can mint distinct snapshot names.
	now func() time.Time
}

// Options tunes one Create invocation.
type Options struct {
	// Safety marks a pre-restore safety backup: a zero retention policy
	// is overridden with a warning instead of failing, and pruning is
	// skipped so the safety snapshot cannot remove itself.
	Safety bool
}

// Entry is one snapshot in the backup root.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"is_dir"`
	ModTime time.Time `json:"mod_time"`
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Create takes one snapshot and returns the path of the finished backup,
// a timestamp-named directory or archive under the backup root. A copy
// failure leaves the partial snapshot directory in place for inspection
// but never links it as latest.
func (e *Engine) Create(ctx context.Context, opts Options) (string, error) {
	log := e.log()
	if e.Retention == 0 {
		if !opts.Safety {
			return "", errdefs.ErrBackupsDisabled
		}
		log.Warn("backups are disabled, proceeding for restore safety")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	quiesced := false
	resume := func() {
		if !quiesced {
			return
		}
		quiesced = false
		if err := e.Relay.Send(cmdSaveOn); err != nil {
			log.Warn("resume server writes", "error", err)
		}
	}
	defer resume()

	if e.Relay != nil && e.Alive != nil && e.Alive() {
		if err := e.Relay.Send(cmdSaveAll); err != nil {
			return "", err
		}
		if err := e.Relay.Send(cmdSaveOff); err != nil {
			return "", err
		}
		quiesced = true
		log.Info("server writes quiesced for snapshot")
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrBackupDirCreation, err)
	}
	stamp := e.clock().Format(timestampLayout)
	name := stamp
	for n := 1; e.taken(name); n++ {
		name = fmt.Sprintf("%s-%d", stamp, n)
	}
	dest := filepath.Join(e.Dir, name)
	if err := os.Mkdir(dest, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrBackupDirCreation, err)
	}

	if err := CopyTree(ctx, e.WorldDir, filepath.Join(dest, filepath.Base(e.WorldDir))); err != nil {
		return "", fmt.Errorf("%w: %s: %v", errdefs.ErrWorldDataCopy, e.WorldDir, err)
	}
	if err := e.copySupportFiles(ctx, dest); err != nil {
		return "", err
	}

	// Writes resume before the potentially slow archive step.
	resume()

	final := dest
	if e.Mode != ModeNone {
		archived, err := e.archive(ctx, dest, name)
		if err != nil {
			return "", err
		}
		final = archived
		if err := os.RemoveAll(dest); err != nil {
			log.Warn("remove snapshot directory after archiving", "path", dest, "error", err)
		}
	}

	if err := e.updateLatest(filepath.Base(final)); err != nil {
		return "", err
	}

	if e.Retention >= 0 && !opts.Safety {
		e.prune(log)
	}
	log.Info("backup complete", "path", final)
	return final, nil
}

// taken reports whether a snapshot directory or archive already claims
// name. Same-second collisions are real: a restore takes its safety
// snapshot moments after the backup it is about to swap in.
func (e *Engine) taken(name string) bool {
	for _, candidate := range []string{name, name + ModeTarGzip.Ext(), name + ModeZip.Ext()} {
		if _, err := os.Lstat(filepath.Join(e.Dir, candidate)); err == nil {
			return true
		}
	}
	return false
}

// copySupportFiles copies the configured support patterns into the
// snapshot. A pattern matching nothing is a normal state for a fresh
// server, not an error.
func (e *Engine) copySupportFiles(ctx context.Context, dest string) error {
	for _, pattern := range e.SupportGlobs {
		matches, err := filepath.Glob(filepath.Join(e.WorkDir, pattern))
		if err != nil {
			return fmt.Errorf("%w: bad pattern %q: %v", errdefs.ErrConfigCopy, pattern, err)
		}
		for _, m := range matches {
			if err := ctx.Err(); err != nil {
				return err
			}
			fi, err := os.Lstat(m)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", errdefs.ErrConfigCopy, m, err)
			}
			if !fi.Mode().IsRegular() {
				continue
			}
			if err := CopyTree(ctx, m, filepath.Join(dest, filepath.Base(m))); err != nil {
				return fmt.Errorf("%w: %s: %v", errdefs.ErrConfigCopy, m, err)
			}
		}
	}
	return nil
}

// updateLatest points the "latest" symlink at name. The target is kept
// relative to the backup root so the tree stays portable when moved.
func (e *Engine) updateLatest(name string) error {
	link := filepath.Join(e.Dir, latestName)
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrSymlinkDelete, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", errdefs.ErrSymlinkDelete, err)
	}
	if err := os.Symlink(name, link); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrSymlinkCreate, err)
	}
	return nil
}

// prune deletes entries beyond the retained count, newest kept first.
// Deletion failures are warnings; pruning is never on the critical path.
func (e *Engine) prune(log *slog.Logger) {
	entries, err := e.List()
	if err != nil {
		log.Warn("prune: list backups", "error", err)
		return
	}
	if len(entries) <= e.Retention {
		return
	}
	for _, old := range entries[e.Retention:] {
		if err := os.RemoveAll(old.Path); err != nil {
			log.Warn("prune: delete backup", "path", old.Path, "error", err)
			continue
		}
		log.Info("pruned backup", "path", old.Path)
	}
}

// List returns the backup-root entries newest-first, excluding the
// "latest" pointer itself. A missing backup root lists as empty.
func (e *Engine) List() ([]Entry, error) {
	dirents, err := os.ReadDir(e.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.Name() == latestName {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Raced with a prune; the entry is gone.
			continue
		}
		entries = append(entries, Entry{
			Name:    d.Name(),
			Path:    filepath.Join(e.Dir, d.Name()),
			Size:    info.Size(),
			IsDir:   d.IsDir(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		si, ni := splitStamp(entries[i].Name)
		sj, nj := splitStamp(entries[j].Name)
		if si != sj {
			return si > sj
		}
		if ni != nj {
			return ni > nj
		}
		return entries[i].Name > entries[j].Name
	})
	return entries, nil
}

// LatestTarget resolves the "latest" pointer to the snapshot it names.
func (e *Engine) LatestTarget() (string, error) {
	target, err := os.Readlink(filepath.Join(e.Dir, latestName))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errdefs.ErrLatestNotFound, err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(e.Dir, target)
	}
	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("%w: dangling pointer: %v", errdefs.ErrLatestNotFound, err)
	}
	return target, nil
}

// splitStamp separates the numeric suffix that distinguishes same-second
// snapshots, so "-10" sorts after "-9" instead of between "-1" and "-2".
func splitStamp(name string) (string, int) {
	name = stampOf(name)
	base, seq, ok := strings.Cut(name, "-")
	if !ok {
		return name, 0
	}
	n, err := strconv.Atoi(seq)
	if err != nil {
		return name, 0
	}
	return base, n
}

// stampOf strips a known archive extension so directories and archives
// order by their timestamp.
func stampOf(name string) string {
	for _, m := range []Mode{ModeTarGzip, ModeZip} {
		if ext := m.Ext(); ext != "" {
			if cut, ok := strings.CutSuffix(name, ext); ok {
				return cut
			}
		}
	}
	return name
}
