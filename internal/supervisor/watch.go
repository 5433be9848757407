//go:build !windows

package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/loykin/craftctl/internal/config"
)

// WatchEvent is one observation of the server lifecycle.
type WatchEvent struct {
	Status Status
	Err    error
}

// WatchCleanupFunc stops a watch and waits for its goroutine to finish.
type WatchCleanupFunc func() error

// Watch emits a status event whenever the supervised state changes. It is
// driven by filesystem notifications on the identity file plus a periodic
// re-probe, because a crashed server changes no file until cleanup runs.
// The initial state is always delivered first.
func (s *Supervisor) Watch(ctx context.Context, interval time.Duration) (<-chan WatchEvent, WatchCleanupFunc, error) {
	dir := filepath.Dir(s.Config.PIDFile)
	pidBase := filepath.Base(s.Config.PIDFile)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, err
	}
	if interval <= 0 {
		interval = s.Config.PollInterval
	}
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}

	ch := make(chan WatchEvent, 10)
	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		close(ch)
	})

	var mu sync.Mutex
	var last Status
	var haveLast bool
	var debouncer *time.Timer

	readAndSend := func() {
		if sctx.IsStopping() {
			return
		}
		st, err := s.Status()
		if err != nil {
			select {
			case ch <- WatchEvent{Err: err}:
			case <-sctx.Stopping():
			}
			return
		}
		mu.Lock()
		if haveLast && st == last {
			mu.Unlock()
			return
		}
		last, haveLast = st, true
		mu.Unlock()
		select {
		case ch <- WatchEvent{Status: st}:
		case <-sctx.Stopping():
		}
	}

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	readAndSend()

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != pidBase {
					continue
				}
				// Coalesce bursts of writes into one probe.
				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(10*time.Millisecond, readAndSend)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !sctx.IsStopping() {
					select {
					case ch <- WatchEvent{Err: err}:
					case <-sctx.Stopping():
						return nil
					}
				}

			case <-ticker.C:
				readAndSend()
			}
		}
		return nil
	})

	return ch, cleanup, nil
}
