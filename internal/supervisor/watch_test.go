//go:build !windows

package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/loykin/craftctl/internal/pidfile"
)

func nextEvent(t *testing.T, ch <-chan WatchEvent, within time.Duration) WatchEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed early")
		}
		return ev
	case <-time.After(within):
		t.Fatal("no watch event in time")
		return WatchEvent{}
	}
}

func TestWatchObservesLifecycle(t *testing.T) {
	cfg := testConfig(t)
	s := testSupervisor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cleanup, err := s.Watch(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	// The initial observation arrives before any change.
	ev := nextEvent(t, ch, 2*time.Second)
	if ev.Err != nil {
		t.Fatalf("initial event err: %v", ev.Err)
	}
	if ev.Status.Running {
		t.Fatalf("initial status = %+v, want stopped", ev.Status)
	}

	// The identity file appearing with a live pid flips the state.
	if err := pidfile.Write(cfg.PIDFile, os.Getpid()); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	ev = nextEvent(t, ch, 2*time.Second)
	if ev.Err != nil {
		t.Fatalf("event err: %v", ev.Err)
	}
	if !ev.Status.Running || ev.Status.PID != os.Getpid() {
		t.Fatalf("status = %+v, want running pid %d", ev.Status, os.Getpid())
	}

	// Removal flips it back.
	if err := pidfile.Remove(cfg.PIDFile); err != nil {
		t.Fatalf("remove pidfile: %v", err)
	}
	ev = nextEvent(t, ch, 2*time.Second)
	if ev.Err != nil {
		t.Fatalf("event err: %v", ev.Err)
	}
	if ev.Status.Running {
		t.Fatalf("status = %+v, want stopped", ev.Status)
	}

	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

func TestWatchCleanupClosesChannel(t *testing.T) {
	cfg := testConfig(t)
	s := testSupervisor(t, cfg)

	ch, cleanup, err := s.Watch(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	// Drain the initial event, then stop.
	nextEvent(t, ch, 2*time.Second)
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			// A queued event may still arrive; the channel must close after.
			if _, ok := <-ch; ok {
				t.Fatal("channel not closed after cleanup")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cleanup")
	}
}
