package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	RecordAction("backup", true)
	RecordAction("backup", true)
	RecordAction("stop", false)
	SetServerUp(true)
	ObserveBackup(1.25, 2048)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"craftctl_actions_total":           false,
		"craftctl_server_up":               false,
		"craftctl_backup_duration_seconds": false,
		"craftctl_backup_size_bytes":       false,
		"craftctl_last_backup_unixtime":    false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHelpersNoOpBeforeRegister(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	// None of these may panic or record.
	RecordAction("start", true)
	SetServerUp(false)
	ObserveBackup(0.5, 100)
}

func TestHandlerServesMetrics(t *testing.T) {
	// Ensure collectors are registered with the default registry used by Handler().
	// Reset regOK gate to allow registration in this test regardless of previous tests.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	SetServerUp(true)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "craftctl_server_up") {
		t.Fatalf("metrics output missing server_up: %s", s[:min(200, len(s))])
	}
}

func TestServeShutsDownOnContext(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0") }()

	// Give the listener a moment, then stop it.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not shut down after cancel")
	}
}

func TestConcurrentRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordAction("send", true)
			SetServerUp(true)
			ObserveBackup(0.1, 1)
		}()
	}
	wg.Wait()
	// Ensure gather succeeds under race detector
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestSamplerReadsOwnProcess(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSampler(10*time.Millisecond, func() int { return os.Getpid() })
	if err := s.RegisterMetrics(reg); err != nil {
		t.Fatalf("register sampler: %v", err)
	}

	s.sample()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var threads float64
	for _, mf := range mfs {
		if mf.GetName() == "craftctl_server_num_threads" && len(mf.GetMetric()) > 0 {
			threads = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if threads <= 0 {
		t.Fatalf("sampling own process reported %v threads", threads)
	}
}

func TestSamplerResetsWithoutServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSampler(time.Second, func() int { return 0 })
	if err := s.RegisterMetrics(reg); err != nil {
		t.Fatalf("register sampler: %v", err)
	}

	// Leave stale values behind, then sample the absent server.
	s.numThreads.Set(42)
	s.sample()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "craftctl_server_num_threads" {
			continue
		}
		if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 0 {
			t.Fatalf("threads gauge = %v after reset, want 0", v)
		}
	}
}

func TestSamplerStartStop(t *testing.T) {
	s := NewSampler(10*time.Millisecond, func() int { return os.Getpid() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	// A second Stop must be a no-op.
	s.Stop()
}
