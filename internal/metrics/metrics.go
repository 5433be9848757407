package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftctl",
			Name:      "actions_total",
			Help:      "Completed actions by outcome.",
		}, []string{"action", "outcome"},
	)
	serverUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "craftctl",
			Name:      "server_up",
			Help:      "Whether the supervised server is alive (1) or not (0).",
		},
	)
	backupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "craftctl",
			Name:      "backup_duration_seconds",
			Help:      "Wall-clock duration of completed backups.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	backupSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "craftctl",
			Name:      "backup_size_bytes",
			Help:      "Size of the most recent backup.",
		},
	)
	lastBackup = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "craftctl",
			Name:      "last_backup_unixtime",
			Help:      "Completion time of the most recent backup.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{actionsTotal, serverUp, backupDuration, backupSize, lastBackup}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Serve runs a standalone metrics listener on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordAction(action string, ok bool) {
	if regOK.Load() {
		outcome := "ok"
		if !ok {
			outcome = "error"
		}
		actionsTotal.WithLabelValues(action, outcome).Inc()
	}
}

func SetServerUp(up bool) {
	if regOK.Load() {
		var v float64
		if up {
			v = 1
		}
		serverUp.Set(v)
	}
}

// ObserveBackup records one successful backup. The three collectors update
// together so the size and completion time always describe the same backup.
func ObserveBackup(seconds float64, sizeBytes int64) {
	if regOK.Load() {
		backupDuration.Observe(seconds)
		backupSize.Set(float64(sizeBytes))
		lastBackup.SetToCurrentTime()
	}
}
