package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/loykin/craftctl"
	"github.com/loykin/craftctl/internal/config"
	"github.com/loykin/craftctl/internal/metrics"
	"github.com/loykin/craftctl/internal/server"
	craftctltls "github.com/loykin/craftctl/internal/tls"
)

const defaultListen = ":8080"

// Serve runs the long-lived admin daemon: the HTTP API over the same
// actions the CLI has, Prometheus metrics, and cron-scheduled backups. It
// blocks until SIGINT or SIGTERM.
func (c *command) Serve(f ServeFlags, globalFlags *GlobalFlags) error {
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return err
	}
	sc := cfg.Server
	if sc == nil {
		return fmt.Errorf("%w: serve needs a [server] section in the configuration", errUsage)
	}

	pidFile := f.PidFile
	if pidFile == "" {
		pidFile = sc.PIDFile
	}
	logFile := f.LogFile
	if logFile == "" {
		logFile = sc.LogFile
	}
	if f.Daemonize {
		if err := daemonize(pidFile, logFile); err != nil {
			return err
		}
		// Only the forked child reaches this point; the parent already
		// recorded the child's pid and exited.
	} else if pidFile != "" {
		if err := writePidFile(pidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
	}
	defer func() { _ = removePidFile(pidFile) }()

	log := buildLogger(globalFlags)
	srv, err := craftctl.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	ctx, stop := notifyContext()
	defer stop()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		sampler, err := setupMetrics(ctx, srv, cfg.Metrics.Listen, log)
		if err != nil {
			return err
		}
		defer sampler.Stop()
	}

	// Keep the liveness gauge current between actions; a crashed server
	// changes no gauge until something observes it.
	events, cleanupWatch, err := srv.Watch(ctx, 0)
	if err != nil {
		return err
	}
	defer func() { _ = cleanupWatch() }()
	go func() {
		for ev := range events {
			if ev.Err == nil {
				metrics.SetServerUp(ev.Status.Running)
			}
		}
	}()

	if sc.BackupSchedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(sc.BackupSchedule, func() {
			path, err := srv.Backup(context.Background())
			if err != nil {
				log.Error("scheduled backup failed", "error", err)
				return
			}
			log.Info("scheduled backup complete", "path", path)
		}); err != nil {
			return fmt.Errorf("%w: invalid backup_schedule %q: %v", errUsage, sc.BackupSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Info("backup schedule active", "schedule", sc.BackupSchedule)
	}

	tlsConf, err := craftctltls.Setup(sc.TLS, filepath.Join(cfg.WorkDir, "certs"))
	if err != nil {
		return err
	}
	listen := sc.Listen
	if listen == "" {
		listen = defaultListen
	}
	router := server.NewRouter(srv, sc.BasePath)
	if sc.Token != "" {
		router.SetToken(sc.Token)
	}
	httpSrv, err := server.NewServer(listen, router, tlsConf)
	if err != nil {
		return err
	}
	log.Info("admin API listening", "addr", listen, "base_path", sc.BasePath,
		"tls", tlsConf != nil, "auth", sc.Token != "")

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return nil
}

// setupMetrics registers the collectors, starts the resource sampler for
// the supervised process, and serves /metrics when a listen address is
// configured.
func setupMetrics(ctx context.Context, srv *craftctl.Server, listen string, log *slog.Logger) (*metrics.Sampler, error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	sampler := metrics.NewSampler(0, func() int {
		st, err := srv.Status()
		if err != nil || !st.Running {
			return 0
		}
		return st.PID
	})
	if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	sampler.Start(ctx)
	if listen != "" {
		go func() {
			if err := metrics.Serve(ctx, listen); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
		log.Info("metrics listening", "addr", listen)
	}
	return sampler, nil
}
