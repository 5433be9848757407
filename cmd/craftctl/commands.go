package main

import (
	"fmt"
	"io"
	"os"

	"github.com/loykin/craftctl"
	"github.com/loykin/craftctl/internal/config"
)

// command carries the action methods the cobra tree dispatches to. Output
// for callers goes to out; diagnostics go through the structured logger.
type command struct {
	out io.Writer
}

// open loads the configuration and builds the facade around it. Callers own
// closing the returned server.
func (c *command) open(globalFlags *GlobalFlags) (*craftctl.Server, *config.Config, error) {
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	srv, err := craftctl.Open(cfg, buildLogger(globalFlags))
	if err != nil {
		return nil, nil, err
	}
	return srv, cfg, nil
}

// Start brings the server and its relay reader up.
func (c *command) Start(globalFlags *GlobalFlags) error {
	ctx, stop := notifyContext()
	defer stop()

	srv, _, err := c.open(globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	if st, err := srv.Status(); err == nil && st.Running {
		fmt.Fprintf(c.out, "Server started (pid %d)\n", st.PID)
	} else {
		fmt.Fprintln(c.out, "Server started")
	}
	return nil
}

// Stop shuts the server down, optionally taking a backup first. The
// --backup flag overrides before_stop from the configuration in either
// direction.
func (c *command) Stop(f StopFlags, globalFlags *GlobalFlags) error {
	ctx, stop := notifyContext()
	defer stop()

	srv, cfg, err := c.open(globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	backupFirst := cfg.Backup.BeforeStop
	if f.BackupSet {
		backupFirst = f.Backup
	}
	if err := srv.StopWithBackup(ctx, backupFirst); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Server stopped")
	return nil
}

// Restart is stop followed by start.
func (c *command) Restart(globalFlags *GlobalFlags) error {
	ctx, stop := notifyContext()
	defer stop()

	srv, _, err := c.open(globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := srv.Restart(ctx); err != nil {
		return err
	}
	if st, err := srv.Status(); err == nil && st.Running {
		fmt.Fprintf(c.out, "Server restarted (pid %d)\n", st.PID)
	} else {
		fmt.Fprintln(c.out, "Server restarted")
	}
	return nil
}

// Status prints the server state as JSON, once or continuously with --watch.
func (c *command) Status(f StatusFlags, globalFlags *GlobalFlags) error {
	srv, _, err := c.open(globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if !f.Watch {
		st, err := srv.Status()
		if err != nil {
			return err
		}
		c.printJSON(st)
		return nil
	}

	ctx, stop := notifyContext()
	defer stop()
	events, cleanup, err := srv.Watch(ctx, f.Interval)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	log := buildLogger(globalFlags)
	for ev := range events {
		if ev.Err != nil {
			log.Warn("watch", "error", ev.Err)
			continue
		}
		c.printJSON(ev.Status)
	}
	return nil
}

// Send relays console command lines to the running server, one per
// argument, in order.
func (c *command) Send(lines []string, globalFlags *GlobalFlags) error {
	ctx, stop := notifyContext()
	defer stop()

	srv, _, err := c.open(globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := srv.Send(ctx, lines...); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent %d command(s)\n", len(lines))
	return nil
}

// BackupCreate takes a snapshot now.
func (c *command) BackupCreate(globalFlags *GlobalFlags) error {
	ctx, stop := notifyContext()
	defer stop()

	srv, _, err := c.open(globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	path, err := srv.Backup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Backup created: %s\n", path)
	return nil
}

// BackupList prints the retained snapshots as JSON, newest first.
func (c *command) BackupList(globalFlags *GlobalFlags) error {
	srv, _, err := c.open(globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	entries, err := srv.Backups()
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []craftctl.BackupEntry{}
	}
	c.printJSON(entries)
	return nil
}

// Restore swaps a snapshot's world data back in. An empty source restores
// whatever the latest pointer names.
func (c *command) Restore(source string, globalFlags *GlobalFlags) error {
	ctx, stop := notifyContext()
	defer stop()

	srv, _, err := c.open(globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	restored, err := srv.Restore(ctx, source)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Restored from %s\n", restored)
	return nil
}

// Relay runs the console relay reader. It is spawned by start as a
// detached process with the console stream on fd 3 and the server's stdin
// on fd 4; running it by hand is not useful.
func (c *command) Relay(globalFlags *GlobalFlags) error {
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return err
	}
	console := os.NewFile(3, "console")
	serverIn := os.NewFile(4, "server-stdin")
	if console == nil || serverIn == nil {
		return fmt.Errorf("%w: relay must be spawned by start with its descriptors", errUsage)
	}
	if _, err := console.Stat(); err != nil {
		return fmt.Errorf("%w: relay must be spawned by start with its descriptors", errUsage)
	}
	defer func() {
		_ = console.Close()
		_ = serverIn.Close()
	}()
	return runRelay(cfg, globalFlags, console, serverIn)
}
