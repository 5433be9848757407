//go:build !windows

// Package supervisor drives the server lifecycle. Each action call is a
// complete state transition: start launches the server and its relay
// reader as detached processes, stop delivers the console stop command and
// waits the server out, and status reads the identity file without
// mutating anything. There is no resident daemon state; everything the
// next invocation needs lives in the work directory.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/loykin/craftctl/internal/config"
	"github.com/loykin/craftctl/internal/errdefs"
	"github.com/loykin/craftctl/internal/pidfile"
	"github.com/loykin/craftctl/internal/probe"
	"github.com/loykin/craftctl/internal/relay"
)

// Supervisor orchestrates one server described by its Config.
type Supervisor struct {
	Config *config.Config
	Logger *slog.Logger

	// RelayArgv overrides the argv of the spawned relay reader process.
	// nil means re-running the current executable's relay command against
	// Config.Path. Tests substitute their own reader here.
	RelayArgv func(ch relay.Channel) []string
}

// New returns a Supervisor for cfg. A nil logger falls back to the default.
func New(cfg *config.Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{Config: cfg, Logger: log}
}

// Status is the supervisor's view of the server lifecycle.
type Status struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
	// Stale marks an identity file that points at a dead process. The
	// next start overwrites it.
	Stale bool `json:"stale,omitempty"`
}

// Channel returns the relay channel for this configuration.
func (s *Supervisor) Channel() relay.Channel {
	return relay.Channel{PipePath: s.Config.PipeFile, PIDPath: s.Config.PIDFile}
}

// Status probes the identity file and reports the result. It never mutates
// state. An unreadable identity file is an error so callers can tell a
// stopped server from broken state on disk.
func (s *Supervisor) Status() (Status, error) {
	pid, alive, err := probe.PIDFile{Path: s.Config.PIDFile}.Check()
	if err != nil {
		return Status{}, err
	}
	return Status{Running: alive, PID: pid, Stale: pid != 0 && !alive}, nil
}

// statusForAction is Status with the strictness dropped: a garbled identity
// file reads as "not running" so start can overwrite it and stop can refuse
// cleanly instead of wedging on broken state.
func (s *Supervisor) statusForAction() Status {
	st, err := s.Status()
	if err != nil {
		s.Logger.Warn("identity file unreadable, treating server as stopped", "error", err)
		return Status{}
	}
	return st
}

// Start brings the server up: create the pipe, launch the server with its
// input fed by a detached relay reader, record the identity, then settle
// and re-probe. The pipe and identity file deliberately outlive this call.
func (s *Supervisor) Start(ctx context.Context) error {
	st := s.statusForAction()
	if st.Running {
		return fmt.Errorf("%w: pid %d", errdefs.ErrAlreadyRunning, st.PID)
	}
	if st.Stale {
		s.Logger.Info("overwriting stale identity file", "pid", st.PID)
	}

	ch := s.Channel()
	if err := ch.Create(); err != nil {
		return err
	}

	pid, err := s.launch(ch)
	if err != nil {
		return err
	}
	if err := pidfile.Write(s.Config.PIDFile, pid); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
		return fmt.Errorf("%w: record identity: %v", errdefs.ErrCannotStart, err)
	}
	s.Logger.Info("server launched, settling", "pid", pid, "settle", s.Config.SettleInterval)

	settle := time.NewTimer(s.Config.SettleInterval)
	defer settle.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-settle.C:
	}

	if !probe.Alive(pid) {
		// The reader notices the same death and cleans up too; both
		// removals tolerate losing the race.
		_ = pidfile.Remove(s.Config.PIDFile)
		_ = ch.Remove()
		return fmt.Errorf("%w: server exited while settling (pid %d)", errdefs.ErrCannotStart, pid)
	}
	s.Logger.Info("server started", "pid", pid)
	return nil
}

// Stop asks a live server to shut down by relaying the stop command, then
// waits until liveness goes false. The relay reader owns the artifact
// cleanup; the removals here only catch the case of a reader that died
// before it could.
func (s *Supervisor) Stop(ctx context.Context) error {
	st := s.statusForAction()
	if !st.Running {
		return errdefs.ErrNotRunning
	}
	if err := s.Channel().Send(relay.StopCommand); err != nil {
		return err
	}
	s.Logger.Info("stop command sent", "pid", st.PID)
	if err := s.waitStopped(ctx, st.PID); err != nil {
		return err
	}
	_ = pidfile.Remove(s.Config.PIDFile)
	_ = s.Channel().Remove()
	s.Logger.Info("server stopped", "pid", st.PID)
	return nil
}

// Restart is stop followed by start; any failure in either half aborts and
// surfaces unchanged, including NotRunning from the stop.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// WaitStopped polls liveness until the server is gone. Config.StopTimeout
// bounds the wait when positive; zero waits indefinitely. Cancellation
// always interrupts.
func (s *Supervisor) WaitStopped(ctx context.Context) error {
	pid, _, err := probe.PIDFile{Path: s.Config.PIDFile}.Check()
	if err != nil {
		return err
	}
	return s.waitStopped(ctx, pid)
}

// waitStopped watches the process itself, not the identity file: the relay
// reader removes the file the moment it forwards the stop command, which
// can be well before the server finishes flushing and exits.
func (s *Supervisor) waitStopped(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	var timeoutC <-chan time.Time
	if d := s.Config.StopTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutC = timer.C
	}
	poll := s.Config.PollInterval
	if poll <= 0 {
		poll = config.DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if !probe.Alive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutC:
			return fmt.Errorf("%w: pid %d still alive after %v", errdefs.ErrStopTimeout, pid, s.Config.StopTimeout)
		case <-ticker.C:
		}
	}
}

// launch starts the server and its relay reader. The server's stdin is fed
// by the reader; its stdout and stderr flow to the reader's console fd for
// capture. Both children get their own session so they survive this
// short-lived invocation.
func (s *Supervisor) launch(ch relay.Channel) (int, error) {
	env, err := s.Config.BuildEnv()
	if err != nil {
		return 0, fmt.Errorf("%w: build environment: %v", errdefs.ErrCannotStart, err)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("%w: stdin pipe: %v", errdefs.ErrCannotStart, err)
	}
	consoleR, consoleW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return 0, fmt.Errorf("%w: console pipe: %v", errdefs.ErrCannotStart, err)
	}
	// The children inherit duplicates; this process always drops its
	// copies so pipe EOFs track the children alone.
	defer func() {
		_ = stdinR.Close()
		_ = stdinW.Close()
		_ = consoleR.Close()
		_ = consoleW.Close()
	}()

	server := buildCommand(s.Config.Command)
	server.Dir = s.Config.WorkDir
	if len(env) > 0 {
		server.Env = env
	}
	server.Stdin = stdinR
	server.Stdout = consoleW
	server.Stderr = consoleW
	server.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := server.Start(); err != nil {
		return 0, fmt.Errorf("%w: launch server: %v", errdefs.ErrCannotStart, err)
	}
	pid := server.Process.Pid

	reader, err := s.relayCmd(ch, consoleR, stdinW)
	if err == nil {
		err = reader.Start()
	}
	if err != nil {
		// Without a reader there is no command path and no cleanup owner;
		// take the server down again rather than leak it.
		_ = syscall.Kill(pid, syscall.SIGKILL)
		_ = server.Wait()
		return 0, fmt.Errorf("%w: launch relay reader: %v", errdefs.ErrCannotStart, err)
	}

	// Reap if either child dies while this invocation is still alive, so
	// the settle re-probe sees a real exit instead of a zombie.
	go func() { _ = server.Wait() }()
	go func() { _ = reader.Wait() }()
	return pid, nil
}

func (s *Supervisor) relayCmd(ch relay.Channel, console, serverIn *os.File) (*exec.Cmd, error) {
	argv, err := s.relayArgs(ch)
	if err != nil {
		return nil, err
	}
	// #nosec G204 -- argv is this executable or a test-injected stand-in
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.Config.WorkDir
	cmd.ExtraFiles = []*os.File{console, serverIn} // fd 3: console, fd 4: server stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd, nil
}

func (s *Supervisor) relayArgs(ch relay.Channel) ([]string, error) {
	if s.RelayArgv != nil {
		argv := s.RelayArgv(ch)
		if len(argv) == 0 {
			return nil, errors.New("supervisor: empty relay argv")
		}
		return argv, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	if s.Config.Path == "" {
		return nil, errors.New("supervisor: config file path unknown, cannot respawn relay reader")
	}
	return []string{exe, "relay", "--config", s.Config.Path}, nil
}
