package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/loykin/craftctl/internal/logger"
	"github.com/spf13/cobra"
)

// buildLogger returns the structured logger for craftctl's own diagnostics.
// It writes to stderr so action output on stdout stays parseable.
func buildLogger(globalFlags *GlobalFlags) *slog.Logger {
	return logger.Config{Slog: logger.SlogConfig{
		Level:      globalFlags.LogLevel,
		Color:      globalFlags.LogColor,
		TimeStamps: true,
	}}.NewSlogger()
}

// notifyContext is the interrupt context blocking actions run under.
// Cancellation interrupts waits; partial state left behind is self-healed
// by the next invocation's probing.
func notifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func (c *command) printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(c.out, string(b))
}

// Argument validators wrapping errUsage so mistakes exit with the
// invalid-invocation code instead of a generic failure.

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %q accepts no arguments", errUsage, cmd.Name())
	}
	return nil
}

func maxOneArg(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("%w: %q accepts at most one argument", errUsage, cmd.Name())
	}
	return nil
}

func minOneArg(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: %q needs at least one command line", errUsage, cmd.Name())
	}
	return nil
}
