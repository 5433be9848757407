package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// buildRoot creates the root command and wires every subcommand to it.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	stopFlags := &StopFlags{}
	serveFlags := &ServeFlags{}

	craftctlCommand := command{out: os.Stdout}

	root := createRootCommand(globalFlags)

	// Add subcommands
	root.AddCommand(
		createStartCommand(craftctlCommand, globalFlags),
		createStopCommand(craftctlCommand, stopFlags, globalFlags),
		createRestartCommand(craftctlCommand, globalFlags),
		createStatusCommand(craftctlCommand, statusFlags, globalFlags),
		createSendCommand(craftctlCommand, globalFlags),
		createBackupCommand(craftctlCommand, globalFlags),
		createRestoreCommand(craftctlCommand, globalFlags),
		createServeCommand(craftctlCommand, serveFlags, globalFlags),
		createRelayCommand(craftctlCommand, globalFlags),
	)

	return root
}

// createRootCommand creates the root command with the persistent flags
// every action shares.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "craftctl",
		Short: "Lifecycle, console, and backup manager for a world server",
		Long: `Craftctl manages one Minecraft-compatible world server: start and stop it,
relay console commands into it, take crash-consistent world backups, and
restore earlier snapshots. Every action is a short-lived invocation driven
by one TOML configuration file; state between invocations lives in the
server's work directory.

Examples:
  craftctl start
  craftctl send "say restarting in 5 minutes"
  craftctl backup create
  craftctl --config /srv/world/craftctl.toml status`,
		// Errors are printed once in main together with their exit code.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "craftctl.toml", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.LogColor, "log-color", false, "colorize diagnostic output")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	return root
}

// createStartCommand creates the start subcommand
func createStartCommand(craftctlCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the server and its console relay",
		Long: `Start the configured server with its input fed by a detached relay
reader, then wait the settle interval and confirm it stayed up.

Examples:
  craftctl start
  craftctl --config /srv/world/craftctl.toml start`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return craftctlCommand.Start(globalFlags)
		},
	}
}

// createStopCommand creates the stop subcommand
func createStopCommand(craftctlCommand command, stopFlags *StopFlags, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server, optionally backing up first",
		Long: `Relay the console stop command and wait until the server is gone.
With --backup (or backup.before_stop in the configuration) a snapshot is
taken first; --backup=false overrides the configuration in the other
direction.

Examples:
  craftctl stop
  craftctl stop --backup
  craftctl stop --backup=false`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stopFlags.BackupSet = cmd.Flags().Changed("backup")
			return craftctlCommand.Stop(*stopFlags, globalFlags)
		},
	}

	cmd.Flags().BoolVar(&stopFlags.Backup, "backup", false, "take a backup before stopping")

	return cmd
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(craftctlCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop the server and start it again",
		Long: `Stop followed by start; a failure in either half aborts the restart
and surfaces unchanged.

Examples:
  craftctl restart`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return craftctlCommand.Restart(globalFlags)
		},
	}
}

// createStatusCommand creates the status subcommand
func createStatusCommand(craftctlCommand command, statusFlags *StatusFlags, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the server is running",
		Long: `Probe the recorded identity and print the result as JSON. Status never
mutates state. With --watch it keeps printing a line whenever the state
changes, until interrupted.

Examples:
  craftctl status
  craftctl status --watch
  craftctl status --watch --interval=2s`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return craftctlCommand.Status(*statusFlags, globalFlags)
		},
	}

	cmd.Flags().BoolVar(&statusFlags.Watch, "watch", false, "keep watching for state changes")
	cmd.Flags().DurationVar(&statusFlags.Interval, "interval", 0, "re-probe interval in watch mode (default: poll_interval)")

	return cmd
}

// createSendCommand creates the send subcommand
func createSendCommand(craftctlCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <line>...",
		Short: "Relay console command lines to the running server",
		Long: `Append each argument as one line to the command pipe, in order. The
server must be running; lines are forwarded verbatim by the relay reader.

Examples:
  craftctl send "say hello"
  craftctl send save-all "say world saved"`,
		Args: minOneArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return craftctlCommand.Send(args, globalFlags)
		},
	}
}

// createBackupCommand creates the backup command with its subcommands
func createBackupCommand(craftctlCommand command, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create and list world backups",
	}

	cmd.AddCommand(
		createBackupCreateCommand(craftctlCommand, globalFlags),
		createBackupListCommand(craftctlCommand, globalFlags),
	)

	return cmd
}

// createBackupCreateCommand creates the backup create subcommand
func createBackupCreateCommand(craftctlCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Take a snapshot of the world now",
		Long: `Quiesce a running server (save-all, save-off), copy the world data and
support files into a timestamped snapshot, re-enable saving, then apply
compression and retention and repoint "latest".

Examples:
  craftctl backup create`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return craftctlCommand.BackupCreate(globalFlags)
		},
	}
}

// createBackupListCommand creates the backup list subcommand
func createBackupListCommand(craftctlCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List retained snapshots, newest first",
		Long: `Print the backup directory's snapshots as JSON, newest first, without
the "latest" pointer itself.

Examples:
  craftctl backup list`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return craftctlCommand.BackupList(globalFlags)
		},
	}
}

// createRestoreCommand creates the restore subcommand
func createRestoreCommand(craftctlCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore [source]",
		Short: "Swap a snapshot's world data back in",
		Long: `Replace the current world with the named snapshot's world data. With
no source the "latest" pointer is restored. The current world is safety-
backed-up first; a running server is stopped for the swap and started
again afterwards.

Examples:
  craftctl restore
  craftctl restore backups/20240102030405`,
		Args: maxOneArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			source := ""
			if len(args) > 0 {
				source = args[0]
			}
			return craftctlCommand.Restore(source, globalFlags)
		},
	}
}

// createServeCommand creates the serve subcommand
func createServeCommand(craftctlCommand command, serveFlags *ServeFlags, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API daemon",
		Long: `Expose the same actions over a local HTTP API, with Prometheus metrics
and cron-scheduled backups when configured. Runs until SIGINT or SIGTERM.

Examples:
  craftctl serve
  craftctl serve --daemonize
  craftctl serve --daemonize --pidfile /run/craftctl.pid --logfile /var/log/craftctl.log`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return craftctlCommand.Serve(*serveFlags, globalFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in the background as a daemon")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "file for the daemon PID (default: server.pid_file from config)")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "file for daemon output (default: server.log_file from config)")

	return cmd
}

// createRelayCommand creates the hidden relay subcommand. The supervisor
// spawns it at start time; it is not meant to be run by hand.
func createRelayCommand(craftctlCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:    "relay",
		Short:  "Run the console relay reader (spawned by start)",
		Hidden: true,
		Args:   noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return craftctlCommand.Relay(globalFlags)
		},
	}
}
