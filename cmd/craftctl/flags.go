package main

import "time"

// GlobalFlags Flag structs to decouple cobra from logic for testing.
// GlobalFlags are persistent on the root command and reach every action.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	LogColor   bool
}

type StatusFlags struct {
	Watch    bool          // Watch mode for continuous monitoring
	Interval time.Duration // Watch interval, zero falls back to poll_interval
}

type StopFlags struct {
	Backup bool
	// BackupSet records whether --backup was given at all, so an explicit
	// --backup=false can override before_stop from the configuration.
	BackupSet bool
}

type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}
