// Package errdefs defines the error conditions craftctl actions can report.
// Every failure an action surfaces wraps exactly one of these sentinels so
// callers (and the CLI exit-code mapping) can classify with errors.Is.
package errdefs

import "errors"

var (
	// ErrNotRunning indicates an action required a live server and none was tracked.
	ErrNotRunning = errors.New("craftctl: server is not running")

	// ErrAlreadyRunning indicates start was attempted while the tracked server is alive.
	ErrAlreadyRunning = errors.New("craftctl: server is already running")

	// ErrCannotStart indicates the server was launched but was not alive after the settle interval.
	ErrCannotStart = errors.New("craftctl: server did not come up")

	// ErrServerDisappeared indicates the relay reader lost the server between timed reads.
	ErrServerDisappeared = errors.New("craftctl: server disappeared")

	// ErrPipeCreation indicates the command pipe could not be created,
	// typically because a non-pipe file occupies its path.
	ErrPipeCreation = errors.New("craftctl: command pipe creation failed")

	// ErrSendCommand indicates a write to the command pipe failed at the OS level.
	ErrSendCommand = errors.New("craftctl: sending command failed")

	// ErrBackupDirCreation indicates the snapshot directory could not be created.
	ErrBackupDirCreation = errors.New("craftctl: backup directory creation failed")

	// ErrWorldDataCopy indicates copying the world data into a snapshot failed.
	ErrWorldDataCopy = errors.New("craftctl: world data copy failed")

	// ErrConfigCopy indicates copying the server's support files into a snapshot failed.
	ErrConfigCopy = errors.New("craftctl: support file copy failed")

	// ErrSymlinkDelete indicates the stale latest pointer could not be removed.
	ErrSymlinkDelete = errors.New("craftctl: latest pointer delete failed")

	// ErrSymlinkCreate indicates the latest pointer could not be created.
	ErrSymlinkCreate = errors.New("craftctl: latest pointer create failed")

	// ErrBackupsDisabled indicates a backup was requested with retention set to zero.
	ErrBackupsDisabled = errors.New("craftctl: backups are disabled")

	// ErrLatestNotFound indicates the latest pointer is absent or dangling.
	ErrLatestNotFound = errors.New("craftctl: latest backup not found")

	// ErrRestore indicates a restore failed; the safety backup taken at the
	// beginning of the restore is the recovery path.
	ErrRestore = errors.New("craftctl: restore failed")

	// ErrUnsupportedCompression indicates an unrecognized compression mode in configuration.
	ErrUnsupportedCompression = errors.New("craftctl: unsupported compression type")

	// ErrStopTimeout indicates the server did not stop within the configured timeout.
	ErrStopTimeout = errors.New("craftctl: server did not stop in time")

	// ErrLockHeld indicates another craftctl action holds the advisory lock.
	ErrLockHeld = errors.New("craftctl: another action is in progress")
)
