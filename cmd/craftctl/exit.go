package main

import (
	"errors"
	"strings"

	"github.com/loykin/craftctl/internal/errdefs"
)

// errUsage marks an invalid invocation: unknown flags, wrong arguments, or
// a subcommand used outside its supported shape.
var errUsage = errors.New("invalid invocation")

// Exit codes, stable for scripting. Zero is success, one is any failure
// that maps to no specific condition, two is an invalid invocation, and the
// rest identify one failure condition each so callers can branch without
// parsing messages.
const (
	exitOK              = 0
	exitError           = 1
	exitUsage           = 2
	exitNotRunning      = 3
	exitAlreadyRunning  = 4
	exitCannotStart     = 5
	exitDisappeared     = 6
	exitPipeCreation    = 7
	exitSendCommand     = 8
	exitBackupDir       = 9
	exitWorldCopy       = 10
	exitConfigCopy      = 11
	exitSymlinkDelete   = 12
	exitSymlinkCreate   = 13
	exitBackupsDisabled = 14
	exitLatestNotFound  = 15
	exitRestore         = 16
	exitBadCompression  = 17
	exitStopTimeout     = 18
	exitLockHeld        = 19
)

var exitTable = []struct {
	target error
	code   int
}{
	{errdefs.ErrNotRunning, exitNotRunning},
	{errdefs.ErrAlreadyRunning, exitAlreadyRunning},
	{errdefs.ErrCannotStart, exitCannotStart},
	{errdefs.ErrServerDisappeared, exitDisappeared},
	{errdefs.ErrPipeCreation, exitPipeCreation},
	{errdefs.ErrSendCommand, exitSendCommand},
	{errdefs.ErrBackupDirCreation, exitBackupDir},
	{errdefs.ErrWorldDataCopy, exitWorldCopy},
	{errdefs.ErrConfigCopy, exitConfigCopy},
	{errdefs.ErrSymlinkDelete, exitSymlinkDelete},
	{errdefs.ErrSymlinkCreate, exitSymlinkCreate},
	{errdefs.ErrBackupsDisabled, exitBackupsDisabled},
	{errdefs.ErrLatestNotFound, exitLatestNotFound},
	{errdefs.ErrRestore, exitRestore},
	{errdefs.ErrUnsupportedCompression, exitBadCompression},
	{errdefs.ErrStopTimeout, exitStopTimeout},
	{errdefs.ErrLockHeld, exitLockHeld},
}

// exitCodeFor maps an error returned by Execute to the process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, errUsage) {
		return exitUsage
	}
	for _, e := range exitTable {
		if errors.Is(err, e.target) {
			return e.code
		}
	}
	// cobra reports an unknown subcommand as a plain error
	if strings.HasPrefix(err.Error(), "unknown command") {
		return exitUsage
	}
	return exitError
}
