package backup

import (
	"fmt"

	"github.com/loykin/craftctl/internal/errdefs"
)

// Mode identifies how a completed snapshot directory is archived.
// The set is closed: configuration resolves a Mode at load time and
// unrecognized names are rejected there, never at backup time.
type Mode uint8

const (
	// ModeNone keeps the snapshot as a plain directory.
	ModeNone Mode = 0

	// ModeTarGzip archives the snapshot into a single .tar.gz file.
	ModeTarGzip Mode = 1

	// ModeZip archives the snapshot into a single .zip file.
	ModeZip Mode = 2
)

// String returns the configuration name of a mode.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeTarGzip:
		return "tar-gzip"
	case ModeZip:
		return "zip"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Ext returns the archive filename suffix for a mode, empty for ModeNone.
func (m Mode) Ext() string {
	switch m {
	case ModeTarGzip:
		return ".tar.gz"
	case ModeZip:
		return ".zip"
	default:
		return ""
	}
}

// ParseMode parses a compression mode from its configuration name.
// The empty string means ModeNone.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "none":
		return ModeNone, nil
	case "tar-gzip":
		return ModeTarGzip, nil
	case "zip":
		return ModeZip, nil
	default:
		return 0, fmt.Errorf("%w: %q", errdefs.ErrUnsupportedCompression, name)
	}
}
