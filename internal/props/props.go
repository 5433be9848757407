// Package props reads the managed server's server.properties file. craftctl
// itself only cares about a couple of keys, most importantly level-name,
// which decides the world directory that backups and restores operate on.
package props

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/magiconair/properties"
)

// FileName is the settings file the server keeps in its work directory.
const FileName = "server.properties"

const (
	defaultLevelName = "world"
	defaultPort      = 25565
)

// Props is a read-only view over one server.properties file.
type Props struct {
	p *properties.Properties
}

// Load reads server.properties from workDir. A missing file is normal for a
// server that has not completed first boot; it yields an empty set and every
// accessor falls back to its default.
func Load(workDir string) (*Props, error) {
	path := filepath.Join(workDir, FileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return &Props{p: properties.NewProperties()}, nil
	}
	// Server values are opaque text; ${...} must never trigger expansion.
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("props: load %s: %w", path, err)
	}
	return &Props{p: p}, nil
}

// LevelName returns the world directory name, "world" unless the server was
// configured otherwise.
func (p *Props) LevelName() string {
	return p.p.GetString("level-name", defaultLevelName)
}

// Port returns the listen port advertised by the server.
func (p *Props) Port() int {
	return p.p.GetInt("server-port", defaultPort)
}

// String returns the raw value for key, or def when the key is unset.
func (p *Props) String(key, def string) string {
	return p.p.GetString(key, def)
}

// Len reports how many keys the file defined.
func (p *Props) Len() int {
	return p.p.Len()
}
