package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/craftctl/internal/backup"
	"github.com/spf13/viper"
)

// Defaults applied when the TOML file leaves a field unset.
const (
	DefaultPIDFile        = "server.pid"
	DefaultPipeFile       = "command.pipe"
	DefaultLockFile       = ".craftctl.lock"
	DefaultBackupDir      = "backups"
	DefaultSettleInterval = 5 * time.Second
	DefaultPollInterval   = time.Second
	DefaultReadTimeout    = 3 * time.Second
)

// DefaultSupportGlobs are the WorkDir-relative patterns copied next to the
// world data in every snapshot.
var DefaultSupportGlobs = []string{"*.txt", "*.properties"}

// fileConfig mirrors the TOML structure before defaults and validation.
// Retention is a pointer so an absent value (keep everything) is
// distinguishable from an explicit 0 (backups disabled).
type fileConfig struct {
	WorkDir  string   `toml:"work_dir" mapstructure:"work_dir"`
	Command  string   `toml:"command" mapstructure:"command"`
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	PIDFile  string `toml:"pid_file" mapstructure:"pid_file"`
	PipeFile string `toml:"pipe_file" mapstructure:"pipe_file"`
	LockFile string `toml:"lock_file" mapstructure:"lock_file"`

	SettleInterval time.Duration `toml:"settle_interval" mapstructure:"settle_interval"`
	PollInterval   time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	ReadTimeout    time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	StopTimeout    time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`

	Backup  backupFileConfig `toml:"backup" mapstructure:"backup"`
	Log     *LogConfig       `toml:"log" mapstructure:"log"`
	History *HistoryConfig   `toml:"history" mapstructure:"history"`
	Server  *ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics *MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
}

type backupFileConfig struct {
	Dir          string   `toml:"dir" mapstructure:"dir"`
	Retention    *int     `toml:"retention" mapstructure:"retention"`
	Compression  string   `toml:"compression" mapstructure:"compression"`
	BeforeStop   bool     `toml:"before_stop" mapstructure:"before_stop"`
	SupportGlobs []string `toml:"support_globs" mapstructure:"support_globs"`
}

// Config is the resolved, immutable configuration. It is constructed once
// by Load and passed by reference to every component; nothing mutates it
// afterwards and no package reads ambient globals instead of it.
type Config struct {
	// Path is the absolute location of the file this configuration was
	// loaded from, empty when the Config was built in code. The relay
	// reader is respawned against it.
	Path string

	WorkDir  string
	Command  string
	Env      []string
	EnvFiles []string
	UseOSEnv bool

	PIDFile  string
	PipeFile string
	LockFile string

	SettleInterval time.Duration
	PollInterval   time.Duration
	ReadTimeout    time.Duration
	// StopTimeout bounds the stop wait loop; zero waits indefinitely
	// (cancellation still applies).
	StopTimeout time.Duration

	Backup  BackupConfig
	Log     LogConfig
	History *HistoryConfig
	Server  *ServerConfig
	Metrics *MetricsConfig
}

// BackupConfig carries the resolved backup engine settings.
type BackupConfig struct {
	Dir string
	// Retention: negative keeps everything, zero disables backups,
	// positive N keeps the N most recent snapshots plus the pointer.
	Retention    int
	Mode         backup.Mode
	BeforeStop   bool
	SupportGlobs []string
}

// LogConfig configures the CLI handler and the server console writer.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// HistoryConfig enables the action journal when a DSN is set.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the serve-mode admin API. A non-empty Token
// puts the lifecycle endpoints behind bearer authentication.
type ServerConfig struct {
	Listen         string     `toml:"listen" mapstructure:"listen"`
	BasePath       string     `toml:"base_path" mapstructure:"base_path"`
	Token          string     `toml:"token" mapstructure:"token"`
	BackupSchedule string     `toml:"backup_schedule" mapstructure:"backup_schedule"`
	PIDFile        string     `toml:"pid_file" mapstructure:"pid_file"`
	LogFile        string     `toml:"log_file" mapstructure:"log_file"`
	TLS            *TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig enables HTTPS for the admin API. With Auto set and no
// cert/key pair, a self-signed certificate is generated at startup.
type TLSConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `toml:"key_file" mapstructure:"key_file"`
	Auto     bool   `toml:"auto" mapstructure:"auto"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// Load reads a TOML file and resolves it into an immutable Config.
// Relative paths are resolved against WorkDir, durations are validated,
// and the compression mode is parsed here so unsupported names fail before
// any action runs.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	cfg, err := resolve(fc)
	if err != nil {
		return nil, err
	}
	if cfg.Path, err = filepath.Abs(path); err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return cfg, nil
}

func resolve(fc fileConfig) (*Config, error) {
	if fc.WorkDir == "" {
		return nil, fmt.Errorf("work_dir is required")
	}
	workDir, err := filepath.Abs(fc.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work_dir: %w", err)
	}
	if strings.TrimSpace(fc.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	mode, err := backup.ParseMode(fc.Backup.Compression)
	if err != nil {
		return nil, err
	}

	for name, d := range map[string]time.Duration{
		"settle_interval": fc.SettleInterval,
		"poll_interval":   fc.PollInterval,
		"read_timeout":    fc.ReadTimeout,
		"stop_timeout":    fc.StopTimeout,
	} {
		if d < 0 {
			return nil, fmt.Errorf("%s must not be negative", name)
		}
	}

	retention := -1
	if fc.Backup.Retention != nil {
		retention = *fc.Backup.Retention
	}
	globs := fc.Backup.SupportGlobs
	if globs == nil {
		globs = DefaultSupportGlobs
	}

	cfg := &Config{
		WorkDir:        workDir,
		Command:        fc.Command,
		Env:            fc.Env,
		EnvFiles:       fc.EnvFiles,
		UseOSEnv:       fc.UseOSEnv,
		PIDFile:        resolvePath(workDir, fc.PIDFile, DefaultPIDFile),
		PipeFile:       resolvePath(workDir, fc.PipeFile, DefaultPipeFile),
		LockFile:       resolvePath(workDir, fc.LockFile, DefaultLockFile),
		SettleInterval: durOr(fc.SettleInterval, DefaultSettleInterval),
		PollInterval:   durOr(fc.PollInterval, DefaultPollInterval),
		ReadTimeout:    durOr(fc.ReadTimeout, DefaultReadTimeout),
		StopTimeout:    fc.StopTimeout,
		Backup: BackupConfig{
			Dir:          resolvePath(workDir, fc.Backup.Dir, DefaultBackupDir),
			Retention:    retention,
			Mode:         mode,
			BeforeStop:   fc.Backup.BeforeStop,
			SupportGlobs: globs,
		},
		History: fc.History,
		Server:  fc.Server,
		Metrics: fc.Metrics,
	}
	if fc.Log != nil {
		cfg.Log = *fc.Log
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = filepath.Join(workDir, "logs")
	} else if !filepath.IsAbs(cfg.Log.Dir) {
		cfg.Log.Dir = filepath.Join(workDir, cfg.Log.Dir)
	}
	return cfg, nil
}

// StartupGrace is how long the relay reader tolerates a missing or dead
// identity file before it has ever observed the server alive. The spawner
// writes the PID file moments after launching the reader, so the grace only
// needs to cover launch plus settling.
func (c *Config) StartupGrace() time.Duration {
	return c.SettleInterval + 2*c.ReadTimeout
}

// BuildEnv merges the server process environment. Precedence: OS env when
// enabled provides the base, env_files apply next in order, and the
// top-level env list overrides last.
func (c *Config) BuildEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.WorkDir, p)
		}
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export,
// no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

func resolvePath(workDir, p, def string) string {
	if p == "" {
		p = def
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workDir, p)
}

func durOr(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}
