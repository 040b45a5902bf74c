// Package config loads ~/.termdeck/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/termdeck/termdeck/internal/emulator"
	"github.com/termdeck/termdeck/internal/logging"
	"github.com/termdeck/termdeck/internal/protocol"
)

const (
	// FileName is the config file inside Dir.
	FileName = "config.toml"
	// DBFileName is the SQLite metadata store inside Dir.
	DBFileName = "state.db"
	// HomeEnv overrides the base directory.
	HomeEnv = "TERMDECK_HOME"
)

// Config is the decoded config file.
type Config struct {
	Backend   BackendSettings   `toml:"backend"`
	Workspace WorkspaceSettings `toml:"workspace"`
	Terminal  TerminalSettings  `toml:"terminal"`
	Profiles  ProfileSettings   `toml:"profiles"`
	Logs      LogsSettings      `toml:"logs"`
	Server    ServerSettings    `toml:"server"`
	UI        UISettings        `toml:"ui"`
}

// BackendSettings locates the session host.
type BackendSettings struct {
	// URL is the websocket endpoint.
	URL string `toml:"url"`
	// PingURL is probed before each connect attempt.
	PingURL string `toml:"ping_url"`
	// StateURL serves the remote workspace state (GET/PUT).
	StateURL        string `toml:"state_url"`
	ProbeTimeoutMS  int    `toml:"probe_timeout_ms"`
	RetryIntervalMS int    `toml:"retry_interval_ms"`
	CreateTimeoutMS int    `toml:"create_timeout_ms"`
}

// WorkspaceSettings selects the workspace identity.
type WorkspaceSettings struct {
	// Root defaults to the current directory.
	Root string `toml:"root"`
}

// TerminalSettings are the integrated terminal settings.
type TerminalSettings struct {
	DefaultProfile string `toml:"default_profile"`
	Scrollback     int    `toml:"scrollback"`
	ConvertEOL     *bool  `toml:"convert_eol"`
	Cols           int    `toml:"cols"`
	Rows           int    `toml:"rows"`
}

// ProfileSettings holds per-profile env text blocks.
type ProfileSettings struct {
	Env map[string]string `toml:"env"`
}

// LogsSettings maps to logging.Config.
type LogsSettings struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
	Debug      bool   `toml:"debug"`
}

// ServerSettings configures `termdeck serve`.
type ServerSettings struct {
	Listen string `toml:"listen"`
	// Shells overrides the command launched for a profile.
	Shells map[string]string `toml:"shells"`
}

// UISettings configures the terminal UI.
type UISettings struct {
	// Theme is "auto" (follow the OS), "dark" or "light".
	Theme string `toml:"theme"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.normalize()
	return c
}

func (c *Config) normalize() {
	b := &c.Backend
	if b.URL == "" {
		b.URL = "ws://127.0.0.1:8000/terminal/ws"
	}
	if b.PingURL == "" {
		b.PingURL = "http://127.0.0.1:8000/sessions"
	}
	if b.StateURL == "" {
		b.StateURL = "http://127.0.0.1:8000/terminal/state"
	}
	if b.ProbeTimeoutMS <= 0 {
		b.ProbeTimeoutMS = 500
	}
	if b.RetryIntervalMS <= 0 {
		b.RetryIntervalMS = 1200
	}
	if b.CreateTimeoutMS <= 0 {
		b.CreateTimeoutMS = 5000
	}

	t := &c.Terminal
	t.DefaultProfile = string(protocol.NormalizeProfile(t.DefaultProfile))
	if t.Scrollback == 0 {
		t.Scrollback = emulator.DefaultScrollback
	}
	t.Scrollback = emulator.ClampScrollback(t.Scrollback)
	if t.ConvertEOL == nil {
		on := true
		t.ConvertEOL = &on
	}
	if t.Cols <= 0 {
		t.Cols = emulator.DefaultCols
	}
	if t.Rows <= 0 {
		t.Rows = emulator.DefaultRows
	}

	if c.Profiles.Env == nil {
		c.Profiles.Env = make(map[string]string)
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8000"
	}
	if c.Server.Shells == nil {
		c.Server.Shells = make(map[string]string)
	}
	switch c.UI.Theme {
	case "dark", "light":
	default:
		c.UI.Theme = "auto"
	}
}

// ProbeTimeout returns the liveness probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Backend.ProbeTimeoutMS) * time.Millisecond
}

// RetryInterval returns the fixed reconnect delay.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Backend.RetryIntervalMS) * time.Millisecond
}

// CreateTimeout returns how long a create request may wait.
func (c *Config) CreateTimeout() time.Duration {
	return time.Duration(c.Backend.CreateTimeoutMS) * time.Millisecond
}

// ProfileEnv returns the env text blocks keyed by known profile.
func (c *Config) ProfileEnv() map[protocol.Profile]string {
	out := make(map[protocol.Profile]string, len(protocol.Profiles))
	for _, p := range protocol.Profiles {
		if text, ok := c.Profiles.Env[string(p)]; ok {
			out[p] = text
		}
	}
	return out
}

// WorkspaceRoot returns the configured root or the current directory.
func (c *Config) WorkspaceRoot() string {
	if c.Workspace.Root != "" {
		return c.Workspace.Root
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// LoggingConfig maps [logs] to logging.Config. An empty dir logs into Dir.
func (c *Config) LoggingConfig() logging.Config {
	dir := c.Logs.Dir
	if dir == "" {
		dir, _ = Dir()
	}
	return logging.Config{
		LogDir:     dir,
		Level:      c.Logs.Level,
		Format:     c.Logs.Format,
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxBackups: c.Logs.MaxBackups,
		MaxAgeDays: c.Logs.MaxAgeDays,
		Compress:   c.Logs.Compress,
		Debug:      c.Logs.Debug,
	}
}

// Dir returns the termdeck base directory.
func Dir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home directory: %w", err)
	}
	return filepath.Join(homeDir, ".termdeck"), nil
}

// Path returns the path of the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// DBPath returns the path of the metadata database.
func DBPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DBFileName), nil
}

// LoadFile decodes path. A missing file yields defaults; a parse error
// yields defaults plus the error.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Default(), fmt.Errorf("config: %s parse error: %w", FileName, err)
	}
	c.normalize()
	return &c, nil
}

// Cache for the config (loaded once per process)
var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Load returns the cached config, reading it on first use.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double-check after acquiring write lock
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = Default()
		return cache, nil
	}
	cfg, err := LoadFile(path)
	// Still cache defaults on error to prevent repeated parse attempts
	cache = cfg
	return cache, err
}

// Reload forces the next Load to read the file again and returns its result.
func Reload() (*Config, error) {
	ClearCache()
	return Load()
}

// ClearCache drops the cached config.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}
