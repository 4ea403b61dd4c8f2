package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	DataDir string `koanf:"data_dir"` // overrides the default state directory

	// Music server connection
	Server ServerConfig `koanf:"server"`

	// Playback engine (MPD) connection
	Mpd MpdConfig `koanf:"mpd"`

	// Playback behavior tuning
	Playback PlaybackConfig `koanf:"playback"`

	// Session handling
	Session SessionConfig `koanf:"session"`

	// Last.fm scrobbling (enables scrobbling when configured)
	Lastfm LastfmConfig `koanf:"lastfm"`
}

// ServerConfig holds the music server connection settings.
type ServerConfig struct {
	URL        string `koanf:"url"`         // e.g., "https://music.example.com"
	Username   string `koanf:"username"`
	ClientName string `koanf:"client_name"` // reported in stream URLs (default: "resona")
}

// MpdConfig holds the playback engine connection settings.
type MpdConfig struct {
	Address  string `koanf:"address"` // e.g., "localhost:6600"
	Password string `koanf:"password"`
}

// PlaybackConfig tunes playback behavior. All durations are milliseconds.
type PlaybackConfig struct {
	ErrorRetries       int `koanf:"error_retries"`        // reload attempts before giving up (default: 3)
	ProgressIntervalMs int `koanf:"progress_interval_ms"` // progress tick period (default: 500)
	StopDebounceMs     int `koanf:"stop_debounce_ms"`     // service stop delay on empty queue (default: 500)
	SearchDebounceMs   int `koanf:"search_debounce_ms"`   // search query delay while typing (default: 300)
}

// SessionConfig holds session handling settings.
type SessionConfig struct {
	ResetOnNewSession *bool `koanf:"reset_on_new_session"` // discard idle queue on a new session (default: false)
}

// LastfmConfig holds Last.fm scrobbling configuration.
type LastfmConfig struct {
	APIKey     string `koanf:"api_key"`
	APISecret  string `koanf:"api_secret"`
	SessionKey string `koanf:"session_key"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	configPaths := getConfigPaths()

	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	// Normalize server URL (remove trailing slash)
	cfg.Server.URL = strings.TrimSuffix(cfg.Server.URL, "/")

	if cfg.Server.ClientName == "" {
		cfg.Server.ClientName = "resona"
	}
	if cfg.Mpd.Address == "" {
		cfg.Mpd.Address = "localhost:6600"
	}

	// Expand ~ in data_dir
	if cfg.DataDir != "" {
		cfg.DataDir = expandPath(cfg.DataDir)
	}

	return cfg, nil
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/resona/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "resona", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HasLastfmConfig returns true if Last.fm scrobbling is configured.
func (c *Config) HasLastfmConfig() bool {
	return c.Lastfm.APIKey != "" && c.Lastfm.APISecret != ""
}

// ResetOnNewSession returns the session reset policy with its default applied.
func (c *Config) ResetOnNewSession() bool {
	return c.Session.ResetOnNewSession != nil && *c.Session.ResetOnNewSession
}

// GetPlaybackConfig returns the playback configuration with defaults applied.
func (c *Config) GetPlaybackConfig() PlaybackConfig {
	cfg := c.Playback

	// Apply defaults
	if cfg.ErrorRetries <= 0 {
		cfg.ErrorRetries = 3
	}
	if cfg.ProgressIntervalMs <= 0 {
		cfg.ProgressIntervalMs = 500
	}
	if cfg.StopDebounceMs <= 0 {
		cfg.StopDebounceMs = 500
	}
	if cfg.SearchDebounceMs <= 0 {
		cfg.SearchDebounceMs = 300
	}

	return cfg
}

// ProgressInterval returns the progress tick period as a duration.
func (p PlaybackConfig) ProgressInterval() time.Duration {
	return time.Duration(p.ProgressIntervalMs) * time.Millisecond
}

// StopDebounce returns the service stop delay as a duration.
func (p PlaybackConfig) StopDebounce() time.Duration {
	return time.Duration(p.StopDebounceMs) * time.Millisecond
}

// SearchDebounce returns the search publication delay as a duration.
func (p PlaybackConfig) SearchDebounce() time.Duration {
	return time.Duration(p.SearchDebounceMs) * time.Millisecond
}
