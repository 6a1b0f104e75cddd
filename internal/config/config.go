package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration
type Config struct {
	Version  int            `toml:"version"`
	Platform PlatformConfig `toml:"platform"`
	Server   ServerConfig   `toml:"server"`
	Feed     FeedConfig     `toml:"feed"`
	Auth     AuthConfig     `toml:"auth"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
}

type PlatformConfig struct {
	Owner             string   `toml:"owner"`
	Repo              string   `toml:"repo"`
	Branch            string   `toml:"branch"`
	RawBaseURL        string   `toml:"raw_base_url"`
	APIBaseURL        string   `toml:"api_base_url"`
	GraphQLURL        string   `toml:"graphql_url"`
	RequestTimeout    Duration `toml:"request_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

type ServerConfig struct {
	Addr          string   `toml:"addr"`
	PublicURL     string   `toml:"public_url"`
	RenderTimeout Duration `toml:"render_timeout"`
	// WaitForRender is how long a page request waits for its dispatch
	// before answering with the loading view.
	WaitForRender Duration `toml:"wait_for_render"`
	SecureCookies bool     `toml:"secure_cookies"`
}

type FeedConfig struct {
	PageSize       int      `toml:"page_size"`
	CacheTTL       Duration `toml:"cache_ttl"`
	PollInterval   Duration `toml:"poll_interval"`
	GhostThreshold Duration `toml:"ghost_threshold"`
}

type AuthConfig struct {
	ClientID     string `toml:"client_id"`
	AuthorizeURL string `toml:"authorize_url"`
	ExchangeURL  string `toml:"exchange_url"`
	Scope        string `toml:"scope"`
}

type StoreConfig struct {
	Path       string   `toml:"path"`
	SessionTTL Duration `toml:"session_ttl"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Duration is a time.Duration written as a string ("60s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Platform: PlatformConfig{
			Owner:             "kody-w",
			Repo:              "rappterbook",
			Branch:            "main",
			RawBaseURL:        "https://raw.githubusercontent.com",
			APIBaseURL:        "https://api.github.com",
			GraphQLURL:        "https://api.github.com/graphql",
			RequestTimeout:    Duration{10 * time.Second},
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8080",
			PublicURL:     "http://127.0.0.1:8080",
			RenderTimeout: Duration{30 * time.Second},
			WaitForRender: Duration{5 * time.Second},
		},
		Feed: FeedConfig{
			PageSize:       20,
			CacheTTL:       Duration{60 * time.Second},
			PollInterval:   Duration{60 * time.Second},
			GhostThreshold: Duration{48 * time.Hour},
		},
		Auth: AuthConfig{
			AuthorizeURL: "https://github.com/login/oauth/authorize",
			Scope:        "public_repo",
		},
		Store: StoreConfig{
			SessionTTL: Duration{30 * 24 * time.Hour},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Platform.Owner) == "" || strings.TrimSpace(c.Platform.Repo) == "":
		return errors.New("platform.owner and platform.repo are required")
	case c.Feed.PageSize <= 0:
		return fmt.Errorf("feed.page_size must be positive, got %d", c.Feed.PageSize)
	case c.Feed.CacheTTL.Duration <= 0:
		return errors.New("feed.cache_ttl must be positive")
	case c.Feed.PollInterval.Duration < time.Second:
		return errors.New("feed.poll_interval must be at least 1s")
	case c.Server.Addr == "":
		return errors.New("server.addr is required")
	}
	return nil
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "rappterbook"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the directory holding the session database.
func DataDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rappterbook"), nil
}

// StorePath resolves the session database path.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// Load reads config from the default path. A missing file yields defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads config from path over the defaults. A missing file yields
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config to the default path.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes config to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
