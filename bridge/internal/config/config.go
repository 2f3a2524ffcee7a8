// Package config handles sketchbridge configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// View modes.
const (
	ModeBrowser = "browser" // Chrome via Rod drives the page
	ModeSocket  = "socket"  // a user's browser connects over /view/ws
)

// Config is the top-level configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	View     ViewConfig     `yaml:"view"`
	Debounce DebounceConfig `yaml:"debounce"`
	Storage  StorageConfig  `yaml:"storage"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	HTTP     HTTPConfig     `yaml:"http"`
	Workers  WorkersConfig  `yaml:"workers"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Headless         *bool         `yaml:"headless"`
	Stealth          bool          `yaml:"stealth"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// ViewConfig controls the page hosting the runtime.
type ViewConfig struct {
	Mode string `yaml:"mode"` // browser | socket
	// URL of the host page. Empty serves the embedded page from the HTTP
	// listener.
	URL                 string        `yaml:"url"`
	InitialResource     string        `yaml:"initial_resource"`
	Theme               string        `yaml:"theme"`
	ReadOnly            bool          `yaml:"read_only"`
	ReloadOnThemeChange bool          `yaml:"reload_on_theme_change"`
	LoadTimeout         time.Duration `yaml:"load_timeout"`
}

// DebounceConfig controls the two debounce delays.
type DebounceConfig struct {
	Update  time.Duration `yaml:"update"`
	Persist time.Duration `yaml:"persist"`
}

// StorageConfig controls the SQLite store, export files and resource
// lookup.
type StorageConfig struct {
	// DB is the SQLite path. Empty disables the store.
	DB              string `yaml:"db"`
	SceneID         string `yaml:"scene_id"`
	ExportDir       string `yaml:"export_dir"`
	ExportRetention int    `yaml:"export_retention"`
	// ResourceDir serves file: resources. Empty disables them.
	ResourceDir          string `yaml:"resource_dir"`
	AllowPrivateNetworks bool   `yaml:"allow_private_networks"`
}

// SinkConfig defines a persistence or notification backend.
type SinkConfig struct {
	Type    string        `yaml:"type"` // stdout | webhook | sqlite
	URL     string        `yaml:"url"`  // for webhook
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

// HTTPConfig controls the control-plane listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// TokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	TokenHash string `yaml:"token_hash"`
	// MCP mounts the MCP tools at /mcp (streamable HTTP).
	MCP bool `yaml:"mcp"`
	// MaxBody caps request bodies in bytes. Default: 32 MiB.
	MaxBody int64 `yaml:"max_body"`
	// ExportLimit is the number of exports a client may request per
	// minute. Default: 60; negative disables the limit.
	ExportLimit int `yaml:"export_limit"`
}

// WorkersConfig sizes the dispatcher worker pool.
type WorkersConfig struct {
	Count       int           `yaml:"count"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 512 << 20
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.View.Mode == "" {
		c.View.Mode = ModeBrowser
	}
	if c.View.Theme == "" {
		c.View.Theme = "light"
	}
	if c.View.LoadTimeout <= 0 {
		c.View.LoadTimeout = 30 * time.Second
	}
	if c.Debounce.Update <= 0 {
		c.Debounce.Update = 100 * time.Millisecond
	}
	if c.Debounce.Persist <= 0 {
		c.Debounce.Persist = 500 * time.Millisecond
	}
	if c.Storage.SceneID == "" {
		c.Storage.SceneID = "default"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8088"
	}
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 32 << 20
	}
	if c.HTTP.ExportLimit == 0 {
		c.HTTP.ExportLimit = 60
	}
	if c.Workers.Count <= 0 {
		c.Workers.Count = 2
	}
	if c.Workers.TaskTimeout <= 0 {
		c.Workers.TaskTimeout = 30 * time.Second
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Backoff <= 0 {
			c.Sinks[i].Backoff = time.Second
		}
	}
}

// Validate rejects values that cannot work.
func (c *Config) Validate() error {
	switch c.View.Mode {
	case ModeBrowser, ModeSocket:
	default:
		return fmt.Errorf("config: view.mode %q: want %s or %s", c.View.Mode, ModeBrowser, ModeSocket)
	}
	switch c.View.Theme {
	case "light", "dark":
	default:
		return fmt.Errorf("config: view.theme %q: want light or dark", c.View.Theme)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook without url", i)
			}
		case "sqlite":
			if c.Storage.DB == "" {
				return fmt.Errorf("config: sinks[%d]: sqlite sink needs storage.db", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
