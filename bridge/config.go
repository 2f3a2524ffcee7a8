package bridge

import (
	"github.com/hazyhaar/sketchbridge/bridge/internal/config"
)

// Config is the top-level sketchbridge configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// ViewConfig controls the page hosting the runtime.
type ViewConfig = config.ViewConfig

// DebounceConfig controls the update and persist debounce delays.
type DebounceConfig = config.DebounceConfig

// StorageConfig controls the SQLite store and export files.
type StorageConfig = config.StorageConfig

// SinkConfig defines a persistence backend.
type SinkConfig = config.SinkConfig

// View modes.
const (
	ModeBrowser = config.ModeBrowser
	ModeSocket  = config.ModeSocket
)

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
