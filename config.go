package devmirror

import (
	"github.com/hazyhaar/devmirror/internal/config"
)

// Config is the top-level devmirror configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// ScreenshotConfig selects where composed screenshots go.
type ScreenshotConfig = config.ScreenshotConfig

// HTTPConfig controls the control API.
type HTTPConfig = config.HTTPConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return cfg
}
