// Package config handles devmirror configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/devmirror/bus"
	"github.com/hazyhaar/devmirror/idgen"
	"github.com/hazyhaar/devmirror/interaction"
	"github.com/hazyhaar/devmirror/internal/safeurl"
)

// Config is the top-level devmirror configuration.
type Config struct {
	// URL is loaded on every device at start. Empty leaves them blank.
	URL         string               `yaml:"url"`
	Browser     BrowserConfig        `yaml:"browser"`
	Devices     []interaction.Device `yaml:"devices"`
	Bus         bus.Config           `yaml:"bus"`
	Mirror      MirrorConfig         `yaml:"mirror"`
	Screenshots ScreenshotConfig     `yaml:"screenshots"`
	Journal     JournalConfig        `yaml:"journal"`
	HTTP        HTTPConfig           `yaml:"http"`
	// ScrollStep is the distance of one scrollDown/scrollUp command.
	ScrollStep float64 `yaml:"scroll_step"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Mode             string        `yaml:"mode"` // headless | headful
	Stealth          bool          `yaml:"stealth"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// MirrorConfig controls event fan-out.
type MirrorConfig struct {
	Queue int `yaml:"queue"`
}

// ScreenshotConfig selects where composed screenshots go.
type ScreenshotConfig struct {
	// Folder receives files. Empty selects ~/Desktop/Responsively-Screenshots.
	Folder string `yaml:"folder"`
	// Formats written to Folder: png, pdf.
	Formats        []string `yaml:"formats"`
	Webhook        string   `yaml:"webhook"`
	WebhookRetries int      `yaml:"webhook_retries"`

	// WebhookAllowPrivate permits loopback and private webhook hosts.
	WebhookAllowPrivate bool `yaml:"webhook_allow_private"`
}

// JournalConfig enables the SQLite capture journal. Empty Path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig controls the control API. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// User and PasswordHash (bcrypt) enable basic auth.
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"`
}

// DefaultDevices are used when the configuration lists none.
func DefaultDevices() []interaction.Device {
	return []interaction.Device{
		{ID: "iphone-12", Name: "iPhone 12", Width: 390, Height: 844, Mobile: true, ScaleFactor: 3,
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1"},
		{ID: "pixel-5", Name: "Pixel 5", Width: 393, Height: 851, Mobile: true, ScaleFactor: 2.75,
			UserAgent: "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.91 Mobile Safari/537.36"},
		{ID: "ipad", Name: "iPad", Width: 810, Height: 1080, Mobile: true, ScaleFactor: 2},
		{ID: "laptop", Name: "Laptop", Width: 1440, Height: 900, ScaleFactor: 1},
	}
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration.
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

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if len(c.Devices) == 0 {
		c.Devices = DefaultDevices()
	}
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.ID == "" {
			d.ID = idgen.Slug(d.Name)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
	}
	if c.Bus.Kind == "" {
		c.Bus.Kind = "memory"
	}
	if c.Bus.Name == "" {
		c.Bus.Name = "devmirror"
	}
	if c.Mirror.Queue <= 0 {
		c.Mirror.Queue = 64
	}
	if len(c.Screenshots.Formats) == 0 {
		c.Screenshots.Formats = []string{"png"}
	}
	if c.Screenshots.WebhookRetries <= 0 {
		c.Screenshots.WebhookRetries = 3
	}
	if c.ScrollStep <= 0 {
		c.ScrollStep = 400
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if seen[d.ID] {
			return fmt.Errorf("config: duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
	}
	for _, f := range c.Screenshots.Formats {
		if f != "png" && f != "pdf" {
			return fmt.Errorf("config: screenshots.formats: unknown format %q", f)
		}
	}
	if c.Screenshots.Webhook != "" {
		if err := safeurl.Webhook(c.Screenshots.Webhook, c.Screenshots.WebhookAllowPrivate); err != nil {
			return fmt.Errorf("config: screenshots.webhook: %w", err)
		}
	}
	if c.HTTP.User != "" && c.HTTP.PasswordHash == "" {
		return fmt.Errorf("config: http.user set without http.password_hash")
	}
	return nil
}
