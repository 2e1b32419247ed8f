// Package config loads the retrace daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level retrace configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Store     StoreConfig     `yaml:"store"`
	Forms     FormsConfig     `yaml:"forms"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	HTTP      HTTPConfig      `yaml:"http"`
	Tabs      []TabConfig     `yaml:"tabs"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Stealth          string   `yaml:"stealth"` // headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// StoreConfig selects where state lives.
type StoreConfig struct {
	Path    string `yaml:"path"`
	Session string `yaml:"session"` // memory | durable
}

// FormsConfig tunes the form tracker.
type FormsConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	RestoreDelay time.Duration `yaml:"restore_delay"`
	ScrollDelay  time.Duration `yaml:"scroll_delay"`
}

// SnapshotsConfig tunes screenshot history.
type SnapshotsConfig struct {
	Capacity    int `yaml:"capacity"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

// ProtocolConfig tunes page → background messaging.
type ProtocolConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPConfig controls the settings surface listener.
type HTTPConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// TabConfig is a page opened at startup.
type TabConfig struct {
	URL string `yaml:"url"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/retrace.db"
	}
	if c.Store.Session == "" {
		c.Store.Session = "memory"
	}
	if c.Forms.Debounce <= 0 {
		c.Forms.Debounce = 400 * time.Millisecond
	}
	if c.Forms.RestoreDelay <= 0 {
		c.Forms.RestoreDelay = 50 * time.Millisecond
	}
	if c.Forms.ScrollDelay <= 0 {
		c.Forms.ScrollDelay = 50 * time.Millisecond
	}
	if c.Snapshots.Capacity <= 0 {
		c.Snapshots.Capacity = 3
	}
	if c.Snapshots.JPEGQuality <= 0 {
		c.Snapshots.JPEGQuality = 70
	}
	if c.Protocol.Timeout <= 0 {
		c.Protocol.Timeout = 5 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8790"
	}
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Session {
	case "memory", "durable":
	default:
		return fmt.Errorf("config: store.session must be memory or durable, got %q", c.Store.Session)
	}
	if c.Snapshots.JPEGQuality > 100 {
		return fmt.Errorf("config: snapshots.jpeg_quality must be 1-100, got %d", c.Snapshots.JPEGQuality)
	}
	for i, t := range c.Tabs {
		if t.URL == "" {
			return fmt.Errorf("config: tabs[%d]: url is required", i)
		}
	}
	return nil
}
