package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for feedd.
type Config struct {
	ListenAddress string       `yaml:"listen"`
	DatabasePath  string       `yaml:"database"`
	StatePath     string       `yaml:"state"`
	Owner         string       `yaml:"owner"`
	Identity      string       `yaml:"identity"`
	Poll          PollConfig   `yaml:"poll"`
	Admin         AdminConfig  `yaml:"admin"`
	Feeds         []FeedConfig `yaml:"feeds"`
}

// PollConfig tunes the refresh and valuation loop.
type PollConfig struct {
	Interval     Duration `yaml:"interval"`
	FreshWindow  Duration `yaml:"fresh_window"`
	MaxStaleness Duration `yaml:"max_staleness"`
}

// AdminConfig secures the admin HTTP surface.
type AdminConfig struct {
	BearerToken       string  `yaml:"bearer_token"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// FeedConfig describes an upstream price feed for one asset.
type FeedConfig struct {
	Asset    string `yaml:"asset"`
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7084"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/feedd.sqlite"
	}
	if cfg.Poll.Interval.Duration == 0 {
		cfg.Poll.Interval.Duration = 30 * time.Second
	}
	if cfg.Poll.FreshWindow.Duration == 0 {
		cfg.Poll.FreshWindow.Duration = 5 * time.Minute
	}
	if cfg.Poll.MaxStaleness.Duration == 0 {
		cfg.Poll.MaxStaleness.Duration = time.Hour
	}
	if cfg.Admin.RequestsPerMinute <= 0 {
		cfg.Admin.RequestsPerMinute = 120
	}
	if cfg.Admin.Burst <= 0 {
		cfg.Admin.Burst = 10
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Owner) == "" {
		return fmt.Errorf("owner address must be configured")
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return fmt.Errorf("identity address must be configured")
	}
	if strings.TrimSpace(cfg.Admin.BearerToken) == "" {
		return fmt.Errorf("admin bearer token must be configured")
	}
	if len(cfg.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		asset := strings.TrimSpace(feed.Asset)
		if asset == "" {
			return fmt.Errorf("feed asset must be set")
		}
		if strings.TrimSpace(feed.Endpoint) == "" {
			return fmt.Errorf("feed %s: endpoint must be set", asset)
		}
		if _, ok := seen[asset]; ok {
			return fmt.Errorf("feed %s: duplicate asset", asset)
		}
		seen[asset] = struct{}{}
	}
	return nil
}
