// Package config loads and validates the virta scrape configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main scrape configuration.
type Config struct {
	// Delay shifts every scrape window into the past so CloudWatch has
	// finished aggregating the points we ask for.
	Delay          time.Duration `yaml:"delay"`
	ScrapeInterval time.Duration `yaml:"scrape_interval"`
	Period         time.Duration `yaml:"period"`
	// RateLimit is the per-operation admission ceiling in calls/second.
	RateLimit float64 `yaml:"rate_limit"`
	// RebuildInterval is the outer cadence on which the scheduler re-reads
	// this config and registers tasks for new (region, interval) keys.
	RebuildInterval time.Duration `yaml:"rebuild_interval"`
	Workers         int           `yaml:"workers"`
	ListenAddr      string        `yaml:"listen_addr"`

	Accounts   []Account         `yaml:"accounts"`
	Namespaces []NamespaceConfig `yaml:"namespaces"`
	Alarms     AlarmConfig       `yaml:"alarms,omitempty"`
	Discovery  DiscoveryConfig   `yaml:"discovery,omitempty"`
}

// Account identifies one AWS account and the regions to scrape in it.
type Account struct {
	ID      string   `yaml:"id"`
	Regions []string `yaml:"regions"`
}

// NamespaceConfig declares the metrics to scrape for one CloudWatch
// namespace.
type NamespaceConfig struct {
	Name    string         `yaml:"name"`
	Metrics []MetricConfig `yaml:"metrics"`
}

// MetricConfig declares one metric, its stats and the dimension sets to
// query it for.
type MetricConfig struct {
	Name           string              `yaml:"name"`
	Stats          []string            `yaml:"stats"`
	Period         time.Duration       `yaml:"period,omitempty"`
	ScrapeInterval time.Duration       `yaml:"scrape_interval,omitempty"`
	Dimensions     []map[string]string `yaml:"dimensions,omitempty"`
}

// AlarmConfig controls the alarm poller.
type AlarmConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ForwardURL string `yaml:"forward_url,omitempty"`
}

// DiscoveryConfig lists the AWS Config resource types to inventory.
type DiscoveryConfig struct {
	ResourceTypes []string `yaml:"resource_types,omitempty"`
}

// LoadConfig loads configuration from file. Validation failures are fatal
// at startup, before any scrape task is armed.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Delay == 0 {
		c.Delay = time.Minute
	}
	if c.ScrapeInterval == 0 {
		c.ScrapeInterval = 5 * time.Minute
	}
	if c.Period == 0 {
		c.Period = time.Minute
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.RebuildInterval == 0 {
		c.RebuildInterval = 15 * time.Minute
	}
	if c.Workers == 0 {
		c.Workers = 10
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8010"
	}
}

// Validate ensures the config has required fields.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for _, account := range c.Accounts {
		if account.ID == "" {
			return fmt.Errorf("account id is required")
		}
		if len(account.Regions) == 0 {
			return fmt.Errorf("account %s needs at least one region", account.ID)
		}
	}
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return fmt.Errorf("namespace name is required")
		}
		for _, m := range ns.Metrics {
			if m.Name == "" {
				return fmt.Errorf("metric name is required in namespace %s", ns.Name)
			}
			if len(m.Stats) == 0 {
				return fmt.Errorf("metric %s/%s needs at least one stat", ns.Name, m.Name)
			}
		}
	}
	return nil
}

// Regions returns the union of all configured regions.
func (c *Config) Regions() []string {
	seen := map[string]bool{}
	var regions []string
	for _, account := range c.Accounts {
		for _, region := range account.Regions {
			if !seen[region] {
				seen[region] = true
				regions = append(regions, region)
			}
		}
	}
	return regions
}

// MetricPeriod resolves the effective period for a metric.
func (c *Config) MetricPeriod(m MetricConfig) time.Duration {
	if m.Period > 0 {
		return m.Period
	}
	return c.Period
}

// MetricInterval resolves the effective scrape interval for a metric.
func (c *Config) MetricInterval(m MetricConfig) time.Duration {
	if m.ScrapeInterval > 0 {
		return m.ScrapeInterval
	}
	return c.ScrapeInterval
}

// Intervals returns the distinct scrape intervals across all metrics.
func (c *Config) Intervals() []time.Duration {
	seen := map[time.Duration]bool{}
	var intervals []time.Duration
	for _, ns := range c.Namespaces {
		for _, m := range ns.Metrics {
			interval := c.MetricInterval(m)
			if !seen[interval] {
				seen[interval] = true
				intervals = append(intervals, interval)
			}
		}
	}
	return intervals
}
