package config

import (
	"fmt"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Input    InputConfig    `yaml:"input"`
	Database DatabaseConfig `yaml:"database"`
	Chains   ChainsConfig   `yaml:"chains"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Report   ReportConfig   `yaml:"report"`
	Server   ServerConfig   `yaml:"server"`
}

// InputConfig points at the transaction sources to import.
type InputConfig struct {
	// Globs of CSV or JSON transaction files, expanded at import time.
	Globs []string `yaml:"globs"`
}

// DatabaseConfig configures the local transaction store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ChainsConfig configures the chain database file and the clustering pass.
type ChainsConfig struct {
	Path string `yaml:"path"`

	ByMatch *bool `yaml:"by_match"`
	ByOrder *bool `yaml:"by_order"`
	ByTime  *bool `yaml:"by_time"`

	// InitialOrderThresholdSec widens what counts as legging into the
	// initial position for strategy inference.
	InitialOrderThresholdSec int `yaml:"initial_order_threshold_sec"`
}

// MatcherConfig configures position matching.
type MatcherConfig struct {
	SplitOnCross *bool `yaml:"split_on_cross"`

	// MarkTime pins the timestamp of synthesized Mark rows, RFC 3339.
	// Empty means the time of the run.
	MarkTime string `yaml:"mark_time"`
}

// MarkTimestamp parses the configured mark time, zero when unset.
func (c *MatcherConfig) MarkTimestamp() (time.Time, error) {
	if c.MarkTime == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, c.MarkTime)
}

// ReportConfig configures report generation.
type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

func boolPtr(v bool) *bool { return &v }

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "tradechains.db"
	}
	if c.Chains.Path == "" {
		c.Chains.Path = "chains.yaml"
	}
	if c.Chains.ByMatch == nil {
		c.Chains.ByMatch = boolPtr(true)
	}
	if c.Chains.ByOrder == nil {
		c.Chains.ByOrder = boolPtr(true)
	}
	if c.Chains.ByTime == nil {
		c.Chains.ByTime = boolPtr(true)
	}
	if c.Chains.InitialOrderThresholdSec == 0 {
		c.Chains.InitialOrderThresholdSec = 300
	}
	if c.Matcher.SplitOnCross == nil {
		c.Matcher.SplitOnCross = boolPtr(true)
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "reports"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:5000"
	}
}

// InitialOrderThreshold returns the configured legging window.
func (c *ChainsConfig) InitialOrderThreshold() time.Duration {
	return time.Duration(c.InitialOrderThresholdSec) * time.Second
}

func validate(c *Config) error {
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if len(c.Input.Globs) == 0 {
		return fmt.Errorf("input.globs must name at least one transaction source")
	}
	if c.Chains.InitialOrderThresholdSec < 0 {
		return fmt.Errorf("chains.initial_order_threshold_sec cannot be negative")
	}
	if _, err := c.Matcher.MarkTimestamp(); err != nil {
		return fmt.Errorf("matcher.mark_time: %w", err)
	}
	return nil
}
