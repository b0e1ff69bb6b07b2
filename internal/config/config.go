package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ConfigVersion int           `yaml:"configVersion" toml:"configVersion"`
	Rules         string        `yaml:"rules" toml:"rules"`
	Logging       LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics       MetricsConfig `yaml:"metrics" toml:"metrics"`
	Source        SourceConfig  `yaml:"source" toml:"source"`

	baseDir string `yaml:"-" toml:"-"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	Color      string `yaml:"color" toml:"color"`
	Verbose    bool   `yaml:"verbose" toml:"verbose"`
	EventLog   string `yaml:"eventLog" toml:"eventLog"`
	FailureLog string `yaml:"failureLog" toml:"failureLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen" toml:"listen"`
}

type SourceConfig struct {
	PollInterval Duration `yaml:"pollInterval" toml:"pollInterval"`
	BufferSize   int      `yaml:"bufferSize" toml:"bufferSize"`
}

const (
	FormatText = "text"
	FormatJSON = "json"

	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

const (
	defaultLevel        = "info"
	defaultListen       = "127.0.0.1:9464"
	defaultPollInterval = 100 * time.Millisecond
	defaultBufferSize   = 256
)

// Duration accepts Go duration strings ("250ms") in both YAML and TOML.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = FormatText
	}
	if c.Logging.Color == "" {
		c.Logging.Color = ColorAuto
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = defaultListen
	}
	if c.Source.PollInterval == 0 {
		c.Source.PollInterval = Duration(defaultPollInterval)
	}
	if c.Source.BufferSize == 0 {
		c.Source.BufferSize = defaultBufferSize
	}
}
