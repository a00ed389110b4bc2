package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/fetch"
	"github.com/cuemby/burrow/pkg/journal"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/target"
)

// DefaultPath is where the agent looks for its config file
const DefaultPath = "/etc/burrow/burrow.yaml"

// Config is the agent configuration file.
type Config struct {
	ListenAddr        string `yaml:"listen_addr"`
	Workers           int    `yaml:"workers"`
	RollbackOnFailure bool   `yaml:"rollback_on_failure"`

	Log     LogConfig     `yaml:"log"`
	Target  TargetConfig  `yaml:"target"`
	Tools   ToolsConfig   `yaml:"tools"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TargetConfig configures the tgt target registry
type TargetConfig struct {
	ConfigDir    string `yaml:"config_dir"`
	IQNNamespace string `yaml:"iqn_namespace"`
	Driver       string `yaml:"driver"`
}

// ToolsConfig names the external binaries, resolved through PATH
type ToolsConfig struct {
	Btrfs    string `yaml:"btrfs"`
	QemuImg  string `yaml:"qemu_img"`
	TgtAdmin string `yaml:"tgt_admin"`
}

// FetchConfig configures template downloads from backup storage
type FetchConfig struct {
	User        string        `yaml:"user"`
	Port        int           `yaml:"port"`
	KnownHosts  string        `yaml:"known_hosts"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// JournalConfig configures the operation journal
type JournalConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// MetricsConfig configures the gauge collector
type MetricsConfig struct {
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		ListenAddr:        "0.0.0.0:7762",
		Workers:           8,
		RollbackOnFailure: true,
		Log: LogConfig{
			Level: string(log.InfoLevel),
		},
		Target: TargetConfig{
			ConfigDir:    target.DefaultConfigDir,
			IQNNamespace: target.DefaultNamespace,
			Driver:       target.DefaultDriver,
		},
		Tools: ToolsConfig{
			Btrfs:    "btrfs",
			QemuImg:  "qemu-img",
			TgtAdmin: "tgt-admin",
		},
		Fetch: FetchConfig{
			User:        fetch.DefaultUser,
			Port:        fetch.DefaultPort,
			DialTimeout: fetch.DefaultDialTimeout,
		},
		Journal: JournalConfig{
			Path:       journal.DefaultPath,
			MaxEntries: journal.DefaultMaxEntries,
		},
		Metrics: MetricsConfig{
			CollectInterval: metrics.DefaultCollectInterval,
		},
	}
}

// Load reads a config file over the defaults. A missing file yields the
// defaults; fields absent from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if !log.Level(c.Log.Level).Valid() {
		return fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", c.Log.Level)
	}
	if !filepath.IsAbs(c.Target.ConfigDir) {
		return fmt.Errorf("target.config_dir must be an absolute path, got %q", c.Target.ConfigDir)
	}
	if c.Target.IQNNamespace == "" {
		return fmt.Errorf("target.iqn_namespace is required")
	}
	if c.Fetch.Port < 1 || c.Fetch.Port > 65535 {
		return fmt.Errorf("fetch.port must be between 1 and 65535, got %d", c.Fetch.Port)
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	return nil
}

// LogLevel returns the configured level as a log.Level
func (c *Config) LogLevel() log.Level {
	return log.Level(c.Log.Level)
}
