package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	StorageRoot string `yaml:"storage_root"`
	Runtime     string `yaml:"runtime"` // lxc or docker
	MarkerPath  string `yaml:"marker_path"`
	LockDir     string `yaml:"lock_dir"`

	Readiness Readiness `yaml:"readiness"`
	Shutdown  Shutdown  `yaml:"shutdown"`

	HaltCommand   []string `yaml:"halt_command"`
	ResyncCommand []string `yaml:"resync_command"`

	SSH     SSH     `yaml:"ssh"`
	NATS    NATS    `yaml:"nats"`
	Audit   Audit   `yaml:"audit"`
	Monitor Monitor `yaml:"monitor"`
	Create  Create  `yaml:"create"`
}

// Readiness bounds the network readiness poll after a start.
type Readiness struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

// Shutdown bounds the graceful-stop grace window before escalation.
type Shutdown struct {
	Grace        time.Duration `yaml:"grace"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SSH struct {
	User    string `yaml:"user"`
	KeyPath string `yaml:"key_path"`
}

// NATS enables event publishing when a URL is set.
type NATS struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Audit enables the operation audit log when a database URL is set.
type Audit struct {
	DatabaseURL string `yaml:"database_url"`
}

type Monitor struct {
	Listen   string        `yaml:"listen"`
	Interval time.Duration `yaml:"interval"`
}

// Create holds defaults for new containers.
type Create struct {
	Template  string   `yaml:"template"`
	Netmask   string   `yaml:"netmask"`
	GatewayIP string   `yaml:"gateway"`
	MirrorURL string   `yaml:"mirror"`
	Packages  []string `yaml:"packages"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the stock configuration used when no config file
// exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = "/var/lib/lxc"
	}
	if cfg.Runtime == "" {
		cfg.Runtime = "lxc"
	}
	if cfg.MarkerPath == "" {
		cfg.MarkerPath = "var/run/network-ready"
	}
	if cfg.LockDir == "" {
		cfg.LockDir = "/run/lock/burrow"
	}
	if cfg.Readiness.Attempts == 0 {
		cfg.Readiness.Attempts = 100
	}
	if cfg.Readiness.Interval == 0 {
		cfg.Readiness.Interval = 100 * time.Millisecond
	}
	if cfg.Shutdown.Grace == 0 {
		cfg.Shutdown.Grace = 20 * time.Second
	}
	if cfg.Shutdown.PollInterval == 0 {
		cfg.Shutdown.PollInterval = 100 * time.Millisecond
	}
	if len(cfg.HaltCommand) == 0 {
		cfg.HaltCommand = []string{"halt"}
	}
	if len(cfg.ResyncCommand) == 0 {
		cfg.ResyncCommand = []string{"puppet", "agent", "--onetime", "--no-daemonize"}
	}
	if cfg.SSH.User == "" {
		cfg.SSH.User = "root"
	}
	if cfg.Monitor.Listen == "" {
		cfg.Monitor.Listen = ":9402"
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 30 * time.Second
	}
	if cfg.Create.Template == "" {
		cfg.Create.Template = "debian"
	}
}
