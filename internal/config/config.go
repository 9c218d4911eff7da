// Package config loads the session's connection handles and default
// options from environment and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration every entry point (CLI, worker,
// builder session) resolves once at startup.
type Config struct {
	// HubURL is the hub connection string, e.g. "redis://localhost:6379/0".
	HubURL string `mapstructure:"hub_url"`
	// DataURL names the storage backend ("hub://", "file:///...", "s3://...").
	DataURL string `mapstructure:"data_url"`
	// Queues lists the queue names a `worker` subcommand attaches to when
	// none are given on the command line.
	Queues []string `mapstructure:"queues"`
	// DefaultTimeout is the operation timeout used when an operation's
	// Options don't specify one.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// LockTTL bounds how long an owner lock is held before it's eligible
	// for stale-lock recovery absent a heartbeat refresh.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		HubURL:         "redis://127.0.0.1:6379/0",
		DataURL:        "hub://",
		Queues:         []string{"default"},
		DefaultTimeout: 0,
		LockTTL:        30 * time.Second,
	}
}

// Load resolves configuration from (in increasing precedence order) the
// built-in defaults, an optional YAML config file, and environment
// variables (HUB_URL, DATA_URL, FUNSIES_QUEUES, FUNSIES_DEFAULT_TIMEOUT,
// FUNSIES_LOCK_TTL).
func Load(configPath string) (Config, error) {
	v := viper.New()
	d := Default()
	v.SetDefault("hub_url", d.HubURL)
	v.SetDefault("data_url", d.DataURL)
	v.SetDefault("queues", d.Queues)
	v.SetDefault("default_timeout", d.DefaultTimeout)
	v.SetDefault("lock_ttl", d.LockTTL)

	v.SetEnvPrefix("funsies")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("hub_url", "HUB_URL")
	_ = v.BindEnv("data_url", "DATA_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshalling: %w", err)
	}
	return cfg, nil
}
