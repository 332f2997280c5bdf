// Package config loads the netcache configuration from a YAML file,
// overlaid with NETCACHE_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/always-cache/netcache/core"
	responsetransformer "github.com/always-cache/netcache/pkg/response-transformer"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "NETCACHE_"

type Config struct {
	// Port the inspection server listens on.
	Port int `yaml:"port" env:"PORT"`
	// Cache DB file name, "memory" for an in-memory db.
	DB string `yaml:"db" env:"DB"`
	// Cache key namespace.
	Namespace      string        `yaml:"namespace" env:"NAMESPACE"`
	Workers        int           `yaml:"workers" env:"WORKERS"`
	QueueSize      int           `yaml:"queueSize" env:"QUEUE_SIZE"`
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"REQUEST_TIMEOUT"`
	// Zero disables background refreshing.
	RefreshInterval time.Duration `yaml:"refreshInterval" env:"REFRESH_INTERVAL"`
	UserAgent       string        `yaml:"userAgent" env:"USER_AGENT"`
	MemoryEntries   int           `yaml:"memoryEntries" env:"MEMORY_ENTRIES"`
	LogFile         string        `yaml:"logFile" env:"LOG_FILE"`

	Rewrites core.RewriteRules         `yaml:"rewrites"`
	Rules    responsetransformer.Rules `yaml:"rules"`
}

func Default() Config {
	return Config{
		Port:            8080,
		DB:              "cache.db",
		Namespace:       "netcache",
		Workers:         core.DefaultWorkers,
		QueueSize:       core.DefaultQueueSize,
		RequestTimeout:  core.DefaultTimeout,
		RefreshInterval: 15 * time.Second,
		UserAgent:       "netcache",
		MemoryEntries:   64,
	}
}

// Load returns the default configuration, overridden by the given file (if
// filename is not empty) and then by the environment.
func Load(filename string) (Config, error) {
	config := Default()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("could not parse %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Workers < 0 || c.QueueSize < 0 || c.MemoryEntries < 0 {
		return fmt.Errorf("workers, queue size and memory entries must not be negative")
	}
	if c.RequestTimeout < 0 || c.RefreshInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}
