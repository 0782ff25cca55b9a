// Package config loads the gateway's ambient process knobs from an optional
// YAML config file layered over environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything main needs to wire the gateway that isn't part of
// its hard-engineered core.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	PostgresDSN string
	RoutingPath string
	UsageDir    string
	RedisAddr   string
	LogLevel    string

	DefaultRPSLimit int64

	ReplicateInterval    time.Duration
	ReloadInterval       time.Duration
	FlushInterval        time.Duration
	ShutdownDrainTimeout time.Duration
}

// Load builds a Config from the environment alone.
func Load() (Config, error) {
	cfg := fromEnv()
	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("GATEKEEP_POSTGRES_DSN is required")
	}
	return cfg, nil
}

func fromEnv() Config {
	return Config{
		HTTPAddr:             getenv("GATEKEEP_HTTP_ADDR", ":8080"),
		MetricsAddr:          getenv("GATEKEEP_METRICS_ADDR", ":9090"),
		PostgresDSN:          getenv("GATEKEEP_POSTGRES_DSN", ""),
		RoutingPath:          getenv("GATEKEEP_ROUTING_CONFIG", "routing.yaml"),
		UsageDir:             getenv("GATEKEEP_USAGE_DIR", "./usage"),
		RedisAddr:            getenv("GATEKEEP_REDIS_ADDR", ""),
		LogLevel:             getenv("GATEKEEP_LOG_LEVEL", "info"),
		DefaultRPSLimit:      getint64("GATEKEEP_DEFAULT_RPS_LIMIT", 5),
		ReplicateInterval:    getdur("GATEKEEP_REPLICATE_INTERVAL", 30*time.Second),
		ReloadInterval:       getdur("GATEKEEP_RELOAD_INTERVAL", 5*time.Second),
		FlushInterval:        getdur("GATEKEEP_FLUSH_INTERVAL", 60*time.Second),
		ShutdownDrainTimeout: getdur("GATEKEEP_SHUTDOWN_DRAIN_TIMEOUT", 10*time.Second),
	}
}

// fileConfig is the YAML shape of the --conf document. Every field is
// optional; set fields override the environment-derived value.
type fileConfig struct {
	HTTPAddr        *string `yaml:"http_addr"`
	MetricsAddr     *string `yaml:"metrics_addr"`
	PostgresDSN     *string `yaml:"postgres_dsn"`
	RoutingPath     *string `yaml:"routing_config"`
	UsageDir        *string `yaml:"usage_dir"`
	RedisAddr       *string `yaml:"redis_addr"`
	LogLevel        *string `yaml:"log_level"`
	DefaultRPSLimit *int64  `yaml:"default_rps_limit"`

	ReplicateInterval    *duration `yaml:"replicate_interval"`
	ReloadInterval       *duration `yaml:"reload_interval"`
	FlushInterval        *duration `yaml:"flush_interval"`
	ShutdownDrainTimeout *duration `yaml:"shutdown_drain_timeout"`
}

// duration decodes "30s"-style YAML strings via time.ParseDuration.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// LoadWithFile builds a Config from the environment, then overlays any
// fields set in the YAML document at path. The DSN-required check runs after
// the overlay so the file can supply it.
func LoadWithFile(path string) (Config, error) {
	cfg := fromEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		cfg.overlay(fc)
	}

	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("postgres DSN is required (GATEKEEP_POSTGRES_DSN or postgres_dsn in --conf)")
	}
	return cfg, nil
}

func (c *Config) overlay(fc fileConfig) {
	if fc.HTTPAddr != nil {
		c.HTTPAddr = *fc.HTTPAddr
	}
	if fc.MetricsAddr != nil {
		c.MetricsAddr = *fc.MetricsAddr
	}
	if fc.PostgresDSN != nil {
		c.PostgresDSN = *fc.PostgresDSN
	}
	if fc.RoutingPath != nil {
		c.RoutingPath = *fc.RoutingPath
	}
	if fc.UsageDir != nil {
		c.UsageDir = *fc.UsageDir
	}
	if fc.RedisAddr != nil {
		c.RedisAddr = *fc.RedisAddr
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.DefaultRPSLimit != nil {
		c.DefaultRPSLimit = *fc.DefaultRPSLimit
	}
	if fc.ReplicateInterval != nil {
		c.ReplicateInterval = time.Duration(*fc.ReplicateInterval)
	}
	if fc.ReloadInterval != nil {
		c.ReloadInterval = time.Duration(*fc.ReloadInterval)
	}
	if fc.FlushInterval != nil {
		c.FlushInterval = time.Duration(*fc.FlushInterval)
	}
	if fc.ShutdownDrainTimeout != nil {
		c.ShutdownDrainTimeout = time.Duration(*fc.ShutdownDrainTimeout)
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getint64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
