// Package config loads settings from .env files, an optional YAML file,
// NEXUSDIET_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "NEXUSDIET"

// Config holds all configuration for nexusdiet
type Config struct {
	DB         DBConfig         `mapstructure:"db"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Engagement EngagementConfig `mapstructure:"engagement"`
	Bus        BusConfig        `mapstructure:"bus"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// CacheConfig selects the last-page cache backend: "memory" or "redis"
type CacheConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// ClassifierConfig points at an optional YAML trigger dictionary; empty uses the built-in one
type ClassifierConfig struct {
	Dictionary string `mapstructure:"dictionary"`
}

// EngagementConfig selects the scroll throttle: "rate" or "random"
type EngagementConfig struct {
	Throttle          string        `mapstructure:"throttle"`
	ThrottleInterval  time.Duration `mapstructure:"throttle_interval"`
	SampleProbability float64       `mapstructure:"sample_probability"`
}

type BusConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// DefaultDBPath is ~/.nexusdiet/nexusdiet.db
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nexusdiet.db"
	}
	return filepath.Join(home, ".nexusdiet", "nexusdiet.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", DefaultDBPath())
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_body_bytes", 5<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key", "nexusdiet:last_page")
	v.SetDefault("classifier.dictionary", "")
	v.SetDefault("engagement.throttle", "rate")
	v.SetDefault("engagement.throttle_interval", 500*time.Millisecond)
	v.SetDefault("engagement.sample_probability", 0.1)
	v.SetDefault("bus.buffer", 64)
}

// Load reads configuration. path may be empty; flags may be nil.
// Flags are bound by name to keys, e.g. a "db" flag to db.path via FlagKeys.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FlagKeys maps command-line flag names to config keys
var FlagKeys = map[string]string{
	"db":        "db.path",
	"addr":      "server.address",
	"log-level": "log.level",
	"cache":     "cache.backend",
	"redis":     "cache.redis.address",
	"dict":      "classifier.dictionary",
}

// Validate checks enumerations and ranges
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			errs = append(errs, errors.New("cache.redis.address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend))
	}
	switch c.Engagement.Throttle {
	case "rate":
		if c.Engagement.ThrottleInterval <= 0 {
			errs = append(errs, errors.New("engagement.throttle_interval must be > 0"))
		}
	case "random":
		if c.Engagement.SampleProbability < 0 || c.Engagement.SampleProbability > 1 {
			errs = append(errs, errors.New("engagement.sample_probability must be within [0,1]"))
		}
	default:
		errs = append(errs, fmt.Errorf("engagement.throttle must be rate or random, got %q", c.Engagement.Throttle))
	}
	if c.Bus.Buffer <= 0 {
		errs = append(errs, errors.New("bus.buffer must be > 0"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be > 0"))
	}
	return errors.Join(errs...)
}

// loadEnvFiles loads .env.local then .env; missing files are ignored and
// variables already set are never overridden.
func loadEnvFiles() error {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}
