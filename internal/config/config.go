// Package config loads and validates the stat server's configuration tree
// from a TOML file. Config loading itself sits outside the burst/broadcast
// core's contract — the core only ever receives an already-built Config — but
// the shape of that Config, and the defaults applied while building it, are
// part of this repository.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yatesi-xyz/statserver/internal/errs"
)

// DefaultResources is the tracked resource set when burst.resources is
// omitted from the config file.
var DefaultResources = []string{
	"total_emoji_count",
	"total_emojipack_count",
	"indexed_emoji_count",
	"indexed_emojipack_count",
}

const defaultWatchdog = 5 * time.Second

// Config is the full configuration tree recognised by the stat server.
type Config struct {
	Debug    bool           `toml:"debug"`
	Database DatabaseConfig `toml:"database"`
	Cache    CacheConfig    `toml:"cache"`
	Server   ServerConfig   `toml:"server"`
	Burst    BurstConfig    `toml:"burst"`
}

// DatabaseConfig configures the document store session.
type DatabaseConfig struct {
	DSN       string `toml:"dsn"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// CacheConfig configures the cache connection manager.
type CacheConfig struct {
	DSN                    string        `toml:"dsn"`
	ConnectionTimeout      time.Duration `toml:"connection_timeout"`
	ResponseTimeout        time.Duration `toml:"response_timeout"`
	NumberOfRetries        int           `toml:"number_of_retries"`
	MaxDelayBetweenRetries time.Duration `toml:"max_delay_between_retries"`
	DelayExponentBase      time.Duration `toml:"delay_exponent_base"`
}

// ServerConfig configures the websocket bind address.
type ServerConfig struct {
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
}

// BurstConfig configures the burst aggregator.
type BurstConfig struct {
	SyncInterval time.Duration `toml:"sync_interval"`
	Expire       time.Duration `toml:"expire"`
	Watchdog     time.Duration `toml:"watchdog"`
	Resources    []string      `toml:"resources"`
}

// Load reads and parses the TOML file at path, applying defaults and
// validating the result. A failure of any kind is fatal per the error
// handling design: it surfaces as an *errs.E tagged CodeConfig.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.New("config", errs.CodeConfig,
			errs.WithMessage("reading config file"),
			errs.WithCause(err))
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, errs.New("config", errs.CodeConfig,
			errs.WithMessage("parsing config file"),
			errs.WithCause(err))
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Burst.Resources) == 0 {
		c.Burst.Resources = append([]string(nil), DefaultResources...)
	}
	if c.Burst.Watchdog <= 0 {
		c.Burst.Watchdog = defaultWatchdog
	}
	if c.Cache.NumberOfRetries <= 0 {
		c.Cache.NumberOfRetries = 3
	}
	if c.Cache.ConnectionTimeout <= 0 {
		c.Cache.ConnectionTimeout = time.Second
	}
	if c.Cache.ResponseTimeout <= 0 {
		c.Cache.ResponseTimeout = 500 * time.Millisecond
	}
	if c.Cache.MaxDelayBetweenRetries <= 0 {
		c.Cache.MaxDelayBetweenRetries = 2 * time.Second
	}
	if c.Cache.DelayExponentBase <= 0 {
		c.Cache.DelayExponentBase = 100 * time.Millisecond
	}
}

func (c Config) validate() error {
	if c.Database.DSN == "" {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("database.dsn is required"))
	}
	if c.Cache.DSN == "" {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("cache.dsn is required"))
	}
	if c.Server.Host == "" {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("server.host is required"))
	}
	if c.Server.Port == 0 {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("server.port is required"))
	}
	if c.Burst.SyncInterval <= 0 {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("burst.sync_interval must be positive"))
	}
	if c.Burst.Expire <= 0 {
		return errs.New("config", errs.CodeConfig, errs.WithMessage("burst.expire must be positive"))
	}
	return nil
}
