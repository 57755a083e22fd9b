// Package config loads settings from an optional config file and ROLESYNC_
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/victorivanov/rolesync/internal/presence"
)

const envPrefix = "ROLESYNC"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Cascade  CascadeConfig  `mapstructure:"cascade"`
	Presence PresenceConfig `mapstructure:"presence"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// RateLimit is API requests per minute per user.
	RateLimit int `mapstructure:"rate_limit" validate:"min=1"`
}

type LogConfig struct {
	Level   string        `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format  string        `mapstructure:"format" validate:"oneof=console json"`
	Service string        `mapstructure:"service" validate:"required"`
	File    LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=memory postgres mongo"`
	PostgresURL   string `mapstructure:"postgres_url" validate:"required_if=Driver postgres"`
	MongoURI      string `mapstructure:"mongo_uri" validate:"required_if=Driver mongo"`
	MongoDatabase string `mapstructure:"mongo_database" validate:"required_if=Driver mongo"`
}

type RedisConfig struct {
	// URL may be empty; rate limiting, presence writes and the sweep lock
	// are then disabled.
	URL string `mapstructure:"url"`
}

type NATSConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

type JWTConfig struct {
	Secret       string        `mapstructure:"secret" validate:"required,min=16"`
	Issuer       string        `mapstructure:"issuer"`
	AccessExpiry time.Duration `mapstructure:"access_expiry" validate:"min=0"`
}

type CascadeConfig struct {
	BatchSize      int           `mapstructure:"batch_size" validate:"min=1,max=500"`
	Watch          bool          `mapstructure:"watch"`
	RepairSchedule string        `mapstructure:"repair_schedule"`
	LockTTL        time.Duration `mapstructure:"lock_ttl" validate:"min=0"`
}

type PresenceConfig struct {
	OnlineWindow time.Duration       `mapstructure:"online_window" validate:"gt=0"`
	IdleWindow   time.Duration       `mapstructure:"idle_window" validate:"gtfield=OnlineWindow"`
	TickSchedule string              `mapstructure:"tick_schedule"`
	Synonyms     map[string][]string `mapstructure:"synonyms"`
}

// Classifier converts the presence settings. Unknown state names in the
// synonym table are dropped; an empty table keeps the defaults.
func (p PresenceConfig) Classifier() presence.Config {
	cfg := presence.Config{OnlineWindow: p.OnlineWindow, IdleWindow: p.IdleWindow}
	if len(p.Synonyms) == 0 {
		return cfg
	}
	cfg.Synonyms = make(map[presence.State][]string, len(p.Synonyms))
	for name, words := range p.Synonyms {
		if st, ok := presence.ParseState(name); ok {
			cfg.Synonyms[st] = words
		}
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 120)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.service", "rolesync")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "logs")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 14)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "rolesync")

	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "rolesync")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "rolesync")
	v.SetDefault("jwt.access_expiry", 15*time.Minute)

	v.SetDefault("cascade.batch_size", 400)
	v.SetDefault("cascade.watch", true)
	v.SetDefault("cascade.repair_schedule", "@every 30m")
	v.SetDefault("cascade.lock_ttl", 10*time.Minute)

	defaults := presence.DefaultConfig()
	v.SetDefault("presence.online_window", defaults.OnlineWindow)
	v.SetDefault("presence.idle_window", defaults.IdleWindow)
	v.SetDefault("presence.tick_schedule", "@every 1m")
	synonyms := make(map[string][]string, len(defaults.Synonyms))
	for st, words := range defaults.Synonyms {
		synonyms[string(st)] = words
	}
	v.SetDefault("presence.synonyms", synonyms)
}

// Read reads path, or rolesync.{yaml,toml,json} from the working directory
// or /etc/rolesync when path is empty, then applies environment overrides
// such as ROLESYNC_STORE_DRIVER. The result is not validated.
func Read(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	} else {
		v.SetConfigName("rolesync")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rolesync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "reading config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return &cfg, nil
}

// Load is Read followed by Validate.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg's field constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
