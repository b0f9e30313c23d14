// Package config loads the process configuration via viper, following the
// teacher's mapstructure-tagged struct + package-level AppConfig pattern.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/lvdashuaibi/revealcast/internal/archive"
	"github.com/lvdashuaibi/revealcast/internal/cachestore"
	"github.com/lvdashuaibi/revealcast/internal/leader"
	"github.com/lvdashuaibi/revealcast/internal/publish/kafkarelay"
)

// Config is the full process configuration (§6 "Configuration").
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Redis     cachestore.RedisConfig  `mapstructure:"redis"`
	MySQL     archive.MySQLConfig     `mapstructure:"mysql"`
	Kafka     kafkarelay.Config       `mapstructure:"kafka"`
	Leader    LeaderConfig            `mapstructure:"leader"`
	Broadcast BroadcastConfig         `mapstructure:"broadcast"`
	Chat      ChatConfig              `mapstructure:"chat"`
	Name      NameConfig              `mapstructure:"name"`
	TTL       TTLConfig               `mapstructure:"ttl"`
	CORS      CORSConfig              `mapstructure:"cors"`
	BaseURL   string                  `mapstructure:"base_url"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LeaderConfig selects and configures the leader-election backend used to
// gate the periodic schedulers to a single active replica.
type LeaderConfig struct {
	Backend    string             `mapstructure:"backend"` // "etcd" | "redis"
	AcquireTTL time.Duration      `mapstructure:"acquire_ttl"`
	Etcd       leader.EtcdConfig  `mapstructure:"etcd"`
	Redis      leader.RedisConfig `mapstructure:"redis"`
}

type BroadcastConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
}

type ChatConfig struct {
	MaxMessages int `mapstructure:"max_messages"`
	MaxLength   int `mapstructure:"max_length"`
}

type NameConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

type TTLConfig struct {
	SessionHours    int `mapstructure:"session_hours"`
	PostRevealHours int `mapstructure:"post_reveal_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AppConfig is the process-wide loaded configuration, matching the
// teacher's global.
var AppConfig Config

// LoadConfig reads configPath and any REVEALCAST_-prefixed environment
// overrides into AppConfig.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetEnvPrefix("REVEALCAST")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read config file: %w", err)
	}
	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &AppConfig, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("broadcast.interval_ms", 500)
	viper.SetDefault("chat.max_messages", 500)
	viper.SetDefault("chat.max_length", 280)
	viper.SetDefault("name.max_length", 50)
	viper.SetDefault("ttl.session_hours", 24)
	viper.SetDefault("ttl.post_reveal_hours", 1)
	viper.SetDefault("leader.backend", "etcd")
	viper.SetDefault("leader.acquire_ttl", "10s")
}

// BroadcastInterval returns the configured broadcast tick period,
// clamped to the documented 200-2000ms range (§6).
func (c *Config) BroadcastInterval() time.Duration {
	ms := c.Broadcast.IntervalMs
	if ms < 200 {
		ms = 200
	}
	if ms > 2000 {
		ms = 2000
	}
	return time.Duration(ms) * time.Millisecond
}

// SessionTTL returns the configured full-session cache TTL.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.TTL.SessionHours) * time.Hour
}

// PostRevealTTL returns the configured post-reveal retention window.
func (c *Config) PostRevealTTL() time.Duration {
	return time.Duration(c.TTL.PostRevealHours) * time.Hour
}
