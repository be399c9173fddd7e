// Package config loads the service configuration: defaults in code, an
// optional YAML file on top, environment overrides last.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Legacy  LegacyConfig  `mapstructure:"legacy"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Pools   PoolsConfig   `mapstructure:"pools"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LegacyConfig struct {
	Addr         string        `mapstructure:"addr"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	MaxLineBytes int           `mapstructure:"max_line_bytes"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	DirectoryURL string        `mapstructure:"directory_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type PoolsConfig struct {
	MaxPerIdentity int `mapstructure:"max_per_identity"`
	MaxLegacy      int `mapstructure:"max_legacy"`
	SendBuffer     int `mapstructure:"send_buffer"`
}

type EngineConfig struct {
	HopCeiling      int           `mapstructure:"hop_ceiling"`
	DedupHorizon    time.Duration `mapstructure:"dedup_horizon"`
	DedupCapacity   int           `mapstructure:"dedup_capacity"`
	MaxContentBytes int           `mapstructure:"max_content_bytes"`
	MaxFrameBytes   int64         `mapstructure:"max_frame_bytes"`
}

type RuleConfig struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type LimitsConfig struct {
	Message       RuleConfig    `mapstructure:"message"`
	Connection    RuleConfig    `mapstructure:"connection"`
	Login         RuleConfig    `mapstructure:"login"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepGrace    time.Duration `mapstructure:"sweep_grace"`
}

type AMQPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Topic   string `mapstructure:"topic"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("legacy.addr", ":9399")
	v.SetDefault("legacy.ping_interval", 30*time.Second)
	v.SetDefault("legacy.max_line_bytes", 10000)
	v.SetDefault("legacy.send_buffer", 64)

	// Secrets and URLs default to empty so environment overrides bind.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.directory_url", "")
	v.SetDefault("auth.timeout", 3*time.Second)

	v.SetDefault("pools.max_per_identity", 5)
	v.SetDefault("pools.max_legacy", 100)
	v.SetDefault("pools.send_buffer", 256)

	v.SetDefault("engine.hop_ceiling", 3)
	v.SetDefault("engine.dedup_horizon", 60*time.Second)
	v.SetDefault("engine.dedup_capacity", 65536)
	v.SetDefault("engine.max_content_bytes", 2000)
	v.SetDefault("engine.max_frame_bytes", 10000)

	v.SetDefault("limits.message.max", 30)
	v.SetDefault("limits.message.window", time.Minute)
	v.SetDefault("limits.connection.max", 10)
	v.SetDefault("limits.connection.window", time.Minute)
	v.SetDefault("limits.login.max", 5)
	v.SetDefault("limits.login.window", 5*time.Minute)
	v.SetDefault("limits.block_duration", 15*time.Minute)
	v.SetDefault("limits.sweep_interval", time.Minute)
	v.SetDefault("limits.sweep_grace", 5*time.Minute)

	v.SetDefault("amqp.enabled", false)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.topic", "chatbridge.messages")

	v.SetDefault("storage.path", "./data")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
}

// LoadConfig reads the optional config file and environment. Env vars use
// the CHATBRIDGE_ prefix with underscores, e.g. CHATBRIDGE_HTTP_ADDR.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHATBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
