// Package config loads process configuration from SUMBANDILA_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sumbandila/internal/credential/models"
	"sumbandila/internal/credential/payload"
	"sumbandila/internal/credential/verifier"
	"sumbandila/internal/platform/database"
	"sumbandila/internal/platform/kafka"
	"sumbandila/pkg/validation"
)

const envPrefix = "SUMBANDILA"

// Config is the root configuration.
type Config struct {
	Env        string           `mapstructure:"env" validate:"oneof=local dev staging production"`
	LogLevel   string           `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	OpsAddr    string           `mapstructure:"ops_addr" validate:"required"`
	Database   database.Config  `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      kafka.Config     `mapstructure:"kafka"`
	Credential CredentialConfig `mapstructure:"credential"`
}

// RedisConfig configures the registry key cache connection.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyCacheTTL  time.Duration `mapstructure:"key_cache_ttl" validate:"gte=0"`
}

// CredentialConfig holds issuance and verification defaults.
type CredentialConfig struct {
	HashVersion        int           `mapstructure:"hash_version" validate:"oneof=1 2"`
	Algorithm          string        `mapstructure:"algorithm" validate:"oneof=RS256 ES256 EdDSA"`
	PayloadMode        string        `mapstructure:"payload_mode" validate:"oneof=compact full"`
	RegistryTimeout    time.Duration `mapstructure:"registry_timeout" validate:"gt=0"`
	ExpiryField        string        `mapstructure:"expiry_field" validate:"notblank"`
	BreakerFailures    int           `mapstructure:"breaker_failures" validate:"min=1"`
	BreakerSuccesses   int           `mapstructure:"breaker_successes" validate:"min=1"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout" validate:"gt=0"`
}

func (c CredentialConfig) HashVersionValue() models.HashVersion {
	return models.HashVersion(c.HashVersion)
}

func (c CredentialConfig) AlgorithmValue() models.SignatureAlgorithm {
	return models.SignatureAlgorithm(c.Algorithm)
}

// PayloadModeValue returns the parsed payload mode. The value was validated
// by Load, so the parse cannot fail for a loaded Config.
func (c CredentialConfig) PayloadModeValue() payload.Mode {
	mode, err := payload.ParseMode(c.PayloadMode)
	if err != nil {
		return payload.ModeCompact
	}
	return mode
}

// Load reads configuration. file may be empty; when set it must exist.
// Environment variables override file values, e.g. SUMBANDILA_KAFKA_BROKERS
// for kafka.brokers.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validation.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Env == "production" && cfg.Database.URL == "" {
		return nil, errors.New("invalid config: database.url is required in production")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("ops_addr", ":9090")

	db := database.DefaultConfig()
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", db.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("database.connect_timeout", db.ConnectTimeout)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.key_cache_ttl", 10*time.Minute)

	k := kafka.DefaultConfig()
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.group_id", k.GroupID)
	v.SetDefault("kafka.acks", k.Acks)
	v.SetDefault("kafka.retries", k.Retries)
	v.SetDefault("kafka.delivery_timeout", k.DeliveryTimeout)
	v.SetDefault("kafka.compression", k.Compression)
	v.SetDefault("kafka.auto_offset_reset", k.AutoOffsetReset)
	v.SetDefault("kafka.retry_delay", k.RetryDelay)

	v.SetDefault("credential.hash_version", int(models.DefaultHashVersion))
	v.SetDefault("credential.algorithm", string(models.AlgorithmRS256))
	v.SetDefault("credential.payload_mode", payload.ModeCompact.String())
	v.SetDefault("credential.registry_timeout", 2*time.Second)
	v.SetDefault("credential.expiry_field", verifier.DefaultExpiryField)
	v.SetDefault("credential.breaker_failures", 5)
	v.SetDefault("credential.breaker_successes", 2)
	v.SetDefault("credential.breaker_open_timeout", 30*time.Second)
}
