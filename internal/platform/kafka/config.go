package kafka

import (
	"time"

	"sumbandila/internal/platform/kafka/consumer"
	"sumbandila/internal/platform/kafka/producer"
)

// Config holds the shared Kafka settings for the registry event topics.
type Config struct {
	Brokers         string        `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	Acks            string        `mapstructure:"acks"`
	Retries         int           `mapstructure:"retries"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	Compression     string        `mapstructure:"compression" validate:"omitempty,oneof=zstd snappy lz4 gzip none"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset" validate:"omitempty,oneof=earliest latest"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		GroupID:         "sumbandila-registry-sync",
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 30 * time.Second,
		Compression:     "zstd",
		AutoOffsetReset: "earliest",
		RetryDelay:      time.Second,
	}
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool {
	return c.Brokers != ""
}

func (c Config) Producer() producer.Config {
	return producer.Config{
		Brokers:         c.Brokers,
		Acks:            c.Acks,
		Retries:         c.Retries,
		DeliveryTimeout: c.DeliveryTimeout,
		Compression:     c.Compression,
	}
}

func (c Config) Consumer(topics ...string) consumer.Config {
	return consumer.Config{
		Brokers:         c.Brokers,
		GroupID:         c.GroupID,
		Topics:          topics,
		AutoOffsetReset: c.AutoOffsetReset,
		RetryDelay:      c.RetryDelay,
	}
}
