package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ServiceName    = "inventory-service"
	ServiceVersion = "0.1.0"
)

const (
	OrderEventsTopic     = "order-events"
	PaymentEventsTopic   = "payment-events"
	InventoryEventsTopic = "inventory-events"
	GroupID              = "inventory-service-group"
	BatchTimeout         = 10 * time.Millisecond
	BatchSize            = 100
)

const (
	LogsPath      = "/otlp/v1/logs"
	TracesPath    = "/otlp/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

const (
	// PublishTimeout bounds a single publish or storage attempt; a call that
	// exceeds it counts as a network failure and is retried per policy.
	PublishTimeout = 5 * time.Second

	DefaultShardCount         = 8
	DefaultMaxPublishAttempts = 5
	DefaultOutboxSweepEvery   = 30 * time.Second
)

type Config struct {
	KafkaBroker string
	MySQLDSN    string

	// OTel export is optional: with an empty endpoint the service runs with
	// the console logger only.
	OtelEndpoint   string
	OtelAuthHeader string

	ShardCount         int
	MaxPublishAttempts int
	OutboxSweepEvery   time.Duration
}

func LoadConfig() (*Config, error) {
	config := &Config{
		KafkaBroker:        os.Getenv("KAFKA_BROKER"),
		MySQLDSN:           os.Getenv("MYSQL_DSN"),
		OtelEndpoint:       os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader:     os.Getenv("OTEL_AUTH_HEADER"),
		ShardCount:         DefaultShardCount,
		MaxPublishAttempts: DefaultMaxPublishAttempts,
		OutboxSweepEvery:   DefaultOutboxSweepEvery,
	}

	if config.KafkaBroker == "" {
		return nil, fmt.Errorf("KAFKA_BROKER environment variable is required")
	}
	if config.MySQLDSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN environment variable is required")
	}

	if v := os.Getenv("SHARD_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("SHARD_COUNT must be a positive integer, got %q", v)
		}
		config.ShardCount = n
	}
	if v := os.Getenv("MAX_PUBLISH_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("MAX_PUBLISH_ATTEMPTS must be a positive integer, got %q", v)
		}
		config.MaxPublishAttempts = n
	}

	return config, nil
}
