package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresBrokerAndDSN(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "")
	t.Setenv("MYSQL_DSN", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKER")

	t.Setenv("KAFKA_BROKER", "localhost:9092")
	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_DSN")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "localhost:9092")
	t.Setenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/inventory?parseTime=true")
	t.Setenv("OTEL_ENDPOINT", "")
	t.Setenv("SHARD_COUNT", "")
	t.Setenv("MAX_PUBLISH_ATTEMPTS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultShardCount, cfg.ShardCount)
	assert.Equal(t, DefaultMaxPublishAttempts, cfg.MaxPublishAttempts)
	assert.Equal(t, DefaultOutboxSweepEvery, cfg.OutboxSweepEvery)
	assert.Empty(t, cfg.OtelEndpoint)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "localhost:9092")
	t.Setenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/inventory?parseTime=true")
	t.Setenv("SHARD_COUNT", "16")
	t.Setenv("MAX_PUBLISH_ATTEMPTS", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.ShardCount)
	assert.Equal(t, 7, cfg.MaxPublishAttempts)
}

func TestLoadConfigRejectsBadNumbers(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "localhost:9092")
	t.Setenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/inventory?parseTime=true")
	t.Setenv("SHARD_COUNT", "zero")

	_, err := LoadConfig()
	assert.Error(t, err)
}
