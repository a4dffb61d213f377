package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("TAX_RATE", "")
	t.Setenv("CHAT_POLL_INTERVAL", "")

	cfg := Load()

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "0.1", cfg.Business.TaxRate.String())
	assert.Equal(t, 5*time.Second, cfg.Business.ChatPollInterval)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("TAX_RATE", "0.2")
	t.Setenv("CHAT_POLL_INTERVAL", "250ms")
	t.Setenv("KAFKA_RELAY_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg := Load()

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "0.2", cfg.Business.TaxRate.String())
	assert.Equal(t, 250*time.Millisecond, cfg.Business.ChatPollInterval)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoadInvalidTaxRateFallsBack(t *testing.T) {
	t.Setenv("TAX_RATE", "not-a-number")

	cfg := Load()

	assert.Equal(t, "0.1", cfg.Business.TaxRate.String())
}
