package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "STORE", "HOLD_TTL", "LOCK_TIMEOUT", "WORKER_COUNT", "REDIS_ADDR", "KAFKA_BROKERS"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 15*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("HOLD_TTL", "2m")
	t.Setenv("LOCK_TIMEOUT", "nonsense")
	t.Setenv("WORKER_COUNT", "-3")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")

	cfg := Load()
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 2*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}
