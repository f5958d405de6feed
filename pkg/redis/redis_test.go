package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/campus-ticketing/pkg/retry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
	assert.Equal(t, "ticketing:", cfg.KeyPrefix)
	assert.Equal(t, 4, cfg.Retry.Attempts)
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Host: "redis.example.com", Port: 6380}
	assert.Equal(t, "redis.example.com:6380", cfg.Addr())
}

func TestClient_Key(t *testing.T) {
	c := &Client{config: &Config{KeyPrefix: "ticketing:"}}

	assert.Equal(t, "ticketing:event:42", c.Key("event", "42"))
	assert.Equal(t, "ticketing:users", c.Key("users"))
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := &Config{
		Host:        "127.0.0.1",
		Port:        1,
		DialTimeout: 100 * time.Millisecond,
		Retry:       retry.Config{Attempts: 1},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, cfg)
	assert.Error(t, err)
}

func TestNewClient_Integration(t *testing.T) {
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("TEST_REDIS_HOST not set")
	}

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Password = os.Getenv("TEST_REDIS_PASSWORD")

	ctx := context.Background()
	c, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.HealthCheck(ctx))
}
