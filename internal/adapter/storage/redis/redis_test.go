package redis

import (
	"context"
	"strconv"
	"time"
	"testing"

	"crypto-payment-gateway/config"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisConfig(t *testing.T, s *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)
	return config.RedisConfig{Enabled: true, Host: s.Host(), Port: port}
}

func TestNewClient(t *testing.T) {
	s := miniredis.RunT(t)

	client, err := NewClient(context.Background(), testRedisConfig(t, s), zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, NewHealthCheck(client).Ping(context.Background()))
	assert.Equal(t, "redis", NewHealthCheck(client).Name())
}

func TestNewClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := testRedisConfig(t, s)
	s.Close()

	_, err := NewClient(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "pinging redis")
}

func TestHealthCheck_Down(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	s.Close()

	assert.Error(t, NewHealthCheck(client).Ping(context.Background()))
}

func TestClientOptions(t *testing.T) {
	opts := clientOptions(config.RedisConfig{Host: "cache", Port: 6380, DB: 2, PoolSize: 7, Timeout: 250 * time.Millisecond})

	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 250*time.Millisecond, opts.DialTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.WriteTimeout)
}

func TestClientOptions_ZeroTimeoutKeepsDefaults(t *testing.T) {
	opts := clientOptions(config.RedisConfig{Host: "cache", Port: 6379})

	assert.Zero(t, opts.DialTimeout)
	assert.Zero(t, opts.ReadTimeout)
}
