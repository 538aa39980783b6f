package redis_test

import (
	"context"
	"testing"
	"time"

	"crypto-payment-gateway/internal/adapter/storage/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_TryLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := redis.NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "watcher", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	t.Run("second holder is refused", func(t *testing.T) {
		_, ok, err := locker.TryLock(ctx, "watcher", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release with a stale token keeps the lock", func(t *testing.T) {
		require.NoError(t, locker.Release(ctx, "watcher", "not-the-token"))
		assert.True(t, mr.Exists("cpg:lock:watcher"))
	})

	t.Run("release by holder frees the key", func(t *testing.T) {
		require.NoError(t, locker.Release(ctx, "watcher", token))
		assert.False(t, mr.Exists("cpg:lock:watcher"))

		_, ok, err := locker.TryLock(ctx, "watcher", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestLocker_ExpiresAfterTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := redis.NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "sweeper", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	_, ok, err = locker.TryLock(ctx, "sweeper", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_InvalidArguments(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := redis.NewLocker(client)

	_, _, err := locker.TryLock(context.Background(), "", time.Second)
	assert.Error(t, err)
	_, _, err = locker.TryLock(context.Background(), "job", 0)
	assert.Error(t, err)
	assert.NoError(t, locker.Release(context.Background(), "job", ""))
}
