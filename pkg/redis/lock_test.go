package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/estatecrm/pkg/redis"
)

func newClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLocker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("second owner is refused until release", func(t *testing.T) {
		t.Parallel()
		client, _ := newClient(t)
		locker := redis.NewLocker(client, "test:")

		lease, ok, err := locker.TryAcquire(ctx, "webhook-retry", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = locker.TryAcquire(ctx, "webhook-retry", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, lease.Release(ctx))

		_, ok, err = locker.TryAcquire(ctx, "webhook-retry", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired lease can be taken over and old owner cannot release", func(t *testing.T) {
		t.Parallel()
		client, mr := newClient(t)
		locker := redis.NewLocker(client, "test:")

		first, ok, err := locker.TryAcquire(ctx, "payouts", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Second)

		_, ok, err = locker.TryAcquire(ctx, "payouts", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, first.Release(ctx), redis.ErrLockNotHeld)
	})

	t.Run("healthcheck", func(t *testing.T) {
		t.Parallel()
		client, mr := newClient(t)
		check := redis.Healthcheck(client)
		require.NoError(t, check(ctx))

		mr.Close()
		assert.ErrorIs(t, check(ctx), redis.ErrHealthcheckFailed)
	})
}
