package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("unreachable server", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "localhost:1"})
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("defaults applied", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClient(&Config{Address: mr.Addr()})
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, client.config.PoolSize)
	})
}

func TestClientHealth(t *testing.T) {
	client, mr := setupTestClient(t)

	assert.NoError(t, client.Health())

	mr.Close()
	assert.Error(t, client.Health())
}

func TestClientCheckRateLimit(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	// Count reflects hits recorded before the current request.
	allowed, count, err := client.CheckRateLimit(ctx, "source:a", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 0, count)

	allowed, count, err = client.CheckRateLimit(ctx, "source:a", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, count)

	allowed, count, err = client.CheckRateLimit(ctx, "source:a", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 2, count)

	t.Run("keys are independent", func(t *testing.T) {
		allowed, count, err := client.CheckRateLimit(ctx, "source:b", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 0, count)
	})
}

func TestClientLock(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	acquired, err := client.AcquireLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = client.AcquireLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, client.ReleaseLock(ctx, "sweep"))

	acquired, err = client.AcquireLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestClientKeyValue(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "k", "v", time.Minute))

		value, err := client.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", value)
	})

	t.Run("json round trip", func(t *testing.T) {
		type device struct {
			UID    string `json:"uid"`
			Gender string `json:"gender"`
		}

		require.NoError(t, client.Set(ctx, "device:T1", device{UID: "T1", Gender: "female"}, time.Minute))

		var got device
		require.NoError(t, client.GetJSON(ctx, "device:T1", &got))
		assert.Equal(t, "T1", got.UID)
		assert.Equal(t, "female", got.Gender)
	})

	t.Run("miss", func(t *testing.T) {
		_, err := client.Get(ctx, "absent")
		assert.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("delete and exists", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "gone", "v", time.Minute))

		exists, err := client.Exists(ctx, "gone")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, client.Delete(ctx, "gone"))

		exists, err = client.Exists(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
