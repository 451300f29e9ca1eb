package gatewaystore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewKV(client)
}

func TestKV_SetGetDelete(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.SetWithTTL(ctx, "reservation:1", "42.50", time.Minute))

	val, found, err := kv.Get(ctx, "reservation:1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "42.50", val)

	require.NoError(t, kv.Delete(ctx, "reservation:1"))

	_, found, err = kv.Get(ctx, "reservation:1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestKV_Get_MissingKey(t *testing.T) {
	kv := newTestKV(t)

	_, found, err := kv.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	require.False(t, found)
}

func TestKV_IncrByFloat(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	total, err := kv.IncrByFloat(ctx, "counter:1", 1.5)
	require.NoError(t, err)
	require.Equal(t, 1.5, total)

	total, err = kv.IncrByFloat(ctx, "counter:1", 2.25)
	require.NoError(t, err)
	require.Equal(t, 3.75, total)
}
