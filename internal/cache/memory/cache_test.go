package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/riskgateway/platform/internal/cache"
	"github.com/riskgateway/platform/internal/cache/memory"
	"github.com/stretchr/testify/require"
)

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	c := memory.New()

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, c.Del(ctx, "k"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, cache.ErrMiss)
}

func TestSetRespectsTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := memory.New()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, cache.ErrMiss)
}

func TestIncrStartsAtOneAndAppliesTTLOnce(t *testing.T) {
	ctx := context.Background()
	c := memory.New()

	n, err := c.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = c.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestKeysMatchesPrefixPattern(t *testing.T) {
	ctx := context.Background()
	c := memory.New()

	require.NoError(t, c.Set(ctx, "hourly_transactions:u1", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "hourly_transactions:u2", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "other_key", []byte("1"), time.Minute))

	keys, err := c.Keys(ctx, "hourly_transactions:*")
	require.NoError(t, err)
	require.Len(t, keys, 2)
}
