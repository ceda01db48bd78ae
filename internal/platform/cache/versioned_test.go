package cache

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Value string `json:"value"`
}

func TestVersionedFetchAndBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewVersioned(client, 0)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Value: "fresh"}, nil
	}

	key, err := c.BuildKey(ctx, "stock", "balances")
	require.NoError(t, err)
	require.Equal(t, "ledger:stock:balances:v1", key)

	var out payload
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, "fresh", out.Value)
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 1, calls)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "stock", "balances")
	require.NoError(t, err)
	require.Equal(t, "ledger:stock:balances:v2", key)
	require.NoError(t, c.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 2, calls)
}

func TestVersionedWithoutClientCallsLoader(t *testing.T) {
	var c *Versioned
	ctx := context.Background()

	key, err := c.BuildKey(ctx, "ledger", "balances")
	require.NoError(t, err)
	require.Equal(t, "ledger:ledger:balances", key)

	var out payload
	require.NoError(t, c.FetchJSON(ctx, key, &out, func(context.Context) (any, error) {
		return payload{Value: "direct"}, nil
	}))
	require.Equal(t, "direct", out.Value)
	require.NoError(t, c.Bump(ctx))
}
