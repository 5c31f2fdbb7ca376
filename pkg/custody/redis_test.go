package custody

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jovells/dchain/pkg/shipment"
)

// TestRedisCustodian_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisCustodian_Integration(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	prefix := "dchain-test-" + uuid.NewString()
	r := NewRedis(rdb, prefix)
	t.Cleanup(func() {
		rdb.Del(context.Background(), r.balances, r.holds)
	})

	require.NoError(t, r.Mint(ctx, alice, 100))

	require.NoError(t, r.Transfer(ctx, alice, bob, 25))
	assert.ErrorIs(t, r.Transfer(ctx, alice, bob, 1000), ErrInsufficientFunds)

	require.NoError(t, r.DepositToEscrow(ctx, alice, 1, 50))
	assert.ErrorIs(t, r.DepositToEscrow(ctx, alice, 1, 1), ErrHoldExists)
	assert.ErrorIs(t, r.DepositToEscrow(ctx, alice, 2, 26), ErrInsufficientFunds)

	require.NoError(t, r.ReleaseEscrow(ctx, 1, bob))
	assert.ErrorIs(t, r.ReleaseEscrow(ctx, 1, bob), ErrNotHeld)

	a, err := r.Balance(ctx, alice)
	require.NoError(t, err)
	b, err := r.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), a)
	assert.Equal(t, uint64(75), b)
}

func TestRedisCustodian_AmountRange(t *testing.T) {
	// Out-of-range amounts are rejected before any round trip.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = rdb.Close() })
	r := NewRedis(rdb, "dchain-range")
	ctx := context.Background()

	for _, amount := range []uint64{shipment.MaxAmount + 1, 1 << 63} {
		assert.ErrorIs(t, r.Mint(ctx, alice, amount), ErrAmountOutOfRange)
		assert.ErrorIs(t, r.Transfer(ctx, alice, bob, amount), ErrAmountOutOfRange)
		assert.ErrorIs(t, r.DepositToEscrow(ctx, alice, 1, amount), ErrAmountOutOfRange)
	}
}
