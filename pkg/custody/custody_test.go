package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jovells/dchain/pkg/shipment"
)

const (
	alice shipment.Address = "0xa11ce00000000000000000000000000000000001"
	bob   shipment.Address = "0xb0b0000000000000000000000000000000000002"
)

func TestMemory_Transfer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, alice, 100))

	require.NoError(t, m.Transfer(ctx, alice, bob, 40))
	a, _ := m.Balance(ctx, alice)
	b, _ := m.Balance(ctx, bob)
	assert.Equal(t, uint64(60), a)
	assert.Equal(t, uint64(40), b)

	err := m.Transfer(ctx, alice, bob, 61)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	a, _ = m.Balance(ctx, alice)
	assert.Equal(t, uint64(60), a, "failed transfer must not move funds")
}

func TestMemory_AddressesAreCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, "0xABC", 5))
	bal, _ := m.Balance(ctx, "0xabc")
	assert.Equal(t, uint64(5), bal)
}

func TestMemory_EscrowLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, alice, 100))

	require.NoError(t, m.DepositToEscrow(ctx, alice, 7, 30))
	h, ok := m.Held(ctx, 7)
	require.True(t, ok)
	assert.Equal(t, Hold{From: alice, Amount: 30}, h)
	assert.Equal(t, uint64(100), m.Supply())

	assert.ErrorIs(t, m.DepositToEscrow(ctx, alice, 7, 1), ErrHoldExists)

	require.NoError(t, m.ReleaseEscrow(ctx, 7, bob))
	b, _ := m.Balance(ctx, bob)
	assert.Equal(t, uint64(30), b)
	_, ok = m.Held(ctx, 7)
	assert.False(t, ok)

	assert.ErrorIs(t, m.ReleaseEscrow(ctx, 7, bob), ErrNotHeld)
	assert.Equal(t, uint64(100), m.Supply())
}

func TestMemory_DepositInsufficient(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, alice, 10))
	assert.ErrorIs(t, m.DepositToEscrow(ctx, alice, 1, 11), ErrInsufficientFunds)
	_, ok := m.Held(ctx, 1)
	assert.False(t, ok)
}

func TestMemory_FailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Mint(ctx, alice, 10))

	boom := errors.New("token contract reverted")
	m.FailNext(boom)
	assert.ErrorIs(t, m.Transfer(ctx, alice, bob, 5), boom)
	a, _ := m.Balance(ctx, alice)
	assert.Equal(t, uint64(10), a)

	// injection is one-shot
	require.NoError(t, m.Transfer(ctx, alice, bob, 5))
}

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"10", 10_000_000, true},
		{"0.5", 500_000, true},
		{".25", 250_000, true},
		{"1.000001", 1_000_001, true},
		{"1.0000001", 0, false},
		{"1.", 0, false},
		{"", 0, false},
		{"-1", 0, false},
		{"1e6", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, 6)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "10", FormatUnits(10_000_000, 6))
	assert.Equal(t, "0.5", FormatUnits(500_000, 6))
	assert.Equal(t, "0.000001", FormatUnits(1, 6))
	assert.Equal(t, "42", FormatUnits(42, 0))
	assert.Equal(t, "12.5 mUSDT", DefaultAsset.Format(12_500_000))

	v, err := DefaultAsset.Parse("12.5 mUSDT")
	require.NoError(t, err)
	assert.Equal(t, uint64(12_500_000), v)
}
