package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestExtendRoundsHalfAwayFromZero(t *testing.T) {
	got := Extend(decimal.RequireFromString("3"), decimal.RequireFromString("0.335"))
	require.True(t, got.Equal(decimal.RequireFromString("1.01")), got.String())
}

func TestIsCents(t *testing.T) {
	require.True(t, IsCents(decimal.RequireFromString("10.50")))
	require.False(t, IsCents(decimal.RequireFromString("10.505")))
}

func TestSum(t *testing.T) {
	got := Sum(decimal.NewFromInt(1), decimal.RequireFromString("0.1"), decimal.RequireFromString("0.2"))
	require.True(t, got.Equal(decimal.RequireFromString("1.3")))
}
