package masterdata

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutItem(Item{ID: 1, SKU: "SKU-1", Name: "Widget", CostBasis: decimal.NewFromInt(10), IsActive: true})
	dir.PutLocation(Location{ID: 7, Code: "WH1", IsActive: true})

	item, err := dir.GetItem(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, TrackingNone, item.Tracking)

	_, err = dir.GetItem(context.Background(), 2)
	require.ErrorIs(t, err, shared.ErrNotFound)

	loc, err := dir.GetLocation(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "WH1", loc.Code)

	_, err = dir.GetLocation(context.Background(), 8)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTrackingModeValid(t *testing.T) {
	require.True(t, TrackingSerial.Valid())
	require.False(t, TrackingMode("LOT").Valid())
}
