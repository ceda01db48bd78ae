package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func purchase(item, loc int64, qty, cost string) Entry {
	return Entry{ItemID: item, LocationID: loc, TxnDate: day, SourceType: SourcePurchase, SourceID: uuid.New(), QtyIn: d(qty), UnitCost: d(cost)}
}

func sale(item, loc int64, qty string) Entry {
	return Entry{ItemID: item, LocationID: loc, TxnDate: day, SourceType: SourceSales, SourceID: uuid.New(), QtyOut: d(qty)}
}

func newTestService(repo *memoryRepo, cfg EngineConfig) *Service {
	dir := masterdata.NewMemoryDirectory()
	dir.PutItem(masterdata.Item{ID: 1, SKU: "A", IsActive: true})
	dir.PutItem(masterdata.Item{ID: 2, SKU: "B", IsActive: false})
	dir.PutLocation(masterdata.Location{ID: 1, Code: "WH1", IsActive: true})
	dir.PutLocation(masterdata.Location{ID: 2, Code: "WH2", IsActive: true})
	dir.PutLocation(masterdata.Location{ID: 3, Code: "WH3", IsActive: true})
	dir.PutLocation(masterdata.Location{ID: 4, Code: "WH4", IsActive: true})
	dir.PutLocation(masterdata.Location{ID: 5, Code: "WH5", IsActive: true})
	return NewService(repo, NewEngine(cfg), dir, nil, nil)
}

func TestWeightedAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, EngineConfig{})
	ctx := context.Background()

	_, bal, err := svc.AppendMovement(ctx, purchase(1, 1, "100", "10"))
	require.NoError(t, err)
	require.True(t, bal.AvgCost.Equal(d("10")))

	_, bal, err = svc.AppendMovement(ctx, purchase(1, 1, "50", "16"))
	require.NoError(t, err)
	require.True(t, bal.Qty.Equal(d("150")))
	require.True(t, bal.AvgCost.Equal(d("12")), bal.AvgCost.String())
	require.True(t, bal.Value.Equal(d("1800")))

	out, bal, err := svc.AppendMovement(ctx, sale(1, 1, "40"))
	require.NoError(t, err)
	require.True(t, out.UnitCost.Equal(d("12")))
	require.True(t, out.TotalCost.Equal(d("480")))
	require.True(t, bal.Qty.Equal(d("110")))
	require.True(t, bal.AvgCost.Equal(d("12")))
	require.True(t, bal.Value.Equal(d("1320")))
	require.Equal(t, out.Seq, bal.LastSeq)
	require.Contains(t, repo.locked, shared.StockKey(1, 1))
}

func TestCostBasisRetainedAtZero(t *testing.T) {
	b, _ := Apply(zeroBalance(Key{ItemID: 1, LocationID: 1}), purchase(1, 1, "10", "7.5"))
	b, _ = Apply(b, sale(1, 1, "10"))
	require.True(t, b.Qty.IsZero())
	require.True(t, b.AvgCost.Equal(d("7.5")))
	require.True(t, b.Value.IsZero())
}

func TestAppendMovementValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), EngineConfig{})
	ctx := context.Background()

	cases := map[string]Entry{
		"both quantities": {ItemID: 1, LocationID: 1, TxnDate: day, SourceType: SourcePurchase, QtyIn: d("1"), QtyOut: d("1")},
		"no quantity":     {ItemID: 1, LocationID: 1, TxnDate: day, SourceType: SourcePurchase},
		"negative":        {ItemID: 1, LocationID: 1, TxnDate: day, SourceType: SourcePurchase, QtyIn: d("-1")},
		"wrong direction": {ItemID: 1, LocationID: 1, TxnDate: day, SourceType: SourceSales, QtyIn: d("1")},
		"unknown type":    {ItemID: 1, LocationID: 1, TxnDate: day, SourceType: "GIFT", QtyIn: d("1")},
		"negative cost":   {ItemID: 1, LocationID: 1, TxnDate: day, SourceType: SourcePurchase, QtyIn: d("1"), UnitCost: d("-1")},
		"inactive item":   purchase(2, 1, "1", "1"),
		"sub-scale qty":   purchase(1, 1, "0.00001", "10"),
		"excess scale":    sale(1, 1, "1.00005"),
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.AppendMovement(ctx, entry)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, _, err := svc.AppendMovement(ctx, purchase(9, 1, "1", "1"))
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, _, err = svc.AppendMovement(ctx, purchase(1, 1, "0.0001", "10"))
	require.NoError(t, err)
}

func TestSubScaleQuantityLeavesLedgerUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, EngineConfig{})

	_, _, err := svc.AppendMovement(context.Background(), purchase(1, 1, "0.00001", "10"))
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "qty", verr.Field)
	require.Empty(t, repo.entries)
	require.Empty(t, repo.balances)
}

func TestBackdatedMovementRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, EngineConfig{})
	ctx := context.Background()

	first := purchase(1, 1, "100", "10")
	first.TxnDate = day.AddDate(0, 0, 1)
	sold := sale(1, 1, "50")
	sold.TxnDate = day.AddDate(0, 0, 2)
	for _, e := range []Entry{first, sold} {
		_, _, err := svc.AppendMovement(ctx, e)
		require.NoError(t, err)
	}

	late := purchase(1, 1, "100", "20")
	late.TxnDate = day
	_, _, err := svc.AppendMovement(ctx, late)
	require.ErrorIs(t, err, ErrBackdated)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, repo.entries, 2)

	// Same day as the latest movement and other keys stay open.
	sameDay := purchase(1, 1, "100", "20")
	sameDay.TxnDate = day.AddDate(0, 0, 2).Add(15 * time.Hour)
	_, bal, err := svc.AppendMovement(ctx, sameDay)
	require.NoError(t, err)
	require.True(t, bal.LastTxnDate.Equal(day.AddDate(0, 0, 2)))
	elsewhere := late
	elsewhere.LocationID = 2
	_, _, err = svc.AppendMovement(ctx, elsewhere)
	require.NoError(t, err)

	replayed, err := Replay(svc.Movements(ctx, MovementFilter{ItemID: 1, LocationID: 1}))
	require.NoError(t, err)
	snap := repo.balances[Key{ItemID: 1, LocationID: 1}]
	require.True(t, SameState(snap, replayed[snap.Key()]))
	require.True(t, snap.Qty.Equal(d("150")))
	require.True(t, snap.AvgCost.Equal(d("16.666667")), snap.AvgCost.String())

	mismatches, err := svc.Verify(ctx, BalanceFilter{})
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

func TestNegativeStockPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("flag", func(t *testing.T) {
		var flagged []Balance
		svc := newTestService(newMemoryRepo(), EngineConfig{OnNegative: func(b Balance) { flagged = append(flagged, b) }})
		_, _, err := svc.AppendMovement(ctx, purchase(1, 1, "5", "10"))
		require.NoError(t, err)
		out, bal, err := svc.AppendMovement(ctx, sale(1, 1, "8"))
		require.NoError(t, err)
		require.True(t, bal.Negative)
		require.True(t, bal.Qty.Equal(d("-3")))
		require.True(t, out.TotalCost.Equal(d("80")))
		require.Len(t, flagged, 1)
	})

	t.Run("block", func(t *testing.T) {
		repo := newMemoryRepo()
		svc := newTestService(repo, EngineConfig{NegativePolicy: NegativeBlock})
		_, _, err := svc.AppendMovement(ctx, purchase(1, 1, "5", "10"))
		require.NoError(t, err)
		_, _, err = svc.AppendMovement(ctx, sale(1, 1, "8"))
		require.ErrorIs(t, err, ErrNegativeStock)
		require.ErrorIs(t, err, shared.ErrValidation)
		require.Len(t, repo.entries, 1)
	})
}

func TestReplayMatchesSnapshots(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, EngineConfig{})
	ctx := context.Background()

	moves := []Entry{
		purchase(1, 1, "100", "10"),
		purchase(1, 2, "3", "4.3333"),
		purchase(1, 1, "50", "16"),
		sale(1, 1, "40"),
		sale(1, 2, "1"),
		purchase(1, 2, "7", "5.17"),
		sale(1, 1, "110"),
		sale(1, 1, "2"),
	}
	for _, m := range moves {
		_, _, err := svc.AppendMovement(ctx, m)
		require.NoError(t, err)
	}

	first, err := Replay(svc.Movements(ctx, MovementFilter{PageSize: 3}))
	require.NoError(t, err)
	second, err := Replay(svc.Movements(ctx, MovementFilter{BySeq: true}))
	require.NoError(t, err)
	require.Len(t, first, 2)
	for key, b := range first {
		require.True(t, SameState(b, second[key]))
		require.True(t, SameState(b, repo.balances[key]), key.String())
	}

	mismatches, err := svc.Verify(ctx, BalanceFilter{})
	require.NoError(t, err)
	require.Empty(t, mismatches)

	tampered := repo.balances[Key{ItemID: 1, LocationID: 2}]
	tampered.Qty = d("99")
	repo.balances[tampered.Key()] = tampered
	mismatches, err = svc.Verify(ctx, BalanceFilter{})
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	require.Equal(t, Key{ItemID: 1, LocationID: 2}, mismatches[0].Key)
}

func TestMovementsPagesInDateOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, EngineConfig{})
	ctx := context.Background()

	for i := 5; i >= 1; i-- {
		e := purchase(1, int64(i), "1", "1")
		e.TxnDate = day.AddDate(0, 0, i)
		_, _, err := svc.AppendMovement(ctx, e)
		require.NoError(t, err)
	}

	var dates []time.Time
	for e, err := range svc.Movements(ctx, MovementFilter{ItemID: 1, PageSize: 2}) {
		require.NoError(t, err)
		dates = append(dates, e.TxnDate)
	}
	require.Len(t, dates, 5)
	for i := 1; i < len(dates); i++ {
		require.True(t, dates[i-1].Before(dates[i]))
	}

	count := 0
	for range svc.Movements(ctx, MovementFilter{ItemID: 1, PageSize: 2}) {
		count++
		if count == 3 {
			break
		}
	}
	require.Equal(t, 3, count)
}

func TestStockCardRunningBalance(t *testing.T) {
	svc := newTestService(newMemoryRepo(), EngineConfig{})
	ctx := context.Background()

	first := purchase(1, 1, "100", "10")
	first.TxnDate = day
	second := purchase(1, 1, "50", "16")
	second.TxnDate = day.AddDate(0, 0, 1)
	third := sale(1, 1, "40")
	third.TxnDate = day.AddDate(0, 0, 2)
	for _, e := range []Entry{first, second, third} {
		_, _, err := svc.AppendMovement(ctx, e)
		require.NoError(t, err)
	}

	card, err := svc.StockCard(ctx, 1, 1, day.AddDate(0, 0, 1), time.Time{})
	require.NoError(t, err)
	require.Len(t, card, 2)
	require.True(t, card[0].BalanceQty.Equal(d("150")))
	require.True(t, card[0].Value.Equal(d("1800")))
	require.True(t, card[1].BalanceQty.Equal(d("110")))
	require.True(t, card[1].Entry.TotalCost.Equal(d("480")))
	require.True(t, card[1].AvgCost.Equal(d("12")))
}
