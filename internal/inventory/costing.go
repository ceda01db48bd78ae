package inventory

import (
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Validate checks the shape of a movement before it reaches the ledger.
func (e Entry) Validate() error {
	if e.ItemID == 0 {
		return shared.Validation("item_id", "required")
	}
	if e.LocationID == 0 {
		return shared.Validation("location_id", "required")
	}
	inward, ok := e.SourceType.Inward()
	if !ok {
		return shared.Validation("source_type", "unknown source type "+string(e.SourceType))
	}
	if e.QtyIn.IsNegative() || e.QtyOut.IsNegative() {
		return shared.Validation("qty", "must not be negative")
	}
	if !money.IsQty(e.QtyIn) || !money.IsQty(e.QtyOut) {
		return shared.Validation("qty", "at most 4 decimal places")
	}
	if e.QtyIn.IsPositive() == e.QtyOut.IsPositive() {
		return shared.Validation("qty", "exactly one of qty_in and qty_out must be positive")
	}
	if inward != e.QtyIn.IsPositive() {
		return shared.Validation("qty", "direction does not match source type "+string(e.SourceType))
	}
	if e.UnitCost.IsNegative() {
		return shared.Validation("unit_cost", "must not be negative")
	}
	if e.TxnDate.IsZero() {
		return shared.Validation("txn_date", "required")
	}
	return nil
}

// Apply folds one entry into a balance using the weighted average method. It
// returns the new balance and the entry with its costs settled: inbound
// entries keep their unit cost, outbound entries are costed at the running
// average.
func Apply(b Balance, e Entry) (Balance, Entry) {
	next := b
	next.ItemID, next.LocationID = e.ItemID, e.LocationID
	if e.QtyIn.IsPositive() {
		qtyIn := money.RoundQty(e.QtyIn)
		newQty := b.Qty.Add(qtyIn)
		if newQty.IsPositive() {
			total := b.Qty.Mul(b.AvgCost).Add(qtyIn.Mul(e.UnitCost))
			next.AvgCost = money.RoundCost(total.Div(newQty))
		}
		next.Qty = newQty
		e.QtyIn = qtyIn
		e.UnitCost = money.RoundCost(e.UnitCost)
		e.TotalCost = money.Extend(qtyIn, e.UnitCost)
	} else {
		qtyOut := money.RoundQty(e.QtyOut)
		next.Qty = b.Qty.Sub(qtyOut)
		e.QtyOut = qtyOut
		e.UnitCost = b.AvgCost
		e.TotalCost = money.Extend(qtyOut, b.AvgCost)
	}
	next.Value = money.Round(next.Qty.Mul(next.AvgCost))
	next.Negative = next.Qty.IsNegative()
	next.LastSeq = e.Seq
	if day := BusinessDay(e.TxnDate); day.After(next.LastTxnDate) {
		next.LastTxnDate = day
	}
	return next, e
}

// BusinessDay drops the clock part of a transaction date.
func BusinessDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Replay recomputes balances from entries in the order given. The ledger
// order is (TxnDate, Seq); the engine rejects back-dated movements, so the
// append order per key is the same.
func Replay(entries iter.Seq2[Entry, error]) (map[Key]Balance, error) {
	out := make(map[Key]Balance)
	for e, err := range entries {
		if err != nil {
			return nil, err
		}
		b, ok := out[e.Key()]
		if !ok {
			b = zeroBalance(e.Key())
		}
		b, _ = Apply(b, e)
		b.UpdatedAt = e.CreatedAt
		out[e.Key()] = b
	}
	return out, nil
}

// SameState compares the quantities and costs of two balances.
func SameState(a, b Balance) bool {
	return a.Qty.Equal(b.Qty) && a.AvgCost.Equal(b.AvgCost) && a.Value.Equal(b.Value) && a.Negative == b.Negative
}

func zeroBalance(k Key) Balance {
	return Balance{ItemID: k.ItemID, LocationID: k.LocationID, Qty: decimal.Zero, AvgCost: decimal.Zero, Value: decimal.Zero}
}
