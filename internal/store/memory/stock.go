package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
)

type stockRepo struct{ u *unit }

func (r stockRepo) InsertEntry(_ context.Context, e inventory.Entry) (inventory.Entry, error) {
	e.Seq = r.u.s.entrySeq.Add(1)
	r.u.entries = append(r.u.entries, e)
	return e, nil
}

func (r stockRepo) GetBalanceForUpdate(_ context.Context, key inventory.Key) (inventory.Balance, error) {
	if b, ok := r.u.stock[key]; ok {
		return b, nil
	}
	r.u.s.mu.RLock()
	b, ok := r.u.s.stock[key]
	r.u.s.mu.RUnlock()
	if !ok {
		return inventory.Balance{
			ItemID: key.ItemID, LocationID: key.LocationID,
			Qty: decimal.Zero, AvgCost: decimal.Zero, Value: decimal.Zero,
		}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (r stockRepo) UpsertBalance(_ context.Context, b inventory.Balance) error {
	r.u.stock[b.Key()] = b
	return nil
}

func (r stockRepo) ListBalances(_ context.Context, f inventory.BalanceFilter) ([]inventory.Balance, error) {
	r.u.s.mu.RLock()
	merged := make(map[inventory.Key]inventory.Balance, len(r.u.s.stock)+len(r.u.stock))
	for k, b := range r.u.s.stock {
		merged[k] = b
	}
	r.u.s.mu.RUnlock()
	for k, b := range r.u.stock {
		merged[k] = b
	}
	out := make([]inventory.Balance, 0, len(merged))
	for _, b := range merged {
		if f.ItemID != 0 && b.ItemID != f.ItemID {
			continue
		}
		if f.LocationID != 0 && b.LocationID != f.LocationID {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b inventory.Balance) int {
		return cmp.Or(cmp.Compare(a.ItemID, b.ItemID), cmp.Compare(a.LocationID, b.LocationID))
	})
	return out, nil
}

func (r stockRepo) ListEntries(_ context.Context, f inventory.MovementFilter, after inventory.Cursor, limit int) ([]inventory.Entry, error) {
	r.u.s.mu.RLock()
	all := slices.Concat(r.u.s.entries, r.u.entries)
	r.u.s.mu.RUnlock()
	if f.BySeq {
		slices.SortFunc(all, func(a, b inventory.Entry) int { return cmp.Compare(a.Seq, b.Seq) })
	} else {
		slices.SortFunc(all, func(a, b inventory.Entry) int {
			return cmp.Or(a.TxnDate.Compare(b.TxnDate), cmp.Compare(a.Seq, b.Seq))
		})
	}
	var out []inventory.Entry
	for _, e := range all {
		if !matchEntry(f, e) {
			continue
		}
		if after.Seq > 0 {
			var c int
			if f.BySeq {
				c = cmp.Compare(e.Seq, after.Seq)
			} else {
				c = cmp.Or(e.TxnDate.Compare(after.TxnDate), cmp.Compare(e.Seq, after.Seq))
			}
			if c <= 0 {
				continue
			}
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func matchEntry(f inventory.MovementFilter, e inventory.Entry) bool {
	switch {
	case f.ItemID != 0 && e.ItemID != f.ItemID:
		return false
	case f.LocationID != 0 && e.LocationID != f.LocationID:
		return false
	case f.SourceType != "" && e.SourceType != f.SourceType:
		return false
	case f.SourceID != uuid.Nil && e.SourceID != f.SourceID:
		return false
	case !f.DateFrom.IsZero() && e.TxnDate.Before(f.DateFrom):
		return false
	case !f.DateTo.IsZero() && e.TxnDate.After(f.DateTo):
		return false
	}
	return true
}
