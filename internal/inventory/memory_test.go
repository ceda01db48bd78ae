package inventory

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"
)

type memoryRepo struct {
	entries  []Entry
	balances map[Key]Balance
	seq      int64
	locked   []string
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[Key]Balance)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (tx *memoryTx) LockKeys(_ context.Context, keys ...string) error {
	tx.repo.locked = append(tx.repo.locked, keys...)
	return nil
}

func (tx *memoryTx) Stock() TxRepository { return tx }

func (tx *memoryTx) InsertEntry(_ context.Context, e Entry) (Entry, error) {
	tx.repo.seq++
	e.Seq = tx.repo.seq
	tx.repo.entries = append(tx.repo.entries, e)
	return e, nil
}

func (tx *memoryTx) GetBalanceForUpdate(_ context.Context, key Key) (Balance, error) {
	if b, ok := tx.repo.balances[key]; ok {
		return b, nil
	}
	return zeroBalance(key), ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(_ context.Context, b Balance) error {
	tx.repo.balances[b.Key()] = b
	return nil
}

func (tx *memoryTx) ListBalances(_ context.Context, f BalanceFilter) ([]Balance, error) {
	var out []Balance
	for _, b := range tx.repo.balances {
		if f.ItemID != 0 && b.ItemID != f.ItemID || f.LocationID != 0 && b.LocationID != f.LocationID {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Balance) int {
		return cmp.Or(cmp.Compare(a.ItemID, b.ItemID), cmp.Compare(a.LocationID, b.LocationID))
	})
	return out, nil
}

func (tx *memoryTx) ListEntries(_ context.Context, f MovementFilter, after Cursor, limit int) ([]Entry, error) {
	all := slices.Clone(tx.repo.entries)
	if !f.BySeq {
		slices.SortStableFunc(all, func(a, b Entry) int {
			return cmp.Or(a.TxnDate.Compare(b.TxnDate), cmp.Compare(a.Seq, b.Seq))
		})
	}
	var out []Entry
	for _, e := range all {
		if f.ItemID != 0 && e.ItemID != f.ItemID || f.LocationID != 0 && e.LocationID != f.LocationID {
			continue
		}
		if f.SourceType != "" && e.SourceType != f.SourceType || f.SourceID != uuid.Nil && e.SourceID != f.SourceID {
			continue
		}
		if after.Seq > 0 {
			if f.BySeq && e.Seq <= after.Seq {
				continue
			}
			if !f.BySeq {
				c := cmp.Or(e.TxnDate.Compare(after.TxnDate), cmp.Compare(e.Seq, after.Seq))
				if c <= 0 {
					continue
				}
			}
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
