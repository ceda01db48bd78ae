package inventory

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const defaultPageSize = 200

// Service exposes the stock ledger to callers outside a posting.
type Service struct {
	repo      RepositoryPort
	engine    *Engine
	directory masterdata.Directory
	cache     shared.ReadCache
	logger    *slog.Logger
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, engine *Engine, directory masterdata.Directory, cache shared.ReadCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, directory: directory, cache: cache, logger: logger}
}

// Engine returns the engine used for appends.
func (s *Service) Engine() *Engine { return s.engine }

// AppendMovement records one movement in its own unit of work. Item and
// location must exist and be active.
func (s *Service) AppendMovement(ctx context.Context, entry Entry) (Entry, Balance, error) {
	if err := entry.Validate(); err != nil {
		return Entry{}, Balance{}, err
	}
	if err := CheckReferences(ctx, s.directory, entry.ItemID, entry.LocationID); err != nil {
		return Entry{}, Balance{}, err
	}
	var (
		stored  Entry
		balance Balance
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		stored, balance, err = s.engine.Append(ctx, tx, entry)
		return err
	})
	if err != nil {
		return Entry{}, Balance{}, err
	}
	s.invalidate(ctx)
	return stored, balance, nil
}

// CheckReferences ensures the item and location exist and are active.
func CheckReferences(ctx context.Context, directory masterdata.Directory, itemID, locationID int64) error {
	if directory == nil {
		return nil
	}
	item, err := directory.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !item.IsActive {
		return shared.Validation("item_id", fmt.Sprintf("item %d is inactive", itemID))
	}
	loc, err := directory.GetLocation(ctx, locationID)
	if err != nil {
		return err
	}
	if !loc.IsActive {
		return shared.Validation("location_id", fmt.Sprintf("location %d is inactive", locationID))
	}
	return nil
}

// GetBalance returns the balance of an (item, location). A pair that never
// moved reports zero.
func (s *Service) GetBalance(ctx context.Context, itemID, locationID int64) (Balance, error) {
	balances, err := s.listBalances(ctx, BalanceFilter{ItemID: itemID, LocationID: locationID})
	if err != nil {
		return Balance{}, err
	}
	if len(balances) == 0 {
		return zeroBalance(Key{ItemID: itemID, LocationID: locationID}), nil
	}
	return balances[0], nil
}

// GetBalances lists balances matching filter.
func (s *Service) GetBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	if s.cache == nil {
		return s.listBalances(ctx, filter)
	}
	key, err := s.cache.BuildKey(ctx, "stock", "balances", strconv.FormatInt(filter.ItemID, 10), strconv.FormatInt(filter.LocationID, 10))
	if err != nil {
		return nil, err
	}
	var out []Balance
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.listBalances(ctx, filter)
	})
	return out, err
}

func (s *Service) listBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	var out []Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Stock().ListBalances(ctx, filter)
		return err
	})
	return out, err
}

// Movements lazily pages through matching entries ordered by (TxnDate, Seq),
// or by Seq when filter.BySeq is set. Each range over the sequence starts a
// fresh read.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) iter.Seq2[Entry, error] {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return func(yield func(Entry, error) bool) {
		var cursor Cursor
		for {
			var page []Entry
			err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
				var err error
				page, err = tx.Stock().ListEntries(ctx, filter, cursor, pageSize)
				return err
			})
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = Cursor{TxnDate: last.TxnDate, Seq: last.Seq}
		}
	}
}

// Verify replays the ledger for the filtered keys and reports balances whose
// snapshot disagrees. Keys that moved while the replay ran are skipped.
func (s *Service) Verify(ctx context.Context, filter BalanceFilter) ([]Mismatch, error) {
	snapshots, err := s.listBalances(ctx, filter)
	if err != nil {
		return nil, err
	}
	replayed, err := Replay(s.Movements(ctx, MovementFilter{ItemID: filter.ItemID, LocationID: filter.LocationID}))
	if err != nil {
		return nil, err
	}
	var out []Mismatch
	seen := make(map[Key]bool, len(snapshots))
	for _, snap := range snapshots {
		seen[snap.Key()] = true
		got, ok := replayed[snap.Key()]
		if !ok {
			got = zeroBalance(snap.Key())
		}
		if got.LastSeq > snap.LastSeq {
			continue
		}
		if !SameState(snap, got) || got.LastSeq != snap.LastSeq {
			out = append(out, Mismatch{Key: snap.Key(), Snapshot: snap, Replayed: got})
		}
	}
	for key, got := range replayed {
		if !seen[key] {
			out = append(out, Mismatch{Key: key, Snapshot: zeroBalance(key), Replayed: got})
		}
	}
	if len(out) > 0 {
		s.logger.Error("stock ledger replay mismatch", slog.Int("count", len(out)))
	}
	return out, nil
}

// StockCard projects the running balance of an (item, location). Entries
// before from still count toward the opening position.
func (s *Service) StockCard(ctx context.Context, itemID, locationID int64, from, to time.Time) ([]CardLine, error) {
	if itemID == 0 || locationID == 0 {
		return nil, shared.Validation("", "item and location required")
	}
	balance := zeroBalance(Key{ItemID: itemID, LocationID: locationID})
	var lines []CardLine
	for e, err := range s.Movements(ctx, MovementFilter{ItemID: itemID, LocationID: locationID}) {
		if err != nil {
			return nil, err
		}
		balance, _ = Apply(balance, e)
		if !from.IsZero() && e.TxnDate.Before(from) {
			continue
		}
		if !to.IsZero() && e.TxnDate.After(to) {
			continue
		}
		lines = append(lines, CardLine{Entry: e, BalanceQty: balance.Qty, AvgCost: balance.AvgCost, Value: balance.Value})
	}
	return lines, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("cache bump failed", slog.Any("error", err))
	}
}
