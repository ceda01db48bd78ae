package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/ids"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// EngineConfig groups optional engine settings.
type EngineConfig struct {
	NegativePolicy NegativePolicy
	Logger         *slog.Logger
	// OnNegative is invoked whenever a movement leaves a balance below zero.
	OnNegative func(Balance)
}

// Engine appends movements to the stock ledger and maintains balances.
type Engine struct {
	policy     NegativePolicy
	logger     *slog.Logger
	onNegative func(Balance)
	now        func() time.Time
	newID      func() string
}

// NewEngine builds Engine.
func NewEngine(cfg EngineConfig) *Engine {
	policy := cfg.NegativePolicy
	if policy == "" {
		policy = NegativeFlag
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{policy: policy, logger: logger, onNegative: cfg.OnNegative, now: time.Now, newID: ids.New}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Append validates entry, locks its balance key within tx and records the
// movement. Outbound entries come back costed at the average before the move.
func (e *Engine) Append(ctx context.Context, tx Tx, entry Entry) (Entry, Balance, error) {
	if err := entry.Validate(); err != nil {
		return Entry{}, Balance{}, err
	}
	key := entry.Key()
	if err := tx.LockKeys(ctx, shared.StockKey(key.ItemID, key.LocationID)); err != nil {
		return Entry{}, Balance{}, err
	}
	repo := tx.Stock()
	current, err := repo.GetBalanceForUpdate(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrBalanceNotFound) {
			return Entry{}, Balance{}, err
		}
		current = zeroBalance(key)
	}
	if day := BusinessDay(entry.TxnDate); day.Before(current.LastTxnDate) {
		return Entry{}, Balance{}, &shared.ValidationError{
			Field:  "txn_date",
			Reason: fmt.Sprintf("%s is before the latest movement of %s on %s", day.Format(time.DateOnly), key, current.LastTxnDate.Format(time.DateOnly)),
			Cause:  ErrBackdated,
		}
	}
	next, settled := Apply(current, entry)
	outbound := entry.QtyOut.IsPositive()
	if outbound && next.Negative && e.policy == NegativeBlock {
		return Entry{}, Balance{}, &shared.ValidationError{
			Field:  "qty_out",
			Reason: "insufficient stock for " + key.String() + ": on hand " + current.Qty.String(),
			Cause:  ErrNegativeStock,
		}
	}
	now := e.now().UTC()
	if settled.ID == "" {
		settled.ID = e.newID()
	}
	settled.CreatedAt = now
	settled, err = repo.InsertEntry(ctx, settled)
	if err != nil {
		return Entry{}, Balance{}, err
	}
	next.LastSeq = settled.Seq
	next.UpdatedAt = now
	if err := repo.UpsertBalance(ctx, next); err != nil {
		return Entry{}, Balance{}, err
	}
	if outbound && next.Negative {
		e.logger.Warn("stock balance negative",
			slog.Int64("item_id", key.ItemID),
			slog.Int64("location_id", key.LocationID),
			slog.String("qty", next.Qty.String()),
			slog.String("source_type", string(entry.SourceType)),
		)
		if e.onNegative != nil {
			e.onNegative(next)
		}
	}
	return settled, next, nil
}
