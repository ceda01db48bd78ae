package accounting

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Engine appends journals and keeps account balances in step.
type Engine struct {
	now func() time.Time
}

// NewEngine builds Engine.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Post validates input and appends it as one journal within tx. Accounts must
// exist and be active; the source link, when present, must be new.
func (e *Engine) Post(ctx context.Context, tx Tx, input PostingInput) (Journal, error) {
	if err := input.Validate(); err != nil {
		return Journal{}, err
	}
	accountIDs := input.AccountIDs()
	slices.Sort(accountIDs)
	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, shared.AccountKey(id))
	}
	if err := tx.LockKeys(ctx, keys...); err != nil {
		return Journal{}, err
	}
	repo := tx.Ledger()
	for _, id := range accountIDs {
		account, err := repo.GetAccount(ctx, id)
		if err != nil {
			return Journal{}, err
		}
		if !account.IsActive {
			return Journal{}, shared.Validation("account_id", "account "+account.Code+" is inactive")
		}
	}
	now := e.now().UTC()
	journal, err := repo.InsertJournal(ctx, input, now)
	if err != nil {
		return Journal{}, err
	}
	if input.SourceModule != "" && input.SourceID != uuid.Nil {
		if err := repo.LinkSource(ctx, input.SourceModule, input.SourceID, journal.ID); err != nil {
			if errors.Is(err, ErrSourceConflict) {
				return Journal{}, ErrSourceAlreadyLinked
			}
			return Journal{}, err
		}
	}
	deltas := make(map[int64]AccountBalance, len(accountIDs))
	for _, line := range input.Lines {
		d := deltas[line.AccountID]
		d.TotalDebit = d.TotalDebit.Add(line.Debit)
		d.TotalCredit = d.TotalCredit.Add(line.Credit)
		deltas[line.AccountID] = d
	}
	for _, id := range accountIDs {
		balance, err := repo.GetAccountBalanceForUpdate(ctx, id)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return Journal{}, err
		}
		balance.AccountID = id
		balance.TotalDebit = balance.TotalDebit.Add(deltas[id].TotalDebit)
		balance.TotalCredit = balance.TotalCredit.Add(deltas[id].TotalCredit)
		balance.UpdatedAt = now
		if err := repo.UpsertAccountBalance(ctx, balance); err != nil {
			return Journal{}, err
		}
	}
	return journal, nil
}
