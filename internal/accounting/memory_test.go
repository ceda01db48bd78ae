package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type memoryRepo struct {
	accounts map[int64]accounts.Account
	journals []Journal
	balances map[int64]AccountBalance
	links    map[string]int64
	lineID   int64
	locked   []string
}

func newMemoryRepo(accts ...accounts.Account) *memoryRepo {
	r := &memoryRepo{
		accounts: make(map[int64]accounts.Account),
		balances: make(map[int64]AccountBalance),
		links:    make(map[string]int64),
	}
	for _, a := range accts {
		r.accounts[a.ID] = a
	}
	return r
}

// WithTx snapshots state and restores it when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	journals := append([]Journal(nil), r.journals...)
	balances := make(map[int64]AccountBalance, len(r.balances))
	for k, v := range r.balances {
		balances[k] = v
	}
	links := make(map[string]int64, len(r.links))
	for k, v := range r.links {
		links[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.journals, r.balances, r.links = journals, balances, links
		return err
	}
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) LockKeys(_ context.Context, keys ...string) error {
	tx.repo.locked = append(tx.repo.locked, keys...)
	return nil
}

func (tx *memoryTx) Ledger() TxRepository { return tx }

func (tx *memoryTx) GetAccount(_ context.Context, id int64) (accounts.Account, error) {
	a, ok := tx.repo.accounts[id]
	if !ok {
		return accounts.Account{}, shared.NotFound("account", id)
	}
	return a, nil
}

func (tx *memoryTx) InsertJournal(_ context.Context, in PostingInput, postedAt time.Time) (Journal, error) {
	id := int64(len(tx.repo.journals) + 1)
	j := Journal{
		ID:           id,
		Number:       fmt.Sprintf("JV-%06d", id),
		Date:         in.Date,
		Description:  in.Description,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		ReversalOf:   in.ReversalOf,
		PostedAt:     postedAt,
	}
	for _, l := range in.Lines {
		tx.repo.lineID++
		j.Lines = append(j.Lines, JournalLine{ID: tx.repo.lineID, JournalID: id, AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo})
	}
	tx.repo.journals = append(tx.repo.journals, j)
	return j, nil
}

func (tx *memoryTx) LinkSource(_ context.Context, module string, ref uuid.UUID, journalID int64) error {
	key := module + "/" + ref.String()
	if _, ok := tx.repo.links[key]; ok {
		return ErrSourceConflict
	}
	tx.repo.links[key] = journalID
	return nil
}

func (tx *memoryTx) GetAccountBalanceForUpdate(_ context.Context, id int64) (AccountBalance, error) {
	b, ok := tx.repo.balances[id]
	if !ok {
		return AccountBalance{AccountID: id}, ErrBalanceNotFound
	}
	return b, nil
}

func (tx *memoryTx) UpsertAccountBalance(_ context.Context, b AccountBalance) error {
	tx.repo.balances[b.AccountID] = b
	return nil
}

func (tx *memoryTx) GetJournal(_ context.Context, id int64) (Journal, error) {
	for _, j := range tx.repo.journals {
		if j.ID == id {
			return j, nil
		}
	}
	return Journal{}, shared.NotFound("journal", id)
}

func (tx *memoryTx) ListJournals(_ context.Context, f JournalFilter) ([]Journal, error) {
	var out []Journal
	for _, j := range tx.repo.journals {
		if f.SourceID != uuid.Nil && j.SourceID != f.SourceID {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (tx *memoryTx) ListAccountBalances(_ context.Context) ([]AccountBalance, error) {
	out := make([]AccountBalance, 0, len(tx.repo.balances))
	for id := int64(1); id <= int64(len(tx.repo.accounts)); id++ {
		if b, ok := tx.repo.balances[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}
