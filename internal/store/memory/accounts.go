package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type accountRepo struct{ s *Store }

func (r accountRepo) Create(_ context.Context, a accounts.Account) (accounts.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.accounts {
		if existing.Code == a.Code {
			return accounts.Account{}, accounts.ErrDuplicateCode
		}
	}
	if a.OpeningBalance.IsZero() {
		a.OpeningBalance = decimal.Zero
	}
	a.ID = r.s.accountSeq.Add(1)
	r.s.accounts[a.ID] = a
	return a, nil
}

func (r accountRepo) Get(_ context.Context, id int64) (accounts.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return accounts.Account{}, shared.NotFound("account", id)
	}
	return a, nil
}

func (r accountRepo) List(_ context.Context, f accounts.ListFilter) ([]accounts.Account, error) {
	r.s.mu.RLock()
	out := make([]accounts.Account, 0, len(r.s.accounts))
	for _, a := range r.s.accounts {
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.ActiveOnly && !a.IsActive {
			continue
		}
		out = append(out, a)
	}
	r.s.mu.RUnlock()
	slices.SortFunc(out, func(a, b accounts.Account) int { return cmp.Compare(a.Code, b.Code) })
	return out, nil
}

func (r accountRepo) Update(_ context.Context, a accounts.Account) (accounts.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[a.ID]; !ok {
		return accounts.Account{}, shared.NotFound("account", a.ID)
	}
	for id, existing := range r.s.accounts {
		if id != a.ID && existing.Code == a.Code {
			return accounts.Account{}, accounts.ErrDuplicateCode
		}
	}
	r.s.accounts[a.ID] = a
	return a, nil
}

// HasJournalLines reports whether any committed line touched the account.
func (r accountRepo) HasJournalLines(_ context.Context, id int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.balances[id]
	return ok, nil
}
