package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type ledgerRepo struct{ u *unit }

func (r ledgerRepo) GetAccount(_ context.Context, id int64) (accounts.Account, error) {
	r.u.s.mu.RLock()
	defer r.u.s.mu.RUnlock()
	a, ok := r.u.s.accounts[id]
	if !ok {
		return accounts.Account{}, shared.NotFound("account", id)
	}
	return a, nil
}

func (r ledgerRepo) InsertJournal(_ context.Context, in accounting.PostingInput, postedAt time.Time) (accounting.Journal, error) {
	id := r.u.s.journalSeq.Add(1)
	j := accounting.Journal{
		ID:           id,
		Number:       fmt.Sprintf("JV-%06d", id),
		Date:         in.Date,
		Description:  in.Description,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		ReversalOf:   in.ReversalOf,
		PostedAt:     postedAt,
		Lines:        make([]accounting.JournalLine, 0, len(in.Lines)),
	}
	for _, l := range in.Lines {
		j.Lines = append(j.Lines, accounting.JournalLine{
			ID:        r.u.s.lineSeq.Add(1),
			JournalID: id,
			AccountID: l.AccountID,
			Debit:     l.Debit,
			Credit:    l.Credit,
			Memo:      l.Memo,
		})
	}
	r.u.journals = append(r.u.journals, j)
	return cloneJournal(j), nil
}

// LinkSource holds the source key until commit so two units of work cannot
// both claim the same reference.
func (r ledgerRepo) LinkSource(ctx context.Context, module string, ref uuid.UUID, journalID int64) error {
	key := module + "/" + ref.String()
	if err := r.u.LockKeys(ctx, "source:"+key); err != nil {
		return err
	}
	if _, ok := r.u.links[key]; ok {
		return accounting.ErrSourceConflict
	}
	r.u.s.mu.RLock()
	_, ok := r.u.s.links[key]
	r.u.s.mu.RUnlock()
	if ok {
		return accounting.ErrSourceConflict
	}
	r.u.links[key] = journalID
	return nil
}

func (r ledgerRepo) GetAccountBalanceForUpdate(_ context.Context, id int64) (accounting.AccountBalance, error) {
	if b, ok := r.u.balances[id]; ok {
		return b, nil
	}
	r.u.s.mu.RLock()
	b, ok := r.u.s.balances[id]
	r.u.s.mu.RUnlock()
	if !ok {
		return accounting.AccountBalance{AccountID: id}, accounting.ErrBalanceNotFound
	}
	return b, nil
}

func (r ledgerRepo) UpsertAccountBalance(_ context.Context, b accounting.AccountBalance) error {
	r.u.balances[b.AccountID] = b
	return nil
}

func (r ledgerRepo) GetJournal(_ context.Context, id int64) (accounting.Journal, error) {
	for _, j := range r.u.journals {
		if j.ID == id {
			return cloneJournal(j), nil
		}
	}
	r.u.s.mu.RLock()
	j, ok := r.u.s.journals[id]
	r.u.s.mu.RUnlock()
	if !ok {
		return accounting.Journal{}, shared.NotFound("journal", id)
	}
	return cloneJournal(j), nil
}

func (r ledgerRepo) ListJournals(_ context.Context, f accounting.JournalFilter) ([]accounting.Journal, error) {
	r.u.s.mu.RLock()
	all := make([]accounting.Journal, 0, len(r.u.s.journals)+len(r.u.journals))
	for _, j := range r.u.s.journals {
		all = append(all, j)
	}
	r.u.s.mu.RUnlock()
	all = append(all, r.u.journals...)
	slices.SortFunc(all, func(a, b accounting.Journal) int {
		return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(a.ID, b.ID))
	})
	var out []accounting.Journal
	for _, j := range all {
		if !matchJournal(f, j) {
			continue
		}
		out = append(out, cloneJournal(j))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matchJournal(f accounting.JournalFilter, j accounting.Journal) bool {
	switch {
	case !f.DateFrom.IsZero() && j.Date.Before(f.DateFrom):
		return false
	case !f.DateTo.IsZero() && j.Date.After(f.DateTo):
		return false
	case f.SourceID != uuid.Nil && j.SourceID != f.SourceID:
		return false
	}
	if f.AccountID == 0 {
		return true
	}
	return slices.ContainsFunc(j.Lines, func(l accounting.JournalLine) bool { return l.AccountID == f.AccountID })
}

func (r ledgerRepo) ListAccountBalances(_ context.Context) ([]accounting.AccountBalance, error) {
	r.u.s.mu.RLock()
	merged := make(map[int64]accounting.AccountBalance, len(r.u.s.balances))
	for id, b := range r.u.s.balances {
		merged[id] = b
	}
	r.u.s.mu.RUnlock()
	for id, b := range r.u.balances {
		merged[id] = b
	}
	out := make([]accounting.AccountBalance, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b accounting.AccountBalance) int { return cmp.Compare(a.AccountID, b.AccountID) })
	return out, nil
}

func cloneJournal(j accounting.Journal) accounting.Journal {
	j.Lines = slices.Clone(j.Lines)
	return j
}
