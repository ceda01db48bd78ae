package posting

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// journalBuilder aggregates amounts per account and side.
type journalBuilder struct {
	debits  map[int64]decimal.Decimal
	credits map[int64]decimal.Decimal
}

func newJournalBuilder() *journalBuilder {
	return &journalBuilder{debits: make(map[int64]decimal.Decimal), credits: make(map[int64]decimal.Decimal)}
}

func (b *journalBuilder) debit(accountID int64, amount decimal.Decimal) {
	b.debits[accountID] = b.debits[accountID].Add(amount)
}

func (b *journalBuilder) credit(accountID int64, amount decimal.Decimal) {
	b.credits[accountID] = b.credits[accountID].Add(amount)
}

func (b *journalBuilder) totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, v := range b.debits {
		debit = debit.Add(v)
	}
	for _, v := range b.credits {
		credit = credit.Add(v)
	}
	return debit, credit
}

// check fails with the totals when the builder does not balance.
func (b *journalBuilder) check() error {
	debit, credit := b.totals()
	if !debit.Equal(credit) {
		return &shared.UnbalancedJournalError{Debit: debit, Credit: credit}
	}
	return nil
}

// lines renders debits then credits, each ordered by account. Zero amounts
// are dropped.
func (b *journalBuilder) lines() []accounting.PostingLineInput {
	var out []accounting.PostingLineInput
	for _, id := range sortedIDs(b.debits) {
		if amt := b.debits[id]; amt.IsPositive() {
			out = append(out, accounting.PostingLineInput{AccountID: id, Debit: amt, Credit: decimal.Zero})
		}
	}
	for _, id := range sortedIDs(b.credits) {
		if amt := b.credits[id]; amt.IsPositive() {
			out = append(out, accounting.PostingLineInput{AccountID: id, Debit: decimal.Zero, Credit: amt})
		}
	}
	return out
}

func sortedIDs(m map[int64]decimal.Decimal) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
