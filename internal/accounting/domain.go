package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Journal is an immutable, balanced general ledger entry.
type Journal struct {
	ID           int64         `json:"id"`
	Number       string        `json:"number"`
	Date         time.Time     `json:"date"`
	Description  string        `json:"description"`
	SourceModule string        `json:"source_module,omitempty"`
	SourceID     uuid.UUID     `json:"source_id"`
	ReversalOf   *int64        `json:"reversal_of,omitempty"`
	Lines        []JournalLine `json:"lines"`
	PostedAt     time.Time     `json:"posted_at"`
}

// Totals returns the debit and credit sums of the journal.
func (j Journal) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range j.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID        int64           `json:"id"`
	JournalID int64           `json:"journal_id"`
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

// AccountBalance accumulates every line ever posted to an account.
type AccountBalance struct {
	AccountID   int64           `json:"account_id"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Net returns debit minus credit.
func (b AccountBalance) Net() decimal.Decimal {
	return b.TotalDebit.Sub(b.TotalCredit)
}

// PostingLineInput describes a journal line for posting request.
type PostingLineInput struct {
	AccountID int64           `json:"account_id"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo"`
}

// PostingInput groups fields required to create a journal.
type PostingInput struct {
	Date         time.Time          `json:"date"`
	Description  string             `json:"description"`
	SourceModule string             `json:"source_module"`
	SourceID     uuid.UUID          `json:"source_id"`
	ReversalOf   *int64             `json:"-"`
	Lines        []PostingLineInput `json:"lines"`
}

// JournalFilter narrows journal listings. Zero fields match everything.
type JournalFilter struct {
	DateFrom  time.Time
	DateTo    time.Time
	AccountID int64
	SourceID  uuid.UUID
	Limit     int
}

// TrialBalance sums every account balance.
type TrialBalance struct {
	TotalDebit  decimal.Decimal  `json:"total_debit"`
	TotalCredit decimal.Decimal  `json:"total_credit"`
	Balanced    bool             `json:"balanced"`
	Accounts    []AccountBalance `json:"accounts"`
}

// IntegrityIssue names a journal or account that failed verification.
type IntegrityIssue struct {
	JournalID int64  `json:"journal_id,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
	Reason    string `json:"reason"`
}

var (
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrSourceConflict is returned by repositories when the source link exists.
	ErrSourceConflict = errors.New("accounting: source link conflict")
	// ErrAlreadyReversed indicates a second reversal of the same journal.
	ErrAlreadyReversed = errors.New("accounting: journal already reversed")
	// ErrBalanceNotFound indicates an account that never received a line.
	ErrBalanceNotFound = errors.New("accounting: account balance not found")
)

// Validate ensures posting input meets minimum criteria. It never touches
// storage.
func (in PostingInput) Validate() error {
	if in.Date.IsZero() {
		return shared.Validation("date", "required")
	}
	if len(in.Lines) == 0 {
		return shared.Validation("lines", "journal requires at least one line")
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if line.AccountID == 0 {
			return shared.Validation(field, "missing account")
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.Validation(field, "negative amount")
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return shared.Validation(field, "exactly one of debit and credit must be positive")
		}
		if !money.IsCents(line.Debit) || !money.IsCents(line.Credit) {
			return shared.Validation(field, "amount has more than 2 decimals")
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return &shared.UnbalancedJournalError{Debit: debit, Credit: credit}
	}
	return nil
}

// AccountIDs returns the distinct accounts referenced by the input.
func (in PostingInput) AccountIDs() []int64 {
	seen := make(map[int64]bool, len(in.Lines))
	out := make([]int64, 0, len(in.Lines))
	for _, l := range in.Lines {
		if !seen[l.AccountID] {
			seen[l.AccountID] = true
			out = append(out, l.AccountID)
		}
	}
	return out
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Memo:      line.Memo,
		})
	}
	return out
}
