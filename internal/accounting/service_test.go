package accounting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var journalDate = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo(
		accounts.Account{ID: 1, Code: "1100", Type: accounts.AccountTypeAsset, IsActive: true},
		accounts.Account{ID: 2, Code: "2100", Type: accounts.AccountTypeLiability, IsActive: true},
		accounts.Account{ID: 3, Code: "4100", Type: accounts.AccountTypeIncome, IsActive: true},
		accounts.Account{ID: 4, Code: "5900", Type: accounts.AccountTypeExpense, IsActive: false},
	)
	return NewService(repo, NewEngine(), nil, nil, nil), repo
}

func twoLine(debitAcc, creditAcc int64, amount string) PostingInput {
	return PostingInput{
		Date:         journalDate,
		Description:  "test",
		SourceModule: "TEST",
		SourceID:     uuid.New(),
		Lines: []PostingLineInput{
			{AccountID: debitAcc, Debit: d(amount)},
			{AccountID: creditAcc, Credit: d(amount)},
		},
	}
}

func TestPostingInputValidate(t *testing.T) {
	cases := map[string]PostingInput{
		"no lines":     {Date: journalDate},
		"no date":      {Lines: []PostingLineInput{{AccountID: 1, Debit: d("1")}, {AccountID: 2, Credit: d("1")}}},
		"both sides":   {Date: journalDate, Lines: []PostingLineInput{{AccountID: 1, Debit: d("1"), Credit: d("1")}}},
		"zero line":    {Date: journalDate, Lines: []PostingLineInput{{AccountID: 1}, {AccountID: 2}}},
		"sub cent":     {Date: journalDate, Lines: []PostingLineInput{{AccountID: 1, Debit: d("1.005")}, {AccountID: 2, Credit: d("1.005")}}},
		"no account":   {Date: journalDate, Lines: []PostingLineInput{{Debit: d("1")}, {AccountID: 2, Credit: d("1")}}},
		"negative amt": {Date: journalDate, Lines: []PostingLineInput{{AccountID: 1, Debit: d("-1")}, {AccountID: 2, Credit: d("-1")}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, in.Validate(), shared.ErrValidation)
		})
	}

	in := twoLine(1, 2, "100")
	in.Lines[1].Credit = d("99.99")
	err := in.Validate()
	require.ErrorIs(t, err, shared.ErrUnbalanced)
	var unbalanced *shared.UnbalancedJournalError
	require.True(t, errors.As(err, &unbalanced))
	require.True(t, unbalanced.Debit.Equal(d("100")))
	require.True(t, unbalanced.Credit.Equal(d("99.99")))
}

func TestPostUpdatesBalances(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	journal, err := svc.Post(ctx, twoLine(1, 3, "250.50"))
	require.NoError(t, err)
	require.Equal(t, "JV-000001", journal.Number)
	require.Len(t, journal.Lines, 2)
	require.Contains(t, repo.locked, shared.AccountKey(1))
	require.Contains(t, repo.locked, shared.AccountKey(3))

	_, err = svc.Post(ctx, twoLine(3, 1, "50.50"))
	require.NoError(t, err)

	cash, err := svc.GetAccountBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, cash.TotalDebit.Equal(d("250.50")))
	require.True(t, cash.TotalCredit.Equal(d("50.50")))
	require.True(t, cash.Net().Equal(d("200")))

	untouched, err := svc.GetAccountBalance(ctx, 2)
	require.NoError(t, err)
	require.True(t, untouched.TotalDebit.IsZero())

	_, err = svc.GetAccountBalance(ctx, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)

	tb, err := svc.TrialBalance(ctx)
	require.NoError(t, err)
	require.True(t, tb.Balanced)
	require.True(t, tb.TotalDebit.Equal(d("301")))
}

type failingAudit struct{ calls int }

func (a *failingAudit) Record(context.Context, shared.AuditLog) error {
	a.calls++
	return errors.New("audit store down")
}

func TestAuditFailureIsLoggedNotReturned(t *testing.T) {
	_, repo := newTestService()
	var logs bytes.Buffer
	audit := &failingAudit{}
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := NewService(repo, NewEngine(), audit, nil, logger)

	journal, err := svc.Post(context.Background(), twoLine(1, 3, "10"))
	require.NoError(t, err)
	require.NotZero(t, journal.ID)
	require.Equal(t, 1, audit.calls)
	require.Contains(t, logs.String(), "level=WARN")
	require.Contains(t, logs.String(), "audit record failed")
	require.Contains(t, logs.String(), "audit store down")
}

func TestPostRejectsWithoutSideEffects(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.Post(ctx, twoLine(1, 99, "10"))
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Post(ctx, twoLine(4, 1, "10"))
	require.ErrorIs(t, err, shared.ErrValidation)

	bad := twoLine(1, 2, "10")
	bad.Lines[0].Debit = d("10.01")
	_, err = svc.Post(ctx, bad)
	require.ErrorIs(t, err, shared.ErrUnbalanced)

	require.Empty(t, repo.journals)
	require.Empty(t, repo.balances)
}

func TestPostIsIdempotentPerSource(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	in := twoLine(1, 2, "10")
	_, err := svc.Post(ctx, in)
	require.NoError(t, err)

	_, err = svc.Post(ctx, in)
	require.ErrorIs(t, err, ErrSourceAlreadyLinked)
	require.Len(t, repo.journals, 1)
	require.True(t, repo.balances[1].TotalDebit.Equal(d("10")))
}

func TestReverseOnce(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	original, err := svc.Post(ctx, twoLine(1, 2, "75"))
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, original.ID, time.Time{}, "")
	require.NoError(t, err)
	require.NotNil(t, reversal.ReversalOf)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	require.Equal(t, "Reversal of JV-000001", reversal.Description)
	require.True(t, reversal.Lines[0].Credit.Equal(d("75")))

	_, err = svc.Reverse(ctx, original.ID, time.Time{}, "")
	require.ErrorIs(t, err, ErrAlreadyReversed)

	_, err = svc.Reverse(ctx, reversal.ID, time.Time{}, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	cash, err := svc.GetAccountBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, cash.Net().IsZero())
}

func TestVerifyDetectsDrift(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.Post(ctx, twoLine(1, 2, "10"))
	require.NoError(t, err)
	_, err = svc.Post(ctx, twoLine(2, 3, "4"))
	require.NoError(t, err)

	issues, err := svc.Verify(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)

	b := repo.balances[2]
	b.TotalCredit = d("11")
	repo.balances[2] = b
	issues, err = svc.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, int64(2), issues[0].AccountID)
}
