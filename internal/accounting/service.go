package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ModuleReversal tags journals produced by Reverse.
const ModuleReversal = "GL.REVERSAL"

var reversalNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("odyssey-ledger/journal-reversal"))

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates posting, reversing and reading journals.
type Service struct {
	repo   RepositoryPort
	engine *Engine
	audit  AuditPort
	cache  shared.ReadCache
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the ledger service. audit and cache may be nil.
func NewService(repo RepositoryPort, engine *Engine, audit AuditPort, cache shared.ReadCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, audit: audit, cache: cache, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post appends a standalone journal.
func (s *Service) Post(ctx context.Context, input PostingInput) (Journal, error) {
	var journal Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		journal, err = s.engine.Post(ctx, tx, input)
		return err
	})
	if err != nil {
		if errors.Is(err, shared.ErrUnbalanced) {
			s.logger.Error("unbalanced journal rejected", slog.Any("error", err), slog.String("source_module", input.SourceModule))
		}
		return Journal{}, err
	}
	s.afterCommit(ctx, "journal.post", journal, map[string]any{
		"number":        journal.Number,
		"source_module": journal.SourceModule,
		"source_id":     journal.SourceID.String(),
	})
	return journal, nil
}

// Reverse posts a journal with debits and credits swapped. A journal can be
// reversed once; reversals themselves cannot be reversed.
func (s *Service) Reverse(ctx context.Context, journalID int64, date time.Time, memo string) (Journal, error) {
	if journalID == 0 {
		return Journal{}, shared.Validation("journal_id", "required")
	}
	var reversal Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		original, err := tx.Ledger().GetJournal(ctx, journalID)
		if err != nil {
			return err
		}
		if original.ReversalOf != nil {
			return shared.Validation("journal_id", "reversal journals cannot be reversed")
		}
		if date.IsZero() {
			date = original.Date
		}
		if memo == "" {
			memo = fmt.Sprintf("Reversal of %s", original.Number)
		}
		reversal, err = s.engine.Post(ctx, tx, PostingInput{
			Date:         date,
			Description:  memo,
			SourceModule: ModuleReversal,
			SourceID:     uuid.NewSHA1(reversalNamespace, []byte(strconv.FormatInt(original.ID, 10))),
			ReversalOf:   &original.ID,
			Lines:        reverseLines(original.Lines),
		})
		if errors.Is(err, ErrSourceAlreadyLinked) {
			return ErrAlreadyReversed
		}
		return err
	})
	if err != nil {
		return Journal{}, err
	}
	s.afterCommit(ctx, "journal.reverse", reversal, map[string]any{
		"reversal_of": journalID,
		"number":      reversal.Number,
	})
	return reversal, nil
}

func (s *Service) afterCommit(ctx context.Context, action string, journal Journal, meta map[string]any) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("cache bump failed", slog.Any("error", err))
		}
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			Action:   action,
			Entity:   "journal",
			EntityID: strconv.FormatInt(journal.ID, 10),
			Meta:     meta,
			At:       s.now(),
		})
		if err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
}

// GetAccountBalance returns the accumulated totals of an account. An account
// with no lines reports zero.
func (s *Service) GetAccountBalance(ctx context.Context, accountID int64) (AccountBalance, error) {
	var balance AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Ledger().GetAccount(ctx, accountID); err != nil {
			return err
		}
		balances, err := tx.Ledger().ListAccountBalances(ctx)
		if err != nil {
			return err
		}
		balance = AccountBalance{AccountID: accountID, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
		for _, b := range balances {
			if b.AccountID == accountID {
				balance = b
			}
		}
		return nil
	})
	return balance, err
}

// GetAllAccountBalances lists every account balance.
func (s *Service) GetAllAccountBalances(ctx context.Context) ([]AccountBalance, error) {
	if s.cache == nil {
		return s.listBalances(ctx)
	}
	key, err := s.cache.BuildKey(ctx, "ledger", "balances")
	if err != nil {
		return nil, err
	}
	var out []AccountBalance
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.listBalances(ctx)
	})
	return out, err
}

func (s *Service) listBalances(ctx context.Context) ([]AccountBalance, error) {
	var out []AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Ledger().ListAccountBalances(ctx)
		return err
	})
	return out, err
}

// GetJournals lists journals matching filter ordered by date.
func (s *Service) GetJournals(ctx context.Context, filter JournalFilter) ([]Journal, error) {
	var out []Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Ledger().ListJournals(ctx, filter)
		return err
	})
	return out, err
}

// GetJournal returns a journal with its lines.
func (s *Service) GetJournal(ctx context.Context, id int64) (Journal, error) {
	var out Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Ledger().GetJournal(ctx, id)
		return err
	})
	return out, err
}

// TrialBalance sums all account balances.
func (s *Service) TrialBalance(ctx context.Context) (TrialBalance, error) {
	balances, err := s.listBalances(ctx)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero, Accounts: balances}
	for _, b := range balances {
		tb.TotalDebit = tb.TotalDebit.Add(b.TotalDebit)
		tb.TotalCredit = tb.TotalCredit.Add(b.TotalCredit)
	}
	tb.Balanced = tb.TotalDebit.Equal(tb.TotalCredit)
	return tb, nil
}

// Verify checks that every journal balances and that account balances equal
// the sum of their journal lines. Both reads share one unit of work.
func (s *Service) Verify(ctx context.Context) ([]IntegrityIssue, error) {
	var issues []IntegrityIssue
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		journals, err := tx.Ledger().ListJournals(ctx, JournalFilter{})
		if err != nil {
			return err
		}
		balances, err := tx.Ledger().ListAccountBalances(ctx)
		if err != nil {
			return err
		}
		issues = verifyLedger(journals, balances)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		s.logger.Error("ledger integrity check failed", slog.Int("issues", len(issues)))
	}
	return issues, nil
}

func verifyLedger(journals []Journal, balances []AccountBalance) []IntegrityIssue {
	var issues []IntegrityIssue
	replayed := make(map[int64]AccountBalance)
	for _, j := range journals {
		debit, credit := j.Totals()
		if !debit.Equal(credit) {
			issues = append(issues, IntegrityIssue{JournalID: j.ID, Reason: (&shared.UnbalancedJournalError{Debit: debit, Credit: credit}).Error()})
		}
		for _, l := range j.Lines {
			b := replayed[l.AccountID]
			b.TotalDebit = b.TotalDebit.Add(l.Debit)
			b.TotalCredit = b.TotalCredit.Add(l.Credit)
			replayed[l.AccountID] = b
		}
	}
	seen := make(map[int64]bool, len(balances))
	for _, b := range balances {
		seen[b.AccountID] = true
		r := replayed[b.AccountID]
		if !r.TotalDebit.Equal(b.TotalDebit) || !r.TotalCredit.Equal(b.TotalCredit) {
			issues = append(issues, IntegrityIssue{AccountID: b.AccountID, Reason: fmt.Sprintf(
				"snapshot %s/%s != lines %s/%s", b.TotalDebit, b.TotalCredit, r.TotalDebit, r.TotalCredit)})
		}
	}
	for id := range replayed {
		if !seen[id] {
			issues = append(issues, IntegrityIssue{AccountID: id, Reason: "lines without balance snapshot"})
		}
	}
	return issues
}
