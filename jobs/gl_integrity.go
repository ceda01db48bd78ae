package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// ErrIntegrity marks a run that found drift. The task is not retried.
var ErrIntegrity = errors.New("jobs: integrity check failed")

// LedgerVerifier is the slice of the ledger service the check needs.
type LedgerVerifier interface {
	Verify(ctx context.Context) ([]accounting.IntegrityIssue, error)
	TrialBalance(ctx context.Context) (accounting.TrialBalance, error)
}

// FailureRecorder counts integrity issues per check.
type FailureRecorder interface {
	AddIntegrityFailures(check string, n int)
}

// LedgerIntegrityJob verifies that every journal balances, that account
// snapshots equal the sum of their lines and that the trial balance is even.
type LedgerIntegrityJob struct {
	Ledger   LedgerVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Failures FailureRecorder
}

// NewLedgerIntegrityJob initialises the handler.
func NewLedgerIntegrityJob(ledger LedgerVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics, failures FailureRecorder) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Ledger: ledger, Logger: logger, Metrics: metrics, Failures: failures}
}

// Handle executes the check for an asynq task.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	if errors.Is(err, ErrIntegrity) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run executes the check and returns the issues found.
func (j *LedgerIntegrityJob) Run(ctx context.Context, payload LedgerIntegrityPayload) (issues []accounting.IntegrityIssue, resultErr error) {
	if j == nil || j.Ledger == nil {
		return nil, errors.New("ledger integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := logOrDefault(j.Logger).With(slog.String("job", TaskLedgerIntegrity), slog.String("requested_by", payload.RequestedBy))
	logger.Info("starting ledger integrity check")

	issues, err := j.Ledger.Verify(ctx)
	if err != nil {
		logger.Error("verify failed", slog.Any("error", err))
		return nil, err
	}
	tb, err := j.Ledger.TrialBalance(ctx)
	if err != nil {
		logger.Error("trial balance failed", slog.Any("error", err))
		return nil, err
	}
	for _, issue := range issues {
		logger.Error("ledger integrity issue",
			slog.Int64("journal_id", issue.JournalID),
			slog.Int64("account_id", issue.AccountID),
			slog.String("reason", issue.Reason),
		)
	}
	j.record(CheckJournals, len(issues))
	if !tb.Balanced {
		logger.Error("trial balance out of balance",
			slog.String("total_debit", tb.TotalDebit.String()),
			slog.String("total_credit", tb.TotalCredit.String()),
		)
		issues = append(issues, accounting.IntegrityIssue{Reason: fmt.Sprintf("trial balance %s != %s", tb.TotalDebit, tb.TotalCredit)})
		j.record(CheckTrialBalance, 1)
	}
	j.Metrics.AddIssues(TaskLedgerIntegrity, len(issues))

	logger.Info("completed ledger integrity check",
		slog.Int("issues", len(issues)),
		slog.Int("accounts", len(tb.Accounts)),
		slog.Duration("duration", time.Since(start)),
	)
	if len(issues) > 0 {
		return issues, fmt.Errorf("%w: %d ledger issues", ErrIntegrity, len(issues))
	}
	return nil, nil
}

func (j *LedgerIntegrityJob) record(check string, n int) {
	if j.Failures != nil {
		j.Failures.AddIntegrityFailures(check, n)
	}
}

func logOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
