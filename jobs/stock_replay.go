package jobs

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const defaultReplayParallelism = 4

// StockVerifier is the slice of the stock service the audit needs.
type StockVerifier interface {
	GetBalances(ctx context.Context, filter inventory.BalanceFilter) ([]inventory.Balance, error)
	Verify(ctx context.Context, filter inventory.BalanceFilter) ([]inventory.Mismatch, error)
}

// StockReplayJob replays the stock ledger item by item and compares the
// result with the stored balance snapshots.
type StockReplayJob struct {
	Stock       StockVerifier
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Failures    FailureRecorder
	Parallelism int
}

// NewStockReplayJob initialises the handler.
func NewStockReplayJob(stock StockVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics, failures FailureRecorder) *StockReplayJob {
	return &StockReplayJob{Stock: stock, Logger: logger, Metrics: metrics, Failures: failures, Parallelism: defaultReplayParallelism}
}

// Handle executes the audit for an asynq task.
func (j *StockReplayJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload StockReplayPayload
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

// Run audits the requested items and returns every mismatch, ordered by key.
func (j *StockReplayJob) Run(ctx context.Context, payload StockReplayPayload) (mismatches []inventory.Mismatch, resultErr error) {
	if j == nil || j.Stock == nil {
		return nil, errors.New("stock replay: handler not configured")
	}
	tracker := j.Metrics.Track(TaskStockReplayAudit)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := logOrDefault(j.Logger).With(slog.String("job", TaskStockReplayAudit), slog.String("requested_by", payload.RequestedBy))

	items := payload.ItemIDs
	if len(items) == 0 {
		balances, err := j.Stock.GetBalances(ctx, inventory.BalanceFilter{})
		if err != nil {
			return nil, err
		}
		for _, b := range balances {
			items = append(items, b.ItemID)
		}
	}
	items = slices.Clone(items)
	slices.Sort(items)
	items = slices.Compact(items)
	logger.Info("starting stock replay audit", slog.Int("items", len(items)))

	limit := j.Parallelism
	if limit <= 0 {
		limit = defaultReplayParallelism
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, itemID := range items {
		g.Go(func() error {
			found, err := j.Stock.Verify(gctx, inventory.BalanceFilter{ItemID: itemID})
			if err != nil {
				return fmt.Errorf("item %d: %w", itemID, err)
			}
			if len(found) == 0 {
				return nil
			}
			mu.Lock()
			mismatches = append(mismatches, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("stock replay audit failed", slog.Any("error", err))
		return nil, err
	}

	slices.SortFunc(mismatches, func(a, b inventory.Mismatch) int {
		if c := cmp.Compare(a.Key.ItemID, b.Key.ItemID); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.LocationID, b.Key.LocationID)
	})
	for _, m := range mismatches {
		logger.Error("stock balance drift",
			slog.String("key", m.Key.String()),
			slog.String("snapshot_qty", m.Snapshot.Qty.String()),
			slog.String("replayed_qty", m.Replayed.Qty.String()),
			slog.String("snapshot_value", m.Snapshot.Value.String()),
			slog.String("replayed_value", m.Replayed.Value.String()),
		)
	}
	if j.Failures != nil {
		j.Failures.AddIntegrityFailures(CheckStockReplay, len(mismatches))
	}
	j.Metrics.AddIssues(TaskStockReplayAudit, len(mismatches))
	logger.Info("completed stock replay audit",
		slog.Int("mismatches", len(mismatches)),
		slog.Duration("duration", time.Since(start)),
	)
	if len(mismatches) > 0 {
		return mismatches, fmt.Errorf("%w: %d stock balances drifted", ErrIntegrity, len(mismatches))
	}
	return nil, nil
}
