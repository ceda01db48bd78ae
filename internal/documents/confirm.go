package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Confirm posts a draft to both ledgers and marks it CONFIRMED. A
// concurrency conflict is retried once after a jittered backoff; every
// other failure leaves the document a draft with no ledger effects.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (Confirmation, error) {
	started := time.Now()
	var result Confirmation
	attempt := 0
	op := func() error {
		attempt++
		var err error
		result, err = s.confirmOnce(ctx, id)
		if err == nil || errors.Is(err, shared.ErrConcurrencyConflict) {
			if err != nil {
				s.logger.Warn("document confirm conflict",
					slog.String("document_id", id.String()),
					slog.Int("attempt", attempt),
					slog.Any("error", err),
				)
			}
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.retryPolicy(), 1), ctx))
	kind := string(result.Document.Kind)
	if err != nil {
		s.observe(kind, outcomeOf(err), started)
		return Confirmation{}, err
	}
	s.observe(kind, "confirmed", started)
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("cache bump failed", slog.Any("error", err))
		}
	}
	meta := map[string]any{
		"kind":    result.Document.Kind,
		"number":  result.Document.Number,
		"entries": len(result.Entries),
	}
	if result.Journal != nil {
		meta["journal_id"] = result.Journal.ID
		meta["journal_number"] = result.Journal.Number
	}
	s.recordAudit(ctx, "document.confirm", result.Document, meta)
	s.logger.Info("document confirmed",
		slog.String("document_id", id.String()),
		slog.String("kind", kind),
		slog.String("number", result.Document.Number),
		slog.Int("entries", len(result.Entries)),
		slog.Int("attempts", attempt),
	)
	return result, nil
}

func (s *Service) retryPolicy() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.retryBase,
		RandomizationFactor: 1,
		Multiplier:          2,
		MaxInterval:         s.retryBase * 8,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (s *Service) confirmOnce(ctx context.Context, id uuid.UUID) (Confirmation, error) {
	var result Confirmation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockKeys(ctx, shared.DocumentKey(id.String())); err != nil {
			return err
		}
		doc, err := tx.Documents().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		result.Document = doc
		if doc.Status == StatusConfirmed {
			return ErrAlreadyConfirmed
		}
		items, err := s.checkLines(ctx, doc)
		if err != nil {
			return err
		}
		if err := ValidateTracking(doc, items); err != nil {
			return err
		}
		posted, err := s.orchestrator.Post(ctx, tx, doc.toPosting())
		if err != nil {
			return err
		}
		now := s.now().UTC()
		doc.Status = StatusConfirmed
		doc.ConfirmedAt = &now
		doc.UpdatedAt = now
		if posted.Journal != nil {
			doc.JournalID = &posted.Journal.ID
		}
		doc, err = tx.Documents().Update(ctx, doc)
		if err != nil {
			return err
		}
		result = Confirmation{Document: doc, Entries: posted.Entries, Journal: posted.Journal}
		return nil
	})
	return result, err
}

// checkLines verifies every referenced item and location exists and is
// active, returning the items keyed by id.
func (s *Service) checkLines(ctx context.Context, doc Document) (map[int64]masterdata.Item, error) {
	if len(doc.Lines) == 0 {
		return nil, shared.Validation("lines", "document has no lines")
	}
	locations := []int64{doc.LocationID}
	if doc.DestLocationID != 0 {
		locations = append(locations, doc.DestLocationID)
	}
	items := make(map[int64]masterdata.Item, len(doc.Lines))
	for i, line := range doc.Lines {
		if !line.Qty.IsPositive() {
			return nil, shared.Validation(fmt.Sprintf("lines[%d].qty", i), "must be positive")
		}
		if !money.IsQty(line.Qty) {
			return nil, shared.Validation(fmt.Sprintf("lines[%d].qty", i), "at most 4 decimal places")
		}
		for _, loc := range locations {
			if err := inventory.CheckReferences(ctx, s.directory, line.ItemID, loc); err != nil {
				return nil, asValidation(fmt.Sprintf("lines[%d]", i), err)
			}
		}
		if _, ok := items[line.ItemID]; ok {
			continue
		}
		item, err := s.directory.GetItem(ctx, line.ItemID)
		if err != nil {
			return nil, asValidation(fmt.Sprintf("lines[%d].item_id", i), err)
		}
		items[line.ItemID] = item
	}
	return items, nil
}

// asValidation reports a dangling reference as invalid input.
func asValidation(field string, err error) error {
	var nf *shared.NotFoundError
	if errors.As(err, &nf) {
		return &shared.ValidationError{Field: field, Reason: nf.Error(), Cause: err}
	}
	return err
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyConfirmed):
		return "already_confirmed"
	case errors.Is(err, shared.ErrTracking):
		return "tracking_invalid"
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound):
		return "invalid"
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, shared.ErrUnbalanced):
		return "unbalanced"
	default:
		return "error"
	}
}

func (s *Service) observe(kind, outcome string, started time.Time) {
	if s.metrics == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	s.metrics.ObserveConfirm(kind, outcome, time.Since(started))
}
