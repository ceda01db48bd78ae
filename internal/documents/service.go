package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/ids"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics observes confirmation outcomes.
type Metrics interface {
	ObserveConfirm(kind, outcome string, elapsed time.Duration)
}

// Config groups optional settings.
type Config struct {
	// RetryBase is the initial backoff before the single retry after a
	// concurrency conflict.
	RetryBase time.Duration
	Audit     AuditPort
	Cache     shared.ReadCache
	Metrics   Metrics
	Logger    *slog.Logger
}

// Service controls the document lifecycle.
type Service struct {
	repo         RepositoryPort
	orchestrator *posting.Orchestrator
	directory    masterdata.Directory
	audit        AuditPort
	cache        shared.ReadCache
	metrics      Metrics
	logger       *slog.Logger
	retryBase    time.Duration
	now          func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, orchestrator *posting.Orchestrator, directory masterdata.Directory, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = 25 * time.Millisecond
	}
	return &Service{
		repo:         repo,
		orchestrator: orchestrator,
		directory:    directory,
		audit:        cfg.Audit,
		cache:        cfg.Cache,
		metrics:      cfg.Metrics,
		logger:       logger,
		retryBase:    base,
		now:          time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create stores a new draft. A number is generated when absent.
func (s *Service) Create(ctx context.Context, in CreateInput) (Document, error) {
	if !in.Kind.Valid() {
		return Document{}, shared.Validation("kind", "unknown document kind "+string(in.Kind))
	}
	if in.LocationID == 0 {
		return Document{}, shared.Validation("location_id", "required")
	}
	now := s.now().UTC()
	doc := Document{
		ID:             uuid.New(),
		Kind:           in.Kind,
		Number:         in.Number,
		Date:           in.Date,
		PartyID:        in.PartyID,
		PaymentType:    in.PaymentType,
		LocationID:     in.LocationID,
		DestLocationID: in.DestLocationID,
		Status:         StatusDraft,
		Note:           in.Note,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if doc.Number == "" {
		doc.Number = ids.DocumentNumber(in.Kind.NumberPrefix())
	}
	if doc.Date.IsZero() {
		doc.Date = now.Truncate(24 * time.Hour)
	}
	for i, l := range in.Lines {
		if err := checkLineInput(l); err != nil {
			return Document{}, fmt.Errorf("lines[%d]: %w", i, err)
		}
		doc.Lines = append(doc.Lines, l.toLine())
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		doc, err = tx.Documents().Insert(ctx, doc)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, "document.create", doc, map[string]any{"kind": doc.Kind, "number": doc.Number})
	return doc, nil
}

func checkLineInput(l LineInput) error {
	if l.ItemID == 0 {
		return shared.Validation("item_id", "required")
	}
	if !l.Qty.IsPositive() {
		return shared.Validation("qty", "must be positive")
	}
	if !money.IsQty(l.Qty) {
		return shared.Validation("qty", "at most 4 decimal places")
	}
	if l.UnitCost.IsNegative() || l.UnitPrice.IsNegative() {
		return shared.Validation("unit_cost", "must not be negative")
	}
	return nil
}

// editDraft loads the document under its lock and applies fn when it is
// still a draft.
func (s *Service) editDraft(ctx context.Context, id uuid.UUID, fn func(*Document) error) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockKeys(ctx, shared.DocumentKey(id.String())); err != nil {
			return err
		}
		current, err := tx.Documents().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return ErrInvalidState
		}
		if err := fn(&current); err != nil {
			return err
		}
		current.UpdatedAt = s.now().UTC()
		doc, err = tx.Documents().Update(ctx, current)
		return err
	})
	return doc, err
}

// UpdateHeader patches header fields of a draft.
func (s *Service) UpdateHeader(ctx context.Context, id uuid.UUID, in HeaderInput) (Document, error) {
	return s.editDraft(ctx, id, func(d *Document) error {
		if in.Number != nil {
			if *in.Number == "" {
				return shared.Validation("number", "must not be empty")
			}
			d.Number = *in.Number
		}
		if in.Date != nil {
			d.Date = *in.Date
		}
		if in.PartyID != nil {
			d.PartyID = *in.PartyID
		}
		if in.PaymentType != nil {
			d.PaymentType = *in.PaymentType
		}
		if in.LocationID != nil {
			if *in.LocationID == 0 {
				return shared.Validation("location_id", "required")
			}
			d.LocationID = *in.LocationID
		}
		if in.DestLocationID != nil {
			d.DestLocationID = *in.DestLocationID
		}
		if in.Note != nil {
			d.Note = *in.Note
		}
		return nil
	})
}

// AddLine appends a line to a draft.
func (s *Service) AddLine(ctx context.Context, id uuid.UUID, in LineInput) (Document, error) {
	if err := checkLineInput(in); err != nil {
		return Document{}, err
	}
	return s.editDraft(ctx, id, func(d *Document) error {
		d.Lines = append(d.Lines, in.toLine())
		return nil
	})
}

// UpdateLine replaces a line of a draft.
func (s *Service) UpdateLine(ctx context.Context, id uuid.UUID, lineID int64, in LineInput) (Document, error) {
	if err := checkLineInput(in); err != nil {
		return Document{}, err
	}
	return s.editDraft(ctx, id, func(d *Document) error {
		for i := range d.Lines {
			if d.Lines[i].ID == lineID {
				line := in.toLine()
				line.ID = lineID
				d.Lines[i] = line
				return nil
			}
		}
		return shared.NotFound("document line", lineID)
	})
}

// RemoveLine deletes a line from a draft.
func (s *Service) RemoveLine(ctx context.Context, id uuid.UUID, lineID int64) (Document, error) {
	return s.editDraft(ctx, id, func(d *Document) error {
		for i := range d.Lines {
			if d.Lines[i].ID == lineID {
				d.Lines = append(d.Lines[:i], d.Lines[i+1:]...)
				return nil
			}
		}
		return shared.NotFound("document line", lineID)
	})
}

// GetByID returns a document with its lines.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		doc, err = tx.Documents().Get(ctx, id)
		return err
	})
	return doc, err
}

// List returns documents matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	var docs []Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		docs, err = tx.Documents().List(ctx, filter)
		return err
	})
	return docs, err
}

func (s *Service) recordAudit(ctx context.Context, action string, doc Document, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "document", EntityID: doc.ID.String(), Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
