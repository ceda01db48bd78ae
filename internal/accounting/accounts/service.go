package accounts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service manages the chart of accounts.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the account directory.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Create validates the code/type policy and stores a new active account.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Account{}, shared.Validation("name", "required")
	}
	accountType, err := checkCodeType(code, in.Type)
	if err != nil {
		return Account{}, err
	}
	now := s.now()
	account, err := s.repo.Create(ctx, Account{
		Code:           code,
		Name:           name,
		Type:           accountType,
		IsActive:       true,
		OpeningBalance: in.OpeningBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return Account{}, err
	}
	s.logger.Info("account created", slog.Int64("account_id", account.ID), slog.String("code", account.Code))
	return account, nil
}

// Get returns a single account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.Get(ctx, id)
}

// List returns accounts ordered by code.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	return s.repo.List(ctx, filter)
}

// Update applies a patch. Code and type are frozen once the account carries
// journal lines.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Account, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	next := current
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return Account{}, shared.Validation("name", "required")
		}
		next.Name = name
	}
	if in.IsActive != nil {
		next.IsActive = *in.IsActive
	}
	if in.Code != nil {
		next.Code = strings.TrimSpace(*in.Code)
	}
	if in.Type != nil {
		next.Type = *in.Type
	}
	if next.Code != current.Code || next.Type != current.Type {
		used, err := s.repo.HasJournalLines(ctx, id)
		if err != nil {
			return Account{}, err
		}
		if used {
			return Account{}, ErrAccountInUse
		}
		explicit := next.Type
		if in.Type == nil {
			explicit = ""
		}
		if next.Type, err = checkCodeType(next.Code, explicit); err != nil {
			return Account{}, err
		}
	}
	next.UpdatedAt = s.now()
	return s.repo.Update(ctx, next)
}
