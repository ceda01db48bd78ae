// Package postgres runs units of work in PostgreSQL transactions. Key locks
// are transaction scoped advisory locks taken in sorted order.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Config tunes the store.
type Config struct {
	// TxTimeout bounds a whole unit of work.
	TxTimeout time.Duration
	// LockTimeout bounds each lock wait inside a unit of work.
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// Store implements the repository ports over a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	cfg    Config
	logger *slog.Logger
}

// New wraps pool.
func New(pool *pgxpool.Pool, cfg Config) *Store {
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 10 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, cfg: cfg, logger: logger}
}

// Inventory exposes the stock ledger port.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryPort{s} }

// Ledger exposes the general ledger port.
func (s *Store) Ledger() accounting.RepositoryPort { return ledgerPort{s} }

// Documents exposes the document port.
func (s *Store) Documents() documents.RepositoryPort { return documentPort{s} }

// Accounts exposes the chart of accounts.
func (s *Store) Accounts() accounts.Repository { return accounts.NewRepository(s.pool) }

// Mappings exposes the posting account mappings.
func (s *Store) Mappings() mappings.Repository { return mappings.NewRepository(s.pool) }

// Directory exposes items and locations.
func (s *Store) Directory() masterdata.Directory { return masterdata.NewRepository(s.pool) }

type inventoryPort struct{ s *Store }

func (p inventoryPort) WithTx(ctx context.Context, fn func(context.Context, inventory.Tx) error) error {
	return p.s.run(ctx, func(ctx context.Context, u *unit) error { return fn(ctx, u) })
}

type ledgerPort struct{ s *Store }

func (p ledgerPort) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	return p.s.run(ctx, func(ctx context.Context, u *unit) error { return fn(ctx, u) })
}

type documentPort struct{ s *Store }

func (p documentPort) WithTx(ctx context.Context, fn func(context.Context, documents.Tx) error) error {
	return p.s.run(ctx, func(ctx context.Context, u *unit) error { return fn(ctx, u) })
}

func (s *Store) run(ctx context.Context, fn func(context.Context, *unit) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()
	return db.WithTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.cfg.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, timeout); err != nil {
			return fmt.Errorf("store/postgres: set lock timeout: %w", err)
		}
		return fn(ctx, &unit{
			tx:     tx,
			held:   make(map[string]struct{}),
			logger: s.logger,
			stock:  inventory.NewTxRepository(tx),
			ledger: accounting.NewTxRepository(tx),
			docs:   documents.NewTxRepository(tx),
		})
	})
}

type unit struct {
	tx     pgx.Tx
	held   map[string]struct{}
	logger *slog.Logger
	stock  inventory.TxRepository
	ledger accounting.TxRepository
	docs   documents.TxRepository
}

// LockKeys takes an advisory lock per key. Keys already held are skipped.
func (u *unit) LockKeys(ctx context.Context, keys ...string) error {
	for _, key := range shared.SortKeys(keys) {
		if _, ok := u.held[key]; ok {
			continue
		}
		if _, err := u.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			err = db.MapError(err)
			if ctx.Err() != nil {
				err = &shared.ConcurrencyConflictError{Key: key, Err: ctx.Err()}
			}
			u.logger.Warn("advisory lock failed", slog.String("key", key), slog.Any("error", err))
			return err
		}
		u.held[key] = struct{}{}
	}
	return nil
}

func (u *unit) Stock() inventory.TxRepository     { return u.stock }
func (u *unit) Ledger() accounting.TxRepository   { return u.ledger }
func (u *unit) Documents() documents.TxRepository { return u.docs }

var _ documents.Tx = (*unit)(nil)
