// Package memory is an embedded store: every unit of work stages its writes
// and publishes them atomically on commit. Key locks come from a process-wide
// shared.KeyLocker.
package memory

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DefaultLockTimeout bounds how long a unit of work waits for one key.
const DefaultLockTimeout = 5 * time.Second

// Store holds committed ledger state.
type Store struct {
	locker      *shared.KeyLocker
	lockTimeout time.Duration
	logger      *slog.Logger

	mu        sync.RWMutex
	entries   []inventory.Entry
	stock     map[inventory.Key]inventory.Balance
	accounts  map[int64]accounts.Account
	journals  map[int64]accounting.Journal
	balances  map[int64]accounting.AccountBalance
	links     map[string]int64
	docs      map[uuid.UUID]documents.Document
	docNumber map[string]uuid.UUID

	entrySeq   atomic.Int64
	journalSeq atomic.Int64
	lineSeq    atomic.Int64
	docLineSeq atomic.Int64
	accountSeq atomic.Int64
}

// Option customises a Store.
type Option func(*Store)

// WithLockTimeout sets the per-key wait after which a unit of work fails
// with a ConcurrencyConflictError.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		locker:      shared.NewKeyLocker(),
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
		stock:       make(map[inventory.Key]inventory.Balance),
		accounts:    make(map[int64]accounts.Account),
		journals:    make(map[int64]accounting.Journal),
		balances:    make(map[int64]accounting.AccountBalance),
		links:       make(map[string]int64),
		docs:        make(map[uuid.UUID]documents.Document),
		docNumber:   make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inventory exposes the stock ledger port.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryPort{s} }

// Ledger exposes the general ledger port.
func (s *Store) Ledger() accounting.RepositoryPort { return ledgerPort{s} }

// Documents exposes the document port. Its units of work also reach both
// ledgers.
func (s *Store) Documents() documents.RepositoryPort { return documentPort{s} }

// Accounts exposes the chart of accounts.
func (s *Store) Accounts() accounts.Repository { return accountRepo{s} }

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

// run executes fn in a fresh unit of work. Staged writes are published only
// when fn succeeds; locks are released afterwards either way.
func (s *Store) run(ctx context.Context, fn func(context.Context, *unit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := newUnit(s)
	defer u.held.ReleaseAll()
	if err := fn(ctx, u); err != nil {
		return err
	}
	s.commit(u)
	return nil
}

func (s *Store) commit(u *unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(u.entries) > 0 {
		s.entries = append(s.entries, u.entries...)
		slices.SortFunc(s.entries, func(a, b inventory.Entry) int { return cmp.Compare(a.Seq, b.Seq) })
	}
	for k, b := range u.stock {
		s.stock[k] = b
	}
	for _, j := range u.journals {
		s.journals[j.ID] = j
	}
	for id, b := range u.balances {
		s.balances[id] = b
	}
	for k, id := range u.links {
		s.links[k] = id
	}
	for id, d := range u.docs {
		if prev, ok := s.docs[id]; ok && prev.Number != d.Number {
			delete(s.docNumber, prev.Number)
		}
		s.docs[id] = d
		s.docNumber[d.Number] = id
	}
}

// unit is one unit of work. It satisfies inventory.Tx, accounting.Tx and
// documents.Tx.
type unit struct {
	s    *Store
	held *shared.HeldKeys

	entries  []inventory.Entry
	stock    map[inventory.Key]inventory.Balance
	journals []accounting.Journal
	balances map[int64]accounting.AccountBalance
	links    map[string]int64
	docs     map[uuid.UUID]documents.Document
}

func newUnit(s *Store) *unit {
	return &unit{
		s:        s,
		held:     shared.NewHeldKeys(s.locker),
		stock:    make(map[inventory.Key]inventory.Balance),
		balances: make(map[int64]accounting.AccountBalance),
		links:    make(map[string]int64),
		docs:     make(map[uuid.UUID]documents.Document),
	}
}

// LockKeys implements shared.TxLocker. Each call waits at most the store's
// lock timeout.
func (u *unit) LockKeys(ctx context.Context, keys ...string) error {
	lctx, cancel := context.WithTimeout(ctx, u.s.lockTimeout)
	defer cancel()
	if err := u.held.LockKeys(lctx, keys...); err != nil {
		u.s.logger.Warn("lock wait exceeded", slog.Any("keys", keys), slog.Any("error", err))
		return err
	}
	return nil
}

func (u *unit) Stock() inventory.TxRepository     { return stockRepo{u} }
func (u *unit) Ledger() accounting.TxRepository   { return ledgerRepo{u} }
func (u *unit) Documents() documents.TxRepository { return documentRepo{u} }

var _ documents.Tx = (*unit)(nil)
