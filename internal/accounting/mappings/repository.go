package mappings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository resolves and maintains account mappings.
type Repository interface {
	Get(ctx context.Context, module, key string) (AccountMapping, error)
	Upsert(ctx context.Context, module, key string, accountID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a PostgreSQL-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, errors.New("mappings: module and key required")
	}
	normalized := strings.ToUpper(module)
	var mapping AccountMapping
	err := r.db.QueryRow(ctx, `SELECT module, key, account_id, created_at, updated_at FROM account_mappings WHERE module=$1 AND key=$2`, normalized, key).
		Scan(&mapping.Module, &mapping.Key, &mapping.AccountID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, shared.NotFound("account mapping", normalized+"/"+key)
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

func (r *repository) Upsert(ctx context.Context, module, key string, accountID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_mappings (module, key, account_id) VALUES ($1,$2,$3)
ON CONFLICT (module, key) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()`, strings.ToUpper(module), key, accountID)
	return err
}

// MemoryRepository keeps mappings in process for the embedded store.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]AccountMapping
	now  func() time.Time
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]AccountMapping), now: time.Now}
}

func memoryKey(module, key string) string { return strings.ToUpper(module) + "/" + key }

// Get implements Repository.
func (m *MemoryRepository) Get(_ context.Context, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, errors.New("mappings: module and key required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mapping, ok := m.rows[memoryKey(module, key)]
	if !ok {
		return AccountMapping{}, shared.NotFound("account mapping", memoryKey(module, key))
	}
	return mapping, nil
}

// Upsert implements Repository.
func (m *MemoryRepository) Upsert(_ context.Context, module, key string, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := memoryKey(module, key)
	mapping, ok := m.rows[k]
	if !ok {
		mapping = AccountMapping{Module: strings.ToUpper(module), Key: key, CreatedAt: now}
	}
	mapping.AccountID = accountID
	mapping.UpdatedAt = now
	m.rows[k] = mapping
	return nil
}
