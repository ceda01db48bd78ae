package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository reads items and locations from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Directory = (*Repository)(nil)

// GetItem loads an item.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, unit, category_id, tracking, cost_basis, selling_price, is_active, updated_at
FROM items WHERE id=$1`, id).
		Scan(&it.ID, &it.SKU, &it.Name, &it.Unit, &it.CategoryID, &it.Tracking, &it.CostBasis, &it.SellingPrice, &it.IsActive, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.NotFound("item", id)
		}
		return Item{}, err
	}
	return it, nil
}

// GetLocation loads a location.
func (r *Repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var loc Location
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, is_active, updated_at FROM locations WHERE id=$1`, id).
		Scan(&loc.ID, &loc.Code, &loc.Name, &loc.IsActive, &loc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.NotFound("location", id)
		}
		return Location{}, err
	}
	return loc, nil
}
