package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists chart of accounts entries.
type Repository interface {
	Create(ctx context.Context, a Account) (Account, error)
	Get(ctx context.Context, id int64) (Account, error)
	List(ctx context.Context, filter ListFilter) ([]Account, error)
	Update(ctx context.Context, a Account) (Account, error)
	HasJournalLines(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a PostgreSQL-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const accountColumns = `id, code, name, type, is_active, opening_balance, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.OpeningBalance, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *repository) Create(ctx context.Context, a Account) (Account, error) {
	out, err := scanAccount(r.db.QueryRow(ctx, `INSERT INTO accounts (code, name, type, is_active, opening_balance)
VALUES ($1,$2,$3,$4,$5) RETURNING `+accountColumns, a.Code, a.Name, a.Type, a.IsActive, a.OpeningBalance))
	if err != nil {
		return Account{}, mapWriteErr(err)
	}
	return out, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NotFound("account", id)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, "type=$1")
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := r.db.Query(ctx, query+" ORDER BY code", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *repository) Update(ctx context.Context, a Account) (Account, error) {
	out, err := scanAccount(r.db.QueryRow(ctx, `UPDATE accounts SET code=$2, name=$3, type=$4, is_active=$5, updated_at=NOW()
WHERE id=$1 RETURNING `+accountColumns, a.ID, a.Code, a.Name, a.Type, a.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NotFound("account", a.ID)
		}
		return Account{}, mapWriteErr(err)
	}
	return out, nil
}

func (r *repository) HasJournalLines(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id=$1)`, id).Scan(&exists)
	return exists, err
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}
