package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// TxRepository exposes the stock ledger operations available inside a unit of
// work.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	ListEntries(ctx context.Context, filter MovementFilter, after Cursor, limit int) ([]Entry, error)
}

// Tx is a unit of work that can lock keys and reach the stock ledger.
type Tx interface {
	shared.TxLocker
	Stock() TxRepository
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds the stock ledger tables to an open PostgreSQL
// transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

const entryColumns = `id, seq, item_id, location_id, txn_date, source_type, source_id, source_number, qty_in, qty_out, unit_cost, total_cost, remarks, created_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Seq, &e.ItemID, &e.LocationID, &e.TxnDate, &e.SourceType, &e.SourceID, &e.SourceNumber,
		&e.QtyIn, &e.QtyOut, &e.UnitCost, &e.TotalCost, &e.Remarks, &e.CreatedAt)
	return e, err
}

func (r *txRepo) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_entries (id, item_id, location_id, txn_date, source_type, source_id, source_number, qty_in, qty_out, unit_cost, total_cost, remarks, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING seq`,
		e.ID, e.ItemID, e.LocationID, e.TxnDate, e.SourceType, nullUUID(e.SourceID), e.SourceNumber,
		e.QtyIn, e.QtyOut, e.UnitCost, e.TotalCost, e.Remarks, e.CreatedAt).Scan(&e.Seq)
	if err != nil {
		return Entry{}, fmt.Errorf("inventory: insert entry: %w", err)
	}
	return e, nil
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, key Key) (Balance, error) {
	var b Balance
	err := r.tx.QueryRow(ctx, `SELECT item_id, location_id, qty, avg_cost, value, negative, last_seq, last_txn_date, updated_at
FROM stock_balances WHERE item_id=$1 AND location_id=$2 FOR UPDATE`, key.ItemID, key.LocationID).
		Scan(&b.ItemID, &b.LocationID, &b.Qty, &b.AvgCost, &b.Value, &b.Negative, &b.LastSeq, &b.LastTxnDate, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zeroBalance(key), ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (r *txRepo) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (item_id, location_id, qty, avg_cost, value, negative, last_seq, last_txn_date, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (item_id, location_id) DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, value=EXCLUDED.value,
negative=EXCLUDED.negative, last_seq=EXCLUDED.last_seq, last_txn_date=EXCLUDED.last_txn_date, updated_at=EXCLUDED.updated_at`,
		b.ItemID, b.LocationID, b.Qty, b.AvgCost, b.Value, b.Negative, b.LastSeq, b.LastTxnDate, b.UpdatedAt)
	return err
}

func (r *txRepo) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	var (
		where []string
		args  []any
	)
	if filter.ItemID != 0 {
		args = append(args, filter.ItemID)
		where = append(where, fmt.Sprintf("item_id=$%d", len(args)))
	}
	if filter.LocationID != 0 {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("location_id=$%d", len(args)))
	}
	query := `SELECT item_id, location_id, qty, avg_cost, value, negative, last_seq, last_txn_date, updated_at FROM stock_balances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := r.tx.Query(ctx, query+" ORDER BY item_id, location_id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ItemID, &b.LocationID, &b.Qty, &b.AvgCost, &b.Value, &b.Negative, &b.LastSeq, &b.LastTxnDate, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepo) ListEntries(ctx context.Context, filter MovementFilter, after Cursor, limit int) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ItemID != 0 {
		add("item_id=$%d", filter.ItemID)
	}
	if filter.LocationID != 0 {
		add("location_id=$%d", filter.LocationID)
	}
	if filter.SourceType != "" {
		add("source_type=$%d", filter.SourceType)
	}
	if filter.SourceID != uuid.Nil {
		add("source_id=$%d", filter.SourceID)
	}
	if !filter.DateFrom.IsZero() {
		add("txn_date>=$%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		add("txn_date<=$%d", filter.DateTo)
	}
	order := "txn_date, seq"
	if filter.BySeq {
		order = "seq"
		if after.Seq > 0 {
			add("seq>$%d", after.Seq)
		}
	} else if after.Seq > 0 {
		args = append(args, after.TxnDate, after.Seq)
		where = append(where, fmt.Sprintf("(txn_date, seq) > ($%d, $%d)", len(args)-1, len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM stock_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d", order, len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
