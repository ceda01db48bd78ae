package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// TxRepository exposes document persistence inside a unit of work.
type TxRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Document, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (Document, error)
	Insert(ctx context.Context, doc Document) (Document, error)
	Update(ctx context.Context, doc Document) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
}

// Tx is the unit of work a document transition runs in.
type Tx interface {
	posting.Tx
	Documents() TxRepository
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// ErrDuplicateNumber indicates the document number is taken.
var ErrDuplicateNumber = errors.New("documents: number already exists")

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds the document tables to an open PostgreSQL
// transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

const documentColumns = `id, kind, number, date, party_id, payment_type, location_id, dest_location_id, status, note, confirmed_at, journal_id, version, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Kind, &d.Number, &d.Date, &d.PartyID, &d.PaymentType, &d.LocationID, &d.DestLocationID,
		&d.Status, &d.Note, &d.ConfirmedAt, &d.JournalID, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *txRepo) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	return r.get(ctx, id, "")
}

func (r *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (Document, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *txRepo) get(ctx context.Context, id uuid.UUID, lock string) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.NotFound("document", id)
		}
		return Document{}, err
	}
	docs := []Document{doc}
	if err := r.attachLines(ctx, docs); err != nil {
		return Document{}, err
	}
	return docs[0], nil
}

func (r *txRepo) Insert(ctx context.Context, doc Document) (Document, error) {
	_, err := r.tx.Exec(ctx, `INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		doc.ID, doc.Kind, doc.Number, doc.Date, doc.PartyID, doc.PaymentType, doc.LocationID, doc.DestLocationID,
		doc.Status, doc.Note, doc.ConfirmedAt, doc.JournalID, doc.Version, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Document{}, ErrDuplicateNumber
		}
		return Document{}, fmt.Errorf("documents: insert: %w", err)
	}
	if err := r.writeLines(ctx, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (r *txRepo) Update(ctx context.Context, doc Document) (Document, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE documents SET number=$2, date=$3, party_id=$4, payment_type=$5, location_id=$6,
dest_location_id=$7, status=$8, note=$9, confirmed_at=$10, journal_id=$11, version=version+1, updated_at=$12 WHERE id=$1`,
		doc.ID, doc.Number, doc.Date, doc.PartyID, doc.PaymentType, doc.LocationID, doc.DestLocationID,
		doc.Status, doc.Note, doc.ConfirmedAt, doc.JournalID, doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Document{}, ErrDuplicateNumber
		}
		return Document{}, err
	}
	if tag.RowsAffected() == 0 {
		return Document{}, shared.NotFound("document", doc.ID)
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id=$1`, doc.ID); err != nil {
		return Document{}, err
	}
	if err := r.writeLines(ctx, &doc); err != nil {
		return Document{}, err
	}
	doc.Version++
	return doc, nil
}

// writeLines inserts doc.Lines keeping existing ids and assigning new ones.
func (r *txRepo) writeLines(ctx context.Context, doc *Document) error {
	for i := range doc.Lines {
		l := &doc.Lines[i]
		var id any
		if l.ID != 0 {
			id = l.ID
		}
		serials := l.Serials
		if serials == nil {
			serials = []string{}
		}
		err := r.tx.QueryRow(ctx, `INSERT INTO document_lines (id, document_id, position, item_id, qty, unit_cost, unit_price, direction, batch_number, expiry_date, serials)
VALUES (COALESCE($1, nextval('document_lines_id_seq')), $2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
			id, doc.ID, i, l.ItemID, l.Qty, l.UnitCost, l.UnitPrice, l.Direction, l.BatchNumber, l.ExpiryDate, serials).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("documents: insert line: %w", err)
		}
	}
	return nil
}

func (r *txRepo) attachLines(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	index := make(map[uuid.UUID]int, len(docs))
	ids := make([]uuid.UUID, 0, len(docs))
	for i, d := range docs {
		index[d.ID] = i
		ids = append(ids, d.ID)
	}
	rows, err := r.tx.Query(ctx, `SELECT document_id, id, item_id, qty, unit_cost, unit_price, direction, batch_number, expiry_date, serials
FROM document_lines WHERE document_id = ANY($1) ORDER BY document_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			docID uuid.UUID
			l     Line
		)
		if err := rows.Scan(&docID, &l.ID, &l.ItemID, &l.Qty, &l.UnitCost, &l.UnitPrice, &l.Direction, &l.BatchNumber, &l.ExpiryDate, &l.Serials); err != nil {
			return err
		}
		d := &docs[index[docID]]
		d.Lines = append(d.Lines, l)
	}
	return rows.Err()
}

func (r *txRepo) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Kind != "" {
		add("kind=$%d", filter.Kind)
	}
	if filter.Status != "" {
		add("status=$%d", filter.Status)
	}
	if !filter.DateFrom.IsZero() {
		add("date>=$%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		add("date<=$%d", filter.DateTo)
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		docs = append(docs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}
