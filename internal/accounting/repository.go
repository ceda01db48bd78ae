package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// TxRepository exposes the general ledger operations available inside a unit
// of work.
type TxRepository interface {
	GetAccount(ctx context.Context, id int64) (accounts.Account, error)
	InsertJournal(ctx context.Context, in PostingInput, postedAt time.Time) (Journal, error)
	LinkSource(ctx context.Context, module string, ref uuid.UUID, journalID int64) error
	GetAccountBalanceForUpdate(ctx context.Context, accountID int64) (AccountBalance, error)
	UpsertAccountBalance(ctx context.Context, balance AccountBalance) error
	GetJournal(ctx context.Context, id int64) (Journal, error)
	ListJournals(ctx context.Context, filter JournalFilter) ([]Journal, error)
	ListAccountBalances(ctx context.Context) ([]AccountBalance, error)
}

// Tx is a unit of work that can lock keys and reach the general ledger.
type Tx interface {
	shared.TxLocker
	Ledger() TxRepository
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the ledger tables to an open PostgreSQL transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	var a accounts.Account
	err := r.tx.QueryRow(ctx, `SELECT id, code, name, type, is_active, opening_balance, created_at, updated_at FROM accounts WHERE id=$1`, id).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsActive, &a.OpeningBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, shared.NotFound("account", id)
		}
		return accounts.Account{}, err
	}
	return a, nil
}

func (r *txRepository) InsertJournal(ctx context.Context, in PostingInput, postedAt time.Time) (Journal, error) {
	j := Journal{
		Date:         in.Date,
		Description:  in.Description,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		ReversalOf:   in.ReversalOf,
		PostedAt:     postedAt,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO journals (number, date, description, source_module, source_id, reversal_of, posted_at)
VALUES ('JV-' || lpad(nextval('journal_number_seq')::text, 6, '0'), $1, $2, $3, $4, $5, $6) RETURNING id, number`,
		in.Date, in.Description, in.SourceModule, nullUUID(in.SourceID), in.ReversalOf, postedAt).Scan(&j.ID, &j.Number)
	if err != nil {
		return Journal{}, fmt.Errorf("accounting: insert journal: %w", err)
	}
	batch := &pgx.Batch{}
	for _, line := range in.Lines {
		batch.Queue(`INSERT INTO journal_lines (journal_id, account_id, debit, credit, memo) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			j.ID, line.AccountID, line.Debit, line.Credit, line.Memo)
	}
	results := r.tx.SendBatch(ctx, batch)
	for _, line := range in.Lines {
		jl := JournalLine{JournalID: j.ID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit, Memo: line.Memo}
		if err := results.QueryRow().Scan(&jl.ID); err != nil {
			_ = results.Close()
			return Journal{}, fmt.Errorf("accounting: insert journal line: %w", err)
		}
		j.Lines = append(j.Lines, jl)
	}
	if err := results.Close(); err != nil {
		return Journal{}, err
	}
	return j, nil
}

func (r *txRepository) LinkSource(ctx context.Context, module string, ref uuid.UUID, journalID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (module, ref_id, journal_id) VALUES ($1,$2,$3)`, module, ref, journalID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_source_links" {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) GetAccountBalanceForUpdate(ctx context.Context, accountID int64) (AccountBalance, error) {
	b := AccountBalance{AccountID: accountID}
	err := r.tx.QueryRow(ctx, `SELECT total_debit, total_credit, updated_at FROM account_balances WHERE account_id=$1 FOR UPDATE`, accountID).
		Scan(&b.TotalDebit, &b.TotalCredit, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountBalance{AccountID: accountID}, ErrBalanceNotFound
		}
		return AccountBalance{}, err
	}
	return b, nil
}

func (r *txRepository) UpsertAccountBalance(ctx context.Context, b AccountBalance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO account_balances (account_id, total_debit, total_credit, updated_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (account_id) DO UPDATE SET total_debit=EXCLUDED.total_debit, total_credit=EXCLUDED.total_credit, updated_at=EXCLUDED.updated_at`,
		b.AccountID, b.TotalDebit, b.TotalCredit, b.UpdatedAt)
	return err
}

const journalColumns = `j.id, j.number, j.date, j.description, j.source_module, COALESCE(j.source_id, '00000000-0000-0000-0000-000000000000'::uuid), j.reversal_of, j.posted_at`

func scanJournal(row pgx.Row) (Journal, error) {
	var j Journal
	err := row.Scan(&j.ID, &j.Number, &j.Date, &j.Description, &j.SourceModule, &j.SourceID, &j.ReversalOf, &j.PostedAt)
	return j, err
}

func (r *txRepository) GetJournal(ctx context.Context, id int64) (Journal, error) {
	j, err := scanJournal(r.tx.QueryRow(ctx, `SELECT `+journalColumns+` FROM journals j WHERE j.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, shared.NotFound("journal", id)
		}
		return Journal{}, err
	}
	if err := r.attachLines(ctx, []*Journal{&j}); err != nil {
		return Journal{}, err
	}
	return j, nil
}

func (r *txRepository) ListJournals(ctx context.Context, filter JournalFilter) ([]Journal, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !filter.DateFrom.IsZero() {
		add("j.date>=$%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		add("j.date<=$%d", filter.DateTo)
	}
	if filter.AccountID != 0 {
		add("EXISTS (SELECT 1 FROM journal_lines l WHERE l.journal_id=j.id AND l.account_id=$%d)", filter.AccountID)
	}
	if filter.SourceID != uuid.Nil {
		add("j.source_id=$%d", filter.SourceID)
	}
	query := `SELECT ` + journalColumns + ` FROM journals j`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY j.date, j.id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var journals []Journal
	for rows.Next() {
		j, err := scanJournal(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		journals = append(journals, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*Journal, len(journals))
	for i := range journals {
		ptrs[i] = &journals[i]
	}
	if err := r.attachLines(ctx, ptrs); err != nil {
		return nil, err
	}
	return journals, nil
}

func (r *txRepository) attachLines(ctx context.Context, journals []*Journal) error {
	if len(journals) == 0 {
		return nil
	}
	byID := make(map[int64]*Journal, len(journals))
	ids := make([]int64, 0, len(journals))
	for _, j := range journals {
		byID[j.ID] = j
		ids = append(ids, j.ID)
	}
	rows, err := r.tx.Query(ctx, `SELECT id, journal_id, account_id, debit, credit, memo FROM journal_lines WHERE journal_id = ANY($1) ORDER BY journal_id, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.JournalID, &l.AccountID, &l.Debit, &l.Credit, &l.Memo); err != nil {
			return err
		}
		j := byID[l.JournalID]
		j.Lines = append(j.Lines, l)
	}
	return rows.Err()
}

func (r *txRepository) ListAccountBalances(ctx context.Context) ([]AccountBalance, error) {
	rows, err := r.tx.Query(ctx, `SELECT account_id, total_debit, total_credit, updated_at FROM account_balances ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.AccountID, &b.TotalDebit, &b.TotalCredit, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
