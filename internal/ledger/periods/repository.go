package periods

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AccountNet aggregates posted debits minus credits for one account.
type AccountNet struct {
	AccountID int64
	Code      string
	Type      accounts.AccountType
	Net       decimal.Decimal
}

// ClosingLine is one leg of the generated closing entry.
type ClosingLine struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// ClosingEntry is the journal document emitted by a period close. Reference
// carries the period key (e.g. "2026-01") so the entry can be traced back to
// its period without parsing the description.
type ClosingEntry struct {
	Date        time.Time
	Description string
	Reference   string
	ReferenceID uuid.UUID
	CreatedBy   int64
	PostedAt    time.Time
	Lines       []ClosingLine
}

// Repository encapsulates DB operations for fiscal periods.
type Repository interface {
	List(ctx context.Context, year int) ([]Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	FindByDate(ctx context.Context, date time.Time) (Period, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction. Closing a
// period writes the closing journal entry through the same transaction so the
// status flip and the entry commit or roll back together.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Period, error)
	ExistsForYear(ctx context.Context, year int) (bool, error)
	InsertPeriods(ctx context.Context, periods []Period) error
	RevenueExpenseNet(ctx context.Context, start, end time.Time) ([]AccountNet, error)
	InsertClosingEntry(ctx context.Context, entry ClosingEntry) (int64, error)
	MarkClosed(ctx context.Context, id int64, closedBy int64, closedAt time.Time, closingEntryID *int64) error
	MarkReopened(ctx context.Context, id int64) error
	VoidJournalEntry(ctx context.Context, entryID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, year, month, start_date, end_date, status, closed_by, closed_at, closing_entry_id, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Year, &p.Month, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedBy, &p.ClosedAt, &p.ClosingEntryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context, year int) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE year=$1 ORDER BY month`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.ID, &p.Year, &p.Month, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedBy, &p.ClosedAt, &p.ClosingEntryID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE id=$1`, id))
}

func (r *repository) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date))
	if errors.Is(err, shared.ErrNotFound) {
		return Period{}, ErrNoPeriodForDate
	}
	return p, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) ExistsForYear(ctx context.Context, year int) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fiscal_periods WHERE year=$1)`, year).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertPeriods(ctx context.Context, periods []Period) error {
	for _, p := range periods {
		if _, err := r.tx.Exec(ctx, `INSERT INTO fiscal_periods (year, month, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5)`, p.Year, p.Month, p.StartDate, p.EndDate, p.Status); err != nil {
			return err
		}
	}
	return nil
}

// RevenueExpenseNet sums posted lines for revenue/expense accounts over the
// window, skipping CLOSING entries so a re-run never compounds a prior close.
func (r *txRepository) RevenueExpenseNet(ctx context.Context, start, end time.Time) ([]AccountNet, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.code, a.type, COALESCE(SUM(l.debit - l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.status = 'POSTED'
  AND e.reference_type <> 'CLOSING'
  AND e.entry_date BETWEEN $1 AND $2
  AND a.type IN ('REVENUE','EXPENSE')
GROUP BY a.id, a.code, a.type
ORDER BY a.code`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nets []AccountNet
	for rows.Next() {
		var n AccountNet
		if err := rows.Scan(&n.AccountID, &n.Code, &n.Type, &n.Net); err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, rows.Err()
}

func (r *txRepository) InsertClosingEntry(ctx context.Context, entry ClosingEntry) (int64, error) {
	var entryID int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (entry_date, description, reference, reference_type, reference_id, status, created_by, posted_at)
VALUES ($1,$2,$3,'CLOSING',$4,'POSTED',$5,$6) RETURNING id`,
		entry.Date, entry.Description, entry.Reference, entry.ReferenceID, entry.CreatedBy, entry.PostedAt).Scan(&entryID)
	if err != nil {
		return 0, err
	}
	for _, line := range entry.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5)`, entryID, line.AccountID, line.Debit, line.Credit, line.Description); err != nil {
			return 0, err
		}
	}
	return entryID, nil
}

func (r *txRepository) MarkClosed(ctx context.Context, id int64, closedBy int64, closedAt time.Time, closingEntryID *int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_periods SET status='CLOSED', closed_by=$2, closed_at=$3, closing_entry_id=$4, updated_at=NOW() WHERE id=$1`,
		id, closedBy, closedAt, closingEntryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) MarkReopened(ctx context.Context, id int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_periods SET status='OPEN', closed_by=NULL, closed_at=NULL, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) VoidJournalEntry(ctx context.Context, entryID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='VOIDED', updated_at=NOW() WHERE id=$1 AND status='POSTED'`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
