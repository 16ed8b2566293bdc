package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// GLLine is one leg of the journal entry a movement emits.
type GLLine struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// GLEntry is the balanced journal document written in the same transaction as
// the movement.
type GLEntry struct {
	Date          time.Time
	Description   string
	Reference     string
	ReferenceType string
	ReferenceID   uuid.UUID
	CreatedBy     int64
	Lines         []GLLine
}

// Repository encapsulates stock DB operations.
type Repository interface {
	GetInventory(ctx context.Context, locationID, variantID int64) (Inventory, error)
	ListInventory(ctx context.Context, locationID *int64) ([]Inventory, error)
	ListMovements(ctx context.Context, filter LedgerFilter) ([]Movement, error)
	// OpeningBalance sums signed movement effects strictly before the given
	// instant, so a ledger page is a pure function of stored movements.
	OpeningBalance(ctx context.Context, variantID int64, locationID *int64, before time.Time) (decimal.Decimal, error)
	GetReservation(ctx context.Context, id int64) (Reservation, error)
	ActiveReservedQty(ctx context.Context, locationID, variantID int64) (decimal.Decimal, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the transactional surface. A movement insert, its inventory
// update and its journal entry commit or roll back together.
type TxRepository interface {
	GetInventoryForUpdate(ctx context.Context, locationID, variantID int64) (Inventory, error)
	UpsertInventory(ctx context.Context, inv Inventory) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	FindPeriodByDateForUpdate(ctx context.Context, date time.Time) (periods.Period, error)
	InsertJournalEntry(ctx context.Context, entry GLEntry) (int64, error)
	InsertReservation(ctx context.Context, res Reservation) (int64, error)
	GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, id int64, status ReservationStatus) error
	ActiveReservedQty(ctx context.Context, locationID, variantID int64) (decimal.Decimal, error)
	WaitingReservations(ctx context.Context, locationID, variantID int64) ([]Reservation, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const movementColumns = `id, type, product_variant_id, quantity, unit_cost, from_location_id, to_location_id, reference, reference_id, note, posted_at, created_by, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.Type, &m.ProductVariantID, &m.Quantity, &m.UnitCost, &m.FromLocationID, &m.ToLocationID,
		&m.Reference, &m.ReferenceID, &m.Note, &m.PostedAt, &m.CreatedBy, &m.CreatedAt)
	return m, err
}

func (r *repository) GetInventory(ctx context.Context, locationID, variantID int64) (Inventory, error) {
	return scanInventory(r.db.QueryRow(ctx, `SELECT location_id, product_variant_id, quantity, average_cost, updated_at
FROM inventory WHERE location_id=$1 AND product_variant_id=$2`, locationID, variantID))
}

func scanInventory(row pgx.Row) (Inventory, error) {
	var inv Inventory
	err := row.Scan(&inv.LocationID, &inv.ProductVariantID, &inv.Quantity, &inv.AverageCost, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Inventory{}, ErrInventoryNotFound
	}
	return inv, err
}

func (r *repository) ListInventory(ctx context.Context, locationID *int64) ([]Inventory, error) {
	rows, err := r.db.Query(ctx, `SELECT location_id, product_variant_id, quantity, average_cost, updated_at
FROM inventory WHERE ($1::bigint IS NULL OR location_id=$1) ORDER BY location_id, product_variant_id`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Inventory
	for rows.Next() {
		var inv Inventory
		if err := rows.Scan(&inv.LocationID, &inv.ProductVariantID, &inv.Quantity, &inv.AverageCost, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

func (r *repository) ListMovements(ctx context.Context, filter LedgerFilter) ([]Movement, error) {
	rows, err := r.db.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE product_variant_id=$1
  AND posted_at >= $2 AND posted_at <= $3
  AND ($4::bigint IS NULL OR from_location_id=$4 OR to_location_id=$4)
ORDER BY posted_at, id`, filter.ProductVariantID, filter.From, filter.To, filter.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *repository) OpeningBalance(ctx context.Context, variantID int64, locationID *int64, before time.Time) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(
  CASE
    WHEN $2::bigint IS NULL THEN CASE WHEN to_location_id IS NOT NULL AND from_location_id IS NOT NULL THEN 0
                                      WHEN to_location_id IS NOT NULL THEN quantity
                                      ELSE -quantity END
    WHEN to_location_id=$2 THEN quantity
    WHEN from_location_id=$2 THEN -quantity
    ELSE 0
  END), 0)
FROM stock_movements
WHERE product_variant_id=$1 AND posted_at < $3`, variantID, locationID, before).Scan(&balance)
	return balance, err
}

func (r *repository) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	return scanReservation(r.db.QueryRow(ctx, `SELECT id, location_id, product_variant_id, quantity, status, reference, created_at, updated_at
FROM stock_reservations WHERE id=$1`, id))
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var res Reservation
	err := row.Scan(&res.ID, &res.LocationID, &res.ProductVariantID, &res.Quantity, &res.Status, &res.Reference, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return res, err
}

func (r *repository) ActiveReservedQty(ctx context.Context, locationID, variantID int64) (decimal.Decimal, error) {
	return activeReservedQty(ctx, r.db, locationID, variantID)
}

func activeReservedQty(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, locationID, variantID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
WHERE location_id=$1 AND product_variant_id=$2 AND status='ACTIVE'`, locationID, variantID).Scan(&qty)
	return qty, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetInventoryForUpdate(ctx context.Context, locationID, variantID int64) (Inventory, error) {
	return scanInventory(r.tx.QueryRow(ctx, `SELECT location_id, product_variant_id, quantity, average_cost, updated_at
FROM inventory WHERE location_id=$1 AND product_variant_id=$2 FOR UPDATE`, locationID, variantID))
}

func (r *txRepository) UpsertInventory(ctx context.Context, inv Inventory) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory (location_id, product_variant_id, quantity, average_cost, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (location_id, product_variant_id)
DO UPDATE SET quantity=EXCLUDED.quantity, average_cost=EXCLUDED.average_cost, updated_at=NOW()`,
		inv.LocationID, inv.ProductVariantID, inv.Quantity, inv.AverageCost)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements
(type, product_variant_id, quantity, unit_cost, from_location_id, to_location_id, reference, reference_id, note, posted_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		m.Type, m.ProductVariantID, m.Quantity, m.UnitCost, m.FromLocationID, m.ToLocationID,
		m.Reference, m.ReferenceID, m.Note, m.PostedAt, m.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) FindPeriodByDateForUpdate(ctx context.Context, date time.Time) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, year, month, start_date, end_date, status, closed_by, closed_at, closing_entry_id, created_at, updated_at
FROM fiscal_periods WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1 FOR UPDATE`, date).
		Scan(&p.ID, &p.Year, &p.Month, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedBy, &p.ClosedAt, &p.ClosingEntryID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, periods.ErrNoPeriodForDate
		}
		return periods.Period{}, err
	}
	return p, nil
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry GLEntry) (int64, error) {
	var entryID int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (entry_date, description, reference, reference_type, reference_id, status, created_by, posted_at)
VALUES ($1,$2,$3,$4,$5,'POSTED',$6,NOW()) RETURNING id`,
		entry.Date, entry.Description, entry.Reference, entry.ReferenceType, entry.ReferenceID, entry.CreatedBy).Scan(&entryID)
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

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_reservations (location_id, product_variant_id, quantity, status, reference)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		res.LocationID, res.ProductVariantID, res.Quantity, res.Status, res.Reference).Scan(&id)
	return id, err
}

func (r *txRepository) GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error) {
	return scanReservation(r.tx.QueryRow(ctx, `SELECT id, location_id, product_variant_id, quantity, status, reference, created_at, updated_at
FROM stock_reservations WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateReservationStatus(ctx context.Context, id int64, status ReservationStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE stock_reservations SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (r *txRepository) ActiveReservedQty(ctx context.Context, locationID, variantID int64) (decimal.Decimal, error) {
	return activeReservedQty(ctx, r.tx, locationID, variantID)
}

// WaitingReservations locks the WAITING queue in FIFO order so two concurrent
// re-evaluations never activate the same demand twice.
func (r *txRepository) WaitingReservations(ctx context.Context, locationID, variantID int64) ([]Reservation, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, location_id, product_variant_id, quantity, status, reference, created_at, updated_at
FROM stock_reservations
WHERE location_id=$1 AND product_variant_id=$2 AND status='WAITING'
ORDER BY created_at, id
FOR UPDATE`, locationID, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var waiting []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.LocationID, &res.ProductVariantID, &res.Quantity, &res.Status, &res.Reference, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		waiting = append(waiting, res)
	}
	return waiting, rows.Err()
}
