package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository provides the read-side aggregations reconciliation needs. All
// methods are side-effect free; the service fans them out concurrently.
type Repository interface {
	// GLInventoryBalances sums POSTED journal lines per inventory-class
	// account up to asOf.
	GLInventoryBalances(ctx context.Context, asOf time.Time) ([]AccountBreakdown, error)
	// PhysicalValuation sums quantity times the cost fallback chain per
	// product type.
	PhysicalValuation(ctx context.Context) ([]TypeBreakdown, error)
	// InventoryCreditTotals aggregates posted credits to inventory accounts
	// for one reference type, used for double-count detection.
	InventoryCreditTotals(ctx context.Context, asOf time.Time, referenceType string) ([]CreditTotal, error)
	// ClosingData gathers a closed period's net income and the retained
	// earnings credit of its closing entry.
	ClosingData(ctx context.Context, periodID int64, retainedCode string) (ClosingData, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GLInventoryBalances(ctx context.Context, asOf time.Time) ([]AccountBreakdown, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.code, a.name, COALESCE(SUM(l.debit - l.credit), 0)
FROM accounts a
JOIN journal_lines l ON l.account_id = a.id
JOIN journal_entries e ON e.id = l.entry_id
WHERE a.category = 'INVENTORY' AND e.status = 'POSTED' AND e.entry_date <= $1
GROUP BY a.id, a.code, a.name
ORDER BY a.code`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountBreakdown
	for rows.Next() {
		var b AccountBreakdown
		if err := rows.Scan(&b.AccountID, &b.Code, &b.Name, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repository) PhysicalValuation(ctx context.Context) ([]TypeBreakdown, error) {
	rows, err := r.db.Query(ctx, `SELECT v.type, COALESCE(SUM(i.quantity * COALESCE(NULLIF(i.average_cost, 0), v.standard_cost, v.buy_price, 0)), 0)
FROM inventory i
JOIN product_variants v ON v.id = i.product_variant_id
GROUP BY v.type
ORDER BY v.type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TypeBreakdown
	for rows.Next() {
		var b TypeBreakdown
		if err := rows.Scan(&b.ProductType, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repository) InventoryCreditTotals(ctx context.Context, asOf time.Time, referenceType string) ([]CreditTotal, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.code, COALESCE(SUM(l.credit), 0)
FROM accounts a
JOIN journal_lines l ON l.account_id = a.id
JOIN journal_entries e ON e.id = l.entry_id
WHERE a.category = 'INVENTORY' AND e.status = 'POSTED'
  AND e.reference_type = $2 AND e.entry_date <= $1
GROUP BY a.id, a.code
HAVING COALESCE(SUM(l.credit), 0) > 0
ORDER BY a.code`, asOf, referenceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CreditTotal
	for rows.Next() {
		var c CreditTotal
		if err := rows.Scan(&c.AccountID, &c.Code, &c.Amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) ClosingData(ctx context.Context, periodID int64, retainedCode string) (ClosingData, error) {
	var data ClosingData
	err := r.db.QueryRow(ctx, `SELECT id, start_date, end_date, closing_entry_id FROM fiscal_periods WHERE id=$1`, periodID).
		Scan(&data.PeriodID, &data.Start, &data.End, &data.ClosingEntryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ClosingData{}, shared.ErrNotFound
		}
		return ClosingData{}, err
	}

	// Revenue net credit minus expense net debit over the window, closing
	// entries excluded.
	err = r.db.QueryRow(ctx, `SELECT COALESCE(SUM(l.credit - l.debit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.status = 'POSTED' AND e.reference_type <> 'CLOSING'
  AND e.entry_date BETWEEN $1 AND $2
  AND a.type IN ('REVENUE','EXPENSE')`, data.Start, data.End).Scan(&data.NetIncome)
	if err != nil {
		return ClosingData{}, err
	}

	if data.ClosingEntryID != nil {
		err = r.db.QueryRow(ctx, `SELECT COALESCE(SUM(l.credit - l.debit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.id = $1 AND e.status = 'POSTED' AND a.code = $2`, *data.ClosingEntryID, retainedCode).Scan(&data.RetainedCredit)
		if err != nil {
			return ClosingData{}, err
		}
	}
	return data, nil
}
