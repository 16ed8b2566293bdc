package costing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository provides the read/write surface for cost calculations. BOMs and
// variants are master data the engine does not own; it only updates the
// standard cost field it derives.
type Repository interface {
	GetBom(ctx context.Context, id int64) (Bom, error)
	GetBomByOutput(ctx context.Context, outputVariantID int64) (Bom, error)
	GetVariantCost(ctx context.Context, variantID int64) (VariantCost, error)
	UpdateStandardCost(ctx context.Context, variantID int64, cost decimal.Decimal) error
	GetOrder(ctx context.Context, orderID int64) (ProductionOrder, error)
	OrderIssues(ctx context.Context, orderID int64) ([]OrderIssue, error)
	OrderExecutions(ctx context.Context, orderID int64) ([]OrderExecution, error)
	ListBomIDs(ctx context.Context) ([]int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetBom(ctx context.Context, id int64) (Bom, error) {
	return r.scanBom(ctx, `SELECT id, output_variant_id, output_quantity, created_at, updated_at FROM boms WHERE id=$1`, id)
}

func (r *repository) GetBomByOutput(ctx context.Context, outputVariantID int64) (Bom, error) {
	return r.scanBom(ctx, `SELECT id, output_variant_id, output_quantity, created_at, updated_at FROM boms WHERE output_variant_id=$1`, outputVariantID)
}

func (r *repository) scanBom(ctx context.Context, query string, arg any) (Bom, error) {
	var bom Bom
	err := r.db.QueryRow(ctx, query, arg).Scan(&bom.ID, &bom.OutputVariantID, &bom.OutputQuantity, &bom.CreatedAt, &bom.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bom{}, ErrBomNotFound
		}
		return Bom{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, bom_id, component_variant_id, quantity, scrap_percent
FROM bom_items WHERE bom_id=$1 ORDER BY id`, bom.ID)
	if err != nil {
		return Bom{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item BomItem
		if err := rows.Scan(&item.ID, &item.BomID, &item.ComponentVariantID, &item.Quantity, &item.ScrapPercent); err != nil {
			return Bom{}, err
		}
		bom.Items = append(bom.Items, item)
	}
	return bom, rows.Err()
}

func (r *repository) GetVariantCost(ctx context.Context, variantID int64) (VariantCost, error) {
	var vc VariantCost
	err := r.db.QueryRow(ctx, `SELECT id, sku, standard_cost, buy_price, price FROM product_variants WHERE id=$1`, variantID).
		Scan(&vc.VariantID, &vc.SKU, &vc.StandardCost, &vc.BuyPrice, &vc.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return VariantCost{}, ErrVariantNotFound
	}
	return vc, err
}

func (r *repository) UpdateStandardCost(ctx context.Context, variantID int64, cost decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `UPDATE product_variants SET standard_cost=$2, updated_at=NOW() WHERE id=$1`, variantID, cost)
	return err
}

func (r *repository) GetOrder(ctx context.Context, orderID int64) (ProductionOrder, error) {
	var o ProductionOrder
	err := r.db.QueryRow(ctx, `SELECT id, reference, bom_id, actual_quantity, status FROM production_orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.Reference, &o.BomID, &o.ActualQuantity, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductionOrder{}, ErrOrderNotFound
	}
	return o, err
}

// OrderIssues reads material consumption from the stock movement ledger.
// unit_cost is the average cost captured at issue time; the component's
// standard cost rides along as the fallback.
func (r *repository) OrderIssues(ctx context.Context, orderID int64) ([]OrderIssue, error) {
	rows, err := r.db.Query(ctx, `SELECT m.product_variant_id, m.quantity, m.unit_cost, v.standard_cost
FROM stock_movements m
JOIN product_variants v ON v.id = m.product_variant_id
JOIN production_orders o ON o.reference = m.reference
WHERE o.id = $1 AND m.type = 'OUT'
ORDER BY m.posted_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var issues []OrderIssue
	for rows.Next() {
		var issue OrderIssue
		if err := rows.Scan(&issue.ComponentVariantID, &issue.Quantity, &issue.UnitCost, &issue.StandardCost); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (r *repository) OrderExecutions(ctx context.Context, orderID int64) ([]OrderExecution, error) {
	rows, err := r.db.Query(ctx, `SELECT e.duration_hours, COALESCE(m.cost_per_hour, 0), COALESCE(op.hourly_rate, 0)
FROM production_executions e
LEFT JOIN machines m ON m.id = e.machine_id
LEFT JOIN operators op ON op.id = e.operator_id
WHERE e.order_id = $1
ORDER BY e.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var execs []OrderExecution
	for rows.Next() {
		var ex OrderExecution
		if err := rows.Scan(&ex.DurationHours, &ex.MachineCostPerHour, &ex.OperatorHourlyRate); err != nil {
			return nil, err
		}
		execs = append(execs, ex)
	}
	return execs, rows.Err()
}

func (r *repository) ListBomIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM boms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
