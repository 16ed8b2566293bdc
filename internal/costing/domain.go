package costing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Bom describes how one output variant is manufactured from components.
type Bom struct {
	ID              int64
	OutputVariantID int64
	OutputQuantity  decimal.Decimal
	Items           []BomItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BomItem is one component requirement per output batch.
type BomItem struct {
	ID                 int64
	BomID              int64
	ComponentVariantID int64
	Quantity           decimal.Decimal
	ScrapPercent       decimal.Decimal
}

// EffectiveQuantity is the component quantity inflated by expected scrap.
func (i BomItem) EffectiveQuantity() decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(i.ScrapPercent.Div(decimal.NewFromInt(100)))
	return i.Quantity.Mul(factor)
}

// VariantCost carries the configured cost fields of a product variant.
// Roll-up picks the first non-nil of StandardCost, BuyPrice, Price.
type VariantCost struct {
	VariantID    int64
	SKU          string
	StandardCost *decimal.Decimal
	BuyPrice     *decimal.Decimal
	Price        *decimal.Decimal
}

// CostSource names where a component cost was taken from.
type CostSource string

const (
	CostSourceStandard CostSource = "STANDARD_COST"
	CostSourceBuyPrice CostSource = "BUY_PRICE"
	CostSourcePrice    CostSource = "PRICE"
	CostSourceZero     CostSource = "ZERO"
	CostSourceRollUp   CostSource = "ROLL_UP"
)

// CostWarning flags a component whose cost came from a fallback.
type CostWarning struct {
	ComponentVariantID int64      `json:"component_variant_id"`
	SKU                string     `json:"sku"`
	Source             CostSource `json:"source"`
	Message            string     `json:"message"`
}

// RollUpResult is the outcome of a standard cost roll-up.
type RollUpResult struct {
	BomID          int64           `json:"bom_id"`
	OutputVariant  int64           `json:"output_variant_id"`
	TotalBatchCost decimal.Decimal `json:"total_batch_cost"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Warnings       []CostWarning   `json:"warnings,omitempty"`
}

// OrderIssue is one material consumption row of a production order.
type OrderIssue struct {
	ComponentVariantID int64
	Quantity           decimal.Decimal
	UnitCost           *decimal.Decimal
	StandardCost       *decimal.Decimal
}

// OrderExecution is one machine/operator run recorded against an order.
type OrderExecution struct {
	DurationHours      decimal.Decimal
	MachineCostPerHour decimal.Decimal
	OperatorHourlyRate decimal.Decimal
}

// ProductionOrder carries the fields order costing needs.
type ProductionOrder struct {
	ID             int64
	Reference      string
	BomID          int64
	ActualQuantity decimal.Decimal
	Status         string
}

// OrderCost is the COGM breakdown for one production order.
type OrderCost struct {
	OrderID        int64           `json:"order_id"`
	MaterialCost   decimal.Decimal `json:"material_cost"`
	MachineCost    decimal.Decimal `json:"machine_cost"`
	LaborCost      decimal.Decimal `json:"labor_cost"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	ActualQuantity decimal.Decimal `json:"actual_quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	// Pending is set while nothing has been produced yet; UnitCost is zero
	// in that state rather than an error.
	Pending bool `json:"pending"`
}

var (
	ErrBomNotFound     = fmt.Errorf("%w: bom not found", shared.ErrNotFound)
	ErrVariantNotFound = fmt.Errorf("%w: product variant not found", shared.ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("%w: production order not found", shared.ErrNotFound)
	// ErrCyclicBom means a component transitively contains its own output.
	ErrCyclicBom = fmt.Errorf("%w: cyclic bom reference", shared.ErrIntegrity)
	// ErrZeroOutputQty means the bom cannot yield a unit cost.
	ErrZeroOutputQty = fmt.Errorf("%w: bom output quantity is zero", shared.ErrValidation)
	// ErrMissingComponentCost is returned in strict mode instead of the
	// silent zero fallback.
	ErrMissingComponentCost = fmt.Errorf("%w: component has no configured cost", shared.ErrValidation)
)

// MovingAverage recalculates the weighted average cost basis after a receipt.
// A non-positive resulting quantity keeps the incoming unit cost.
func MovingAverage(oldQty, oldAvg, incomingQty, incomingCost decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(incomingQty)
	if newQty.Sign() <= 0 {
		return incomingCost
	}
	total := oldQty.Mul(oldAvg).Add(incomingQty.Mul(incomingCost))
	return total.Div(newQty)
}
