package stock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn is an inbound receipt into a location.
	MovementIn MovementType = "IN"
	// MovementOut is an outbound issue from a location.
	MovementOut MovementType = "OUT"
	// MovementTransfer moves stock between two locations.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAdjustment corrects a location balance up or down.
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementTransfer, MovementAdjustment:
		return true
	}
	return false
}

// Movement is one immutable row of the stock movement ledger. Quantity is
// always positive; the direction comes from which location fields are set.
type Movement struct {
	ID               int64           `json:"id"`
	Type             MovementType    `json:"type"`
	ProductVariantID int64           `json:"product_variant_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	FromLocationID   *int64          `json:"from_location_id,omitempty"`
	ToLocationID     *int64          `json:"to_location_id,omitempty"`
	Reference        string          `json:"reference"`
	ReferenceID      uuid.UUID       `json:"reference_id"`
	Note             string          `json:"note,omitempty"`
	PostedAt         time.Time       `json:"posted_at"`
	CreatedBy        int64           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Effect returns the signed quantity effect of the movement on a location.
func (m Movement) Effect(locationID int64) decimal.Decimal {
	switch {
	case m.ToLocationID != nil && *m.ToLocationID == locationID:
		return m.Quantity
	case m.FromLocationID != nil && *m.FromLocationID == locationID:
		return m.Quantity.Neg()
	}
	return decimal.Zero
}

// Inventory is the denormalized balance per (location, variant). Quantity is
// never negative under correct operation; a negative value is an integrity
// violation surfaced by reconciliation.
type Inventory struct {
	LocationID       int64           `json:"location_id"`
	ProductVariantID int64           `json:"product_variant_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	AverageCost      decimal.Decimal `json:"average_cost"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ReservationStatus enumerates reservation states.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationWaiting   ReservationStatus = "WAITING"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation soft-allocates quantity against future consumption. It never
// mutates Inventory; it only reduces available quantity.
type Reservation struct {
	ID               int64             `json:"id"`
	LocationID       int64             `json:"location_id"`
	ProductVariantID int64             `json:"product_variant_id"`
	Quantity         decimal.Decimal   `json:"quantity"`
	Status           ReservationStatus `json:"status"`
	Reference        string            `json:"reference"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// LedgerRow is one chronological row of the per-variant ledger with a running
// balance folded from the opening balance.
type LedgerRow struct {
	Movement Movement        `json:"movement"`
	Delta    decimal.Decimal `json:"delta"`
	Balance  decimal.Decimal `json:"balance"`
}

// LedgerFilter selects the window for Ledger.
type LedgerFilter struct {
	ProductVariantID int64
	LocationID       *int64
	From             time.Time
	To               time.Time
}

// AccountMap binds movement postings to general ledger accounts.
type AccountMap struct {
	Inventory  int64
	GRNI       int64
	WIP        int64
	Adjustment int64
}

var (
	// ErrInsufficientStock means an issue would drive a location negative.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", shared.ErrIntegrity)
	ErrInvalidQuantity   = fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	ErrInvalidUnitCost   = fmt.Errorf("%w: unit cost must be >= 0", shared.ErrValidation)
	// ErrLocationMismatch means the from/to combination does not fit the type.
	ErrLocationMismatch     = fmt.Errorf("%w: location combination does not match movement type", shared.ErrValidation)
	ErrInventoryNotFound    = fmt.Errorf("%w: inventory position not found", shared.ErrNotFound)
	ErrReservationNotFound  = fmt.Errorf("%w: reservation not found", shared.ErrNotFound)
	ErrReservationCancelled = fmt.Errorf("%w: reservation already cancelled", shared.ErrState)
)
