package stock

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MovementInput is the request to record one stock movement.
type MovementInput struct {
	Type             MovementType    `json:"type" validate:"required"`
	ProductVariantID int64           `json:"product_variant_id" validate:"required"`
	Quantity         decimal.Decimal `json:"quantity" validate:"required"`
	// UnitCost is required for IN and for upward adjustments; issues always
	// go out at the position's average cost.
	UnitCost       decimal.Decimal `json:"unit_cost"`
	FromLocationID *int64          `json:"from_location_id"`
	ToLocationID   *int64          `json:"to_location_id"`
	Reference      string          `json:"reference" validate:"required"`
	ReferenceID    uuid.UUID       `json:"reference_id"`
	Note           string          `json:"note"`
}

// Validate checks quantity, cost and the per-type location combination.
func (in MovementInput) Validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown movement type %q", shared.ErrValidation, in.Type)
	}
	if in.ProductVariantID == 0 {
		return fmt.Errorf("%w: product variant required", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Reference) == "" {
		return fmt.Errorf("%w: reference required", shared.ErrValidation)
	}
	if in.Quantity.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	if in.UnitCost.Sign() < 0 {
		return ErrInvalidUnitCost
	}
	switch in.Type {
	case MovementIn:
		if in.ToLocationID == nil || in.FromLocationID != nil {
			return fmt.Errorf("%w: IN needs to_location only", ErrLocationMismatch)
		}
	case MovementOut:
		if in.FromLocationID == nil || in.ToLocationID != nil {
			return fmt.Errorf("%w: OUT needs from_location only", ErrLocationMismatch)
		}
	case MovementTransfer:
		if in.FromLocationID == nil || in.ToLocationID == nil {
			return fmt.Errorf("%w: TRANSFER needs both locations", ErrLocationMismatch)
		}
		if *in.FromLocationID == *in.ToLocationID {
			return fmt.Errorf("%w: TRANSFER locations must differ", ErrLocationMismatch)
		}
	case MovementAdjustment:
		set := 0
		if in.FromLocationID != nil {
			set++
		}
		if in.ToLocationID != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("%w: ADJUSTMENT needs exactly one location", ErrLocationMismatch)
		}
	}
	return nil
}

// MovementResult reports the recorded movement, the journal entry it emitted
// (nil for transfers, which stay inside the same inventory account) and the
// resulting balances.
type MovementResult struct {
	Movement       Movement    `json:"movement"`
	JournalEntryID *int64      `json:"journal_entry_id,omitempty"`
	Balances       []Inventory `json:"balances"`
}

// AdjustLine is one line of a bulk adjustment. Quantity is signed: positive
// records a gain into the location, negative a loss out of it.
type AdjustLine struct {
	ProductVariantID int64           `json:"product_variant_id" validate:"required"`
	Quantity         decimal.Decimal `json:"quantity" validate:"required"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	Note             string          `json:"note"`
}

// BulkAdjustInput groups adjustment lines under one location.
type BulkAdjustInput struct {
	LocationID int64        `json:"location_id" validate:"required"`
	Reference  string       `json:"reference" validate:"required"`
	Lines      []AdjustLine `json:"lines" validate:"required,min=1,dive"`
}

// BulkFailure ties a failed line index to its cause.
type BulkFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkError aborts a bulk adjustment and carries every failed line, so one
// user action never leaves partial stock changes behind.
type BulkError struct {
	Failures []BulkFailure
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("stock: bulk adjustment aborted, %d line(s) failed", len(e.Failures))
}

func (e *BulkError) Unwrap() error { return shared.ErrValidation }

// ReserveInput requests a soft allocation.
type ReserveInput struct {
	LocationID       int64           `json:"location_id" validate:"required"`
	ProductVariantID int64           `json:"product_variant_id" validate:"required"`
	Quantity         decimal.Decimal `json:"quantity" validate:"required"`
	Reference        string          `json:"reference" validate:"required"`
}
