package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger/journals"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	ledgershared "github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records movement counters.
type MetricsPort interface {
	CountMovement(movementType string)
}

// Config groups stock policy knobs and the GL account bindings.
type Config struct {
	// AllowNegativeStock disables the non-negativity guard. Off by default;
	// a negative balance is treated as an integrity violation.
	AllowNegativeStock bool
	Accounts           AccountMap
}

// Service coordinates stock movements, the per-variant ledger and
// reservations. Every movement that changes valuation emits a balanced
// journal entry in the same transaction.
type Service struct {
	repo    Repository
	audit   AuditPort
	metrics MetricsPort
	cfg     Config
	now     func() time.Time
}

func NewService(repo Repository, audit AuditPort, metrics MetricsPort, cfg Config) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) { s.now = now }

// RecordMovement validates and applies one stock movement atomically.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput, actorID int64) (MovementResult, error) {
	if err := input.Validate(); err != nil {
		return MovementResult{}, err
	}
	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.applyMovement(ctx, tx, input, actorID, s.now())
		return err
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterMovement(ctx, result, actorID)
	return result, nil
}

// BulkAdjust applies multiple adjustment lines against one location in a
// single transaction. Any failing line aborts the whole batch; the error
// carries every failure so the caller can fix them all at once.
func (s *Service) BulkAdjust(ctx context.Context, input BulkAdjustInput, actorID int64) ([]MovementResult, error) {
	if input.LocationID == 0 || input.Reference == "" || len(input.Lines) == 0 {
		return nil, fmt.Errorf("%w: location, reference and at least one line required", shared.ErrValidation)
	}
	var results []MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		var failures []BulkFailure
		results = results[:0]
		for i, line := range input.Lines {
			movementInput, err := line.toMovementInput(input)
			if err != nil {
				failures = append(failures, BulkFailure{Index: i, Error: err.Error()})
				continue
			}
			res, err := s.applyMovement(ctx, tx, movementInput, actorID, now)
			if err != nil {
				failures = append(failures, BulkFailure{Index: i, Error: err.Error()})
				continue
			}
			results = append(results, res)
		}
		if len(failures) > 0 {
			return &BulkError{Failures: failures}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		s.afterMovement(ctx, res, actorID)
	}
	return results, nil
}

func (l AdjustLine) toMovementInput(bulk BulkAdjustInput) (MovementInput, error) {
	if l.Quantity.IsZero() {
		return MovementInput{}, ErrInvalidQuantity
	}
	input := MovementInput{
		Type:             MovementAdjustment,
		ProductVariantID: l.ProductVariantID,
		Quantity:         l.Quantity.Abs(),
		UnitCost:         l.UnitCost,
		Reference:        bulk.Reference,
		ReferenceID:      uuid.New(),
		Note:             l.Note,
	}
	loc := bulk.LocationID
	if l.Quantity.Sign() > 0 {
		input.ToLocationID = &loc
	} else {
		input.FromLocationID = &loc
	}
	return input, nil
}

// applyMovement runs inside a transaction: it locks the affected inventory
// rows, applies the signed effects, inserts the movement and emits the
// journal entry.
func (s *Service) applyMovement(ctx context.Context, tx TxRepository, input MovementInput, actorID int64, now time.Time) (MovementResult, error) {
	if err := input.Validate(); err != nil {
		return MovementResult{}, err
	}

	movement := Movement{
		Type:             input.Type,
		ProductVariantID: input.ProductVariantID,
		Quantity:         input.Quantity,
		FromLocationID:   input.FromLocationID,
		ToLocationID:     input.ToLocationID,
		Reference:        input.Reference,
		ReferenceID:      input.ReferenceID,
		Note:             input.Note,
		PostedAt:         now,
		CreatedBy:        actorID,
	}
	if movement.ReferenceID == uuid.Nil {
		movement.ReferenceID = uuid.New()
	}

	var balances []Inventory

	// Outbound leg first: issues and transfers go out at the position's
	// current average cost and may not drive it negative.
	if input.FromLocationID != nil {
		from, err := s.lockOrInit(ctx, tx, *input.FromLocationID, input.ProductVariantID)
		if err != nil {
			return MovementResult{}, err
		}
		newQty := from.Quantity.Sub(input.Quantity)
		if newQty.Sign() < 0 && !s.cfg.AllowNegativeStock {
			return MovementResult{}, fmt.Errorf("%w: location %d variant %d has %s, need %s",
				ErrInsufficientStock, from.LocationID, from.ProductVariantID, from.Quantity, input.Quantity)
		}
		movement.UnitCost = from.AverageCost
		from.Quantity = newQty
		if newQty.Sign() <= 0 {
			from.AverageCost = decimal.Zero
		}
		if err := tx.UpsertInventory(ctx, from); err != nil {
			return MovementResult{}, err
		}
		balances = append(balances, from)
	}

	if input.ToLocationID != nil {
		to, err := s.lockOrInit(ctx, tx, *input.ToLocationID, input.ProductVariantID)
		if err != nil {
			return MovementResult{}, err
		}
		inCost := input.UnitCost
		if input.Type == MovementTransfer {
			// Transfers carry the source cost basis across.
			inCost = movement.UnitCost
		} else {
			movement.UnitCost = inCost
		}
		to.AverageCost = costing.MovingAverage(to.Quantity, to.AverageCost, input.Quantity, inCost)
		to.Quantity = to.Quantity.Add(input.Quantity)
		if err := tx.UpsertInventory(ctx, to); err != nil {
			return MovementResult{}, err
		}
		balances = append(balances, to)
	}

	movementID, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return MovementResult{}, err
	}
	movement.ID = movementID

	result := MovementResult{Movement: movement, Balances: balances}

	if entry, ok := s.glEntry(movement); ok {
		// The journal entry posts immediately, so the movement date must
		// fall in an open fiscal period. The row lock holds off a
		// concurrent period close until the movement commits.
		if err := ensurePeriodOpen(ctx, tx, movement.PostedAt); err != nil {
			return MovementResult{}, err
		}
		entryID, err := tx.InsertJournalEntry(ctx, entry)
		if err != nil {
			return MovementResult{}, err
		}
		result.JournalEntryID = &entryID
	}
	return result, nil
}

func ensurePeriodOpen(ctx context.Context, tx TxRepository, date time.Time) error {
	period, err := tx.FindPeriodByDateForUpdate(ctx, date)
	if err != nil {
		return err
	}
	if period.Status != periods.PeriodStatusOpen {
		return fmt.Errorf("%w (%04d-%02d)", ledgershared.ErrPeriodClosed, period.Year, period.Month)
	}
	return nil
}

func (s *Service) lockOrInit(ctx context.Context, tx TxRepository, locationID, variantID int64) (Inventory, error) {
	inv, err := tx.GetInventoryForUpdate(ctx, locationID, variantID)
	if errors.Is(err, ErrInventoryNotFound) {
		return Inventory{LocationID: locationID, ProductVariantID: variantID, Quantity: decimal.Zero, AverageCost: decimal.Zero}, nil
	}
	return inv, err
}

// glEntry builds the balanced journal document for a movement. Transfers move
// value inside the same inventory account and emit nothing, as does any
// movement with a zero cost basis.
func (s *Service) glEntry(m Movement) (GLEntry, bool) {
	if m.Type == MovementTransfer {
		return GLEntry{}, false
	}
	amount := m.Quantity.Mul(m.UnitCost)
	if amount.Sign() == 0 {
		return GLEntry{}, false
	}

	entry := GLEntry{
		Date:        m.PostedAt,
		Reference:   m.Reference,
		ReferenceID: m.ReferenceID,
		CreatedBy:   m.CreatedBy,
	}
	accounts := s.cfg.Accounts
	switch m.Type {
	case MovementIn:
		entry.ReferenceType = string(journals.RefGoodsReceipt)
		entry.Description = fmt.Sprintf("Goods receipt %s", m.Reference)
		entry.Lines = []GLLine{
			{AccountID: accounts.Inventory, Debit: amount, Description: entry.Description},
			{AccountID: accounts.GRNI, Credit: amount, Description: entry.Description},
		}
	case MovementOut:
		entry.ReferenceType = string(journals.RefMaterialIssue)
		entry.Description = fmt.Sprintf("Material issue %s", m.Reference)
		entry.Lines = []GLLine{
			{AccountID: accounts.WIP, Debit: amount, Description: entry.Description},
			{AccountID: accounts.Inventory, Credit: amount, Description: entry.Description},
		}
	case MovementAdjustment:
		entry.ReferenceType = string(journals.RefStockAdjustment)
		if m.ToLocationID != nil {
			entry.Description = fmt.Sprintf("Stock adjustment gain %s", m.Reference)
			entry.Lines = []GLLine{
				{AccountID: accounts.Inventory, Debit: amount, Description: entry.Description},
				{AccountID: accounts.Adjustment, Credit: amount, Description: entry.Description},
			}
		} else {
			entry.Description = fmt.Sprintf("Stock adjustment loss %s", m.Reference)
			entry.Lines = []GLLine{
				{AccountID: accounts.Adjustment, Debit: amount, Description: entry.Description},
				{AccountID: accounts.Inventory, Credit: amount, Description: entry.Description},
			}
		}
	default:
		return GLEntry{}, false
	}
	return entry, true
}

func (s *Service) afterMovement(ctx context.Context, result MovementResult, actorID int64) {
	if s.metrics != nil {
		s.metrics.CountMovement(string(result.Movement.Type))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("stock:%s", result.Movement.Type),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", result.Movement.ID),
			Meta: map[string]any{
				"product_variant_id": result.Movement.ProductVariantID,
				"quantity":           result.Movement.Quantity.String(),
				"reference":          result.Movement.Reference,
			},
			At: result.Movement.PostedAt,
		})
	}
	// A stock increase may satisfy queued demand.
	if m := result.Movement; m.ToLocationID != nil {
		_, _ = s.ReevaluateWaiting(ctx, *m.ToLocationID, m.ProductVariantID)
	}
}

// Ledger returns the chronological movement rows for a variant with a running
// balance folded from the opening balance. Pure function of stored movements.
func (s *Service) Ledger(ctx context.Context, filter LedgerFilter) ([]LedgerRow, decimal.Decimal, error) {
	if filter.ProductVariantID == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: product variant required", shared.ErrValidation)
	}
	opening, err := s.repo.OpeningBalance(ctx, filter.ProductVariantID, filter.LocationID, filter.From)
	if err != nil {
		return nil, decimal.Zero, err
	}
	movements, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, decimal.Zero, err
	}

	rows := make([]LedgerRow, 0, len(movements))
	balance := opening
	for _, m := range movements {
		var delta decimal.Decimal
		if filter.LocationID != nil {
			delta = m.Effect(*filter.LocationID)
		} else {
			delta = globalEffect(m)
		}
		balance = balance.Add(delta)
		rows = append(rows, LedgerRow{Movement: m, Delta: delta, Balance: balance})
	}
	return rows, opening, nil
}

// globalEffect is the cross-location effect: transfers conserve quantity.
func globalEffect(m Movement) decimal.Decimal {
	switch {
	case m.FromLocationID != nil && m.ToLocationID != nil:
		return decimal.Zero
	case m.ToLocationID != nil:
		return m.Quantity
	default:
		return m.Quantity.Neg()
	}
}

// Reserve soft-allocates quantity. When available stock covers the request
// the reservation is ACTIVE, otherwise it queues as WAITING; WAITING is a
// normal state, not an error.
func (s *Service) Reserve(ctx context.Context, input ReserveInput, actorID int64) (Reservation, error) {
	if input.LocationID == 0 || input.ProductVariantID == 0 || input.Reference == "" {
		return Reservation{}, fmt.Errorf("%w: location, variant and reference required", shared.ErrValidation)
	}
	if input.Quantity.Sign() <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := s.lockOrInit(ctx, tx, input.LocationID, input.ProductVariantID)
		if err != nil {
			return err
		}
		reserved, err := tx.ActiveReservedQty(ctx, input.LocationID, input.ProductVariantID)
		if err != nil {
			return err
		}
		available := inv.Quantity.Sub(reserved)

		res = Reservation{
			LocationID:       input.LocationID,
			ProductVariantID: input.ProductVariantID,
			Quantity:         input.Quantity,
			Status:           ReservationWaiting,
			Reference:        input.Reference,
		}
		if available.GreaterThanOrEqual(input.Quantity) {
			res.Status = ReservationActive
		}
		res.ID, err = tx.InsertReservation(ctx, res)
		return err
	})
	if err != nil {
		return Reservation{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "stock:reserve",
			Entity:   "stock_reservation",
			EntityID: fmt.Sprintf("%d", res.ID),
			Meta:     map[string]any{"status": string(res.Status), "quantity": res.Quantity.String()},
			At:       s.now(),
		})
	}
	return res, nil
}

// CancelReservation flips the status; it never touches physical stock.
func (s *Service) CancelReservation(ctx context.Context, id, actorID int64) (Reservation, error) {
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = tx.GetReservationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status == ReservationCancelled {
			return ErrReservationCancelled
		}
		if err := tx.UpdateReservationStatus(ctx, id, ReservationCancelled); err != nil {
			return err
		}
		res.Status = ReservationCancelled
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "stock:cancel_reservation",
			Entity:   "stock_reservation",
			EntityID: fmt.Sprintf("%d", id),
			At:       s.now(),
		})
	}
	return res, nil
}

// Available is physical quantity minus active reservations.
func (s *Service) Available(ctx context.Context, locationID, variantID int64) (decimal.Decimal, error) {
	inv, err := s.repo.GetInventory(ctx, locationID, variantID)
	if errors.Is(err, ErrInventoryNotFound) {
		inv = Inventory{}
	} else if err != nil {
		return decimal.Zero, err
	}
	reserved, err := s.repo.ActiveReservedQty(ctx, locationID, variantID)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.Quantity.Sub(reserved), nil
}

// ReevaluateWaiting promotes queued WAITING reservations in FIFO order as far
// as the now-available quantity allows. Returns the activated count.
func (s *Service) ReevaluateWaiting(ctx context.Context, locationID, variantID int64) (int, error) {
	activated := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		activated = 0
		inv, err := s.lockOrInit(ctx, tx, locationID, variantID)
		if err != nil {
			return err
		}
		reserved, err := tx.ActiveReservedQty(ctx, locationID, variantID)
		if err != nil {
			return err
		}
		available := inv.Quantity.Sub(reserved)

		waiting, err := tx.WaitingReservations(ctx, locationID, variantID)
		if err != nil {
			return err
		}
		for _, res := range waiting {
			if available.LessThan(res.Quantity) {
				continue
			}
			if err := tx.UpdateReservationStatus(ctx, res.ID, ReservationActive); err != nil {
				return err
			}
			available = available.Sub(res.Quantity)
			activated++
		}
		return nil
	})
	return activated, err
}

// IssueComponents implements the material issuer port for backflush costing:
// every derived component draw becomes one OUT movement, all in one
// transaction.
func (s *Service) IssueComponents(ctx context.Context, issue costing.ComponentIssue) error {
	var results []MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		results = results[:0]
		for _, line := range issue.Lines {
			loc := issue.LocationID
			input := MovementInput{
				Type:             MovementOut,
				ProductVariantID: line.ComponentVariantID,
				Quantity:         line.Quantity,
				FromLocationID:   &loc,
				Reference:        issue.OrderReference,
				ReferenceID:      uuid.New(),
				Note:             "backflush",
			}
			res, err := s.applyMovement(ctx, tx, input, issue.ActorID, now)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, res := range results {
		s.afterMovement(ctx, res, issue.ActorID)
	}
	return nil
}
