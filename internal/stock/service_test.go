package stock

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	ledgershared "github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func locPtr(id int64) *int64 { return &id }

var testAccounts = AccountMap{Inventory: 1, GRNI: 2, WIP: 3, Adjustment: 4}

type invKey struct {
	loc, variant int64
}

type memoryRepo struct {
	inventory    map[invKey]Inventory
	movements    []Movement
	reservations map[int64]Reservation
	entries      []GLEntry
	periods      []periods.Period
	nextMoveID   int64
	nextResID    int64
	nextEntryID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		inventory:    map[invKey]Inventory{},
		reservations: map[int64]Reservation{},
	}
}

func (r *memoryRepo) snapshot() *memoryRepo {
	copied := &memoryRepo{
		inventory:    make(map[invKey]Inventory, len(r.inventory)),
		movements:    append([]Movement(nil), r.movements...),
		reservations: make(map[int64]Reservation, len(r.reservations)),
		entries:      append([]GLEntry(nil), r.entries...),
		periods:      append([]periods.Period(nil), r.periods...),
		nextMoveID:   r.nextMoveID,
		nextResID:    r.nextResID,
		nextEntryID:  r.nextEntryID,
	}
	for k, v := range r.inventory {
		copied.inventory[k] = v
	}
	for k, v := range r.reservations {
		copied.reservations[k] = v
	}
	return copied
}

func (r *memoryRepo) restore(from *memoryRepo) {
	r.inventory = from.inventory
	r.movements = from.movements
	r.reservations = from.reservations
	r.entries = from.entries
	r.periods = from.periods
	r.nextMoveID = from.nextMoveID
	r.nextResID = from.nextResID
	r.nextEntryID = from.nextEntryID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(before)
		return err
	}
	return nil
}

func (r *memoryRepo) GetInventory(ctx context.Context, locationID, variantID int64) (Inventory, error) {
	inv, ok := r.inventory[invKey{locationID, variantID}]
	if !ok {
		return Inventory{}, ErrInventoryNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInventory(ctx context.Context, locationID *int64) ([]Inventory, error) {
	var out []Inventory
	for _, inv := range r.inventory {
		if locationID == nil || inv.LocationID == *locationID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter LedgerFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ProductVariantID != filter.ProductVariantID {
			continue
		}
		if m.PostedAt.Before(filter.From) || m.PostedAt.After(filter.To) {
			continue
		}
		if filter.LocationID != nil && m.Effect(*filter.LocationID).IsZero() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memoryRepo) OpeningBalance(ctx context.Context, variantID int64, locationID *int64, before time.Time) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, m := range r.movements {
		if m.ProductVariantID != variantID || !m.PostedAt.Before(before) {
			continue
		}
		if locationID != nil {
			balance = balance.Add(m.Effect(*locationID))
		} else {
			balance = balance.Add(globalEffect(m))
		}
	}
	return balance, nil
}

func (r *memoryRepo) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	res, ok := r.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

func (r *memoryRepo) ActiveReservedQty(ctx context.Context, locationID, variantID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, res := range r.reservations {
		if res.LocationID == locationID && res.ProductVariantID == variantID && res.Status == ReservationActive {
			total = total.Add(res.Quantity)
		}
	}
	return total, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) GetInventoryForUpdate(ctx context.Context, locationID, variantID int64) (Inventory, error) {
	return tx.repo.GetInventory(ctx, locationID, variantID)
}

func (tx *memoryTx) UpsertInventory(ctx context.Context, inv Inventory) error {
	tx.repo.inventory[invKey{inv.LocationID, inv.ProductVariantID}] = inv
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextMoveID++
	m.ID = tx.repo.nextMoveID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) FindPeriodByDateForUpdate(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range tx.repo.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	if len(tx.repo.periods) == 0 {
		// Repos without seeded periods behave as if the calendar is open.
		start := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
		return periods.Period{
			Year:      date.Year(),
			Month:     int(date.Month()),
			StartDate: start,
			EndDate:   start.AddDate(0, 1, -1),
			Status:    periods.PeriodStatusOpen,
		}, nil
	}
	return periods.Period{}, periods.ErrNoPeriodForDate
}

func (tx *memoryTx) InsertJournalEntry(ctx context.Context, entry GLEntry) (int64, error) {
	tx.repo.nextEntryID++
	tx.repo.entries = append(tx.repo.entries, entry)
	return tx.repo.nextEntryID, nil
}

func (tx *memoryTx) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	tx.repo.nextResID++
	res.ID = tx.repo.nextResID
	res.CreatedAt = time.Now()
	tx.repo.reservations[res.ID] = res
	return res.ID, nil
}

func (tx *memoryTx) GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error) {
	return tx.repo.GetReservation(ctx, id)
}

func (tx *memoryTx) UpdateReservationStatus(ctx context.Context, id int64, status ReservationStatus) error {
	res, ok := tx.repo.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	res.Status = status
	tx.repo.reservations[id] = res
	return nil
}

func (tx *memoryTx) ActiveReservedQty(ctx context.Context, locationID, variantID int64) (decimal.Decimal, error) {
	return tx.repo.ActiveReservedQty(ctx, locationID, variantID)
}

func (tx *memoryTx) WaitingReservations(ctx context.Context, locationID, variantID int64) ([]Reservation, error) {
	var waiting []Reservation
	for id := int64(1); id <= tx.repo.nextResID; id++ {
		res, ok := tx.repo.reservations[id]
		if ok && res.LocationID == locationID && res.ProductVariantID == variantID && res.Status == ReservationWaiting {
			waiting = append(waiting, res)
		}
	}
	return waiting, nil
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, nil, nil, Config{Accounts: testAccounts})
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	n := 0
	svc.WithNow(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	})
	return svc
}

func receive(t *testing.T, svc *Service, loc, variant int64, qty, cost float64) MovementResult {
	t.Helper()
	res, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementIn,
		ProductVariantID: variant,
		Quantity:         dec(qty),
		UnitCost:         dec(cost),
		ToLocationID:     locPtr(loc),
		Reference:        "GRN-001",
	}, 7)
	require.NoError(t, err)
	return res
}

func TestRecordMovementInPostsGL(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	res := receive(t, svc, 1, 10, 20, 150)

	inv := repo.inventory[invKey{1, 10}]
	require.True(t, inv.Quantity.Equal(dec(20)))
	require.True(t, inv.AverageCost.Equal(dec(150)))

	require.NotNil(t, res.JournalEntryID)
	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	require.Equal(t, "GOODS_RECEIPT", entry.ReferenceType)
	require.Len(t, entry.Lines, 2)
	require.Equal(t, testAccounts.Inventory, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(dec(3000)))
	require.Equal(t, testAccounts.GRNI, entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(dec(3000)))
}

func TestRecordMovementRejectedInClosedPeriod(t *testing.T) {
	repo := newMemoryRepo()
	closedBy := int64(1)
	repo.periods = []periods.Period{{
		ID:        1,
		Year:      2025,
		Month:     1,
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:    periods.PeriodStatusClosed,
		ClosedBy:  &closedBy,
	}}

	svc := newTestService(repo)
	svc.WithNow(func() time.Time { return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC) })

	_, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementIn,
		ProductVariantID: 10,
		Quantity:         dec(5),
		UnitCost:         dec(100),
		ToLocationID:     locPtr(1),
		Reference:        "GRN-002",
	}, 7)
	require.ErrorIs(t, err, ledgershared.ErrPeriodClosed)

	// The whole transaction rolls back: no inventory, movement or entry.
	require.Empty(t, repo.inventory)
	require.Empty(t, repo.movements)
	require.Empty(t, repo.entries)
}

func TestRecordMovementNoPeriodForDate(t *testing.T) {
	repo := newMemoryRepo()
	repo.periods = []periods.Period{{
		ID:        1,
		Year:      2025,
		Month:     1,
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:    periods.PeriodStatusOpen,
	}}

	svc := newTestService(repo)
	svc.WithNow(func() time.Time { return time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC) })

	_, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementIn,
		ProductVariantID: 10,
		Quantity:         dec(5),
		UnitCost:         dec(100),
		ToLocationID:     locPtr(1),
		Reference:        "GRN-003",
	}, 7)
	require.ErrorIs(t, err, periods.ErrNoPeriodForDate)
	require.Empty(t, repo.movements)
}

func TestRecordMovementOutUsesAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 10, 100)
	receive(t, svc, 1, 10, 10, 200)

	res, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementOut,
		ProductVariantID: 10,
		Quantity:         dec(5),
		FromLocationID:   locPtr(1),
		Reference:        "PO-001",
	}, 7)
	require.NoError(t, err)
	// Moving average after both receipts is 150.
	require.True(t, res.Movement.UnitCost.Equal(dec(150)), "unit cost %s", res.Movement.UnitCost)

	inv := repo.inventory[invKey{1, 10}]
	require.True(t, inv.Quantity.Equal(dec(15)))
	require.True(t, inv.AverageCost.Equal(dec(150)))

	entry := repo.entries[len(repo.entries)-1]
	require.Equal(t, "MATERIAL_ISSUE", entry.ReferenceType)
	require.Equal(t, testAccounts.WIP, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(dec(750)))
	require.Equal(t, testAccounts.Inventory, entry.Lines[1].AccountID)
}

func TestRecordMovementInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 5, 100)
	movesBefore := len(repo.movements)

	_, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementOut,
		ProductVariantID: 10,
		Quantity:         dec(6),
		FromLocationID:   locPtr(1),
		Reference:        "PO-001",
	}, 7)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Rolled back: no movement, no balance change.
	require.Len(t, repo.movements, movesBefore)
	require.True(t, repo.inventory[invKey{1, 10}].Quantity.Equal(dec(5)))
}

func TestRecordMovementAllowNegativePolicy(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, Config{Accounts: testAccounts, AllowNegativeStock: true})

	_, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementOut,
		ProductVariantID: 10,
		Quantity:         dec(3),
		FromLocationID:   locPtr(1),
		Reference:        "PO-001",
	}, 7)
	require.NoError(t, err)
	require.True(t, repo.inventory[invKey{1, 10}].Quantity.Equal(dec(-3)))
}

func TestTransferConservation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 100, 80)
	entriesBefore := len(repo.entries)

	res, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementTransfer,
		ProductVariantID: 10,
		Quantity:         dec(50),
		FromLocationID:   locPtr(1),
		ToLocationID:     locPtr(2),
		Reference:        "TRF-001",
	}, 7)
	require.NoError(t, err)

	from := repo.inventory[invKey{1, 10}]
	to := repo.inventory[invKey{2, 10}]
	require.True(t, from.Quantity.Equal(dec(50)))
	require.True(t, to.Quantity.Equal(dec(50)))
	require.True(t, from.Quantity.Add(to.Quantity).Equal(dec(100)), "global quantity changed")
	// Cost basis carries across.
	require.True(t, to.AverageCost.Equal(dec(80)))

	// Same inventory account on both sides: no journal entry.
	require.Nil(t, res.JournalEntryID)
	require.Len(t, repo.entries, entriesBefore)
}

func TestTransferRejectsSameLocation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementTransfer,
		ProductVariantID: 10,
		Quantity:         dec(1),
		FromLocationID:   locPtr(1),
		ToLocationID:     locPtr(1),
		Reference:        "TRF-001",
	}, 7)
	require.ErrorIs(t, err, ErrLocationMismatch)
}

func TestAdjustmentLossPostsToAdjustmentAccount(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 10, 120)

	_, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementAdjustment,
		ProductVariantID: 10,
		Quantity:         dec(4),
		FromLocationID:   locPtr(1),
		Reference:        "OPN-001",
	}, 7)
	require.NoError(t, err)

	entry := repo.entries[len(repo.entries)-1]
	require.Equal(t, "STOCK_ADJUSTMENT", entry.ReferenceType)
	require.Equal(t, testAccounts.Adjustment, entry.Lines[0].AccountID)
	require.True(t, entry.Lines[0].Debit.Equal(dec(480)))
	require.Equal(t, testAccounts.Inventory, entry.Lines[1].AccountID)
	require.True(t, entry.Lines[1].Credit.Equal(dec(480)))
}

func TestBulkAdjustAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 10, 100)
	receive(t, svc, 1, 11, 5, 50)

	_, err := svc.BulkAdjust(context.Background(), BulkAdjustInput{
		LocationID: 1,
		Reference:  "OPN-002",
		Lines: []AdjustLine{
			{ProductVariantID: 10, Quantity: dec(-2)},
			{ProductVariantID: 11, Quantity: dec(-50)}, // insufficient
			{ProductVariantID: 12, Quantity: decimal.Zero},
		},
	}, 7)

	var bulkErr *BulkError
	require.ErrorAs(t, err, &bulkErr)
	require.Len(t, bulkErr.Failures, 2)
	require.Equal(t, 1, bulkErr.Failures[0].Index)
	require.Equal(t, 2, bulkErr.Failures[1].Index)

	// Nothing moved, including the valid first line.
	require.True(t, repo.inventory[invKey{1, 10}].Quantity.Equal(dec(10)))
	require.True(t, repo.inventory[invKey{1, 11}].Quantity.Equal(dec(5)))
}

func TestBulkAdjustApplies(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 10, 100)

	results, err := svc.BulkAdjust(context.Background(), BulkAdjustInput{
		LocationID: 1,
		Reference:  "OPN-003",
		Lines: []AdjustLine{
			{ProductVariantID: 10, Quantity: dec(-2)},
			{ProductVariantID: 11, Quantity: dec(7), UnitCost: dec(30)},
		},
	}, 7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, repo.inventory[invKey{1, 10}].Quantity.Equal(dec(8)))
	require.True(t, repo.inventory[invKey{1, 11}].Quantity.Equal(dec(7)))
}

func TestLedgerRunningBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 10, 100) // before range
	receive(t, svc, 1, 10, 20, 100)
	_, err := svc.RecordMovement(context.Background(), MovementInput{
		Type:             MovementOut,
		ProductVariantID: 10,
		Quantity:         dec(5),
		FromLocationID:   locPtr(1),
		Reference:        "PO-001",
	}, 7)
	require.NoError(t, err)

	// Range starts after the first receipt.
	from := repo.movements[1].PostedAt
	rows, opening, err := svc.Ledger(context.Background(), LedgerFilter{
		ProductVariantID: 10,
		LocationID:       locPtr(1),
		From:             from,
		To:               from.Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, opening.Equal(dec(10)), "opening %s", opening)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Delta.Equal(dec(20)))
	require.True(t, rows[0].Balance.Equal(dec(30)))
	require.True(t, rows[1].Delta.Equal(dec(-5)))
	require.True(t, rows[1].Balance.Equal(dec(25)))
}

func TestReserveActiveAndWaiting(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 10, 100)

	first, err := svc.Reserve(context.Background(), ReserveInput{
		LocationID: 1, ProductVariantID: 10, Quantity: dec(8), Reference: "SO-001",
	}, 7)
	require.NoError(t, err)
	require.Equal(t, ReservationActive, first.Status)

	// Only 2 available now; this one queues.
	second, err := svc.Reserve(context.Background(), ReserveInput{
		LocationID: 1, ProductVariantID: 10, Quantity: dec(5), Reference: "SO-002",
	}, 7)
	require.NoError(t, err)
	require.Equal(t, ReservationWaiting, second.Status)

	available, err := svc.Available(context.Background(), 1, 10)
	require.NoError(t, err)
	require.True(t, available.Equal(dec(2)), "available %s", available)
}

func TestReceiptPromotesWaitingReservation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 3, 100)

	res, err := svc.Reserve(context.Background(), ReserveInput{
		LocationID: 1, ProductVariantID: 10, Quantity: dec(5), Reference: "SO-001",
	}, 7)
	require.NoError(t, err)
	require.Equal(t, ReservationWaiting, res.Status)

	// The receipt re-evaluates the queue.
	receive(t, svc, 1, 10, 4, 100)

	promoted, err := repo.GetReservation(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, ReservationActive, promoted.Status)
}

func TestCancelReservationNoStockSideEffects(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 10, 100)

	res, err := svc.Reserve(context.Background(), ReserveInput{
		LocationID: 1, ProductVariantID: 10, Quantity: dec(4), Reference: "SO-001",
	}, 7)
	require.NoError(t, err)

	cancelled, err := svc.CancelReservation(context.Background(), res.ID, 7)
	require.NoError(t, err)
	require.Equal(t, ReservationCancelled, cancelled.Status)
	require.True(t, repo.inventory[invKey{1, 10}].Quantity.Equal(dec(10)))

	_, err = svc.CancelReservation(context.Background(), res.ID, 7)
	require.ErrorIs(t, err, ErrReservationCancelled)
}

func TestIssueComponentsBackflush(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, 10, 100, 20)
	receive(t, svc, 1, 11, 100, 5)

	err := svc.IssueComponents(context.Background(), costing.ComponentIssue{
		OrderReference: "PO-001",
		LocationID:     1,
		ActorID:        7,
		Lines: []costing.ComponentIssueLine{
			{ComponentVariantID: 10, Quantity: dec(20)},
			{ComponentVariantID: 11, Quantity: dec(5.5)},
		},
	})
	require.NoError(t, err)
	require.True(t, repo.inventory[invKey{1, 10}].Quantity.Equal(dec(80)))
	require.True(t, repo.inventory[invKey{1, 11}].Quantity.Equal(dec(94.5)))

	// One draw short on stock rolls back every line.
	err = svc.IssueComponents(context.Background(), costing.ComponentIssue{
		OrderReference: "PO-002",
		LocationID:     1,
		ActorID:        7,
		Lines: []costing.ComponentIssueLine{
			{ComponentVariantID: 10, Quantity: dec(10)},
			{ComponentVariantID: 11, Quantity: dec(1000)},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.True(t, repo.inventory[invKey{1, 10}].Quantity.Equal(dec(80)))
}
