package periods

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type storedEntry struct {
	id     int64
	entry  ClosingEntry
	status string
}

type memoryRepo struct {
	periods map[int64]Period
	nets    []AccountNet
	entries []storedEntry
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{periods: make(map[int64]Period)}
}

func (r *memoryRepo) addPeriod(p Period) Period {
	r.nextID++
	p.ID = r.nextID
	r.periods[p.ID] = p
	return p
}

func (r *memoryRepo) List(ctx context.Context, year int) ([]Period, error) {
	var out []Period
	for _, p := range r.periods {
		if p.Year == year {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Period, error) {
	if p, ok := r.periods[id]; ok {
		return p, nil
	}
	return Period{}, shared.ErrNotFound
}

func (r *memoryRepo) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	for _, p := range r.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, ErrNoPeriodForDate
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Period, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) ExistsForYear(ctx context.Context, year int) (bool, error) {
	for _, p := range tx.repo.periods {
		if p.Year == year {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertPeriods(ctx context.Context, periods []Period) error {
	for _, p := range periods {
		tx.repo.addPeriod(p)
	}
	return nil
}

func (tx *memoryTx) RevenueExpenseNet(ctx context.Context, start, end time.Time) ([]AccountNet, error) {
	return tx.repo.nets, nil
}

func (tx *memoryTx) InsertClosingEntry(ctx context.Context, entry ClosingEntry) (int64, error) {
	tx.repo.nextID++
	tx.repo.entries = append(tx.repo.entries, storedEntry{id: tx.repo.nextID, entry: entry, status: "POSTED"})
	return tx.repo.nextID, nil
}

func (tx *memoryTx) MarkClosed(ctx context.Context, id int64, closedBy int64, closedAt time.Time, closingEntryID *int64) error {
	p, ok := tx.repo.periods[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Status = PeriodStatusClosed
	p.ClosedBy = &closedBy
	p.ClosedAt = &closedAt
	p.ClosingEntryID = closingEntryID
	tx.repo.periods[id] = p
	return nil
}

func (tx *memoryTx) MarkReopened(ctx context.Context, id int64) error {
	p, ok := tx.repo.periods[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Status = PeriodStatusOpen
	p.ClosedBy = nil
	p.ClosedAt = nil
	tx.repo.periods[id] = p
	return nil
}

func (tx *memoryTx) VoidJournalEntry(ctx context.Context, entryID int64) error {
	for i, e := range tx.repo.entries {
		if e.id == entryID {
			tx.repo.entries[i].status = "VOIDED"
			return nil
		}
	}
	return shared.ErrNotFound
}

func amount(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func openJanuary(repo *memoryRepo) Period {
	return repo.addPeriod(Period{
		Year: 2026, Month: 1,
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:    PeriodStatusOpen,
	})
}

func TestGenerateYearProducesContiguousPeriods(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, Config{RetainedEarningsAccountID: 99})
	ctx := context.Background()

	generated, err := svc.GenerateYear(ctx, 2026, 1)
	require.NoError(t, err)
	require.Len(t, generated, 12)

	byMonth := make(map[int]Period, 12)
	for _, p := range generated {
		byMonth[p.Month] = p
	}
	for month := 1; month < 12; month++ {
		gap := byMonth[month+1].StartDate.Sub(byMonth[month].EndDate)
		require.Equal(t, 24*time.Hour, gap, "month %d must end the day before month %d starts", month, month+1)
	}
	require.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), byMonth[12].EndDate)

	_, err = svc.GenerateYear(ctx, 2026, 1)
	require.ErrorIs(t, err, ErrPeriodsExist)
}

func TestCloseZeroesRevenueAndExpenseIntoRetainedEarnings(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, Config{RetainedEarningsAccountID: 99})
	ctx := context.Background()
	period := openJanuary(repo)

	// revenue carries a credit balance (negative net), expense a debit one
	repo.nets = []AccountNet{
		{AccountID: 10, Code: "41000", Type: accounts.AccountTypeRevenue, Net: amount(-500000)},
		{AccountID: 20, Code: "51000", Type: accounts.AccountTypeExpense, Net: amount(320000)},
	}

	result, err := svc.Close(ctx, period.ID, 7)
	require.NoError(t, err)
	require.NotNil(t, result.ClosingEntryID)
	require.True(t, result.NetIncome.Equal(amount(180000)), "net income %s", result.NetIncome)

	require.Len(t, repo.entries, 1)
	lines := repo.entries[0].entry.Lines
	require.Len(t, lines, 3)

	// the entry balances and each revenue/expense account is zeroed
	debit, credit := decimal.Zero, decimal.Zero
	var retained ClosingLine
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
		if line.AccountID == 99 {
			retained = line
		}
	}
	require.True(t, debit.Equal(credit))
	require.True(t, retained.Credit.Equal(result.NetIncome))

	closed, err := svc.Get(ctx, period.ID)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedBy)

	_, err = svc.Close(ctx, period.ID, 7)
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestCloseStampsEntryReferenceAndPostedAt(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, Config{RetainedEarningsAccountID: 99})
	closedAt := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return closedAt })
	period := openJanuary(repo)

	repo.nets = []AccountNet{
		{AccountID: 10, Code: "41000", Type: accounts.AccountTypeRevenue, Net: amount(-1000)},
	}

	_, err := svc.Close(context.Background(), period.ID, 7)
	require.NoError(t, err)

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0].entry
	require.Equal(t, "2026-01", entry.Reference)
	require.Equal(t, closedAt, entry.PostedAt)
	require.Equal(t, period.EndDate, entry.Date)
}

func TestCloseWithoutActivityEmitsNoEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, Config{RetainedEarningsAccountID: 99})
	ctx := context.Background()
	period := openJanuary(repo)

	result, err := svc.Close(ctx, period.ID, 7)
	require.NoError(t, err)
	require.Nil(t, result.ClosingEntryID)
	require.Empty(t, repo.entries)

	closed, err := svc.Get(ctx, period.ID)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, closed.Status)
}

func TestReopenKeepsClosingEntryByDefault(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, Config{RetainedEarningsAccountID: 99})
	ctx := context.Background()
	period := openJanuary(repo)
	repo.nets = []AccountNet{{AccountID: 10, Code: "41000", Type: accounts.AccountTypeRevenue, Net: amount(-1000)}}

	_, err := svc.Close(ctx, period.ID, 7)
	require.NoError(t, err)

	reopened, err := svc.Reopen(ctx, period.ID, 7)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusOpen, reopened.Status)
	require.Nil(t, reopened.ClosedBy)
	require.Equal(t, "POSTED", repo.entries[0].status)

	_, err = svc.Reopen(ctx, period.ID, 7)
	require.ErrorIs(t, err, ErrNotClosed)
}

func TestReopenVoidsClosingEntryWhenPolicySet(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, Config{RetainedEarningsAccountID: 99, VoidClosingOnReopen: true})
	ctx := context.Background()
	period := openJanuary(repo)
	repo.nets = []AccountNet{{AccountID: 10, Code: "41000", Type: accounts.AccountTypeRevenue, Net: amount(-1000)}}

	_, err := svc.Close(ctx, period.ID, 7)
	require.NoError(t, err)

	_, err = svc.Reopen(ctx, period.ID, 7)
	require.NoError(t, err)
	require.Equal(t, "VOIDED", repo.entries[0].status)
}
