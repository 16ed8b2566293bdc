package journals

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

type memoryRepo struct {
	entries  map[int64]JournalEntry
	periods  []periods.Period
	accounts map[int64]bool
	nextID   int64
	nextNum  int64
}

func newMemoryRepo() *memoryRepo {
	repo := &memoryRepo{
		entries:  make(map[int64]JournalEntry),
		accounts: map[int64]bool{1: true, 2: true, 3: true},
	}
	repo.periods = []periods.Period{
		{
			ID: 1, Year: 2026, Month: 1,
			StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
			Status:    periods.PeriodStatusOpen,
		},
		{
			ID: 2, Year: 2026, Month: 2,
			StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
			Status:    periods.PeriodStatusClosed,
		},
	}
	return repo
}

func (r *memoryRepo) snapshot() map[int64]JournalEntry {
	copied := make(map[int64]JournalEntry, len(r.entries))
	for id, e := range r.entries {
		lines := make([]JournalLine, len(e.Lines))
		copy(lines, e.Lines)
		e.Lines = lines
		copied[id] = e
	}
	return copied
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	before := r.snapshot()
	idBefore, numBefore := r.nextID, r.nextNum
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.entries = before
		r.nextID, r.nextNum = idBefore, numBefore
		return err
	}
	return nil
}

func (r *memoryRepo) List(ctx context.Context, limit, offset int) ([]JournalEntry, error) {
	out := make([]JournalEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (JournalEntry, error) {
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	return JournalEntry{}, shared.ErrEntryNotFound
}

func (r *memoryRepo) SumAccount(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range r.entries {
		if e.Status != JournalStatusPosted || e.Date.After(asOf) {
			continue
		}
		for _, line := range e.Lines {
			if line.AccountID == accountID {
				debit = debit.Add(line.Debit)
				credit = credit.Add(line.Credit)
			}
		}
	}
	return debit, credit, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) InsertEntry(ctx context.Context, in CreateEntryInput) (JournalEntry, error) {
	tx.repo.nextID++
	tx.repo.nextNum++
	entry := JournalEntry{
		ID:            tx.repo.nextID,
		Number:        tx.repo.nextNum,
		Date:          in.Date,
		Description:   in.Description,
		Reference:     in.Reference,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Status:        in.Status,
		CreatedBy:     in.CreatedBy,
	}
	entry.PostedAt = in.PostedAt
	tx.repo.entries[entry.ID] = entry
	return entry, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	entry := tx.repo.entries[entryID]
	for _, line := range lines {
		entry.Lines = append(entry.Lines, JournalLine{
			EntryID:     entryID,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	tx.repo.entries[entryID] = entry
	return nil
}

func (tx *memoryTx) GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, error) {
	if e, ok := tx.repo.entries[entryID]; ok {
		return e, nil
	}
	return JournalEntry{}, shared.ErrEntryNotFound
}

func (tx *memoryTx) MarkPosted(ctx context.Context, entryID int64, at time.Time) error {
	e, ok := tx.repo.entries[entryID]
	if !ok {
		return shared.ErrEntryNotFound
	}
	e.Status = JournalStatusPosted
	e.PostedAt = &at
	tx.repo.entries[entryID] = e
	return nil
}

func (tx *memoryTx) MarkVoided(ctx context.Context, entryID int64) error {
	e, ok := tx.repo.entries[entryID]
	if !ok {
		return shared.ErrEntryNotFound
	}
	e.Status = JournalStatusVoided
	tx.repo.entries[entryID] = e
	return nil
}

func (tx *memoryTx) CountAccounts(ctx context.Context, ids []int64) (int, error) {
	count := 0
	for _, id := range ids {
		if tx.repo.accounts[id] {
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) FindPeriodByDateForUpdate(ctx context.Context, date time.Time) (periods.Period, error) {
	for _, p := range tx.repo.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrNoPeriodForDate
}

func amount(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

var openDate = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
var closedDate = time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

func balancedInput(date time.Time, status JournalStatus) CreateEntryInput {
	return CreateEntryInput{
		Date:          date,
		Description:   "goods receipt",
		Reference:     "GRN-1",
		ReferenceType: RefGoodsReceipt,
		ReferenceID:   uuid.New(),
		Status:        status,
		CreatedBy:     7,
		Lines: []LineInput{
			{AccountID: 1, Debit: amount(150)},
			{AccountID: 2, Credit: amount(150)},
		},
	}
}

func TestCreateEntryRejectsUnbalancedPosting(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	input := balancedInput(openDate, JournalStatusPosted)
	input.Lines[1].Credit = amount(149.50)
	_, err := svc.CreateEntry(ctx, input)
	require.ErrorIs(t, err, shared.ErrUnbalanced)

	// a mismatch inside the tolerance is accepted
	input = balancedInput(openDate, JournalStatusPosted)
	input.Lines[1].Credit = amount(149.995)
	_, err = svc.CreateEntry(ctx, input)
	require.NoError(t, err)
}

func TestCreateEntryStampsPostedAtFromServiceClock(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	at := time.Date(2026, 1, 20, 14, 30, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return at })

	entry, err := svc.CreateEntry(context.Background(), balancedInput(openDate, JournalStatusPosted))
	require.NoError(t, err)
	require.NotNil(t, entry.PostedAt)
	require.Equal(t, at, *entry.PostedAt)

	draft, err := svc.CreateEntry(context.Background(), balancedInput(openDate, JournalStatusDraft))
	require.NoError(t, err)
	require.Nil(t, draft.PostedAt)
}

func TestPostRejectsRandomUnbalancedLineSets(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		debit := float64(rng.Intn(100000)) / 100
		skew := float64(rng.Intn(9995)+5) / 100 // at least 0.05 off
		input := balancedInput(openDate, JournalStatusPosted)
		input.ReferenceID = uuid.New()
		input.Lines = []LineInput{
			{AccountID: 1, Debit: amount(debit)},
			{AccountID: 2, Credit: amount(debit + skew)},
		}
		_, err := svc.CreateEntry(ctx, input)
		require.ErrorIs(t, err, shared.ErrUnbalanced, "debit=%v skew=%v", debit, skew)
	}
}

func TestPostEntryIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	draft, err := svc.CreateEntry(ctx, balancedInput(openDate, JournalStatusDraft))
	require.NoError(t, err)
	require.Equal(t, JournalStatusDraft, draft.Status)

	first, err := svc.PostEntry(ctx, draft.ID, 7)
	require.NoError(t, err)
	require.Equal(t, JournalStatusPosted, first.Status)

	second, err := svc.PostEntry(ctx, draft.ID, 7)
	require.NoError(t, err)
	require.Equal(t, first.PostedAt, second.PostedAt)
	require.Len(t, repo.entries, 1)
}

func TestPostingIntoClosedPeriodFails(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, balancedInput(closedDate, JournalStatusPosted))
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	// drafts may carry any date; the gate applies at post time
	draft, err := svc.CreateEntry(ctx, balancedInput(closedDate, JournalStatusDraft))
	require.NoError(t, err)
	_, err = svc.PostEntry(ctx, draft.ID, 7)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
}

func TestVoidInClosedPeriodFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, balancedInput(openDate, JournalStatusPosted))
	require.NoError(t, err)

	repo.periods[0].Status = periods.PeriodStatusClosed
	_, err = svc.VoidEntry(ctx, VoidInput{EntryID: entry.ID, ActorID: 7, Reason: "dup"})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	repo.periods[0].Status = periods.PeriodStatusOpen
	voided, err := svc.VoidEntry(ctx, VoidInput{EntryID: entry.ID, ActorID: 7, Reason: "dup"})
	require.NoError(t, err)
	require.Equal(t, JournalStatusVoided, voided.Status)
}

func TestBatchPostIsAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	good, err := svc.CreateEntry(ctx, balancedInput(openDate, JournalStatusDraft))
	require.NoError(t, err)
	bad, err := svc.CreateEntry(ctx, balancedInput(closedDate, JournalStatusDraft))
	require.NoError(t, err)

	_, err = svc.BatchPost(ctx, []int64{good.ID, bad.ID}, 7)
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failures, 1)
	require.Equal(t, bad.ID, batchErr.Failures[0].EntryID)

	// the valid entry must not have been posted
	current, err := svc.Get(ctx, good.ID)
	require.NoError(t, err)
	require.Equal(t, JournalStatusDraft, current.Status)
}

func TestAccountBalanceUsesNormalSide(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, balancedInput(openDate, JournalStatusPosted))
	require.NoError(t, err)

	debitSide, err := svc.AccountBalance(ctx, 1, openDate, accounts.NormalSideDebit)
	require.NoError(t, err)
	require.True(t, debitSide.Equal(amount(150)))

	creditSide, err := svc.AccountBalance(ctx, 2, openDate, accounts.NormalSideCredit)
	require.NoError(t, err)
	require.True(t, creditSide.Equal(amount(150)))
}

func TestVoidedEntriesExcludedFromBalances(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, balancedInput(openDate, JournalStatusPosted))
	require.NoError(t, err)
	_, err = svc.VoidEntry(ctx, VoidInput{EntryID: entry.ID, ActorID: 7})
	require.NoError(t, err)

	balance, err := svc.AccountBalance(ctx, 1, openDate, accounts.NormalSideDebit)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestReverseEntryMirrorsLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	entry, err := svc.CreateEntry(ctx, balancedInput(openDate, JournalStatusPosted))
	require.NoError(t, err)

	reversal, err := svc.ReverseEntry(ctx, ReverseInput{EntryID: entry.ID, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, RefReversal, reversal.ReferenceType)
	require.True(t, reversal.Lines[0].Credit.Equal(entry.Lines[0].Debit))
	require.True(t, reversal.Lines[1].Debit.Equal(entry.Lines[1].Credit))

	// net effect on the account is zero
	balance, err := svc.AccountBalance(ctx, 1, openDate, accounts.NormalSideDebit)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}
