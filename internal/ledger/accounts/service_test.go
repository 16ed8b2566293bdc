package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	byID     map[int64]Account
	postings map[int64]bool
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byID: make(map[int64]Account), postings: make(map[int64]bool)}
}

func (r *memoryRepo) List(ctx context.Context) ([]Account, error) {
	out := make([]Account, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out, nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id int64) (Account, error) {
	if a, ok := r.byID[id]; ok {
		return a, nil
	}
	return Account{}, shared.ErrNotFound
}

func (r *memoryRepo) GetByCode(ctx context.Context, code string) (Account, error) {
	for _, a := range r.byID {
		if a.Code == code {
			return a, nil
		}
	}
	return Account{}, shared.ErrNotFound
}

func (r *memoryRepo) ListByTypes(ctx context.Context, types ...AccountType) ([]Account, error) {
	var out []Account
	for _, a := range r.byID {
		for _, t := range types {
			if a.Type == t {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (r *memoryRepo) ListChildren(ctx context.Context, parentID int64) ([]Account, error) {
	var out []Account
	for _, a := range r.byID {
		if a.ParentID != nil && *a.ParentID == parentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) HasPostings(ctx context.Context, id int64) (bool, error) {
	return r.postings[id], nil
}

func (r *memoryRepo) Insert(ctx context.Context, account Account) (Account, error) {
	r.nextID++
	account.ID = r.nextID
	r.byID[account.ID] = account
	return account, nil
}

func (r *memoryRepo) UpdateMetadata(ctx context.Context, id int64, name, category string, isActive bool) error {
	a, ok := r.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	a.Name, a.Category, a.IsActive = name, category, isActive
	r.byID[id] = a
	return nil
}

func (r *memoryRepo) UpdateParent(ctx context.Context, id int64, parentID *int64) error {
	a, ok := r.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	a.ParentID = parentID
	r.byID[id] = a
	return nil
}

func TestNormalSideDerivation(t *testing.T) {
	require.Equal(t, NormalSideDebit, AccountTypeAsset.NormalSide())
	require.Equal(t, NormalSideDebit, AccountTypeExpense.NormalSide())
	require.Equal(t, NormalSideCredit, AccountTypeLiability.NormalSide())
	require.Equal(t, NormalSideCredit, AccountTypeEquity.NormalSide())
	require.Equal(t, NormalSideCredit, AccountTypeRevenue.NormalSide())
}

func TestCreateRejectsParentTypeMismatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	parent, err := svc.Create(ctx, Account{Code: "11000", Name: "Current Assets", Type: AccountTypeAsset})
	require.NoError(t, err)

	_, err = svc.Create(ctx, Account{Code: "41000", Name: "Sales", Type: AccountTypeRevenue, ParentID: &parent.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReparentDetectsCycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	root, err := svc.Create(ctx, Account{Code: "11000", Name: "Current Assets", Type: AccountTypeAsset})
	require.NoError(t, err)
	child, err := svc.Create(ctx, Account{Code: "11300", Name: "Inventory", Type: AccountTypeAsset, ParentID: &root.ID})
	require.NoError(t, err)
	grandchild, err := svc.Create(ctx, Account{Code: "11310", Name: "Raw Material", Type: AccountTypeAsset, ParentID: &child.ID})
	require.NoError(t, err)

	err = svc.Reparent(ctx, root.ID, &grandchild.ID)
	require.ErrorIs(t, err, shared.ErrIntegrity)
}

func TestChildrenListsDirectDescendants(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	root, err := svc.Create(ctx, Account{Code: "11000", Name: "Current Assets", Type: AccountTypeAsset})
	require.NoError(t, err)
	child, err := svc.Create(ctx, Account{Code: "11300", Name: "Inventory", Type: AccountTypeAsset, ParentID: &root.ID})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Account{Code: "11310", Name: "Raw Material", Type: AccountTypeAsset, ParentID: &child.ID})
	require.NoError(t, err)

	children, err := svc.Children(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "11300", children[0].Code)

	_, err = svc.Children(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReparentFrozenAfterPostings(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	acc, err := svc.Create(ctx, Account{Code: "11310", Name: "Raw Material", Type: AccountTypeAsset})
	require.NoError(t, err)
	repo.postings[acc.ID] = true

	err = svc.Reparent(ctx, acc.ID, nil)
	require.ErrorIs(t, err, shared.ErrState)
}
