package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (Account, error) {
	return s.repo.GetByCode(ctx, code)
}

// Children lists the direct children of an account, for CoA tree displays.
func (s *Service) Children(ctx context.Context, id int64) ([]Account, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListChildren(ctx, id)
}

// Create registers a new CoA node. The parent chain is walked so a reparented
// subtree can never loop back onto itself.
func (s *Service) Create(ctx context.Context, account Account) (Account, error) {
	if strings.TrimSpace(account.Code) == "" || strings.TrimSpace(account.Name) == "" {
		return Account{}, fmt.Errorf("%w: account code and name required", shared.ErrValidation)
	}
	if !account.Type.Valid() {
		return Account{}, fmt.Errorf("%w: unknown account type %q", shared.ErrValidation, account.Type)
	}
	if account.ParentID != nil {
		parent, err := s.repo.GetByID(ctx, *account.ParentID)
		if err != nil {
			return Account{}, fmt.Errorf("account parent: %w", err)
		}
		if parent.Type != account.Type {
			return Account{}, fmt.Errorf("%w: parent %s has type %s", shared.ErrValidation, parent.Code, parent.Type)
		}
	}
	account.IsActive = true
	return s.repo.Insert(ctx, account)
}

// UpdateMetadata changes name/category/active flag. Structural fields (code,
// type, parent) are frozen once the account carries postings.
func (s *Service) UpdateMetadata(ctx context.Context, id int64, name, category string, isActive bool) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: account name required", shared.ErrValidation)
	}
	return s.repo.UpdateMetadata(ctx, id, name, category, isActive)
}

// Reparent moves an account under a new parent after verifying the move does
// not introduce a cycle and the account has no postings yet.
func (s *Service) Reparent(ctx context.Context, id int64, newParentID *int64) error {
	posted, err := s.repo.HasPostings(ctx, id)
	if err != nil {
		return err
	}
	if posted {
		return fmt.Errorf("%w: account %d already has postings", shared.ErrState, id)
	}
	if newParentID != nil {
		// walk up from the new parent; hitting the account again means a cycle
		seen := map[int64]bool{id: true}
		cursor := *newParentID
		for {
			if seen[cursor] {
				return fmt.Errorf("%w: reparenting account %d creates a cycle", shared.ErrIntegrity, id)
			}
			seen[cursor] = true
			parent, err := s.repo.GetByID(ctx, cursor)
			if err != nil {
				return err
			}
			if parent.ParentID == nil {
				break
			}
			cursor = *parent.ParentID
		}
	}
	return s.repo.UpdateParent(ctx, id, newParentID)
}
