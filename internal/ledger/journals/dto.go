package journals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	core "github.com/meridian-erp/meridian-erp/internal/shared"
)

// LineInput describes a journal line for a posting request.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// CreateEntryInput groups fields required to create a journal entry.
type CreateEntryInput struct {
	Date          time.Time
	Description   string
	Reference     string
	ReferenceType ReferenceType
	ReferenceID   uuid.UUID
	Status        JournalStatus
	CreatedBy     int64
	// PostedAt is stamped by the service clock when the entry is created
	// directly as POSTED; drafts leave it nil until post time.
	PostedAt *time.Time
	Lines    []LineInput
}

// Validate ensures the input meets posting criteria. Balance is only enforced
// when the entry is created directly as POSTED; drafts are re-validated at
// post time.
func (in CreateEntryInput) Validate() error {
	if in.Date.IsZero() {
		return fmt.Errorf("%w: entry date required", core.ErrValidation)
	}
	if !in.ReferenceType.Valid() {
		return fmt.Errorf("%w: unknown reference type %q", core.ErrValidation, in.ReferenceType)
	}
	if in.ReferenceID == uuid.Nil {
		return fmt.Errorf("%w: reference id required", core.ErrValidation)
	}
	if in.Status != JournalStatusDraft && in.Status != JournalStatusPosted {
		return fmt.Errorf("%w: entries start as DRAFT or POSTED, got %q", core.ErrValidation, in.Status)
	}
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("%w: line %d missing account", core.ErrValidation, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", core.ErrValidation, idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("line %d: %w", idx, shared.ErrLineAmounts)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if in.Status == JournalStatusPosted && debit.Sub(credit).Abs().GreaterThan(BalanceTolerance) {
		return fmt.Errorf("%w (debit %s, credit %s)", shared.ErrUnbalanced, debit, credit)
	}
	return nil
}

// VoidInput wraps parameters for voiding.
type VoidInput struct {
	EntryID int64
	ActorID int64
	Reason  string
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID int64
	ActorID int64
	Memo    string
}

// BatchFailure reports why one entry in a batch could not post.
type BatchFailure struct {
	EntryID int64
	Reason  string
}

// BatchError aborts a batch post. It carries the full per-entry failure list
// so the caller can fix every problem before retrying.
type BatchError struct {
	Failures []BatchFailure
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch post aborted: %d of batch failed validation", len(e.Failures))
}

func (e *BatchError) Unwrap() error {
	return core.ErrValidation
}
