package journals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
	"github.com/meridian-erp/meridian-erp/internal/ledger/periods"
	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
	internalShared "github.com/meridian-erp/meridian-erp/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// MetricsPort counts successful postings for observability.
type MetricsPort interface {
	CountJournal(referenceType, status string)
}

type Service struct {
	repo    Repository
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

func NewService(repo Repository, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]JournalEntry, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Get(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.Get(ctx, id)
}

// CreateEntry records a journal entry. A POSTED entry must balance and land in
// an open period; a DRAFT skips both checks until it is posted.
func (s *Service) CreateEntry(ctx context.Context, input CreateEntryInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	if input.Status == JournalStatusPosted {
		postedAt := s.now().UTC()
		input.PostedAt = &postedAt
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ensureAccountsExist(ctx, tx, input.Lines); err != nil {
			return err
		}
		if input.Status == JournalStatusPosted {
			if err := ensurePeriodOpen(ctx, tx, input.Date); err != nil {
				return err
			}
		}
		inserted, err := tx.InsertEntry(ctx, input)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		entry, err = tx.GetEntryWithLines(ctx, inserted.ID)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.metrics != nil {
		s.metrics.CountJournal(string(entry.ReferenceType), string(entry.Status))
	}
	s.recordAudit(ctx, input.CreatedBy, "journal.create", entry.ID, map[string]any{
		"number":         entry.EntryNumber(),
		"reference_type": string(entry.ReferenceType),
		"status":         string(entry.Status),
	})
	return entry, nil
}

// PostEntry transitions DRAFT to POSTED after re-validating balance and period
// openness. Posting an already POSTED entry is an idempotent no-op.
func (s *Service) PostEntry(ctx context.Context, entryID, actorID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.postInTx(ctx, tx, entryID)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.metrics != nil {
		s.metrics.CountJournal(string(entry.ReferenceType), string(JournalStatusPosted))
	}
	s.recordAudit(ctx, actorID, "journal.post", entry.ID, map[string]any{"number": entry.EntryNumber()})
	return entry, nil
}

// postInTx holds the shared DRAFT→POSTED transition used by PostEntry and
// BatchPost. The caller owns the transaction.
func (s *Service) postInTx(ctx context.Context, tx TxRepository, entryID int64) (JournalEntry, error) {
	entry, err := tx.GetEntryWithLines(ctx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	switch entry.Status {
	case JournalStatusPosted:
		return entry, nil
	case JournalStatusVoided:
		return JournalEntry{}, shared.ErrEntryVoided
	}
	if !entry.Balanced() {
		debit, credit := entry.Totals()
		return JournalEntry{}, fmt.Errorf("%w (debit %s, credit %s)", shared.ErrUnbalanced, debit, credit)
	}
	if err := ensurePeriodOpen(ctx, tx, entry.Date); err != nil {
		return JournalEntry{}, err
	}
	postedAt := s.now()
	if err := tx.MarkPosted(ctx, entry.ID, postedAt); err != nil {
		return JournalEntry{}, err
	}
	entry.Status = JournalStatusPosted
	entry.PostedAt = &postedAt
	return entry, nil
}

// VoidEntry transitions POSTED to VOIDED. Entries in a closed period cannot be
// voided; the period must be reopened first so closed history never changes
// silently. Rows are never deleted.
func (s *Service) VoidEntry(ctx context.Context, input VoidInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: entry id required", internalShared.ErrValidation)
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if current.Status != JournalStatusPosted {
			return shared.ErrInvalidStatus
		}
		if err := ensurePeriodOpen(ctx, tx, current.Date); err != nil {
			return err
		}
		if err := tx.MarkVoided(ctx, current.ID); err != nil {
			return err
		}
		current.Status = JournalStatusVoided
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.metrics != nil {
		s.metrics.CountJournal(string(entry.ReferenceType), string(JournalStatusVoided))
	}
	s.recordAudit(ctx, input.ActorID, "journal.void", entry.ID, map[string]any{"reason": input.Reason})
	return entry, nil
}

// ReverseEntry creates a mirrored POSTED entry instead of mutating the
// original. This is the only sanctioned correction path for posted history.
func (s *Service) ReverseEntry(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, fmt.Errorf("%w: entry id required", internalShared.ErrValidation)
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != JournalStatusPosted {
			return shared.ErrInvalidStatus
		}
		targetDate := original.Date
		if err := ensurePeriodOpen(ctx, tx, targetDate); err != nil {
			// closed-period corrections land in the current open period
			targetDate = s.now().UTC().Truncate(24 * time.Hour)
			if err := ensurePeriodOpen(ctx, tx, targetDate); err != nil {
				return err
			}
		}
		memo := input.Memo
		if memo == "" {
			memo = fmt.Sprintf("Reversal of %s", original.EntryNumber())
		}
		postedAt := s.now().UTC()
		posting := CreateEntryInput{
			Date:          targetDate,
			Description:   memo,
			Reference:     original.EntryNumber(),
			ReferenceType: RefReversal,
			ReferenceID:   uuid.New(),
			Status:        JournalStatusPosted,
			CreatedBy:     input.ActorID,
			PostedAt:      &postedAt,
			Lines:         reverseLines(original.Lines),
		}
		inserted, err := tx.InsertEntry(ctx, posting)
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, inserted.ID, posting.Lines); err != nil {
			return err
		}
		reversal, err = tx.GetEntryWithLines(ctx, inserted.ID)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.metrics != nil {
		s.metrics.CountJournal(string(RefReversal), string(JournalStatusPosted))
	}
	s.recordAudit(ctx, input.ActorID, "journal.reverse", input.EntryID, map[string]any{
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.EntryNumber(),
	})
	return reversal, nil
}

// BatchPost posts every id inside one transaction. If any entry fails
// validation the whole batch rolls back and the error carries the complete
// per-entry failure list.
func (s *Service) BatchPost(ctx context.Context, ids []int64, actorID int64) ([]JournalEntry, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no entries in batch", internalShared.ErrValidation)
	}
	var posted []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var failures []BatchFailure
		for _, id := range ids {
			entry, err := s.postInTx(ctx, tx, id)
			if err != nil {
				failures = append(failures, BatchFailure{EntryID: id, Reason: err.Error()})
				continue
			}
			posted = append(posted, entry)
		}
		if len(failures) > 0 {
			return &BatchError{Failures: failures}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, entry := range posted {
		if s.metrics != nil {
			s.metrics.CountJournal(string(entry.ReferenceType), string(JournalStatusPosted))
		}
	}
	s.recordAudit(ctx, actorID, "journal.batch_post", 0, map[string]any{"count": len(posted)})
	return posted, nil
}

// AccountBalance sums POSTED lines up to asOf, signed by the account's
// normal-side convention.
func (s *Service) AccountBalance(ctx context.Context, accountID int64, asOf time.Time, side accounts.NormalSide) (decimal.Decimal, error) {
	debit, credit, err := s.repo.SumAccount(ctx, accountID, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	if side == accounts.NormalSideCredit {
		return credit.Sub(debit), nil
	}
	return debit.Sub(credit), nil
}

func (s *Service) ensureAccountsExist(ctx context.Context, tx TxRepository, lines []LineInput) error {
	seen := make(map[int64]bool, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if !seen[line.AccountID] {
			seen[line.AccountID] = true
			ids = append(ids, line.AccountID)
		}
	}
	count, err := tx.CountAccounts(ctx, ids)
	if err != nil {
		return err
	}
	if count != len(ids) {
		return shared.ErrAccountUnknown
	}
	return nil
}

func ensurePeriodOpen(ctx context.Context, tx TxRepository, date time.Time) error {
	period, err := tx.FindPeriodByDateForUpdate(ctx, date)
	if err != nil {
		return err
	}
	if period.Status != periods.PeriodStatusOpen {
		return fmt.Errorf("%w (%04d-%02d)", shared.ErrPeriodClosed, period.Year, period.Month)
	}
	return nil
}

func reverseLines(lines []JournalLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
		})
	}
	return out
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entryID),
		Meta:     meta,
		At:       s.now(),
	})
}
