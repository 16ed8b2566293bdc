package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	internalShared "github.com/meridian-erp/meridian-erp/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Config carries the close/reopen policy knobs.
type Config struct {
	// RetainedEarningsAccountID receives the net of revenue and expense on close.
	RetainedEarningsAccountID int64
	// VoidClosingOnReopen voids the closing entry when the period reopens.
	// Off by default: reversing a close is an explicit, separate action.
	VoidClosingOnReopen bool
}

type Service struct {
	repo  Repository
	audit AuditPort
	cfg   Config
	now   func() time.Time
}

func NewService(repo Repository, audit AuditPort, cfg Config) *Service {
	return &Service{repo: repo, audit: audit, cfg: cfg, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) List(ctx context.Context, year int) ([]Period, error) {
	return s.repo.List(ctx, year)
}

func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) FindByDate(ctx context.Context, date time.Time) (Period, error) {
	return s.repo.FindByDate(ctx, date)
}

// GenerateYear creates the twelve calendar periods for a year. It refuses to
// run when any period for the year already exists, so a double generation can
// never produce overlapping windows.
func (s *Service) GenerateYear(ctx context.Context, year int, actorID int64) ([]Period, error) {
	if year < 1900 || year > 9999 {
		return nil, fmt.Errorf("%w: year %d out of range", internalShared.ErrValidation, year)
	}
	generated := make([]Period, 0, 12)
	for month := 1; month <= 12; month++ {
		start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0).AddDate(0, 0, -1)
		generated = append(generated, Period{
			Year:      year,
			Month:     month,
			StartDate: start,
			EndDate:   end,
			Status:    PeriodStatusOpen,
		})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.ExistsForYear(ctx, year)
		if err != nil {
			return err
		}
		if exists {
			return ErrPeriodsExist
		}
		return tx.InsertPeriods(ctx, generated)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "period.generate_year", fmt.Sprintf("%d", year), map[string]any{"year": year})
	return s.repo.List(ctx, year)
}

// CloseResult reports what a period close produced.
type CloseResult struct {
	Period         Period          `json:"period"`
	ClosingEntryID *int64          `json:"closing_entry_id,omitempty"`
	NetIncome      decimal.Decimal `json:"net_income"`
	LineCount      int             `json:"line_count"`
}

// Close zeroes every revenue and expense account for the period into retained
// earnings through one balanced CLOSING entry, then marks the period closed.
// Entry emission and the status flip share a transaction.
func (s *Service) Close(ctx context.Context, periodID, actorID int64) (CloseResult, error) {
	if s.cfg.RetainedEarningsAccountID == 0 {
		return CloseResult{}, fmt.Errorf("%w: retained earnings account not configured", internalShared.ErrValidation)
	}
	var result CloseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if period.Status == PeriodStatusClosed {
			return ErrAlreadyClosed
		}
		nets, err := tx.RevenueExpenseNet(ctx, period.StartDate, period.EndDate)
		if err != nil {
			return err
		}
		lines := make([]ClosingLine, 0, len(nets)+1)
		totalNet := decimal.Zero
		for _, n := range nets {
			if n.Net.IsZero() {
				continue
			}
			line := ClosingLine{AccountID: n.AccountID, Description: fmt.Sprintf("Close %s", n.Code)}
			if n.Net.IsPositive() {
				line.Credit = n.Net
			} else {
				line.Debit = n.Net.Neg()
			}
			lines = append(lines, line)
			totalNet = totalNet.Add(n.Net)
		}
		// net income is credit-positive: revenue credits exceed expense debits
		result.NetIncome = totalNet.Neg()
		closedAt := s.now()
		var closingEntryID *int64
		if len(lines) > 0 {
			retained := ClosingLine{AccountID: s.cfg.RetainedEarningsAccountID, Description: "Period close to retained earnings"}
			if totalNet.IsPositive() {
				retained.Debit = totalNet
			} else {
				retained.Credit = totalNet.Neg()
			}
			lines = append(lines, retained)
			entryID, err := tx.InsertClosingEntry(ctx, ClosingEntry{
				Date:        period.EndDate,
				Description: fmt.Sprintf("Closing entry %04d-%02d", period.Year, period.Month),
				Reference:   fmt.Sprintf("%04d-%02d", period.Year, period.Month),
				ReferenceID: uuid.New(),
				CreatedBy:   actorID,
				PostedAt:    closedAt,
				Lines:       lines,
			})
			if err != nil {
				return err
			}
			closingEntryID = &entryID
		}
		if err := tx.MarkClosed(ctx, period.ID, actorID, closedAt, closingEntryID); err != nil {
			return err
		}
		period.Status = PeriodStatusClosed
		period.ClosedBy = &actorID
		period.ClosedAt = &closedAt
		period.ClosingEntryID = closingEntryID
		result.Period = period
		result.ClosingEntryID = closingEntryID
		result.LineCount = len(lines)
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	s.recordAudit(ctx, actorID, "period.close", fmt.Sprintf("%d", periodID), map[string]any{
		"net_income":       result.NetIncome.String(),
		"closing_entry_id": result.ClosingEntryID,
	})
	return result, nil
}

// Reopen flips a closed period back to OPEN. The closing entry is voided only
// when the configured policy says so; otherwise it stays posted and must be
// reversed explicitly.
func (s *Service) Reopen(ctx context.Context, periodID, actorID int64) (Period, error) {
	var reopened Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if period.Status != PeriodStatusClosed {
			return ErrNotClosed
		}
		if err := tx.MarkReopened(ctx, period.ID); err != nil {
			return err
		}
		if s.cfg.VoidClosingOnReopen && period.ClosingEntryID != nil {
			if err := tx.VoidJournalEntry(ctx, *period.ClosingEntryID); err != nil {
				return err
			}
		}
		period.Status = PeriodStatusOpen
		period.ClosedBy = nil
		period.ClosedAt = nil
		reopened = period
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actorID, "period.reopen", fmt.Sprintf("%d", periodID), map[string]any{
		"voided_closing_entry": s.cfg.VoidClosingOnReopen && reopened.ClosingEntryID != nil,
	})
	return reopened, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "fiscal_period",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
}
