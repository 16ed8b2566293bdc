package periods

import (
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// Period represents a fiscal period window. Periods for a year are contiguous
// and non-overlapping; GenerateYear is the only way they come into existence.
type Period struct {
	ID             int64        `json:"id"`
	Year           int          `json:"year"`
	Month          int          `json:"month"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        time.Time    `json:"end_date"`
	Status         PeriodStatus `json:"status"`
	ClosedBy       *int64       `json:"closed_by,omitempty"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
	ClosingEntryID *int64       `json:"closing_entry_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Contains reports whether the date falls inside the period window.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}

var (
	// ErrPeriodsExist is returned when generating a year that already has periods.
	ErrPeriodsExist = fmt.Errorf("%w: periods already exist for year", shared.ErrIntegrity)
	// ErrAlreadyClosed indicates a re-close of a closed period.
	ErrAlreadyClosed = fmt.Errorf("%w: period already closed", shared.ErrState)
	// ErrNotClosed indicates reopening a period that is not closed.
	ErrNotClosed = fmt.Errorf("%w: period is not closed", shared.ErrState)
	// ErrNoPeriodForDate indicates no period covers the posting date.
	ErrNoPeriodForDate = fmt.Errorf("%w: no fiscal period covers date", shared.ErrValidation)
)
