// Package shared holds error sentinels common to the ledger packages.
package shared

import (
	"fmt"

	core "github.com/meridian-erp/meridian-erp/internal/shared"
)

var (
	// ErrUnbalanced indicates debit != credit beyond the ledger tolerance.
	ErrUnbalanced = fmt.Errorf("%w: journal lines must balance", core.ErrValidation)
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = fmt.Errorf("%w: journal requires at least two lines", core.ErrValidation)
	// ErrLineAmounts indicates a line with both or neither side set.
	ErrLineAmounts = fmt.Errorf("%w: exactly one of debit/credit must be positive", core.ErrValidation)
	// ErrPeriodClosed indicates the entry date falls in a closed period.
	ErrPeriodClosed = fmt.Errorf("%w: fiscal period is closed", core.ErrState)
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = fmt.Errorf("%w: journal entry", core.ErrNotFound)
	// ErrEntryVoided indicates an operation on a voided entry.
	ErrEntryVoided = fmt.Errorf("%w: journal entry is voided", core.ErrState)
	// ErrInvalidStatus indicates action can't proceed from the current status.
	ErrInvalidStatus = fmt.Errorf("%w: invalid journal status transition", core.ErrState)
	// ErrAccountUnknown indicates a line referencing a missing account.
	ErrAccountUnknown = fmt.Errorf("%w: unknown account on journal line", core.ErrValidation)
)
