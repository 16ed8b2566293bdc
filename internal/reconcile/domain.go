package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountBreakdown is the GL side of the report per inventory account.
type AccountBreakdown struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}

// TypeBreakdown is the physical side per product type.
type TypeBreakdown struct {
	ProductType string          `json:"product_type"`
	Amount      decimal.Decimal `json:"amount"`
}

// Overlap flags opening-balance and stock-opname credits that hit the same
// inventory account and likely describe the same physical stock. Reported,
// never netted away.
type Overlap struct {
	AccountID     int64           `json:"account_id"`
	Code          string          `json:"code"`
	OpeningCredit decimal.Decimal `json:"opening_credit"`
	OpnameCredit  decimal.Decimal `json:"opname_credit"`
	Overlap       decimal.Decimal `json:"overlap"`
}

// Report is the advisory inventory-vs-GL reconciliation. A non-zero
// difference is data for a human, not an error; corrective postings are a
// separate explicit action.
type Report struct {
	AsOf          time.Time          `json:"as_of"`
	GLTotal       decimal.Decimal    `json:"gl_total"`
	PhysicalTotal decimal.Decimal    `json:"physical_total"`
	Difference    decimal.Decimal    `json:"difference"`
	Accounts      []AccountBreakdown `json:"accounts"`
	ProductTypes  []TypeBreakdown    `json:"product_types"`
	Overlaps      []Overlap          `json:"overlaps,omitempty"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// ClosingCheck verifies the closing identity of a closed period: the period's
// net income must equal the net retained-earnings credit of its CLOSING entry.
type ClosingCheck struct {
	PeriodID       int64           `json:"period_id"`
	NetIncome      decimal.Decimal `json:"net_income"`
	RetainedCredit decimal.Decimal `json:"retained_credit"`
	Difference     decimal.Decimal `json:"difference"`
	Match          bool            `json:"match"`
}

// ClosingData is what the repository gathers for a closing identity check.
type ClosingData struct {
	PeriodID       int64
	Start          time.Time
	End            time.Time
	ClosingEntryID *int64
	NetIncome      decimal.Decimal
	RetainedCredit decimal.Decimal
}

// CreditTotal aggregates posted credits per inventory account for one
// reference class.
type CreditTotal struct {
	AccountID int64
	Code      string
	Amount    decimal.Decimal
}
