package journals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft  JournalStatus = "DRAFT"
	JournalStatusPosted JournalStatus = "POSTED"
	JournalStatusVoided JournalStatus = "VOIDED"
)

// ReferenceType tags the business event a journal entry originated from.
// Entries are never typed in directly; every posting points at a source record.
type ReferenceType string

const (
	RefGoodsReceipt      ReferenceType = "GOODS_RECEIPT"
	RefSalesInvoice      ReferenceType = "SALES_INVOICE"
	RefPurchaseInvoice   ReferenceType = "PURCHASE_INVOICE"
	RefStockAdjustment   ReferenceType = "STOCK_ADJUSTMENT"
	RefMaterialIssue     ReferenceType = "MATERIAL_ISSUE"
	RefProductionReceipt ReferenceType = "PRODUCTION_RECEIPT"
	RefOpeningBalance    ReferenceType = "OPENING_BALANCE"
	RefManualEntry       ReferenceType = "MANUAL_ENTRY"
	RefClosing           ReferenceType = "CLOSING"
	RefReversal          ReferenceType = "REVERSAL"
)

// Valid reports whether the reference type is a known business event tag.
func (t ReferenceType) Valid() bool {
	switch t {
	case RefGoodsReceipt, RefSalesInvoice, RefPurchaseInvoice, RefStockAdjustment,
		RefMaterialIssue, RefProductionReceipt, RefOpeningBalance, RefManualEntry, RefClosing, RefReversal:
		return true
	}
	return false
}

// BalanceTolerance is the maximum debit/credit mismatch accepted at post time.
var BalanceTolerance = decimal.NewFromFloat(0.01)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID            int64         `json:"id"`
	Number        int64         `json:"number"`
	Date          time.Time     `json:"date"`
	Description   string        `json:"description"`
	Reference     string        `json:"reference"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   uuid.UUID     `json:"reference_id"`
	Status        JournalStatus `json:"status"`
	CreatedBy     int64         `json:"created_by"`
	PostedAt      *time.Time    `json:"posted_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Lines         []JournalLine `json:"lines"`
}

// EntryNumber renders the sequential number in its document form.
func (e JournalEntry) EntryNumber() string {
	return fmt.Sprintf("JE-%06d", e.Number)
}

// Totals returns the debit and credit sums over the entry lines.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// Balanced reports whether debits equal credits within the ledger tolerance.
func (e JournalEntry) Balanced() bool {
	debit, credit := e.Totals()
	return debit.Sub(credit).Abs().LessThanOrEqual(BalanceTolerance)
}

// JournalLine stores a debit or credit amount for an account. Exactly one of
// the pair is positive.
type JournalLine struct {
	ID          int64           `json:"id"`
	EntryID     int64           `json:"entry_id"`
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}
