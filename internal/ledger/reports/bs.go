package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/accounts"
)

// BalanceSheetAccount is one line of a balance sheet section.
type BalanceSheetAccount struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// BalanceSheetSection groups accounts of one type.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    decimal.Decimal       `json:"total"`
}

// BalanceSheet is the structured as-of report. Unclosed revenue/expense
// activity shows up as CurrentEarnings inside equity so the sheet always
// balances even mid-period.
type BalanceSheet struct {
	Assets          BalanceSheetSection `json:"assets"`
	Liabilities     BalanceSheetSection `json:"liabilities"`
	Equity          BalanceSheetSection `json:"equity"`
	CurrentEarnings decimal.Decimal     `json:"current_earnings"`
	TotalLiabEquity decimal.Decimal     `json:"total_liabilities_equity"`
}

// BuildBalanceSheet aggregates as-of balances into the three sections.
func BuildBalanceSheet(balances []AccountBalance) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets", Total: decimal.Zero}
	liabilities := BalanceSheetSection{Label: "Liabilities", Total: decimal.Zero}
	equity := BalanceSheetSection{Label: "Equity", Total: decimal.Zero}
	earnings := decimal.Zero

	for _, acc := range balances {
		closing := acc.Closing()
		switch acc.Type {
		case accounts.AccountTypeAsset:
			row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Amount: closing}
			assets.Accounts = append(assets.Accounts, row)
			assets.Total = assets.Total.Add(row.Amount)
		case accounts.AccountTypeLiability:
			row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Amount: closing.Neg()}
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total = liabilities.Total.Add(row.Amount)
		case accounts.AccountTypeEquity:
			row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Amount: closing.Neg()}
			equity.Accounts = append(equity.Accounts, row)
			equity.Total = equity.Total.Add(row.Amount)
		case accounts.AccountTypeRevenue, accounts.AccountTypeExpense:
			earnings = earnings.Sub(closing)
		}
	}

	for _, section := range []*BalanceSheetSection{&assets, &liabilities, &equity} {
		sort.Slice(section.Accounts, func(i, j int) bool {
			return section.Accounts[i].Code < section.Accounts[j].Code
		})
	}

	return BalanceSheet{
		Assets:          assets,
		Liabilities:     liabilities,
		Equity:          equity,
		CurrentEarnings: earnings,
		TotalLiabEquity: liabilities.Total.Add(equity.Total).Add(earnings),
	}
}
