package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// BalancesForRange returns per-account opening balances (before start) and
	// posted activity inside [start, end].
	BalancesForRange(ctx context.Context, start, end time.Time) ([]AccountBalance, error)
	// BalancesAsOf returns cumulative posted activity up to asOf.
	BalancesAsOf(ctx context.Context, asOf time.Time) ([]AccountBalance, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) BalancesForRange(ctx context.Context, start, end time.Time) ([]AccountBalance, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.code, a.name, a.type,
  COALESCE(SUM(CASE WHEN e.entry_date < $1 THEN l.debit - l.credit ELSE 0 END), 0) AS opening,
  COALESCE(SUM(CASE WHEN e.entry_date >= $1 THEN l.debit ELSE 0 END), 0) AS debit,
  COALESCE(SUM(CASE WHEN e.entry_date >= $1 THEN l.credit ELSE 0 END), 0) AS credit
FROM accounts a
JOIN journal_lines l ON l.account_id = a.id
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.status = 'POSTED' AND e.entry_date <= $2
GROUP BY a.id, a.code, a.name, a.type
ORDER BY a.code`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBalances(rows)
}

func (r *repository) BalancesAsOf(ctx context.Context, asOf time.Time) ([]AccountBalance, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.code, a.name, a.type,
  0 AS opening,
  COALESCE(SUM(l.debit), 0) AS debit,
  COALESCE(SUM(l.credit), 0) AS credit
FROM accounts a
JOIN journal_lines l ON l.account_id = a.id
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.status = 'POSTED' AND e.entry_date <= $1
GROUP BY a.id, a.code, a.name, a.type
ORDER BY a.code`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBalances(rows)
}

func collectBalances(rows pgx.Rows) ([]AccountBalance, error) {
	var balances []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.AccountID, &b.Code, &b.Name, &b.Type, &b.Opening, &b.Debit, &b.Credit); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
