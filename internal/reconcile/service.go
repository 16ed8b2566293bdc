package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/ledger/journals"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
)

// MetricsPort exposes the drift gauge.
type MetricsPort interface {
	SetReconciliationDrift(drift float64)
}

// Config carries the chart-of-accounts binding the checks need.
type Config struct {
	RetainedEarningsCode string
}

// Service builds the advisory inventory-vs-GL report and the closing identity
// check. Reports are cached; concurrent identical requests share one build.
type Service struct {
	repo    Repository
	cache   *cache.ReportCache
	metrics MetricsPort
	cfg     Config
	group   singleflight.Group
	now     func() time.Time
}

func NewService(repo Repository, reportCache *cache.ReportCache, metrics MetricsPort, cfg Config) *Service {
	return &Service{repo: repo, cache: reportCache, metrics: metrics, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) { s.now = now }

// InventoryVsGL compares the GL valuation of inventory accounts against the
// physical stock valuation. The two sides and the overlap scan run
// concurrently; the result is advisory data, never auto-corrected.
func (s *Service) InventoryVsGL(ctx context.Context, asOf time.Time) (Report, error) {
	key := fmt.Sprintf("reconcile:inv-gl:%s", asOf.Format("2006-01-02"))

	var cached Report
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return Report{}, err
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		report, err := s.build(ctx, asOf)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, report); err != nil {
			return nil, err
		}
		return report, nil
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (s *Service) build(ctx context.Context, asOf time.Time) (Report, error) {
	var (
		accounts []AccountBreakdown
		types    []TypeBreakdown
		opening  []CreditTotal
		opname   []CreditTotal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = s.repo.GLInventoryBalances(gctx, asOf)
		return err
	})
	g.Go(func() error {
		var err error
		types, err = s.repo.PhysicalValuation(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		opening, err = s.repo.InventoryCreditTotals(gctx, asOf, string(journals.RefOpeningBalance))
		return err
	})
	g.Go(func() error {
		var err error
		opname, err = s.repo.InventoryCreditTotals(gctx, asOf, string(journals.RefStockAdjustment))
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{
		AsOf:         asOf,
		Accounts:     accounts,
		ProductTypes: types,
		Overlaps:     detectOverlaps(opening, opname),
		GeneratedAt:  s.now(),
	}
	for _, a := range accounts {
		report.GLTotal = report.GLTotal.Add(a.Amount)
	}
	for _, t := range types {
		report.PhysicalTotal = report.PhysicalTotal.Add(t.Amount)
	}
	report.Difference = report.GLTotal.Sub(report.PhysicalTotal)

	if s.metrics != nil {
		drift, _ := report.Difference.Float64()
		s.metrics.SetReconciliationDrift(drift)
	}
	return report, nil
}

// detectOverlaps pairs opening-balance credits with stock-opname credits on
// the same inventory account. The overlap is min of the two totals: the same
// physical stock credited twice must be surfaced, never silently netted.
func detectOverlaps(opening, opname []CreditTotal) []Overlap {
	byAccount := make(map[int64]CreditTotal, len(opname))
	for _, c := range opname {
		byAccount[c.AccountID] = c
	}
	var overlaps []Overlap
	for _, open := range opening {
		adj, ok := byAccount[open.AccountID]
		if !ok {
			continue
		}
		overlaps = append(overlaps, Overlap{
			AccountID:     open.AccountID,
			Code:          open.Code,
			OpeningCredit: open.Amount,
			OpnameCredit:  adj.Amount,
			Overlap:       decimal.Min(open.Amount, adj.Amount),
		})
	}
	return overlaps
}

// ClosingIdentity checks that a closed period's CLOSING entry moved exactly
// the period's net income into retained earnings.
func (s *Service) ClosingIdentity(ctx context.Context, periodID int64) (ClosingCheck, error) {
	data, err := s.repo.ClosingData(ctx, periodID, s.cfg.RetainedEarningsCode)
	if err != nil {
		return ClosingCheck{}, err
	}
	check := ClosingCheck{
		PeriodID:       data.PeriodID,
		NetIncome:      data.NetIncome,
		RetainedCredit: data.RetainedCredit,
	}
	check.Difference = check.NetIncome.Sub(check.RetainedCredit)
	check.Match = check.Difference.Abs().LessThanOrEqual(journals.BalanceTolerance)
	return check, nil
}
