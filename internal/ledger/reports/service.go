package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
)

// Service builds financial statements from posted journal activity. Results
// are cached; concurrent identical requests collapse into a single build.
type Service struct {
	repo  Repository
	cache *cache.ReportCache
	group singleflight.Group
}

func NewService(repo Repository, reportCache *cache.ReportCache) *Service {
	return &Service{repo: repo, cache: reportCache}
}

func (s *Service) IncomeStatement(ctx context.Context, start, end time.Time) (IncomeStatement, error) {
	key := fmt.Sprintf("reports:pl:%s:%s", start.Format("2006-01-02"), end.Format("2006-01-02"))

	var cached IncomeStatement
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return IncomeStatement{}, err
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		balances, err := s.repo.BalancesForRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		report := BuildIncomeStatement(balances)
		if err := s.cache.Set(ctx, key, report); err != nil {
			return nil, err
		}
		return report, nil
	})
	if err != nil {
		return IncomeStatement{}, err
	}
	return v.(IncomeStatement), nil
}

func (s *Service) TrialBalance(ctx context.Context, start, end time.Time) (TrialBalance, error) {
	key := fmt.Sprintf("reports:tb:%s:%s", start.Format("2006-01-02"), end.Format("2006-01-02"))

	var cached TrialBalance
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return TrialBalance{}, err
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		balances, err := s.repo.BalancesForRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		report := BuildTrialBalance(balances)
		if err := s.cache.Set(ctx, key, report); err != nil {
			return nil, err
		}
		return report, nil
	})
	if err != nil {
		return TrialBalance{}, err
	}
	return v.(TrialBalance), nil
}

func (s *Service) BalanceSheet(ctx context.Context, asOf time.Time) (BalanceSheet, error) {
	key := fmt.Sprintf("reports:bs:%s", asOf.Format("2006-01-02"))

	var cached BalanceSheet
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return BalanceSheet{}, err
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		balances, err := s.repo.BalancesAsOf(ctx, asOf)
		if err != nil {
			return nil, err
		}
		report := BuildBalanceSheet(balances)
		if err := s.cache.Set(ctx, key, report); err != nil {
			return nil, err
		}
		return report, nil
	})
	if err != nil {
		return BalanceSheet{}, err
	}
	return v.(BalanceSheet), nil
}
