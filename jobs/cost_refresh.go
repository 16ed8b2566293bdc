package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// systemActorID marks audit entries written by scheduled jobs.
const systemActorID = 0

// StandardCostRefreshPayload limits the refresh to specific BOMs when set.
type StandardCostRefreshPayload struct {
	BomIDs []int64 `json:"bom_ids,omitempty"`
}

// NewStandardCostRefreshTask constructs the standard-cost refresh task.
func NewStandardCostRefreshTask(payload StandardCostRefreshPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStandardCostRefresh, body, asynq.Queue(QueueDefault)), nil
}

// StandardCostRefreshJob re-rolls and persists standard costs for every BOM.
type StandardCostRefreshJob struct {
	Costing *costing.Service
	Repo    costing.Repository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStandardCostRefreshJob initialises the refresh handler.
func NewStandardCostRefreshJob(svc *costing.Service, repo costing.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *StandardCostRefreshJob {
	return &StandardCostRefreshJob{Costing: svc, Repo: repo, Logger: logger, Metrics: metrics}
}

// Handle re-rolls each BOM, logging warnings and continuing past failures.
func (j *StandardCostRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Costing == nil || j.Repo == nil {
		return errors.New("standard cost refresh: handler not configured")
	}
	var payload StandardCostRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStandardCostRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	bomIDs := payload.BomIDs
	if len(bomIDs) == 0 {
		ids, err := j.Repo.ListBomIDs(ctx)
		if err != nil {
			resultErr = err
			j.logger().Error("listing BOMs failed", slog.Any("error", err))
			return resultErr
		}
		bomIDs = ids
	}

	logger := j.logger().With(slog.Int("boms", len(bomIDs)))
	logger.Info("starting standard cost refresh")

	refreshed := 0
	failed := 0
	for _, bomID := range bomIDs {
		result, err := j.Costing.ApplyStandardCost(ctx, bomID, systemActorID)
		if err != nil {
			failed++
			logger.Warn("roll-up failed", slog.Int64("bom_id", bomID), slog.Any("error", err))
			continue
		}
		refreshed++
		for _, warning := range result.Warnings {
			logger.Warn("roll-up warning",
				slog.Int64("bom_id", bomID),
				slog.Int64("variant_id", warning.ComponentVariantID),
				slog.String("source", string(warning.Source)),
			)
		}
	}

	if failed > 0 && refreshed == 0 {
		resultErr = errors.New("standard cost refresh: all roll-ups failed")
	}
	logger.Info("completed standard cost refresh",
		slog.Int("refreshed", refreshed),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *StandardCostRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStandardCostRefresh))
	}
	return slog.Default().With(slog.String("job", TaskStandardCostRefresh))
}

func (j *StandardCostRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}
