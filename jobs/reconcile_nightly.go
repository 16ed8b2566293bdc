package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/reconcile"
)

// ReconcileNightlyPayload carries scheduling metadata for the nightly run.
type ReconcileNightlyPayload struct {
	AsOf      string  `json:"as_of,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// NewReconcileNightlyTask constructs the nightly reconciliation task.
func NewReconcileNightlyTask(payload ReconcileNightlyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileNightly, body, asynq.Queue(QueueDefault)), nil
}

// ReconcileNightlyJob compares physical inventory valuation against the
// general ledger and raises drift alerts above the configured threshold.
type ReconcileNightlyJob struct {
	Recon   *reconcile.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReconcileNightlyJob initialises the nightly reconciliation handler.
func NewReconcileNightlyJob(recon *reconcile.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileNightlyJob {
	return &ReconcileNightlyJob{
		Recon:   recon,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconciliation and reports drift.
func (j *ReconcileNightlyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Recon == nil {
		return errors.New("reconcile nightly: handler not configured")
	}
	var payload ReconcileNightlyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Threshold <= 0 {
		payload.Threshold = 0.01
	}
	asOf := j.now()
	if payload.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", payload.AsOf)
		if err != nil {
			return asynq.SkipRetry
		}
		asOf = parsed
	}

	tracker := j.metrics().Track(TaskReconcileNightly)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("as_of", asOf.Format("2006-01-02")))
	logger.Info("starting nightly reconciliation")

	report, err := j.Recon.InventoryVsGL(ctx, asOf)
	if err != nil {
		resultErr = err
		logger.Error("reconciliation failed", slog.Any("error", err))
		return resultErr
	}

	threshold := decimal.NewFromFloat(payload.Threshold)
	drift := report.Difference.Abs()
	if drift.GreaterThan(threshold) {
		severity := "MEDIUM"
		if drift.GreaterThan(threshold.Mul(decimal.NewFromInt(100))) {
			severity = "HIGH"
		}
		logger.Warn("inventory drift detected",
			slog.String("severity", severity),
			slog.String("gl_total", report.GLTotal.String()),
			slog.String("physical_total", report.PhysicalTotal.String()),
			slog.String("difference", report.Difference.String()),
			slog.Int("overlaps", len(report.Overlaps)),
		)
		j.metrics().AddDriftAlert(severity)
	}

	logger.Info("completed nightly reconciliation",
		slog.String("difference", report.Difference.String()),
		slog.Int("accounts", len(report.Accounts)),
	)
	return resultErr
}

func (j *ReconcileNightlyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileNightly))
	}
	return slog.Default().With(slog.String("job", TaskReconcileNightly))
}

func (j *ReconcileNightlyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *ReconcileNightlyJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
