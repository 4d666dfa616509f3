package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/clinic-billing/internal/accruals"
	jobmetrics "github.com/odyssey-erp/clinic-billing/internal/jobs"
)

// ImbalanceSource lists ledger rows with inconsistent totals.
type ImbalanceSource interface {
	Imbalances(ctx context.Context, limit int) ([]accruals.Imbalance, error)
}

// LedgerIntegrityJob reports accrual rows whose total_sum differs from the
// sum of their counters and salary, or whose total_left differs from
// total_sum minus total_paid. It only reports; rows are never rewritten.
type LedgerIntegrityJob struct {
	Source  ImbalanceSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(source ImbalanceSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = 500
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int("limit", payload.Limit))
	logger.Info("starting ledger integrity scan")

	found, err := j.Source.Imbalances(ctx, payload.Limit)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}

	byKind := map[accruals.ImbalanceKind]int{}
	for _, im := range found {
		logger.Warn("ledger imbalance detected",
			slog.Int64("accrual_id", im.AccrualID),
			slog.String("subject", string(im.Key.Subject)),
			slog.Int64("subject_id", im.Key.SubjectID),
			slog.Int64("clinic_id", im.Key.ClinicID),
			slog.Int64("month_id", im.Key.MonthID),
			slog.String("kind", string(im.Kind)),
			slog.String("expected", im.Expected.String()),
			slog.String("actual", im.Actual.String()),
		)
		byKind[im.Kind]++
	}
	for kind, n := range byKind {
		j.metrics().AddImbalances(string(kind), n)
	}

	logger.Info("completed ledger integrity scan",
		slog.Int("imbalances", len(found)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
