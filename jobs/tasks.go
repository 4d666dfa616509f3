package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/clinic-billing/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity scans accrual rows for inconsistent totals.
	TaskLedgerIntegrity = "billing:ledger_integrity"
	// TaskIdempotencyCleanup purges expired request claims.
	TaskIdempotencyCleanup = "billing:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerIntegrityPayload bounds one integrity scan.
type LedgerIntegrityPayload struct {
	Limit int `json:"limit"`
}

// NewLedgerIntegrityTask constructs an integrity scan task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.MaxRetry(2), asynq.Timeout(10*time.Minute)), nil
}

// IdempotencyCleanupPayload sets how long request claims are kept.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.MaxRetry(1)), nil
}
