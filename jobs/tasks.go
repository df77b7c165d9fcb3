package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpiryScan sweeps the batch ledger for expired and near-expiry lots.
	TaskExpiryScan = "ledger:expiry-scan"
	// TaskIdempotencyCleanup prunes consumed idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency-cleanup"
	// TaskInsightsWarmup re-mines the basket-analysis snapshot.
	TaskInsightsWarmup = "insights:basket-warmup"
)

// ExpiryScanPayload parameterises one expiry sweep.
type ExpiryScanPayload struct {
	// AsOf anchors the scan; zero means time.Now at execution.
	AsOf time.Time `json:"as_of,omitzero"`
}

// NewExpiryScanTask constructs an expiry scan task.
func NewExpiryScanTask(payload ExpiryScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, data), nil
}

// IdempotencyCleanupPayload parameterises key pruning.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// InsightsWarmupPayload parameterises one basket-analysis refresh.
type InsightsWarmupPayload struct {
	// WindowDays bounds the history mined; zero means the default window.
	WindowDays int `json:"window_days,omitzero"`
}

// NewInsightsWarmupTask constructs a warmup task.
func NewInsightsWarmupTask(payload InsightsWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInsightsWarmup, data), nil
}
