package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// KeyStore is the slice of the idempotency store used by the cleanup job.
type KeyStore interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes consumed idempotency keys past retention.
type IdempotencyCleanupJob struct {
	store     KeyStore
	log       *slog.Logger
	retention time.Duration
}

// NewIdempotencyCleanupJob constructs the cleanup job.
func NewIdempotencyCleanupJob(store KeyStore, logger *slog.Logger, retention time.Duration) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &IdempotencyCleanupJob{store: store, log: logger, retention: retention}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = j.retention
	}
	if err := j.store.Cleanup(ctx, retention); err != nil {
		return err
	}
	j.log.Info("idempotency keys pruned", slog.Duration("retention", retention))
	return nil
}
