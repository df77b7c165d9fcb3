package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/apotek-pos/apotek-pos/internal/ledger"
)

// LedgerService is the slice of the ledger used by the expiry sweep.
type LedgerService interface {
	ExpiringBatches(ctx context.Context) ([]ledger.Batch, error)
	InvalidateAvailability(ctx context.Context, medicationID int64)
}

// ExpiryScanJob sweeps the ledger for batches at or past expiry. The status
// itself is derived at read time; the job exists to surface upcoming expiry
// in logs and to drop stale availability caches.
type ExpiryScanJob struct {
	service   LedgerService
	log       *slog.Logger
	threshold time.Duration
	clock     func() time.Time
}

// NewExpiryScanJob constructs the sweep job.
func NewExpiryScanJob(service LedgerService, logger *slog.Logger, threshold time.Duration) *ExpiryScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = ledger.DefaultNearExpiryThreshold
	}
	return &ExpiryScanJob{service: service, log: logger, threshold: threshold, clock: time.Now}
}

// Handle processes TaskExpiryScan tasks.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	now := payload.AsOf
	if now.IsZero() {
		now = j.clock()
	}
	batches, err := j.service.ExpiringBatches(ctx)
	if err != nil {
		return err
	}
	var expired, nearExpiry int
	medications := make(map[int64]struct{})
	for _, batch := range batches {
		medications[batch.MedicationID] = struct{}{}
		status := batch.Status(now, j.threshold)
		switch status {
		case ledger.StatusExpired:
			expired++
			j.log.Warn("batch expired",
				slog.Int64("batch_id", batch.ID),
				slog.Int64("medication_id", batch.MedicationID),
				slog.Int64("remaining_qty", batch.RemainingQty),
				slog.Time("expiry_date", batch.ExpiryDate))
		case ledger.StatusNearExpiry:
			nearExpiry++
			j.log.Info("batch near expiry",
				slog.Int64("batch_id", batch.ID),
				slog.Int64("medication_id", batch.MedicationID),
				slog.Int64("remaining_qty", batch.RemainingQty),
				slog.Time("expiry_date", batch.ExpiryDate))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for medicationID := range medications {
		g.Go(func() error {
			j.service.InvalidateAvailability(gctx, medicationID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.log.Info("expiry scan finished",
		slog.Int("batches", len(batches)),
		slog.Int("expired", expired),
		slog.Int("near_expiry", nearExpiry))
	return nil
}
