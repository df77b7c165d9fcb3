package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/apotek-pos/apotek-pos/internal/insights"
)

// InsightsService is the slice of the insights module used by the warmup.
type InsightsService interface {
	Refresh(ctx context.Context, windowDays int) (insights.Analysis, error)
}

// InsightsWarmupJob re-mines the basket-analysis snapshot so interactive
// requests hit a warm cache instead of paying for the scan.
type InsightsWarmupJob struct {
	service InsightsService
	log     *slog.Logger
}

// NewInsightsWarmupJob constructs the warmup job.
func NewInsightsWarmupJob(service InsightsService, logger *slog.Logger) *InsightsWarmupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightsWarmupJob{service: service, log: logger}
}

// Handle processes TaskInsightsWarmup tasks.
func (j *InsightsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload InsightsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	analysis, err := j.service.Refresh(ctx, payload.WindowDays)
	if err != nil {
		j.log.Error("insights warmup", slog.Any("error", err))
		return err
	}
	j.log.Info("insights warmup finished",
		slog.Int("window_days", analysis.WindowDays),
		slog.Int("baskets", analysis.Baskets),
		slog.Int("itemsets", len(analysis.Itemsets)),
		slog.Int("rules", len(analysis.Rules)))
	return nil
}
