package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek-pos/internal/insights"
)

type insightsStub struct {
	windowDays int
	err        error
}

func (s *insightsStub) Refresh(_ context.Context, windowDays int) (insights.Analysis, error) {
	s.windowDays = windowDays
	if s.err != nil {
		return insights.Analysis{}, s.err
	}
	return insights.Analysis{WindowDays: windowDays, Baskets: 12}, nil
}

func TestInsightsWarmupRefreshesWindow(t *testing.T) {
	stub := &insightsStub{}
	job := NewInsightsWarmupJob(stub, slog.New(slog.DiscardHandler))

	task, err := NewInsightsWarmupTask(InsightsWarmupPayload{WindowDays: 30})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 30, stub.windowDays)
}

func TestInsightsWarmupRejectsMalformedPayload(t *testing.T) {
	job := NewInsightsWarmupJob(&insightsStub{}, slog.New(slog.DiscardHandler))

	err := job.Handle(context.Background(), asynq.NewTask(TaskInsightsWarmup, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestInsightsWarmupPropagatesRefreshError(t *testing.T) {
	boom := errors.New("mine failed")
	job := NewInsightsWarmupJob(&insightsStub{err: boom}, slog.New(slog.DiscardHandler))

	task, err := NewInsightsWarmupTask(InsightsWarmupPayload{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}
