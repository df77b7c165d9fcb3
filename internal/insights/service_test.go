package insights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

type basketStub struct {
	baskets [][]string
	err     error
	calls   int
	since   time.Time
}

func (s *basketStub) Baskets(_ context.Context, since time.Time) ([][]string, error) {
	s.calls++
	s.since = since
	if s.err != nil {
		return nil, s.err
	}
	return s.baskets, nil
}

func newTestService(t *testing.T, source BasketSource) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(source, NewAnalysisCache(client, time.Hour), MinerConfig{MinSupport: 0.3, MinConfidence: 0.6})
	svc.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return svc, mr
}

func TestBasketAnalysisMinesWindow(t *testing.T) {
	source := &basketStub{baskets: fixtureBaskets()}
	svc, _ := newTestService(t, source)

	analysis, err := svc.BasketAnalysis(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 30, analysis.WindowDays)
	require.Equal(t, 6, analysis.Baskets)
	require.Len(t, analysis.Itemsets, 7)
	require.Len(t, analysis.Rules, 4)
	require.Equal(t, time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC), source.since)
}

func TestBasketAnalysisServedFromCache(t *testing.T) {
	source := &basketStub{baskets: fixtureBaskets()}
	svc, _ := newTestService(t, source)

	_, err := svc.BasketAnalysis(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, 1, source.calls)

	// The second read must not touch the source at all.
	source.err = errors.New("db down")
	analysis, err := svc.BasketAnalysis(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, 1, source.calls)
	require.Equal(t, 6, analysis.Baskets)
}

func TestRefreshOverwritesSnapshot(t *testing.T) {
	source := &basketStub{baskets: fixtureBaskets()}
	svc, _ := newTestService(t, source)

	_, err := svc.BasketAnalysis(context.Background(), 30)
	require.NoError(t, err)

	source.baskets = fixtureBaskets()[:2]
	refreshed, err := svc.Refresh(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, 2, refreshed.Baskets)

	cached, err := svc.BasketAnalysis(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, 2, cached.Baskets)
}

func TestBasketAnalysisRejectsOversizedWindow(t *testing.T) {
	svc, _ := newTestService(t, &basketStub{})
	_, err := svc.BasketAnalysis(context.Background(), 400)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecommendationsRequireItems(t *testing.T) {
	svc, _ := newTestService(t, &basketStub{baskets: fixtureBaskets()})
	_, err := svc.Recommendations(context.Background(), nil, 30, 5)
	require.ErrorIs(t, err, shared.ErrValidation)

	recs, err := svc.Recommendations(context.Background(), []string{"OME"}, 30, 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, []string{"PAR"}, recs[0].Items)
}

func TestServiceWithoutRedisRecomputes(t *testing.T) {
	source := &basketStub{baskets: fixtureBaskets()}
	svc := NewService(source, nil, MinerConfig{MinSupport: 0.3, MinConfidence: 0.6})

	_, err := svc.BasketAnalysis(context.Background(), 30)
	require.NoError(t, err)
	_, err = svc.BasketAnalysis(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, 2, source.calls)
}
