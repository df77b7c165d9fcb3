package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/apotek-pos/apotek-pos/internal/shared"
)

// Analysis is one mined snapshot over completed sales in the window.
type Analysis struct {
	GeneratedAt time.Time   `json:"generated_at"`
	WindowDays  int         `json:"window_days"`
	Baskets     int         `json:"baskets"`
	Config      MinerConfig `json:"config"`
	Itemsets    []Itemset   `json:"itemsets"`
	Rules       []Rule      `json:"rules"`
}

// BasketSource loads completed-sale baskets going back the given number of
// days. Each basket holds the medication codes sold in one transaction.
type BasketSource interface {
	Baskets(ctx context.Context, since time.Time) ([][]string, error)
}

// Service mines purchase patterns from the sales history. Snapshots are
// cached per window and day; the warmup job refreshes them off-peak.
type Service struct {
	source BasketSource
	cache  *AnalysisCache
	config MinerConfig
	now    func() time.Time
}

// NewService wires a basket source with the snapshot cache.
func NewService(source BasketSource, cache *AnalysisCache, config MinerConfig) *Service {
	if config.MinSupport <= 0 {
		config.MinSupport = 0.05
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = 0.5
	}
	if config.MaxItemsetSize <= 0 {
		config.MaxItemsetSize = 5
	}
	return &Service{source: source, cache: cache, config: config, now: time.Now}
}

func (s *Service) mine(ctx context.Context, windowDays int) (Analysis, error) {
	now := s.now()
	baskets, err := s.source.Baskets(ctx, now.AddDate(0, 0, -windowDays))
	if err != nil {
		return Analysis{}, fmt.Errorf("insights: load baskets: %w", err)
	}
	itemsets := FrequentItemsets(baskets, s.config.MinSupport, s.config.MaxItemsetSize)
	rules := AssociationRules(baskets, itemsets, s.config.MinConfidence)
	return Analysis{
		GeneratedAt: now,
		WindowDays:  windowDays,
		Baskets:     len(baskets),
		Config:      s.config,
		Itemsets:    itemsets,
		Rules:       rules,
	}, nil
}

// BasketAnalysis returns the mined snapshot for the window, loading through
// the cache.
func (s *Service) BasketAnalysis(ctx context.Context, windowDays int) (Analysis, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	if windowDays > 365 {
		return Analysis{}, fmt.Errorf("insights: window above one year: %w", shared.ErrValidation)
	}
	var analysis Analysis
	err := s.cache.Fetch(ctx, windowDays, s.now(), &analysis, func(ctx context.Context) (Analysis, error) {
		return s.mine(ctx, windowDays)
	})
	return analysis, err
}

// Refresh recomputes the snapshot and overwrites the cached one. The warmup
// job calls this so interactive requests hit a warm cache.
func (s *Service) Refresh(ctx context.Context, windowDays int) (Analysis, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	analysis, err := s.mine(ctx, windowDays)
	if err != nil {
		return Analysis{}, err
	}
	if err := s.cache.Store(ctx, windowDays, s.now(), analysis); err != nil {
		return Analysis{}, fmt.Errorf("insights: store snapshot: %w", err)
	}
	return analysis, nil
}

// Recommendations suggests companions for the given medication codes using
// the window's mined rules.
func (s *Service) Recommendations(ctx context.Context, items []string, windowDays, topN int) ([]Recommendation, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("insights: at least one medication code required: %w", shared.ErrValidation)
	}
	analysis, err := s.BasketAnalysis(ctx, windowDays)
	if err != nil {
		return nil, err
	}
	return Recommend(items, analysis.Rules, topN), nil
}
