package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnalysisCache keeps mined snapshots in Redis. Keys are scoped per window
// and day so the nightly warmup naturally rolls them over; without a client
// every fetch recomputes.
type AnalysisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnalysisCache instantiates the cache helper.
func NewAnalysisCache(client *redis.Client, ttl time.Duration) *AnalysisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AnalysisCache{client: client, ttl: ttl}
}

func analysisKey(windowDays int, asOf time.Time) string {
	return fmt.Sprintf("insights:basket:%d:%s", windowDays, asOf.UTC().Format("20060102"))
}

// Fetch loads a cached snapshot or populates it using the loader.
func (c *AnalysisCache) Fetch(ctx context.Context, windowDays int, asOf time.Time, dest *Analysis, loader func(context.Context) (Analysis, error)) error {
	if loader == nil {
		return errors.New("insights: cache loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		*dest = value
		return nil
	}
	key := analysisKey(windowDays, asOf)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(raw, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	if err := c.Store(ctx, windowDays, asOf, value); err != nil {
		return err
	}
	*dest = value
	return nil
}

// Store writes a snapshot, replacing any cached one for the window and day.
func (c *AnalysisCache) Store(ctx context.Context, windowDays int, asOf time.Time, analysis Analysis) error {
	if c == nil || c.client == nil {
		return nil
	}
	encoded, err := json.Marshal(analysis)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, analysisKey(windowDays, asOf), encoded, c.ttl).Err()
}
