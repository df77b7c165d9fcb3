package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilityCache keeps short-lived FEFO availability listings in Redis so
// the POS front end can poll stock levels without hammering the batches
// table. Keys are scoped per medication and day; mutating operations
// invalidate eagerly, the TTL is the backstop.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAvailabilityCache instantiates the cache helper.
func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(medicationID int64, asOf time.Time) string {
	return fmt.Sprintf("ledger:avail:%d:%s", medicationID, asOf.UTC().Format("20060102"))
}

// Fetch loads a cached listing or populates it using the loader.
func (c *AvailabilityCache) Fetch(ctx context.Context, medicationID int64, asOf time.Time, dest *[]AvailableBatch, loader func(context.Context) ([]AvailableBatch, error)) error {
	if loader == nil {
		return errors.New("ledger: cache loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		*dest = value
		return nil
	}
	key := availabilityKey(medicationID, asOf)
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
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		return err
	}
	*dest = value
	return nil
}

// Invalidate drops the cached listing for a medication on the given day.
func (c *AvailabilityCache) Invalidate(ctx context.Context, medicationID int64, asOf time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, availabilityKey(medicationID, asOf)).Err()
}
