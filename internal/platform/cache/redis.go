package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a Redis client for the availability cache and the asynq
// broker. Connectivity is verified before the client is handed out.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Close releases the client. A nil client is a no-op so callers that run
// degraded without Redis can defer it unconditionally.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
