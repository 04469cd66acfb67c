package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLedger implements Ledger using Redis SETNX for atomic first-write-wins.
//
// The TTL equals the rate window, so the claim expires exactly when the
// next action of the same type becomes allowed. Multiple processes sharing
// one Redis see the same ledger, which is how the guardrail extends across
// replicas.
type RedisLedger struct {
	client *redis.Client
}

// NewRedisLedger creates a Redis-backed rate ledger.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number (0-15, typically 0)
//
// Returns:
//   - *RedisLedger or error if connection fails
func NewRedisLedger(addr, password string, db int) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisLedger{client: client}, nil
}

func (r *RedisLedger) Reserve(ctx context.Context, entityID string, action ActionType, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}

	key := ledgerKey(entityID, action)
	wasSet, err := r.client.SetNX(ctx, key, time.Now().Format(time.RFC3339Nano), window).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX failed: %w", err)
	}
	return wasSet, nil
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}
