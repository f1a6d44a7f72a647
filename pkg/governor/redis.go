package governor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for shared quota state.
const (
	RedisKeyRemaining  = "pagestream:quota:remaining"
	RedisKeyObservedAt = "pagestream:quota:observed_at"
)

// RedisStore shares quota observations across processes via Redis.
// Several ingesters pointed at the same upstream can then react to a
// low-quota signal seen by any one of them.
type RedisStore struct {
	redis *redis.Client

	// MaxAge bounds how old a stored observation may be before it is
	// ignored. Zero means observations never go stale.
	MaxAge time.Duration
}

// NewRedisStore creates a Redis-backed quota store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		redis:  client,
		MaxAge: 60 * time.Second,
	}
}

// Put records a quota observation in Redis.
func (r *RedisStore) Put(ctx context.Context, sample Sample) error {
	observedJSON, err := json.Marshal(sample.ObservedAt)
	if err != nil {
		return fmt.Errorf("marshal observed at: %w", err)
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, sample.Remaining, 0)
	pipe.Set(ctx, RedisKeyObservedAt, observedJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota sample in redis: %w", err)
	}
	return nil
}

// Latest returns the most recent observation from Redis. A missing or
// stale observation reports ok=false.
func (r *RedisStore) Latest(ctx context.Context) (Sample, bool, error) {
	remaining, err := r.redis.Get(ctx, RedisKeyRemaining).Int()
	if err == redis.Nil {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, fmt.Errorf("get quota remaining: %w", err)
	}

	observedJSON, err := r.redis.Get(ctx, RedisKeyObservedAt).Result()
	if err == redis.Nil {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, fmt.Errorf("get quota observed at: %w", err)
	}

	var observedAt time.Time
	if err := json.Unmarshal([]byte(observedJSON), &observedAt); err != nil {
		return Sample{}, false, fmt.Errorf("parse quota observed at: %w", err)
	}

	sample := Sample{Remaining: remaining, ObservedAt: observedAt}
	if r.MaxAge > 0 && sample.Age() > r.MaxAge {
		return Sample{}, false, nil
	}
	return sample, true, nil
}
