package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

// TokenRegistry remembers which continuation tokens have been consumed.
type TokenRegistry interface {
	// Consume marks correlationID as used and reports whether this call did so.
	Consume(ctx context.Context, correlationID string) (bool, error)
	// Release forgets correlationID so a redelivered outcome can be applied.
	Release(ctx context.Context, correlationID string) error
}

type MemoryRegistry struct {
	consumed *xsync.MapOf[string, time.Time]
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{consumed: xsync.NewMapOf[string, time.Time]()}
}

func (r *MemoryRegistry) Consume(ctx context.Context, correlationID string) (bool, error) {
	_, loaded := r.consumed.LoadOrStore(correlationID, time.Now())
	return !loaded, nil
}

func (r *MemoryRegistry) Release(ctx context.Context, correlationID string) error {
	r.consumed.Delete(correlationID)
	return nil
}

const defaultTokenTTL = 7 * 24 * time.Hour

// RedisRegistry stores consumed tokens as SETNX keys that expire after ttl.
type RedisRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &RedisRegistry{client: client, prefix: "saga:token:", ttl: ttl}
}

func (r *RedisRegistry) Consume(ctx context.Context, correlationID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+correlationID, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume token %s: %w", correlationID, err)
	}
	return ok, nil
}

func (r *RedisRegistry) Release(ctx context.Context, correlationID string) error {
	if err := r.client.Del(ctx, r.prefix+correlationID).Err(); err != nil {
		return fmt.Errorf("release token %s: %w", correlationID, err)
	}
	return nil
}
