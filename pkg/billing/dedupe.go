package billing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDedupePrefix = "coachkit:billing:event:"
	defaultDedupeTTL    = 72 * time.Hour
)

// RedisDeduper records applied event ids in Redis with a TTL longer than the
// provider's redelivery window.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Deduper = (*RedisDeduper)(nil)

// NewRedisDeduper panics on a nil client. Zero ttl uses 72h.
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("billing: redis deduper requires a client")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{client: client, prefix: defaultDedupePrefix, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	return d.client.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Err()
}
