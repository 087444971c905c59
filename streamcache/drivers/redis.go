package drivers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/echokit/echokit/streamcache"
)

const (
	// Redis key prefix for stream stacks.
	streamKeyPrefix = "askstream:"
	// Default TTL for stream keys. Playback state older than this is
	// stale anyway, since devices drop queues after long idle periods.
	defaultStreamTTL = 24 * time.Hour
)

// Redis implements streamcache.Store on a Redis backend, for skills
// served by more than one process.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed stream store. A non-positive ttl
// selects the default of 24 hours.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultStreamTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Get implements streamcache.Store. A missing key yields a nil stack.
func (r *Redis) Get(ctx context.Context, key string) ([]streamcache.Stream, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stack []streamcache.Stream
	if err := json.Unmarshal([]byte(val), &stack); err != nil {
		return nil, err
	}
	return stack, nil
}

// Set implements streamcache.Store and refreshes the key's TTL.
func (r *Redis) Set(ctx context.Context, key string, stack []streamcache.Stream) error {
	val, err := json.Marshal(stack)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), val, r.ttl).Err()
}

// Delete implements streamcache.Store.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis) key(userID string) string {
	return streamKeyPrefix + userID
}
