package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror publishes each flushed hour's per-key totals into a Redis hash
// so a live dashboard can read approximate usage without waiting for the
// next snapshot file. It is strictly additive and best-effort: the caller
// (Flusher) never fails its authoritative write because of a mirror error.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror wraps an already-configured go-redis client.
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

// mirrorKey builds the per-hour hash key a dashboard would scan.
func mirrorKey(hourTS int64) string {
	return fmt.Sprintf("gatekeep:usage:%d", hourTS)
}

// MirrorHour increments the hash fields for every entry in this hour's
// drained batch.
func (m *RedisMirror) MirrorHour(hourTS int64, entries map[Key]Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := mirrorKey(hourTS)
	pipe := m.client.Pipeline()
	for k, v := range entries {
		field := fmt.Sprintf("%d:%d:%d", k.AccountID, k.KeyID, k.PlanID)
		pipe.HIncrBy(ctx, key, field+":requests", int64(v.TotalRequests))
		pipe.HIncrByFloat(ctx, key, field+":bytes", float64(v.TotalBytes))
	}
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
