package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateCounter is the interface the scheduler ticks against; both the
// in-process RollingCounter and RedisRollingCounter implement it.
type RateCounter interface {
	Add(n int64)
	PerHour() float64
}

var _ RateCounter = (*RollingCounter)(nil)
var _ RateCounter = (*RedisRollingCounter)(nil)

// RedisRollingCounter mirrors RollingCounter's per-minute-bucket scheme
// in redis, so multiple batch-worker processes observe the same
// processed/ingested rate (§ "optional distributed rolling-rate
// counters... falls back to an in-process counter when unconfigured").
// Keys expire on their own; no cleanup goroutine is needed.
type RedisRollingCounter struct {
	rdb       *redis.Client
	keyPrefix string
	window    time.Duration
	clock     func() time.Time
}

// NewRedisRollingCounter builds a distributed counter under keyPrefix.
func NewRedisRollingCounter(rdb *redis.Client, keyPrefix string, window time.Duration) *RedisRollingCounter {
	return &RedisRollingCounter{rdb: rdb, keyPrefix: keyPrefix, window: window, clock: time.Now}
}

func (c *RedisRollingCounter) bucketKey(t time.Time) string {
	return fmt.Sprintf("%s:bucket:%d", c.keyPrefix, t.Unix()/60)
}

// Add increments the current minute bucket, best-effort: a redis
// outage must never block the scheduler tick, so errors are swallowed
// (the scheduler falls back to treating the rate as unknown/zero until
// redis recovers, which only makes burn-down admission more
// conservative, never less safe).
func (c *RedisRollingCounter) Add(n int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	key := c.bucketKey(c.clock())
	pipe := c.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, c.window+time.Minute)
	_, _ = pipe.Exec(ctx)
}

// PerHour sums the window's buckets and extrapolates to an hourly rate.
func (c *RedisRollingCounter) PerHour() float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	now := c.clock()
	buckets := int(c.window / time.Minute)
	keys := make([]string, 0, buckets)
	for i := 0; i < buckets; i++ {
		keys = append(keys, c.bucketKey(now.Add(-time.Duration(i)*time.Minute)))
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return 0
	}
	var total int64
	for _, v := range vals {
		if v == nil {
			continue
		}
		switch n := v.(type) {
		case string:
			var parsed int64
			fmt.Sscanf(n, "%d", &parsed)
			total += parsed
		}
	}
	windowHours := c.window.Hours()
	if windowHours == 0 {
		return 0
	}
	return float64(total) / windowHours
}
