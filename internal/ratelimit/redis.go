package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a distributed fixed-window limiter backed by a Redis INCR +
// EXPIRE pair, for deployments running multiple gateway replicas that need
// a shared view of per-key request counts.
type Redis struct {
	Client *redis.Client
	Window time.Duration
	Max    int64
}

// NewRedis builds a Redis limiter allowing at most max requests per key
// within window.
func NewRedis(client *redis.Client, window time.Duration, max int64) *Redis {
	return &Redis{Client: client, Window: window, Max: max}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	pipe := r.Client.TxPipeline()
	incr := pipe.Incr(ctx, "beacon:ratelimit:"+key)
	pipe.Expire(ctx, "beacon:ratelimit:"+key, r.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= r.Max, nil
}
