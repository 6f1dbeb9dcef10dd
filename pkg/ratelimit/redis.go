package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "authcore:rl:"

// incrScript counts a hit and starts the window on the first one. PEXPIRE NX
// never extends a live window.
var incrScript = redis.NewScript(`
local hits = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1], 'NX')
local ttl = redis.call('PTTL', KEYS[1])
return {hits, ttl}
`)

// RedisCounter shares windows between replicas.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Counter = (*RedisCounter)(nil)

func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCounter{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	res, err := incrScript.Run(ctx, c.client, []string{c.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis incr: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("redis incr: unexpected reply %v", res)
	}

	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return res[0], c.now().Add(ttl), nil
}
