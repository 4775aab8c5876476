package keylock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces lock keys.
	DefaultRedisPrefix = "vanfleet:lock"
	// DefaultRedisTTL bounds how long a crashed holder keeps a key.
	DefaultRedisTTL = 30 * time.Second

	maxPoll        = 200 * time.Millisecond
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the lock only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// redisClient is the subset of *redis.Client the lock uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a Locker shared by every process using the same Redis. Each hold
// is a SET NX key with a random token and a TTL; waiters poll with backoff.
// Holders in the same process queue on a local Map first.
type Redis struct {
	rdb    redisClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
	local  *Map
}

// NewRedis creates a Redis locker. Zero values select the defaults.
func NewRedis(rdb redisClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, poll: 5 * time.Millisecond, local: New()}
}

// Acquire blocks until key is held in Redis or ctx is done.
func (l *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	name := l.prefix + ":" + key
	token := uuid.NewString()
	wait := l.poll
	for {
		ok, err := l.rdb.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("keylock: redis acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, fmt.Errorf("keylock: redis acquire %s: %w", key, ctx.Err())
		case <-time.After(wait):
		}
		wait = min(wait*2, maxPoll)
	}

	return func() {
		// A release that fails leaves the key to expire after the TTL.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		_ = l.rdb.Eval(rctx, releaseScript, []string{name}, token).Err()
		unlockLocal()
	}, nil
}
