package dedup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// DefaultRedisPrefix namespaces fingerprint keys.
const DefaultRedisPrefix = "vanfleet:seen"

// redisCmdable is the subset of *redis.Client used by RedisStore.
type redisCmdable interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisStore is a SeenStore shared across processes. Each pair is one key
// holding the RFC3339 first-seen time; SETNX keeps the first write.
type RedisStore struct {
	rdb    redisCmdable
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	TTL         time.Duration // 0 keeps keys forever
	DialTimeout time.Duration
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("dedup: redis ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// NewRedisStore dials Redis and returns a store owning the client.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb, err := DialRedis(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(rdb, opts.Prefix, opts.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb redisCmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Close releases the underlying client when it owns one.
func (s *RedisStore) Close() error {
	if c, ok := s.rdb.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *RedisStore) redisKey(key domain.CanonicalKey, fp Fingerprint) string {
	return s.prefix + ":" + key.Fold() + ":" + fp.String()
}

func (s *RedisStore) Seen(ctx context.Context, key domain.CanonicalKey, fp Fingerprint) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.redisKey(key, fp)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) MarkSeen(ctx context.Context, key domain.CanonicalKey, fp Fingerprint, at time.Time) error {
	if err := s.rdb.SetNX(ctx, s.redisKey(key, fp), at.UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}
