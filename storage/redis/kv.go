package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a Redis-backed key-value store with TTL support. Cached trust
// material survives process restarts, which keeps the first login after
// a deploy from paying a fetch to the authority. Keys are namespaced
// per site.
type KV struct {
	rdb    *redis.Client
	prefix string
}

func NewKV(rdb *redis.Client) *KV {
	return &KV{rdb: rdb, prefix: "accessgate:"}
}

// NewNamespacedKV returns a KV whose keys carry the given prefix
// instead of the default one.
func NewNamespacedKV(rdb *redis.Client, prefix string) *KV {
	return &KV{rdb: rdb, prefix: prefix}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := k.rdb.Get(ctx, k.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, k.prefix+key, value, ttl).Err()
}

func (k *KV) Del(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, k.prefix+key).Err()
}
