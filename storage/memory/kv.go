package memorystore

import (
	"context"
	"sync"
	"time"
)

type kvItem struct {
	value   []byte
	expires time.Time
}

type store struct {
	mu    sync.Mutex
	items map[string]kvItem
}

// KV is an in-memory key-value store with TTL support, used for cached
// trust material (key sets, edge ranges) and the audit ring in
// single-process deployments.
type KV struct {
	prefix string
	s      *store
}

func NewKV() *KV {
	return &KV{s: &store{items: make(map[string]kvItem)}}
}

// Namespace returns a view over the same store whose keys carry the
// given prefix, so two sites sharing a process never see each other's
// settings.
func (k *KV) Namespace(prefix string) *KV {
	return &KV{prefix: k.prefix + prefix, s: k.s}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	it, ok := k.s.items[k.prefix+key]
	if !ok {
		return nil, false, nil
	}
	if !it.expires.IsZero() && time.Now().After(it.expires) {
		delete(k.s.items, k.prefix+key)
		return nil, false, nil
	}
	return it.value, true, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = ctx
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	k.s.items[k.prefix+key] = kvItem{value: append([]byte(nil), value...), expires: exp}
	return nil
}

func (k *KV) Del(ctx context.Context, key string) error {
	_ = ctx
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	delete(k.s.items, k.prefix+key)
	return nil
}
