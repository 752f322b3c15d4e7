package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Client backed by go-cache.
type Memory struct {
	prefix string
	c      *gocache.Cache
	// go-cache has no atomic add-or-increment.
	incrMu sync.Mutex
}

// NewMemory creates an in-process cache. A zero defaultTTL keeps entries until deleted.
func NewMemory(prefix string, defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &Memory{prefix: prefix, c: gocache.New(defaultTTL, time.Minute)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return "", ErrNotFound
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	default:
		return "", fmt.Errorf("cache: unexpected value type %T", v)
	}
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(prefixed(m.prefix, key), value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(prefixed(m.prefix, key))
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	k := prefixed(m.prefix, key)
	m.incrMu.Lock()
	defer m.incrMu.Unlock()
	if err := m.c.Add(k, int64(1), gocache.NoExpiration); err == nil {
		return 1, nil
	}
	return m.c.IncrementInt64(k, 1)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
