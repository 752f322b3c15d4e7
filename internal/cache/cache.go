// Package cache is the key/value backend behind the grant cache. It has an
// in-process implementation and a Redis one for deployments with several
// API replicas.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("cache: key not found")

// Client is the set of operations the grant cache relies on.
type Client interface {
	// Get returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value; a zero ttl never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments an integer counter, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Driver     string // "memory" | "redis"
	Addr       string
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
}

// New builds a client for cfg.Driver.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "memory", "":
		return NewMemory(cfg.Prefix, cfg.DefaultTTL), nil
	case "redis":
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("cache: unsupported driver %q", cfg.Driver)
	}
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
