package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/cache"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/obs"
)

const (
	generationKey   = "perm:gen"
	defaultCacheTTL = 5 * time.Minute
)

// CachedStore decorates a Store with a read cache of grant sets.
//
// Entries are keyed by a global generation and a per-user epoch. Invalidation
// increments the counter instead of deleting, so a reader that loaded a set
// before a write can only store it under a key nobody will read again.
// When an invalidation cannot be written, reads skip the cache for one ttl so
// every entry cached before the failure has expired when it is used again.
type CachedStore struct {
	inner Store
	cache cache.Client
	ttl   time.Duration
	log   *zap.Logger
	group singleflight.Group

	// unix nanos; zero when the cache is trusted
	bypassUntil atomic.Int64
}

// NewCachedStore wraps inner. A non-positive ttl uses five minutes.
func NewCachedStore(inner Store, client cache.Client, ttl time.Duration, log *zap.Logger) (*CachedStore, error) {
	if inner == nil {
		return nil, errors.New("permission store is required")
	}
	if client == nil {
		return nil, errors.New("cache client is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{inner: inner, cache: client, ttl: ttl, log: log}, nil
}

func epochKey(userID int64) string {
	return fmt.Sprintf("perm:epoch:%d", userID)
}

func (s *CachedStore) counter(ctx context.Context, key string) (string, error) {
	v, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return "0", nil
	}
	return v, err
}

func (s *CachedStore) entryKey(ctx context.Context, userID int64) (string, error) {
	gen, err := s.counter(ctx, generationKey)
	if err != nil {
		return "", err
	}
	epoch, err := s.counter(ctx, epochKey(userID))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("perm:grants:%s:%d:%s", gen, userID, epoch), nil
}

func (s *CachedStore) Grants(ctx context.Context, userID int64) (GrantSet, error) {
	if time.Now().UnixNano() < s.bypassUntil.Load() {
		obs.CacheLookups.WithLabelValues("bypass").Inc()
		return s.inner.Grants(ctx, userID)
	}
	key, err := s.entryKey(ctx, userID)
	if err != nil {
		obs.CacheLookups.WithLabelValues("error").Inc()
		s.log.Warn("grant cache unavailable", zap.Error(err), zap.Int64("user_id", userID))
		return s.inner.Grants(ctx, userID)
	}
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var set GrantSet
		if err := json.Unmarshal([]byte(raw), &set); err == nil {
			obs.CacheLookups.WithLabelValues("hit").Inc()
			return set, nil
		}
		_ = s.cache.Delete(ctx, key)
	}
	obs.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do(key, func() (any, error) {
		set, err := s.inner.Grants(ctx, userID)
		if err != nil {
			return GrantSet{}, err
		}
		if data, err := json.Marshal(set); err == nil {
			if err := s.cache.Set(ctx, key, string(data), s.ttl); err != nil {
				s.log.Warn("grant cache write failed", zap.Error(err), zap.Int64("user_id", userID))
			}
		}
		return set, nil
	})
	if err != nil {
		return GrantSet{}, err
	}
	set := v.(GrantSet)
	set.CompanyIDs = slices.Clone(set.CompanyIDs)
	return set, nil
}

func (s *CachedStore) UserRole(ctx context.Context, userID int64) (auth.Role, error) {
	set, err := s.Grants(ctx, userID)
	if err != nil {
		return 0, err
	}
	return set.Role, nil
}

func (s *CachedStore) ListCompanies(ctx context.Context) ([]directory.Company, error) {
	return s.inner.ListCompanies(ctx)
}

func (s *CachedStore) ReplaceGrants(ctx context.Context, userID int64, companyIDs []int64, expectedVersion *int64) (Change, error) {
	change, err := s.inner.ReplaceGrants(ctx, userID, companyIDs, expectedVersion)
	if err == nil && !change.Noop() {
		s.InvalidateUser(ctx, userID)
	}
	return change, err
}

func (s *CachedStore) AddGrant(ctx context.Context, userID, companyID int64) (Change, error) {
	change, err := s.inner.AddGrant(ctx, userID, companyID)
	if err == nil && !change.Noop() {
		s.InvalidateUser(ctx, userID)
	}
	return change, err
}

func (s *CachedStore) RemoveGrant(ctx context.Context, userID, companyID int64) (Change, error) {
	change, err := s.inner.RemoveGrant(ctx, userID, companyID)
	if err == nil && !change.Noop() {
		s.InvalidateUser(ctx, userID)
	}
	return change, err
}

// InvalidateUser makes the cached grant set of userID unreachable.
func (s *CachedStore) InvalidateUser(ctx context.Context, userID int64) {
	if _, err := s.cache.Incr(ctx, epochKey(userID)); err != nil {
		s.log.Error("grant cache invalidation failed", zap.Error(err), zap.Int64("user_id", userID))
		s.bypass()
	}
}

// InvalidateAll makes every cached grant set unreachable.
func (s *CachedStore) InvalidateAll(ctx context.Context) {
	if _, err := s.cache.Incr(ctx, generationKey); err != nil {
		s.log.Error("grant cache invalidation failed", zap.Error(err))
		s.bypass()
	}
}

func (s *CachedStore) bypass() {
	s.bypassUntil.Store(time.Now().Add(s.ttl).UnixNano())
}
