package repository

import (
	"context"
	"errors"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/pkg/cache"
)

// CacheScanStore keeps scan cache entries as JSON documents in a cache.Service
// (Redis, or memory in tests). Keys have the form scan:<type>:<tf>:<hash>.
type CacheScanStore struct {
	c cache.Service
}

func NewCacheScanStore(c cache.Service) *CacheScanStore {
	return &CacheScanStore{c: c}
}

func (s *CacheScanStore) FindByKey(ctx context.Context, key string) (*models.CacheEntry, error) {
	var e models.CacheEntry
	if err := s.c.Get(ctx, key, &e); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, models.NewTransientStoreError("cache get", err)
	}
	return &e, nil
}

func (s *CacheScanStore) Upsert(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error {
	if err := s.c.Set(ctx, entry.Key, entry, ttl); err != nil {
		return models.NewTransientStoreError("cache set", err)
	}
	return nil
}

func (s *CacheScanStore) Delete(ctx context.Context, key string) error {
	if err := s.c.Delete(ctx, key); err != nil {
		return models.NewTransientStoreError("cache delete", err)
	}
	return nil
}

func (s *CacheScanStore) DeleteWhere(ctx context.Context, scanType, timeframe string) (int, error) {
	n, err := s.c.DeleteByPattern(ctx, cache.BuildPattern(models.ScanKeyPrefix, scanType, timeframe))
	if err != nil {
		return n, models.NewTransientStoreError("cache delete pattern", err)
	}
	return n, nil
}

func (s *CacheScanStore) Entries(ctx context.Context) ([]models.CacheEntry, error) {
	keys, err := s.c.Keys(ctx, cache.BuildPattern(models.ScanKeyPrefix))
	if err != nil {
		return nil, models.NewTransientStoreError("cache keys", err)
	}
	docs, err := cache.MGetTyped[models.CacheEntry](ctx, s.c, keys...)
	if err != nil {
		return nil, models.NewTransientStoreError("cache mget", err)
	}
	out := make([]models.CacheEntry, 0, len(docs))
	for _, k := range keys {
		if d, ok := docs[k]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

var _ domrepo.ScanCacheStore = (*CacheScanStore)(nil)
