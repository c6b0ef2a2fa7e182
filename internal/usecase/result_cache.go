package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/pkg/cache"
	applogger "FinScan/pkg/logger"
)

// DefaultResultTTL is how long a scan result stays live.
const DefaultResultTTL = 24 * time.Hour

// ResultCache is a content-addressed cache of scan results. Identical
// logical queries map to the same key regardless of filter field order.
type ResultCache struct {
	store   domrepo.ScanCacheStore
	ttl     time.Duration
	now     func() time.Time
	metrics domrepo.Metrics
	logger  *applogger.Logger
}

type ResultCacheOption func(*ResultCache)

func WithResultTTL(ttl time.Duration) ResultCacheOption {
	return func(c *ResultCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithResultCacheClock(now func() time.Time) ResultCacheOption {
	return func(c *ResultCache) { c.now = now }
}

func WithResultCacheMetrics(m domrepo.Metrics) ResultCacheOption {
	return func(c *ResultCache) { c.metrics = orNopMetrics(m) }
}

func NewResultCache(store domrepo.ScanCacheStore, logger *applogger.Logger, opts ...ResultCacheOption) *ResultCache {
	c := &ResultCache{store: store, ttl: DefaultResultTTL, now: time.Now, metrics: nopMetrics{}, logger: logger}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CanonicalFilters turns filters into a generic map. JSON encoding of the
// result sorts keys at every level, which makes it canonical.
func CanonicalFilters(filters any) (map[string]any, error) {
	if m, ok := filters.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return nil, models.NewConfigurationError("filters", err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, models.NewConfigurationError("filters", "filters must encode as an object")
	}
	return m, nil
}

// CacheKey is scan:<type>:<tf>:sha256(type|tf|canonical filters).
func CacheKey(scanType, timeframe string, filters map[string]any) (string, error) {
	b, err := json.Marshal(filters)
	if err != nil {
		return "", models.NewConfigurationError("filters", err.Error())
	}
	hash := cache.HashKey(scanType + "|" + timeframe + "|" + string(b))
	return fmt.Sprintf("%s:%s:%s:%s", models.ScanKeyPrefix, scanType, timeframe, hash), nil
}

// Get returns a live entry or nil on miss. Expired entries are misses and
// are removed on sight.
func (c *ResultCache) Get(ctx context.Context, scanType, timeframe string, filters map[string]any) (*models.CacheEntry, error) {
	key, err := CacheKey(scanType, timeframe, filters)
	if err != nil {
		return nil, err
	}
	e, err := c.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		c.metrics.RecordCacheLookup(false)
		return nil, nil
	}
	if e.Expired(c.now()) {
		c.metrics.RecordCacheLookup(false)
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Debug("drop expired cache entry failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, nil
	}
	c.metrics.RecordCacheLookup(true)
	return e, nil
}

// Put writes a single entry with a single upsert, so readers never see a
// partial result. ttl <= 0 uses the default.
func (c *ResultCache) Put(ctx context.Context, scanType, timeframe string, filters map[string]any, results []models.ScanMatch, meta models.CacheMetadata, ttl time.Duration) (*models.CacheEntry, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	key, err := CacheKey(scanType, timeframe, filters)
	if err != nil {
		return nil, err
	}
	now := c.now()
	meta.LastUpdated = now
	meta.MatchCount = len(results)
	if results == nil {
		results = []models.ScanMatch{}
	}
	e := &models.CacheEntry{
		Key:       key,
		ScanType:  scanType,
		Timeframe: timeframe,
		Filters:   filters,
		Results:   results,
		Metadata:  meta,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := c.store.Upsert(ctx, e, ttl); err != nil {
		return nil, err
	}
	return e, nil
}

// Invalidate removes entries by scan type and/or timeframe; empty values
// match everything.
func (c *ResultCache) Invalidate(ctx context.Context, scanType, timeframe string) (int, error) {
	if timeframe != "" {
		if _, err := domrepo.ParseTimeframe(timeframe); err != nil {
			return 0, err
		}
	}
	n, err := c.store.DeleteWhere(ctx, scanType, timeframe)
	if err != nil {
		return n, err
	}
	c.logger.Info("result cache invalidated",
		applogger.String("scan_type", scanType),
		applogger.String("timeframe", timeframe),
		applogger.Int("removed", n))
	return n, nil
}

func (c *ResultCache) Stats(ctx context.Context) (models.CacheStats, error) {
	entries, err := c.store.Entries(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	now := c.now()
	st := models.CacheStats{ByScanType: map[string]int{}, ByTimeframe: map[string]int{}}
	for _, e := range entries {
		st.TotalEntries++
		if e.Expired(now) {
			st.ExpiredEntries++
			continue
		}
		st.LiveEntries++
		st.ByScanType[e.ScanType]++
		st.ByTimeframe[e.Timeframe]++
		created := e.CreatedAt
		if st.OldestEntry == nil || created.Before(*st.OldestEntry) {
			st.OldestEntry = &created
		}
		if st.NewestEntry == nil || created.After(*st.NewestEntry) {
			st.NewestEntry = &created
		}
	}
	return st, nil
}

// CleanupExpired deletes entries whose expiry has passed and returns the
// count. Storage TTLs normally get there first.
func (c *ResultCache) CleanupExpired(ctx context.Context) (int, error) {
	entries, err := c.store.Entries(ctx)
	if err != nil {
		return 0, err
	}
	now := c.now()
	n := 0
	for _, e := range entries {
		if !e.Expired(now) {
			continue
		}
		if err := c.store.Delete(ctx, e.Key); err != nil {
			c.logger.Warn("delete expired cache entry failed", applogger.String("key", e.Key), applogger.Error(err))
			continue
		}
		n++
	}
	return n, nil
}
