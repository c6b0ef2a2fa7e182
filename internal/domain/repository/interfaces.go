package repository

import (
	"context"
	"errors"
	"time"

	"FinScan/internal/domain/models"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("not found")

// CandleStore is the persistence contract for candles and their features.
// Time windows are [from, to).
type CandleStore interface {
	UpsertCandles(ctx context.Context, tf Timeframe, candles []models.Candle) error
	UpsertFeatures(ctx context.Context, tf Timeframe, features []models.CandleFeatures) error
	QueryRange(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) ([]models.Candle, error)
	QueryLatest(ctx context.Context, symbol string, tf Timeframe, n int) ([]models.Candle, error)
	QueryFeatures(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) ([]models.CandleFeatures, error)
	// DeleteRange removes candles and their features; returns the number of candles removed.
	DeleteRange(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) (int, error)
	DistinctSymbols(ctx context.Context, tf Timeframe, from, to time.Time) ([]string, error)
	CountRange(ctx context.Context, symbol string, tf Timeframe, from, to time.Time) (int, error)
}

// BackupStore keeps write-once audit copies of consumed source rows.
type BackupStore interface {
	SaveBackup(ctx context.Context, b *models.CandleBackup) error
	GetBackup(ctx context.Context, key models.BackupKey) (*models.CandleBackup, error)
	HasBackup(ctx context.Context, key models.BackupKey) (bool, error)
	DeleteBackupsBefore(ctx context.Context, before time.Time) (int, error)
}

// InstrumentStore lists the scan universe.
type InstrumentStore interface {
	ActiveInstruments(ctx context.Context, limit int) ([]models.Instrument, error)
}

// ScanCacheStore is the document store behind the result cache.
type ScanCacheStore interface {
	FindByKey(ctx context.Context, key string) (*models.CacheEntry, error)
	// Upsert stores entry; ttl is a storage backstop for entry.ExpiresAt.
	Upsert(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteWhere removes entries matching scanType and timeframe; empty matches any.
	DeleteWhere(ctx context.Context, scanType, timeframe string) (int, error)
	Entries(ctx context.Context) ([]models.CacheEntry, error)
}

// CandleProvider supplies a unified candle window for detection.
type CandleProvider interface {
	UnifiedCandles(ctx context.Context, symbol string, tf Timeframe, lookback int) ([]models.Candle, error)
}

// EventPublisher emits domain events to the broker.
type EventPublisher interface {
	PublishAggregation(ctx context.Context, ev models.AggregationEvent) error
	Close() error
}

// Health is implemented by stores that can be pinged.
type Health interface {
	Health(ctx context.Context) error
}

type Metrics interface {
	RecordScan(timeframe string, scanned, matches, failed int, seconds float64)
	RecordAggregation(pair, outcome string)
	RecordCacheLookup(hit bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
