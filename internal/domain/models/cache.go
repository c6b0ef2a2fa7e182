package models

import "time"

// ScanTypeAccumulation is the only scan type currently produced.
const ScanTypeAccumulation = "accumulation"

// ScanKeyPrefix namespaces result cache keys: scan:<type>:<tf>:<hash>.
const ScanKeyPrefix = "scan"

// CacheMetadata describes how a cached result was produced.
type CacheMetadata struct {
	ScanID       string    `json:"scan_id"`
	UniverseSize int       `json:"universe_size"`
	MatchCount   int       `json:"match_count"`
	ExecutionMs  int64     `json:"execution_ms"`
	DataAsOf     time.Time `json:"data_as_of"`
	LastUpdated  time.Time `json:"last_updated"`
}

// CacheEntry is one stored scan result. At most one live entry per Key.
type CacheEntry struct {
	Key       string         `json:"key"`
	ScanType  string         `json:"scan_type"`
	Timeframe string         `json:"timeframe"`
	Filters   map[string]any `json:"filters"`
	Results   []ScanMatch    `json:"results"`
	Metadata  CacheMetadata  `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired reports whether the entry is no longer live at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats summarises the result cache.
type CacheStats struct {
	TotalEntries   int            `json:"total_entries"`
	LiveEntries    int            `json:"live_entries"`
	ExpiredEntries int            `json:"expired_entries"`
	ByScanType     map[string]int `json:"by_scan_type"`
	ByTimeframe    map[string]int `json:"by_timeframe"`
	OldestEntry    *time.Time     `json:"oldest_entry,omitempty"`
	NewestEntry    *time.Time     `json:"newest_entry,omitempty"`
}
