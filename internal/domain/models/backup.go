package models

import "time"

// CandleBackup is the audit copy of the source rows consumed by one
// aggregation run. Written once, never mutated.
type CandleBackup struct {
	Symbol           string      `json:"symbol"`
	SourceTimeframe  string      `json:"source_timeframe"`
	TargetTimeframe  string      `json:"target_timeframe"`
	Date             time.Time   `json:"date"`
	SourceCount      int         `json:"source_count"`
	TargetCount      int         `json:"target_count"`
	CompressionRatio float64     `json:"compression_ratio"`
	CreatedAt        time.Time   `json:"created_at"`
	Rows             []BackupRow `json:"rows"`
}

// BackupRow is one source candle plus its features at the time of backup.
type BackupRow struct {
	Candle   Candle          `json:"candle"`
	Features *CandleFeatures `json:"features,omitempty"`
}

// BackupKey identifies a backup.
type BackupKey struct {
	Symbol          string
	SourceTimeframe string
	TargetTimeframe string
	Date            time.Time
}

func (b CandleBackup) Key() BackupKey {
	return BackupKey{Symbol: b.Symbol, SourceTimeframe: b.SourceTimeframe, TargetTimeframe: b.TargetTimeframe, Date: b.Date}
}
