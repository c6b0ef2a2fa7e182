package models

import "time"

// Phase of the accumulation pattern.
type Phase string

const (
	PhaseC Phase = "C" // spring
	PhaseD Phase = "D" // sign of strength
)

// ScanMatch is a single detection result. Only persisted inside cache entries.
type ScanMatch struct {
	Symbol          string    `json:"symbol"`
	Phase           Phase     `json:"phase"`
	Confidence      int       `json:"confidence"`
	SupportLevel    float64   `json:"support_level"`
	ResistanceLevel float64   `json:"resistance_level"`
	RangeWidthPct   float64   `json:"range_width_pct"`
	AvgVolume       float64   `json:"avg_volume"`
	LastPrice       float64   `json:"last_price"`
	Volume          float64   `json:"volume"`
	AnalysisFlags   []string  `json:"analysis_flags"`
	Timestamp       time.Time `json:"timestamp"`
	Timeframe       string    `json:"timeframe"`
}

// ScanFilters narrows a scan. Its JSON form is part of the cache key.
type ScanFilters struct {
	MinConfidence int      `json:"min_confidence"`
	Phases        []Phase  `json:"phases,omitempty"`
	MinPrice      float64  `json:"min_price,omitempty"`
	MinVolume     float64  `json:"min_volume,omitempty"`
	Symbols       []string `json:"symbols,omitempty"`
}

// AllowsPhase reports whether p passes the phase filter. Empty means all.
func (f ScanFilters) AllowsPhase(p Phase) bool {
	if len(f.Phases) == 0 {
		return true
	}
	for _, x := range f.Phases {
		if x == p {
			return true
		}
	}
	return false
}

// ScanConfig drives one orchestrated scan.
type ScanConfig struct {
	Filters       ScanFilters
	Timeframe     string
	UniverseLimit int
	BatchSize     int
}

// ScanResult is the outcome of a full universe scan.
type ScanResult struct {
	ScanID       string      `json:"scan_id"`
	ScanType     string      `json:"scan_type"`
	Timeframe    string      `json:"timeframe"`
	ScannedCount int         `json:"scanned_count"`
	SkippedCount int         `json:"skipped_count"`
	FailedCount  int         `json:"failed_count"`
	Matches      []ScanMatch `json:"matches"`
	DurationMs   int64       `json:"duration_ms"`
	DataAsOf     time.Time   `json:"data_as_of"`
	FromCache    bool        `json:"from_cache"`
}
