package models

// Requests for scan/aggregation HTTP endpoints. Defined in domain for reuse by the service facade.

type ScanRequest struct {
	ScanType      string   `json:"scan_type" default:"accumulation" validate:"oneof=accumulation"`
	Timeframe     string   `json:"timeframe" default:"1d" validate:"oneof=5m 15m 1h 1d"`
	MinConfidence int      `json:"min_confidence" default:"70" validate:"gte=0,lte=100"`
	Phases        []string `json:"phases" validate:"omitempty,dive,oneof=C D"`
	MinPrice      float64  `json:"min_price" validate:"gte=0"`
	MinVolume     float64  `json:"min_volume" validate:"gte=0"`
	Symbols       []string `json:"symbols" validate:"omitempty,dive,required"`
	UniverseLimit int      `json:"universe_limit" default:"500" validate:"gte=1,lte=10000"`
	BatchSize     int      `json:"batch_size" default:"20" validate:"gte=1,lte=200"`
	ForceRefresh  bool     `json:"force_refresh"`
}

type AggregationHTTPRequest struct {
	Symbols         []string `json:"symbols" validate:"omitempty,dive,required"`
	SourceTimeframe string   `json:"source_timeframe" default:"15m" validate:"oneof=5m 15m 1h"`
	TargetTimeframe string   `json:"target_timeframe" default:"1h" validate:"oneof=15m 1h 1d"`
	Date            string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Async           *bool    `json:"async" default:"true"`
}

type InvalidateCacheRequest struct {
	ScanType  string `query:"scan_type" json:"scan_type"`
	Timeframe string `query:"tf" json:"tf" validate:"omitempty,oneof=5m 15m 1h 1d"`
}

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	TF     string `query:"tf" json:"tf" default:"1d" validate:"oneof=5m 15m 1h 1d"`
	From   string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}
