package models

import "time"

// AggregationState is the per (symbol, day, pair) conversion state.
type AggregationState string

const (
	StatePending       AggregationState = "pending"
	StateBackedUp      AggregationState = "backed_up"
	StateAggregated    AggregationState = "aggregated"
	StateSourceDeleted AggregationState = "source_deleted"
	StateDone          AggregationState = "done"
)

// AggregationRequest triggers a roll-up. Empty Symbols means every symbol
// with source rows. Zero Date means the configured catch-up window.
type AggregationRequest struct {
	Symbols         []string  `json:"symbols,omitempty"`
	SourceTimeframe string    `json:"source_timeframe"`
	TargetTimeframe string    `json:"target_timeframe"`
	Date            time.Time `json:"date,omitempty"`
}

// DayResult describes what ConvertDay did for one symbol-day.
type DayResult struct {
	Symbol        string           `json:"symbol"`
	Date          time.Time        `json:"date"`
	State         AggregationState `json:"state"`
	SourceRows    int              `json:"source_rows"`
	TargetRows    int              `json:"target_rows"`
	DeletedRows   int              `json:"deleted_rows"`
	Skipped       bool             `json:"skipped"`
	Resumed       bool             `json:"resumed"`
	SkippedReason string           `json:"skipped_reason,omitempty"`
}

// RunSummary is the result of an aggregation run.
type RunSummary struct {
	SourceTimeframe string        `json:"source_timeframe"`
	TargetTimeframe string        `json:"target_timeframe"`
	Days            []time.Time   `json:"days"`
	Symbols         int           `json:"symbols"`
	Converted       int           `json:"converted"`
	AlreadyDone     int           `json:"already_done"`
	Failed          int           `json:"failed"`
	Failures        []string      `json:"failures,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// AggregationEvent is published once a symbol-day is fully converted.
type AggregationEvent struct {
	Symbol          string    `json:"symbol"`
	SourceTimeframe string    `json:"source_timeframe"`
	TargetTimeframe string    `json:"target_timeframe"`
	Date            string    `json:"date"`
	SourceRows      int       `json:"source_rows"`
	TargetRows      int       `json:"target_rows"`
	CompletedAt     time.Time `json:"completed_at"`
}

// AggregationTicket is returned by a trigger: either a queued job ID or
// the summary of an inline run.
type AggregationTicket struct {
	JobID   string      `json:"job_id,omitempty"`
	Queued  bool        `json:"queued"`
	Summary *RunSummary `json:"summary,omitempty"`
}
