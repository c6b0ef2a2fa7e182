package repository

import (
	"fmt"
	"time"

	"FinScan/internal/domain/models"
)

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// Timeframes lists supported timeframes from finest to coarsest.
var Timeframes = []Timeframe{TF5m, TF15m, TF1h, TF1d}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF5m, TF15m, TF1h, TF1d:
		return true
	default:
		return false
	}
}

// ParseTimeframe converts raw string to a timeframe. Unknown values are a
// configuration error; there is no silent default.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !IsValidTimeframe(tf) {
		return "", models.NewConfigurationError("timeframe", fmt.Sprintf("unknown timeframe %q", s))
	}
	return tf, nil
}

func (tf Timeframe) String() string { return string(tf) }

// Duration of one bucket.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF1d:
		return 24 * time.Hour
	}
	return 0
}

// Intraday reports whether buckets are shorter than a session day.
func (tf Timeframe) Intraday() bool { return tf != TF1d }

// Coarser returns the next coarser timeframe, false for 1d.
func (tf Timeframe) Coarser() (Timeframe, bool) {
	for i, x := range Timeframes {
		if x == tf && i+1 < len(Timeframes) {
			return Timeframes[i+1], true
		}
	}
	return "", false
}

// Finer returns the next finer timeframe, false for 5m.
func (tf Timeframe) Finer() (Timeframe, bool) {
	for i, x := range Timeframes {
		if x == tf && i > 0 {
			return Timeframes[i-1], true
		}
	}
	return "", false
}

// Truncate maps t to the start of its bucket. Daily buckets start at
// midnight in loc; intraday buckets are aligned on the wall clock of loc,
// so half-hour offsets still give hourly bars starting at :00 local. The
// result keeps t's location.
func (tf Timeframe) Truncate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if tf == TF1d {
		return DayStart(t, loc)
	}
	step := int(tf.Duration() / time.Minute)
	lt := t.In(loc)
	minute := lt.Hour()*60 + lt.Minute()
	minute -= minute % step
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), minute/60, minute%60, 0, 0, loc)
	return start.In(t.Location())
}

// DayStart returns midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// DayBounds returns [start, end) of the calendar day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := DayStart(t, loc)
	return start, start.AddDate(0, 0, 1)
}

// Pair is a source to target roll-up step.
type Pair struct {
	Source Timeframe
	Target Timeframe
}

func (p Pair) String() string { return string(p.Source) + "->" + string(p.Target) }

// ParsePair validates that target is the next coarser timeframe of source.
func ParsePair(source, target string) (Pair, error) {
	src, err := ParseTimeframe(source)
	if err != nil {
		return Pair{}, err
	}
	tgt, err := ParseTimeframe(target)
	if err != nil {
		return Pair{}, err
	}
	next, ok := src.Coarser()
	if !ok || next != tgt {
		return Pair{}, models.NewConfigurationError("target_timeframe",
			fmt.Sprintf("%s cannot be rolled into %s", src, tgt))
	}
	return Pair{Source: src, Target: tgt}, nil
}

// DefaultPairs are the scheduled roll-up steps.
var DefaultPairs = []Pair{
	{Source: TF5m, Target: TF15m},
	{Source: TF15m, Target: TF1h},
	{Source: TF1h, Target: TF1d},
}
