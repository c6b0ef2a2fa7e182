package models

import (
	"fmt"
	"math"
	"time"
)

// Candle represents one OHLCV record for a symbol over a fixed time bucket.
// Identity is (Symbol, Timeframe, Timestamp).
type Candle struct {
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	OpenInterest *float64  `json:"open_interest,omitempty"`
}

func (c Candle) PriceChange() float64 { return c.Close - c.Open }

func (c Candle) PriceChangePercent() float64 {
	if c.Open == 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

func (c Candle) Range() float64 { return c.High - c.Low }

func (c Candle) BodySize() float64 { return math.Abs(c.Close - c.Open) }

func (c Candle) UpperShadow() float64 { return c.High - math.Max(c.Open, c.Close) }

func (c Candle) LowerShadow() float64 { return math.Min(c.Open, c.Close) - c.Low }

// TypicalPrice is (high+low+close)/3.
func (c Candle) TypicalPrice() float64 { return (c.High + c.Low + c.Close) / 3 }

// Validate checks OHLC consistency. Violations are data quality problems.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return NewDataQualityError(c.Symbol, "empty symbol")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return NewDataQualityError(c.Symbol, fmt.Sprintf("non-positive price at %s", c.Timestamp.Format(time.RFC3339)))
	}
	if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return NewDataQualityError(c.Symbol, fmt.Sprintf("malformed OHLC at %s", c.Timestamp.Format(time.RFC3339)))
	}
	if c.Volume < 0 {
		return NewDataQualityError(c.Symbol, fmt.Sprintf("negative volume at %s", c.Timestamp.Format(time.RFC3339)))
	}
	return nil
}

// CandleKey identifies a candle row in storage.
type CandleKey struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
}

func (c Candle) Key() CandleKey {
	return CandleKey{Symbol: c.Symbol, Timeframe: c.Timeframe, Timestamp: c.Timestamp}
}

// Instrument is a tradable equity in the scan universe.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Type     string `json:"type"`
	Active   bool   `json:"active"`
}
