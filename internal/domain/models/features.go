package models

import "time"

// CandleFeatures holds the indicators derived for one candle.
// A nil pointer means the indicator is unavailable (insufficient history or
// not part of the timeframe's indicator profile).
type CandleFeatures struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`

	// moving averages
	SMA5   *float64 `json:"sma_5,omitempty"`
	SMA10  *float64 `json:"sma_10,omitempty"`
	SMA20  *float64 `json:"sma_20,omitempty"`
	SMA50  *float64 `json:"sma_50,omitempty"`
	SMA200 *float64 `json:"sma_200,omitempty"`
	EMA9   *float64 `json:"ema_9,omitempty"`
	EMA12  *float64 `json:"ema_12,omitempty"`
	EMA21  *float64 `json:"ema_21,omitempty"`
	EMA26  *float64 `json:"ema_26,omitempty"`
	EMA50  *float64 `json:"ema_50,omitempty"`

	// momentum / volatility
	RSI14        *float64 `json:"rsi_14,omitempty"`
	ATR14        *float64 `json:"atr_14,omitempty"`
	Volatility20 *float64 `json:"volatility_20,omitempty"`

	// volume
	VWAP        *float64 `json:"vwap,omitempty"`
	VolumeSMA20 *float64 `json:"volume_sma_20,omitempty"`
	VolumeRatio *float64 `json:"volume_ratio,omitempty"`
	MoneyFlow   *float64 `json:"money_flow,omitempty"`

	// support / resistance
	Support20    *float64 `json:"support_20,omitempty"`
	Resistance20 *float64 `json:"resistance_20,omitempty"`

	Trend *int `json:"trend,omitempty"`

	// market structure
	HigherHigh   bool `json:"higher_high"`
	LowerLow     bool `json:"lower_low"`
	InsideBar    bool `json:"inside_bar"`
	BreakoutUp   bool `json:"breakout_up"`
	BreakoutDown bool `json:"breakout_down"`
}

func (f CandleFeatures) Key() CandleKey {
	return CandleKey{Symbol: f.Symbol, Timeframe: f.Timeframe, Timestamp: f.Timestamp}
}

// Float returns a pointer to v. Convenience for building features.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
