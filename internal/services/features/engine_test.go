package features

import (
	"math"
	"reflect"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

func mkDaily(closes []float64) []models.Candle {
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Symbol:    "X",
			Timeframe: "1d",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000 + float64(i),
		}
	}
	return out
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestComputeOneOutputPerInput(t *testing.T) {
	candles := mkDaily(rising(30))
	got, err := NewEngine().Compute(candles, ProfileFor(domrepo.TF1d, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(candles) {
		t.Fatalf("expected %d outputs, got %d", len(candles), len(got))
	}
	for i := range got {
		if !got[i].Timestamp.Equal(candles[i].Timestamp) {
			t.Fatalf("timestamp mismatch at %d", i)
		}
	}
}

func TestSMAUnavailableBeforeWarmup(t *testing.T) {
	candles := mkDaily(rising(30))
	got, err := NewEngine().Compute(candles, ProfileFor(domrepo.TF1d, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 4; i++ {
		if got[i].SMA5 != nil {
			t.Fatalf("sma5 at %d should be unavailable", i)
		}
	}
	if got[4].SMA5 == nil || math.Abs(*got[4].SMA5-102) > 1e-9 {
		t.Fatalf("sma5 at 4 want 102, got %v", got[4].SMA5)
	}
	if got[19].SMA20 == nil || math.Abs(*got[19].SMA20-109.5) > 1e-9 {
		t.Fatalf("sma20 at 19 want 109.5, got %v", got[19].SMA20)
	}
	if got[29].SMA50 != nil || got[29].SMA200 != nil {
		t.Fatalf("long averages must be unavailable with 30 candles")
	}
	if got[29].EMA50 != nil {
		t.Fatalf("ema50 must be unavailable with 30 candles")
	}
}

func TestATRStartsAfterPeriod(t *testing.T) {
	candles := mkDaily(rising(20))
	got, _ := NewEngine().Compute(candles, ProfileFor(domrepo.TF1d, time.UTC))
	if got[13].ATR14 != nil {
		t.Fatalf("atr at 13 should be unavailable")
	}
	if got[14].ATR14 == nil {
		t.Fatalf("atr at 14 should be available")
	}
	// each bar: high-low = 2, gap to prev close = 1 -> true range 2
	if math.Abs(*got[14].ATR14-2) > 1e-9 {
		t.Fatalf("atr want 2, got %v", *got[14].ATR14)
	}
}

func TestRSIZeroLossIs100(t *testing.T) {
	cases := map[string][]float64{
		"rising": rising(20),
		"flat":   {100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100},
	}
	for name, closes := range cases {
		got, err := NewEngine().Compute(mkDaily(closes), ProfileFor(domrepo.TF1d, time.UTC))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		last := got[len(got)-1].RSI14
		if last == nil || *last != 100 {
			t.Fatalf("%s: rsi want 100, got %v", name, last)
		}
		if got[13].RSI14 != nil {
			t.Fatalf("%s: rsi at 13 should be unavailable", name)
		}
	}
}

func TestRSIFalling(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	got, _ := NewEngine().Compute(mkDaily(closes), ProfileFor(domrepo.TF1d, time.UTC))
	if v := got[19].RSI14; v == nil || *v != 0 {
		t.Fatalf("rsi of falling series want 0, got %v", v)
	}
}

func TestComputeRejectsUnordered(t *testing.T) {
	candles := mkDaily(rising(5))
	candles[2].Timestamp = candles[1].Timestamp
	_, err := NewEngine().Compute(candles, ProfileFor(domrepo.TF1d, time.UTC))
	if !models.IsDataQuality(err) {
		t.Fatalf("expected data quality error, got %v", err)
	}
}

func TestVWAPResetsPerSession(t *testing.T) {
	day1 := time.Date(2025, 3, 3, 15, 50, 0, 0, time.UTC)
	candles := []models.Candle{
		{Symbol: "X", Timestamp: day1, Open: 10, High: 10, Low: 10, Close: 10, Volume: 100},
		{Symbol: "X", Timestamp: day1.Add(5 * time.Minute), Open: 20, High: 20, Low: 20, Close: 20, Volume: 100},
		{Symbol: "X", Timestamp: day1.Add(24 * time.Hour), Open: 30, High: 30, Low: 30, Close: 30, Volume: 50},
	}
	got, err := NewEngine().Compute(candles, ProfileFor(domrepo.TF5m, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got[1].VWAP != 15 {
		t.Fatalf("vwap want 15, got %v", *got[1].VWAP)
	}
	if *got[2].VWAP != 30 {
		t.Fatalf("vwap must reset on new session, got %v", *got[2].VWAP)
	}
}

func TestTrendAndStructure(t *testing.T) {
	candles := mkDaily(rising(25))
	candles[24].Close = 130
	candles[24].High = 131
	got, _ := NewEngine().Compute(candles, ProfileFor(domrepo.TF1d, time.UTC))
	if got[19].Trend != nil {
		t.Fatalf("trend at 19 should be unavailable for period 20")
	}
	if got[20].Trend == nil || *got[20].Trend != 1 {
		t.Fatalf("trend want +1, got %v", got[20].Trend)
	}
	if !got[5].HigherHigh || got[5].LowerLow || got[5].InsideBar {
		t.Fatalf("unexpected structure flags: %+v", got[5])
	}
	if !got[24].BreakoutUp {
		t.Fatalf("rising close should break prior 20-bar resistance")
	}
}

func TestProfilesDifferByTimeframe(t *testing.T) {
	candles := mkDaily(rising(60))
	fine, _ := NewEngine().Compute(candles, ProfileFor(domrepo.TF5m, time.UTC))
	daily, _ := NewEngine().Compute(candles, ProfileFor(domrepo.TF1d, time.UTC))
	if fine[59].SMA50 != nil || fine[59].ATR14 != nil {
		t.Fatalf("5m profile must not compute sma50/atr")
	}
	if daily[59].SMA50 == nil || daily[59].ATR14 == nil || daily[59].Volatility20 == nil {
		t.Fatalf("daily profile must compute the full set")
	}
}

func TestComputeDeterministic(t *testing.T) {
	candles := mkDaily(rising(80))
	p := ProfileFor(domrepo.TF1d, time.UTC)
	a, _ := NewEngine().Compute(candles, p)
	b, _ := NewEngine().Compute(candles, p)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("compute must be deterministic")
	}
}

func TestRollingVolatility(t *testing.T) {
	closes := make([]float64, 30)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		closes[i] = closes[i-1] * 1.01
	}
	vals := rollingVolatility(closes, 20, domrepo.TF1d)
	if vals[19] != nil {
		t.Fatalf("expected nil before 20 returns, got %v", *vals[19])
	}
	if vals[20] == nil || math.Abs(*vals[20]) > 1e-6 {
		t.Fatalf("constant growth should have zero volatility, got %v", vals[20])
	}

	closes[25] = closes[24] * 1.05
	vals = rollingVolatility(closes, 20, domrepo.TF1d)
	if *vals[25] <= 0 {
		t.Fatalf("expected positive volatility after a jump, got %v", *vals[25])
	}
	intraday := rollingVolatility(closes, 20, domrepo.TF5m)
	if *intraday[25] <= *vals[25] {
		t.Fatalf("5m annualization should exceed daily: %v <= %v", *intraday[25], *vals[25])
	}
}

func TestBarsPerYear(t *testing.T) {
	cases := map[domrepo.Timeframe]float64{
		domrepo.TF5m:  252 * 78,
		domrepo.TF15m: 252 * 26,
		domrepo.TF1h:  252 * 7,
		domrepo.TF1d:  252,
	}
	for tf, want := range cases {
		if got := barsPerYear(tf); got != want {
			t.Fatalf("%s: got %v want %v", tf, got, want)
		}
	}
}
