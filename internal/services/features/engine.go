package features

import (
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"

	talib "github.com/markcheno/go-talib"
)

// Engine computes technical indicators for an ordered candle window.
// It is pure: the output depends only on the input window and profile.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Compute returns one CandleFeatures per input candle. Indicators without
// enough trailing history are left nil. Input must be strictly ordered by
// timestamp.
func (e *Engine) Compute(candles []models.Candle, p Profile) ([]models.CandleFeatures, error) {
	n := len(candles)
	if n == 0 {
		return nil, nil
	}
	for i := 1; i < n; i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			return nil, models.NewDataQualityError(candles[i].Symbol, "candles not strictly ordered by timestamp")
		}
	}

	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	vols := make([]float64, n)
	for i, c := range candles {
		highs[i], lows[i], closes[i], vols[i] = c.High, c.Low, c.Close, c.Volume
	}

	out := make([]models.CandleFeatures, n)
	for i, c := range candles {
		out[i] = models.CandleFeatures{Symbol: c.Symbol, Timeframe: string(p.Timeframe), Timestamp: c.Timestamp}
	}

	for _, period := range p.SMAPeriods {
		vals := sma(closes, period)
		for i := range out {
			if f := smaField(&out[i], period); f != nil {
				*f = vals[i]
			}
		}
	}
	for _, period := range p.EMAPeriods {
		vals := ema(closes, period)
		for i := range out {
			if f := emaField(&out[i], period); f != nil {
				*f = vals[i]
			}
		}
	}
	if p.RSI {
		vals := rsi(closes, rsiPeriod)
		for i := range out {
			out[i].RSI14 = vals[i]
		}
	}
	if p.ATR {
		vals := atr(highs, lows, closes, atrPeriod)
		for i := range out {
			out[i].ATR14 = vals[i]
		}
	}
	if p.VWAP {
		vals := vwap(candles, p)
		for i := range out {
			out[i].VWAP = vals[i]
		}
	}
	if p.Volume {
		volSMA := sma(vols, volumePeriod)
		for i := range out {
			out[i].VolumeSMA20 = volSMA[i]
			if volSMA[i] != nil && *volSMA[i] > 0 {
				out[i].VolumeRatio = models.Float(vols[i] / *volSMA[i])
			}
			if i > 0 {
				tp, prev := candles[i].TypicalPrice(), candles[i-1].TypicalPrice()
				raw := tp * vols[i]
				switch {
				case tp > prev:
					out[i].MoneyFlow = models.Float(raw)
				case tp < prev:
					out[i].MoneyFlow = models.Float(-raw)
				default:
					out[i].MoneyFlow = models.Float(0)
				}
			}
		}
	}
	if p.Volatility {
		vals := rollingVolatility(closes, volPeriod, p.Timeframe)
		for i := range out {
			out[i].Volatility20 = vals[i]
		}
	}
	if p.Levels {
		sup := windowMin(lows, levelsPeriod)
		res := windowMax(highs, levelsPeriod)
		for i := range out {
			out[i].Support20 = sup[i]
			out[i].Resistance20 = res[i]
			if i > 0 && res[i-1] != nil {
				out[i].BreakoutUp = closes[i] > *res[i-1]
				out[i].BreakoutDown = closes[i] < *sup[i-1]
			}
		}
	}
	if p.TrendPeriod > 0 {
		for i := p.TrendPeriod; i < n; i++ {
			d := closes[i] - closes[i-p.TrendPeriod]
			switch {
			case d > 0:
				out[i].Trend = models.Int(1)
			case d < 0:
				out[i].Trend = models.Int(-1)
			default:
				out[i].Trend = models.Int(0)
			}
		}
	}
	for i := 1; i < n; i++ {
		out[i].HigherHigh = highs[i] > highs[i-1]
		out[i].LowerLow = lows[i] < lows[i-1]
		out[i].InsideBar = highs[i] < highs[i-1] && lows[i] > lows[i-1]
	}
	return out, nil
}

// talib indexes past the end of short inputs, so every wrapper checks the
// length first and maps the warm-up prefix to nil.

func sma(vals []float64, period int) []*float64 {
	out := make([]*float64, len(vals))
	if period < 1 || len(vals) < period {
		return out
	}
	raw := talib.Sma(vals, period)
	for i := period - 1; i < len(vals); i++ {
		out[i] = models.Float(raw[i])
	}
	return out
}

func ema(vals []float64, period int) []*float64 {
	out := make([]*float64, len(vals))
	if period < 1 || len(vals) < period {
		return out
	}
	raw := talib.Ema(vals, period)
	for i := period - 1; i < len(vals); i++ {
		out[i] = models.Float(raw[i])
	}
	return out
}

func atr(highs, lows, closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if period < 2 || len(closes) <= period {
		return out
	}
	raw := talib.Atr(highs, lows, closes, period)
	for i := period; i < len(closes); i++ {
		out[i] = models.Float(raw[i])
	}
	return out
}

func windowMin(vals []float64, period int) []*float64 {
	out := make([]*float64, len(vals))
	if period < 2 || len(vals) < period {
		return out
	}
	raw := talib.Min(vals, period)
	for i := period - 1; i < len(vals); i++ {
		out[i] = models.Float(raw[i])
	}
	return out
}

func windowMax(vals []float64, period int) []*float64 {
	out := make([]*float64, len(vals))
	if period < 2 || len(vals) < period {
		return out
	}
	raw := talib.Max(vals, period)
	for i := period - 1; i < len(vals); i++ {
		out[i] = models.Float(raw[i])
	}
	return out
}

// rsi is Wilder's RSI. A window with zero average loss is 100, flat
// windows included.
func rsi(closes []float64, period int) []*float64 {
	n := len(closes)
	out := make([]*float64, n)
	if period < 1 || n <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	p := float64(period)
	avgGain, avgLoss := gain/p, loss/p
	out[period] = models.Float(rsiValue(avgGain, avgLoss))
	for i := period + 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out[i] = models.Float(rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// vwap accumulates typical price * volume. Intraday series reset at each
// session day; daily series accumulate over the whole window.
func vwap(candles []models.Candle, p Profile) []*float64 {
	out := make([]*float64, len(candles))
	var pv, vol float64
	var day time.Time
	for i, c := range candles {
		if p.Timeframe.Intraday() {
			d := domrepo.DayStart(c.Timestamp, p.Location)
			if i == 0 || !d.Equal(day) {
				day = d
				pv, vol = 0, 0
			}
		}
		pv += c.TypicalPrice() * c.Volume
		vol += c.Volume
		if vol > 0 {
			out[i] = models.Float(pv / vol)
		}
	}
	return out
}

func smaField(f *models.CandleFeatures, period int) **float64 {
	switch period {
	case 5:
		return &f.SMA5
	case 10:
		return &f.SMA10
	case 20:
		return &f.SMA20
	case 50:
		return &f.SMA50
	case 200:
		return &f.SMA200
	}
	return nil
}

func emaField(f *models.CandleFeatures, period int) **float64 {
	switch period {
	case 9:
		return &f.EMA9
	case 12:
		return &f.EMA12
	case 21:
		return &f.EMA21
	case 26:
		return &f.EMA26
	case 50:
		return &f.EMA50
	}
	return nil
}
