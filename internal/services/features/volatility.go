package features

import (
	"math"

	domrepo "FinScan/internal/domain/repository"
)

// sessionsPerYear is the trading-day count used to annualize volatility.
const sessionsPerYear = 252

// barsPerYear scales a per-bar variance to a yearly one. Intraday frames
// assume a 390 minute regular session.
func barsPerYear(tf domrepo.Timeframe) float64 {
	if tf == domrepo.TF1d {
		return sessionsPerYear
	}
	perSession := math.Ceil(390 / tf.Duration().Minutes())
	return sessionsPerYear * perSession
}

// rollingVolatility returns the annualized sample deviation of the last
// period log returns ending at each bar. Bars without period returns behind
// them stay nil. A non-positive close contributes a zero return.
func rollingVolatility(closes []float64, period int, tf domrepo.Timeframe) []*float64 {
	out := make([]*float64, len(closes))
	if period < 2 || len(closes) <= period {
		return out
	}
	ret := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			ret[i] = math.Log(closes[i] / closes[i-1])
		}
	}

	scale := barsPerYear(tf)
	n := float64(period)
	var sum, sq float64
	for i := 1; i < len(closes); i++ {
		sum += ret[i]
		sq += ret[i] * ret[i]
		if i > period {
			old := ret[i-period]
			sum -= old
			sq -= old * old
		}
		if i < period {
			continue
		}
		mean := sum / n
		v := (sq - n*mean*mean) / (n - 1)
		if v < 0 {
			v = 0
		}
		s := math.Sqrt(v * scale)
		out[i] = &s
	}
	return out
}
