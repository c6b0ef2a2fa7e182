package usecase

import (
	"sort"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

// RollUp groups candles into target buckets: first open, last close, max
// high, min low, summed volume and open interest. Output is ordered by
// bucket start.
func RollUp(candles []models.Candle, target domrepo.Timeframe, loc *time.Location) []models.Candle {
	if len(candles) == 0 {
		return nil
	}
	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var out []models.Candle
	idx := map[int64]int{}
	for _, c := range sorted {
		bucket := target.Truncate(c.Timestamp, loc)
		k := bucket.UnixNano()
		i, ok := idx[k]
		if !ok {
			out = append(out, models.Candle{
				Symbol:    c.Symbol,
				Timeframe: string(target),
				Timestamp: bucket,
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
				Volume:    c.Volume,
			})
			if c.OpenInterest != nil {
				out[len(out)-1].OpenInterest = models.Float(*c.OpenInterest)
			}
			idx[k] = len(out) - 1
			continue
		}
		b := &out[i]
		if c.High > b.High {
			b.High = c.High
		}
		if c.Low < b.Low {
			b.Low = c.Low
		}
		b.Close = c.Close
		b.Volume += c.Volume
		if c.OpenInterest != nil {
			if b.OpenInterest == nil {
				b.OpenInterest = models.Float(0)
			}
			*b.OpenInterest += *c.OpenInterest
		}
	}
	return out
}

// RollUpFeatures merges source features per target bucket. Point-in-time
// indicators keep the last available value, rate-like ones are averaged,
// flags are OR-ed and money flow is summed.
func RollUpFeatures(feats []models.CandleFeatures, target domrepo.Timeframe, loc *time.Location) []models.CandleFeatures {
	if len(feats) == 0 {
		return nil
	}
	sorted := make([]models.CandleFeatures, len(feats))
	copy(sorted, feats)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	type acc struct {
		out   models.CandleFeatures
		sums  [3]float64
		count [3]int
	}
	var order []int64
	groups := map[int64]*acc{}
	for i := range sorted {
		f := &sorted[i]
		bucket := target.Truncate(f.Timestamp, loc)
		k := bucket.UnixNano()
		g, ok := groups[k]
		if !ok {
			g = &acc{out: models.CandleFeatures{Symbol: f.Symbol, Timeframe: string(target), Timestamp: bucket}}
			groups[k] = g
			order = append(order, k)
		}
		dst, src := pointFields(&g.out), pointFields(f)
		for j := range src {
			if *src[j] != nil {
				*dst[j] = models.Float(**src[j])
			}
		}
		if f.Trend != nil {
			g.out.Trend = models.Int(*f.Trend)
		}
		for j, p := range rateFields(f) {
			if *p != nil {
				g.sums[j] += **p
				g.count[j]++
			}
		}
		if f.MoneyFlow != nil {
			if g.out.MoneyFlow == nil {
				g.out.MoneyFlow = models.Float(0)
			}
			*g.out.MoneyFlow += *f.MoneyFlow
		}
		g.out.HigherHigh = g.out.HigherHigh || f.HigherHigh
		g.out.LowerLow = g.out.LowerLow || f.LowerLow
		g.out.InsideBar = g.out.InsideBar || f.InsideBar
		g.out.BreakoutUp = g.out.BreakoutUp || f.BreakoutUp
		g.out.BreakoutDown = g.out.BreakoutDown || f.BreakoutDown
	}

	out := make([]models.CandleFeatures, 0, len(order))
	for _, k := range order {
		g := groups[k]
		for j, p := range rateFields(&g.out) {
			if g.count[j] > 0 {
				*p = models.Float(g.sums[j] / float64(g.count[j]))
			}
		}
		out = append(out, g.out)
	}
	return out
}

// Overlay copies every available indicator of src onto dst. Flags are left
// alone: the rolled-up OR already covers the bucket.
func Overlay(dst *models.CandleFeatures, src models.CandleFeatures) {
	d, s := pointFields(dst), pointFields(&src)
	for i := range s {
		if *s[i] != nil {
			*d[i] = models.Float(**s[i])
		}
	}
	d, s = rateFields(dst), rateFields(&src)
	for i := range s {
		if *s[i] != nil {
			*d[i] = models.Float(**s[i])
		}
	}
	if src.Trend != nil {
		dst.Trend = models.Int(*src.Trend)
	}
}

func pointFields(f *models.CandleFeatures) []**float64 {
	return []**float64{
		&f.SMA5, &f.SMA10, &f.SMA20, &f.SMA50, &f.SMA200,
		&f.EMA9, &f.EMA12, &f.EMA21, &f.EMA26, &f.EMA50,
		&f.RSI14, &f.VWAP, &f.VolumeSMA20, &f.Support20, &f.Resistance20,
	}
}

// rateFields must stay in sync with the size of acc.sums.
func rateFields(f *models.CandleFeatures) []**float64 {
	return []**float64{&f.ATR14, &f.VolumeRatio, &f.Volatility20}
}
