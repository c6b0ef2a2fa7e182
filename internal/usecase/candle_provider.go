package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

// StoreCandleProvider serves detection windows from the CandleStore. When a
// timeframe has too little native history it rolls the next finer
// timeframe up in memory and fills the gaps; native candles win.
type StoreCandleProvider struct {
	store   domrepo.CandleStore
	loc     *time.Location
	timeout time.Duration
}

func NewStoreCandleProvider(store domrepo.CandleStore, loc *time.Location, timeout time.Duration) *StoreCandleProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StoreCandleProvider{store: store, loc: loc, timeout: timeout}
}

// barsPerBucket is how many finer bars make one bucket of tf during a
// regular session.
func barsPerBucket(tf, finer domrepo.Timeframe) int {
	if tf == domrepo.TF1d {
		return int((6*time.Hour + 30*time.Minute) / finer.Duration()) + 1
	}
	return int(tf.Duration() / finer.Duration())
}

func (p *StoreCandleProvider) UnifiedCandles(ctx context.Context, symbol string, tf domrepo.Timeframe, lookback int) ([]models.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	native, err := p.store.QueryLatest(ctx, symbol, tf, lookback)
	if err != nil {
		return nil, fmt.Errorf("query %s candles: %w", tf, err)
	}
	if len(native) >= lookback {
		return native, nil
	}
	finer, ok := tf.Finer()
	if !ok {
		return native, nil
	}
	fine, err := p.store.QueryLatest(ctx, symbol, finer, lookback*barsPerBucket(tf, finer))
	if err != nil {
		return nil, fmt.Errorf("query %s candles: %w", finer, err)
	}
	if len(fine) == 0 {
		return native, nil
	}

	merged := make(map[int64]models.Candle, len(native)+len(fine))
	for _, c := range RollUp(fine, tf, p.loc) {
		merged[c.Timestamp.UnixNano()] = c
	}
	for _, c := range native {
		merged[c.Timestamp.UnixNano()] = c
	}
	out := make([]models.Candle, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > lookback {
		out = out[len(out)-lookback:]
	}
	return out, nil
}

var _ domrepo.CandleProvider = (*StoreCandleProvider)(nil)
