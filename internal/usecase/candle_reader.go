package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"

	"golang.org/x/sync/errgroup"
)

const (
	defaultCandleLimit = 10000
	maxCandleLimit     = 50000
)

// CandlesUseCase serves stored bars joined with their indicator rows.
type CandlesUseCase struct {
	store domrepo.CandleStore
}

func NewCandlesUseCase(store domrepo.CandleStore) *CandlesUseCase {
	return &CandlesUseCase{store: store}
}

type GetCandlesParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe domrepo.Timeframe
	Limit     int
}

func (p *GetCandlesParams) normalize() error {
	switch {
	case p.Symbol == "":
		return models.NewConfigurationError("symbol", "required")
	case !domrepo.IsValidTimeframe(p.Timeframe):
		return models.NewConfigurationError("tf", "unknown timeframe "+string(p.Timeframe))
	case p.From.After(p.To):
		return models.NewConfigurationError("from", "from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = defaultCandleLimit
	}
	p.Limit = min(p.Limit, maxCandleLimit)
	return nil
}

// CandleRow is a bar with its features, when they were computed.
type CandleRow struct {
	models.Candle
	Features *models.CandleFeatures `json:"features,omitempty"`
}

type GetCandlesResult struct {
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	From      time.Time   `json:"from"`
	To        time.Time   `json:"to"`
	Count     int         `json:"count"`
	Candles   []CandleRow `json:"candles"`
}

// GetCandles returns the most recent Limit bars of [From, To).
func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	var (
		bars  []models.Candle
		feats []models.CandleFeatures
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		bars, err = uc.store.QueryRange(gctx, p.Symbol, p.Timeframe, p.From, p.To)
		if err != nil {
			return fmt.Errorf("query candles %s/%s: %w", p.Symbol, p.Timeframe, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		feats, err = uc.store.QueryFeatures(gctx, p.Symbol, p.Timeframe, p.From, p.To)
		if err != nil {
			return fmt.Errorf("query features %s/%s: %w", p.Symbol, p.Timeframe, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if extra := len(bars) - p.Limit; extra > 0 {
		bars = bars[extra:]
	}
	return &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(bars),
		Candles:   joinFeatures(bars, feats),
	}, nil
}

// joinFeatures pairs both ascending slices by timestamp in one pass.
func joinFeatures(bars []models.Candle, feats []models.CandleFeatures) []CandleRow {
	rows := make([]CandleRow, len(bars))
	j := 0
	for i, b := range bars {
		rows[i].Candle = b
		for j < len(feats) && feats[j].Timestamp.Before(b.Timestamp) {
			j++
		}
		if j < len(feats) && feats[j].Timestamp.Equal(b.Timestamp) {
			f := feats[j]
			rows[i].Features = &f
		}
	}
	return rows
}
