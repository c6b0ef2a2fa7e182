package usecase

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/services/pattern"
	applogger "FinScan/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ScanOrchestrator runs the pattern detector over the instrument universe.
// Batches run one after another; inside a batch every symbol is scanned
// concurrently. Detection is read-only, so no locking is needed.
type ScanOrchestrator struct {
	instruments domrepo.InstrumentStore
	provider    domrepo.CandleProvider
	base        pattern.Config
	metrics     domrepo.Metrics
	logger      *applogger.Logger
	now         func() time.Time
}

func NewScanOrchestrator(instruments domrepo.InstrumentStore, provider domrepo.CandleProvider, base pattern.Config, metrics domrepo.Metrics, logger *applogger.Logger) *ScanOrchestrator {
	return &ScanOrchestrator{
		instruments: instruments,
		provider:    provider,
		base:        base,
		metrics:     orNopMetrics(metrics),
		logger:      logger,
		now:         time.Now,
	}
}

// DetectConfig merges request filters into the base detector settings.
func (o *ScanOrchestrator) DetectConfig(f models.ScanFilters) (pattern.Config, error) {
	cfg := o.base
	cfg.MinConfidence = f.MinConfidence
	cfg.Phases = f.Phases
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if f.MinPrice < 0 || f.MinVolume < 0 {
		return cfg, models.NewConfigurationError("filters", "min price and min volume must be non-negative")
	}
	return cfg, nil
}

func (o *ScanOrchestrator) universe(ctx context.Context, cfg models.ScanConfig) ([]string, error) {
	if len(cfg.Filters.Symbols) > 0 {
		syms := cfg.Filters.Symbols
		if len(syms) > cfg.UniverseLimit {
			syms = syms[:cfg.UniverseLimit]
		}
		return syms, nil
	}
	instr, err := o.instruments.ActiveInstruments(ctx, cfg.UniverseLimit)
	if err != nil {
		return nil, fmt.Errorf("load instruments: %w", err)
	}
	syms := make([]string, 0, len(instr))
	for _, in := range instr {
		syms = append(syms, in.Symbol)
	}
	return syms, nil
}

type symbolOutcome struct {
	match *models.ScanMatch
	err   error
}

// Scan runs one full pass. Per-symbol failures are logged and counted but
// never abort the batch; matches keep discovery order.
func (o *ScanOrchestrator) Scan(ctx context.Context, cfg models.ScanConfig) (*models.ScanResult, error) {
	start := o.now()
	tf, err := domrepo.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	if cfg.UniverseLimit <= 0 {
		return nil, models.NewConfigurationError("universe_limit", "must be positive")
	}
	if cfg.BatchSize <= 0 {
		return nil, models.NewConfigurationError("batch_size", "must be positive")
	}
	dcfg, err := o.DetectConfig(cfg.Filters)
	if err != nil {
		return nil, err
	}

	symbols, err := o.universe(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res := &models.ScanResult{
		ScanID:    uuid.NewString(),
		ScanType:  models.ScanTypeAccumulation,
		Timeframe: string(tf),
		Matches:   []models.ScanMatch{},
	}
	lookback := dcfg.MinCandles()

	for bstart := 0; bstart < len(symbols); bstart += cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bend := bstart + cfg.BatchSize
		if bend > len(symbols) {
			bend = len(symbols)
		}
		batch := symbols[bstart:bend]
		outcomes := make([]symbolOutcome, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.BatchSize)
		for i, sym := range batch {
			g.Go(func() error {
				m, err := o.scanOne(gctx, sym, tf, lookback, dcfg)
				outcomes[i] = symbolOutcome{match: m, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, out := range outcomes {
			res.ScannedCount++
			if out.err != nil {
				if models.IsDataQuality(out.err) {
					res.SkippedCount++
					o.logger.Debug("symbol skipped", applogger.String("symbol", batch[i]), applogger.Error(out.err))
					continue
				}
				res.FailedCount++
				o.logger.Warn("symbol scan failed",
					applogger.String("scan_id", res.ScanID),
					applogger.String("symbol", batch[i]),
					applogger.Error(out.err))
				continue
			}
			if out.match == nil || !passesFilters(*out.match, cfg.Filters) {
				continue
			}
			res.Matches = append(res.Matches, *out.match)
			if out.match.Timestamp.After(res.DataAsOf) {
				res.DataAsOf = out.match.Timestamp
			}
		}
	}

	res.DurationMs = o.now().Sub(start).Milliseconds()
	o.metrics.RecordScan(string(tf), res.ScannedCount, len(res.Matches), res.FailedCount, float64(res.DurationMs)/1000)
	o.logger.Info("scan finished",
		applogger.String("scan_id", res.ScanID),
		applogger.String("timeframe", string(tf)),
		applogger.Int("scanned", res.ScannedCount),
		applogger.Int("matches", len(res.Matches)),
		applogger.Int("failed", res.FailedCount),
		applogger.Int64("duration_ms", res.DurationMs))
	return res, nil
}

func (o *ScanOrchestrator) scanOne(ctx context.Context, symbol string, tf domrepo.Timeframe, lookback int, cfg pattern.Config) (m *models.ScanMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detect %s: panic: %v", symbol, r)
		}
	}()
	candles, err := o.provider.UnifiedCandles(ctx, symbol, tf, lookback)
	if err != nil {
		return nil, err
	}
	for i := range candles {
		if candles[i].Timeframe == "" {
			candles[i].Timeframe = string(tf)
		}
		if candles[i].Symbol == "" {
			candles[i].Symbol = symbol
		}
	}
	return pattern.Detect(candles, cfg)
}

func passesFilters(m models.ScanMatch, f models.ScanFilters) bool {
	if f.MinPrice > 0 && m.LastPrice < f.MinPrice {
		return false
	}
	if f.MinVolume > 0 && m.Volume < f.MinVolume {
		return false
	}
	return true
}
