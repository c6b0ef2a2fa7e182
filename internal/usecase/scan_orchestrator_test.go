package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/services/pattern"
	applogger "FinScan/pkg/logger"
)

// dailyRange builds n daily candles oscillating inside [100, 110]. The
// range extremes sit at bars 30 and 40 when the series is that long.
func dailyRange(symbol string, n int) []models.Candle {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Symbol: symbol, Timeframe: "1d", Timestamp: start.AddDate(0, 0, i),
			Open: 104, High: 108, Low: 102, Close: 106, Volume: 1000,
		}
	}
	if n > 30 {
		out[30].High = 110
	}
	if n > 40 {
		out[40].Low = 100
	}
	return out
}

func dailySpring(symbol string) []models.Candle {
	c := dailyRange(symbol, 90)
	c[82].Open, c[82].High, c[82].Low, c[82].Close = 100, 102, 97, 101
	c[83].Open, c[83].High, c[83].Low, c[83].Close, c[83].Volume = 101, 103, 100.5, 102.5, 1600
	return c
}

type fakeProvider struct {
	series map[string][]models.Candle
	errs   map[string]error
	panics map[string]bool
	delay  time.Duration

	calls    atomic.Int64
	inflight atomic.Int64
	mu       sync.Mutex
	peak     int64
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{series: map[string][]models.Candle{}, errs: map[string]error{}, panics: map[string]bool{}}
}

func (p *fakeProvider) UnifiedCandles(_ context.Context, symbol string, _ domrepo.Timeframe, lookback int) ([]models.Candle, error) {
	p.calls.Add(1)
	cur := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	p.mu.Lock()
	if cur > p.peak {
		p.peak = cur
	}
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.panics[symbol] {
		panic("boom")
	}
	if err, ok := p.errs[symbol]; ok {
		return nil, err
	}
	s, ok := p.series[symbol]
	if !ok {
		s = dailyRange(symbol, 90)
	}
	if len(s) > lookback {
		s = s[len(s)-lookback:]
	}
	return append([]models.Candle(nil), s...), nil
}

func instruments(symbols ...string) []models.Instrument {
	out := make([]models.Instrument, len(symbols))
	for i, s := range symbols {
		out[i] = models.Instrument{Symbol: s}
	}
	return out
}

func newTestOrchestrator(store *memStore, provider *fakeProvider) *ScanOrchestrator {
	return NewScanOrchestrator(store, provider, pattern.DefaultConfig(), nil, applogger.NewNop())
}

func scanConfig(batch int) models.ScanConfig {
	return models.ScanConfig{
		Filters:       models.ScanFilters{MinConfidence: 70},
		Timeframe:     "1d",
		UniverseLimit: 500,
		BatchSize:     batch,
	}
}

func TestScanIsolatesFailures(t *testing.T) {
	store := newMemStore()
	store.instr = instruments("A", "ERR", "SHORT", "B", "PANIC", "C")
	p := newFakeProvider()
	p.series["A"] = dailySpring("A")
	p.series["C"] = dailySpring("C")
	p.series["SHORT"] = dailyRange("SHORT", 40)
	p.errs["ERR"] = models.NewTransientStoreError("query_range", errors.New("timeout"))
	p.panics["PANIC"] = true

	res, err := newTestOrchestrator(store, p).Scan(context.Background(), scanConfig(2))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.ScannedCount != 6 {
		t.Fatalf("scanned want 6, got %d", res.ScannedCount)
	}
	if res.FailedCount != 2 || res.SkippedCount != 1 {
		t.Fatalf("failed/skipped want 2/1, got %d/%d", res.FailedCount, res.SkippedCount)
	}
	if len(res.Matches) != 2 || res.Matches[0].Symbol != "A" || res.Matches[1].Symbol != "C" {
		t.Fatalf("unexpected matches %+v", res.Matches)
	}
	if res.ScanID == "" {
		t.Fatalf("scan id must be set")
	}
}

func TestScanConcurrencyBoundedByBatch(t *testing.T) {
	store := newMemStore()
	store.instr = instruments("S0", "S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8", "S9")
	p := newFakeProvider()
	p.delay = 5 * time.Millisecond

	if _, err := newTestOrchestrator(store, p).Scan(context.Background(), scanConfig(3)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if p.calls.Load() != 10 {
		t.Fatalf("every symbol must be scanned once, got %d", p.calls.Load())
	}
	if p.peak > 3 {
		t.Fatalf("in-flight detections exceeded batch size: %d", p.peak)
	}
}

func TestScanSameResultsAcrossBatchSizes(t *testing.T) {
	store := newMemStore()
	store.instr = instruments("A", "B", "C", "D", "E")
	p := newFakeProvider()
	p.series["B"] = dailySpring("B")
	p.series["E"] = dailySpring("E")
	orch := newTestOrchestrator(store, p)

	r1, err := orch.Scan(context.Background(), scanConfig(1))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	r2, err := orch.Scan(context.Background(), scanConfig(4))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(r1.Matches) != len(r2.Matches) {
		t.Fatalf("batch size changed the result set: %d vs %d", len(r1.Matches), len(r2.Matches))
	}
	for i := range r1.Matches {
		if r1.Matches[i].Symbol != r2.Matches[i].Symbol || r1.Matches[i].Confidence != r2.Matches[i].Confidence {
			t.Fatalf("match %d differs: %+v vs %+v", i, r1.Matches[i], r2.Matches[i])
		}
	}
}

func TestScanUniverseLimitAndSymbolFilter(t *testing.T) {
	store := newMemStore()
	store.instr = instruments("A", "B", "C", "D")
	p := newFakeProvider()
	orch := newTestOrchestrator(store, p)

	cfg := scanConfig(10)
	cfg.UniverseLimit = 2
	res, err := orch.Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.ScannedCount != 2 {
		t.Fatalf("universe limit ignored: %d", res.ScannedCount)
	}

	store.failOps["instruments"] = errInjected
	cfg = scanConfig(10)
	cfg.Filters.Symbols = []string{"Z"}
	res, err = orch.Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("explicit symbols must not hit the instrument store: %v", err)
	}
	if res.ScannedCount != 1 {
		t.Fatalf("want 1 scanned, got %d", res.ScannedCount)
	}
}

func TestScanPriceAndPhaseFilters(t *testing.T) {
	store := newMemStore()
	store.instr = instruments("A")
	p := newFakeProvider()
	p.series["A"] = dailySpring("A")
	orch := newTestOrchestrator(store, p)

	cfg := scanConfig(5)
	cfg.Filters.MinPrice = 200
	res, err := orch.Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Fatalf("min price filter ignored")
	}

	cfg = scanConfig(5)
	cfg.Filters.Phases = []models.Phase{models.PhaseD}
	res, err = orch.Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Fatalf("phase filter ignored: %+v", res.Matches)
	}
}

func TestScanRejectsInvalidConfig(t *testing.T) {
	orch := newTestOrchestrator(newMemStore(), newFakeProvider())
	cases := []models.ScanConfig{
		{Timeframe: "2h", UniverseLimit: 10, BatchSize: 1, Filters: models.ScanFilters{MinConfidence: 70}},
		{Timeframe: "1d", UniverseLimit: 0, BatchSize: 1, Filters: models.ScanFilters{MinConfidence: 70}},
		{Timeframe: "1d", UniverseLimit: 10, BatchSize: 0, Filters: models.ScanFilters{MinConfidence: 70}},
		{Timeframe: "1d", UniverseLimit: 10, BatchSize: 1, Filters: models.ScanFilters{MinConfidence: 101}},
		{Timeframe: "1d", UniverseLimit: 10, BatchSize: 1, Filters: models.ScanFilters{MinConfidence: 70, Phases: []models.Phase{"E"}}},
	}
	for i, cfg := range cases {
		if _, err := orch.Scan(context.Background(), cfg); !models.IsConfiguration(err) {
			t.Fatalf("case %d: want configuration error, got %v", i, err)
		}
	}
}
