package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory CandleStore, BackupStore and InstrumentStore.
type memStore struct {
	mu       sync.Mutex
	candles  map[domrepo.Timeframe]map[string]map[int64]models.Candle
	features map[domrepo.Timeframe]map[string]map[int64]models.CandleFeatures
	backups  map[models.BackupKey]*models.CandleBackup
	instr    []models.Instrument

	writes  int
	deletes int

	// failOps maps an operation name to a forced error; failSymbols fails
	// every call for the symbol.
	failOps     map[string]error
	failSymbols map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		candles:     map[domrepo.Timeframe]map[string]map[int64]models.Candle{},
		features:    map[domrepo.Timeframe]map[string]map[int64]models.CandleFeatures{},
		backups:     map[models.BackupKey]*models.CandleBackup{},
		failOps:     map[string]error{},
		failSymbols: map[string]bool{},
	}
}

func (m *memStore) fail(op, symbol string) error {
	if err, ok := m.failOps[op]; ok {
		return err
	}
	if m.failSymbols[symbol] {
		return models.NewTransientStoreError(op, errInjected)
	}
	return nil
}

func (m *memStore) UpsertCandles(_ context.Context, tf domrepo.Timeframe, cs []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("upsert_candles", ""); err != nil {
		return err
	}
	if m.candles[tf] == nil {
		m.candles[tf] = map[string]map[int64]models.Candle{}
	}
	for _, c := range cs {
		if m.candles[tf][c.Symbol] == nil {
			m.candles[tf][c.Symbol] = map[int64]models.Candle{}
		}
		m.candles[tf][c.Symbol][c.Timestamp.UnixNano()] = c
	}
	m.writes++
	return nil
}

func (m *memStore) UpsertFeatures(_ context.Context, tf domrepo.Timeframe, fs []models.CandleFeatures) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("upsert_features", ""); err != nil {
		return err
	}
	if m.features[tf] == nil {
		m.features[tf] = map[string]map[int64]models.CandleFeatures{}
	}
	for _, f := range fs {
		if m.features[tf][f.Symbol] == nil {
			m.features[tf][f.Symbol] = map[int64]models.CandleFeatures{}
		}
		m.features[tf][f.Symbol][f.Timestamp.UnixNano()] = f
	}
	m.writes++
	return nil
}

func inRange(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

func (m *memStore) QueryRange(_ context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("query_range", symbol); err != nil {
		return nil, err
	}
	var out []models.Candle
	for _, c := range m.candles[tf][symbol] {
		if inRange(c.Timestamp, from, to) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memStore) QueryLatest(ctx context.Context, symbol string, tf domrepo.Timeframe, n int) ([]models.Candle, error) {
	all, err := m.QueryRange(ctx, symbol, tf, time.Time{}, time.Unix(1<<40, 0))
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *memStore) QueryFeatures(_ context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) ([]models.CandleFeatures, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("query_features", symbol); err != nil {
		return nil, err
	}
	var out []models.CandleFeatures
	for _, f := range m.features[tf][symbol] {
		if inRange(f.Timestamp, from, to) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memStore) DeleteRange(_ context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("delete_range", symbol); err != nil {
		return 0, err
	}
	n := 0
	for k, c := range m.candles[tf][symbol] {
		if inRange(c.Timestamp, from, to) {
			delete(m.candles[tf][symbol], k)
			delete(m.features[tf][symbol], k)
			n++
		}
	}
	m.deletes++
	return n, nil
}

func (m *memStore) DistinctSymbols(_ context.Context, tf domrepo.Timeframe, from, to time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("distinct_symbols", ""); err != nil {
		return nil, err
	}
	var out []string
	for sym, rows := range m.candles[tf] {
		for _, c := range rows {
			if inRange(c.Timestamp, from, to) {
				out = append(out, sym)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) CountRange(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) (int, error) {
	rows, err := m.QueryRange(ctx, symbol, tf, from, to)
	return len(rows), err
}

func (m *memStore) SaveBackup(_ context.Context, b *models.CandleBackup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("save_backup", b.Symbol); err != nil {
		return err
	}
	if _, ok := m.backups[b.Key()]; ok {
		return errors.New("backup already exists")
	}
	m.backups[b.Key()] = b
	m.writes++
	return nil
}

func (m *memStore) GetBackup(_ context.Context, key models.BackupKey) (*models.CandleBackup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[key]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return b, nil
}

func (m *memStore) HasBackup(_ context.Context, key models.BackupKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("has_backup", key.Symbol); err != nil {
		return false, err
	}
	_, ok := m.backups[key]
	return ok, nil
}

func (m *memStore) DeleteBackupsBefore(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, b := range m.backups {
		if b.CreatedAt.Before(before) {
			delete(m.backups, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ActiveInstruments(_ context.Context, limit int) ([]models.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("instruments", ""); err != nil {
		return nil, err
	}
	out := m.instr
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]models.Instrument(nil), out...), nil
}

func (m *memStore) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes, m.deletes
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.AggregationEvent
}

func (p *recordingPublisher) PublishAggregation(_ context.Context, ev models.AggregationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var (
	_ domrepo.CandleStore     = (*memStore)(nil)
	_ domrepo.BackupStore     = (*memStore)(nil)
	_ domrepo.InstrumentStore = (*memStore)(nil)
	_ domrepo.EventPublisher  = (*recordingPublisher)(nil)
)
