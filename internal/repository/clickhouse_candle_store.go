package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgch "FinScan/pkg/clickhouse"
	applogger "FinScan/pkg/logger"
)

var candleColumns = []string{"symbol", "ts", "open", "high", "low", "close", "volume", "open_interest", "version"}

// CHCandleStore implements CandleStore on per-timeframe ClickHouse tables.
type CHCandleStore struct {
	ch *pkgch.Client
	db string
	l  *applogger.Logger
	// version stamps rows so the latest upsert wins on merge.
	version func() uint64
}

func NewCHCandleStore(ch *pkgch.Client, database string, l *applogger.Logger) *CHCandleStore {
	if database == "" {
		database = DefaultDatabase
	}
	return &CHCandleStore{
		ch:      ch,
		db:      database,
		l:       l,
		version: func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

func (s *CHCandleStore) tables(tf domrepo.Timeframe) (string, string, error) {
	if !domrepo.IsValidTimeframe(tf) {
		return "", "", models.NewConfigurationError("timeframe", fmt.Sprintf("unsupported timeframe: %s", tf))
	}
	return candleTable(s.db, tf), featureTable(s.db, tf), nil
}

func (s *CHCandleStore) fail(op, table, symbol string, err error) error {
	if s.l != nil {
		s.l.Error("clickhouse "+op+" error",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
	}
	return models.NewTransientStoreError(op, err)
}

func (s *CHCandleStore) UpsertCandles(ctx context.Context, tf domrepo.Timeframe, candles []models.Candle) error {
	table, _, err := s.tables(tf)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return nil
	}
	v := s.version()
	rows := make([][]any, len(candles))
	for i, c := range candles {
		rows[i] = []any{c.Symbol, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, c.OpenInterest, v}
	}
	start := time.Now()
	if err := s.ch.InsertBatch(ctx, table, candleColumns, rows, pkgch.DefaultChunkSize); err != nil {
		return s.fail("upsert_candles", table, candles[0].Symbol, err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse upsert_candles ok",
			applogger.String("table", table),
			applogger.Int("rows", len(rows)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHCandleStore) UpsertFeatures(ctx context.Context, tf domrepo.Timeframe, feats []models.CandleFeatures) error {
	_, table, err := s.tables(tf)
	if err != nil {
		return err
	}
	if len(feats) == 0 {
		return nil
	}
	v := s.version()
	rows := make([][]any, len(feats))
	for i, f := range feats {
		payload, err := EncodeFeatures(f)
		if err != nil {
			return err
		}
		rows[i] = []any{f.Symbol, f.Timestamp.UTC(), string(payload), v}
	}
	if err := s.ch.InsertBatch(ctx, table, []string{"symbol", "ts", "payload", "version"}, rows, pkgch.DefaultChunkSize); err != nil {
		return s.fail("upsert_features", table, feats[0].Symbol, err)
	}
	return nil
}

func (s *CHCandleStore) scanCandles(rows *sql.Rows, tf domrepo.Timeframe) ([]models.Candle, error) {
	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		c := models.Candle{Timeframe: string(tf)}
		var oi sql.NullFloat64
		if err := rows.Scan(&c.Symbol, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &oi); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		if oi.Valid {
			c.OpenInterest = models.Float(oi.Float64)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHCandleStore) QueryRange(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	start := time.Now()
	table, _, err := s.tables(tf)
	if err != nil {
		return nil, err
	}
	const qtpl = `
        SELECT symbol, ts, open, high, low, close, volume, open_interest
        FROM %s FINAL
        WHERE symbol = ? AND ts >= ? AND ts < ?
        ORDER BY ts ASC
    `
	rows, err := s.ch.DB().QueryContext(ctx, fmt.Sprintf(qtpl, table), symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, s.fail("query_range", table, symbol, err)
	}
	defer rows.Close()

	out, err := s.scanCandles(rows, tf)
	if err != nil {
		return nil, s.fail("query_range", table, symbol, err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse query_range ok",
			applogger.String("table", table),
			applogger.String("symbol", symbol),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHCandleStore) QueryLatest(ctx context.Context, symbol string, tf domrepo.Timeframe, n int) ([]models.Candle, error) {
	table, _, err := s.tables(tf)
	if err != nil {
		return nil, err
	}
	const qtpl = `
        SELECT symbol, ts, open, high, low, close, volume, open_interest
        FROM %s FINAL
        WHERE symbol = ?
        ORDER BY ts DESC
        LIMIT ?
    `
	rows, err := s.ch.DB().QueryContext(ctx, fmt.Sprintf(qtpl, table), symbol, n)
	if err != nil {
		return nil, s.fail("query_latest", table, symbol, err)
	}
	defer rows.Close()

	tmp, err := s.scanCandles(rows, tf)
	if err != nil {
		return nil, s.fail("query_latest", table, symbol, err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp, nil
}

func (s *CHCandleStore) QueryFeatures(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) ([]models.CandleFeatures, error) {
	_, table, err := s.tables(tf)
	if err != nil {
		return nil, err
	}
	const qtpl = `
        SELECT ts, payload
        FROM %s FINAL
        WHERE symbol = ? AND ts >= ? AND ts < ?
        ORDER BY ts ASC
    `
	rows, err := s.ch.DB().QueryContext(ctx, fmt.Sprintf(qtpl, table), symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, s.fail("query_features", table, symbol, err)
	}
	defer rows.Close()

	var out []models.CandleFeatures
	for rows.Next() {
		var ts time.Time
		var payload string
		if err := rows.Scan(&ts, &payload); err != nil {
			return nil, s.fail("query_features", table, symbol, err)
		}
		f, err := DecodeFeatures(symbol, string(tf), ts, []byte(payload))
		if err != nil {
			return nil, models.NewDataQualityError(symbol, err.Error())
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("query_features", table, symbol, err)
	}
	return out, nil
}

// DeleteRange counts then removes features and candles with lightweight
// deletes, features first.
func (s *CHCandleStore) DeleteRange(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) (int, error) {
	ctable, ftable, err := s.tables(tf)
	if err != nil {
		return 0, err
	}
	n, err := s.CountRange(ctx, symbol, tf, from, to)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	const dtpl = "DELETE FROM %s WHERE symbol = ? AND ts >= ? AND ts < ?"
	for _, table := range []string{ftable, ctable} {
		if _, err := s.ch.DB().ExecContext(ctx, fmt.Sprintf(dtpl, table), symbol, from.UTC(), to.UTC()); err != nil {
			return 0, s.fail("delete_range", table, symbol, err)
		}
	}
	return n, nil
}

func (s *CHCandleStore) DistinctSymbols(ctx context.Context, tf domrepo.Timeframe, from, to time.Time) ([]string, error) {
	table, _, err := s.tables(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT DISTINCT symbol FROM %s WHERE ts >= ? AND ts < ? ORDER BY symbol", table)
	rows, err := s.ch.DB().QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, s.fail("distinct_symbols", table, "", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, s.fail("distinct_symbols", table, "", err)
		}
		out = append(out, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("distinct_symbols", table, "", err)
	}
	return out, nil
}

func (s *CHCandleStore) CountRange(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) (int, error) {
	table, _, err := s.tables(tf)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf("SELECT count() FROM %s FINAL WHERE symbol = ? AND ts >= ? AND ts < ?", table)
	var n uint64
	if err := s.ch.DB().QueryRowContext(ctx, q, symbol, from.UTC(), to.UTC()).Scan(&n); err != nil {
		return 0, s.fail("count_range", table, symbol, err)
	}
	return int(n), nil
}

func (s *CHCandleStore) Health(ctx context.Context) error { return s.ch.Health(ctx) }

var (
	_ domrepo.CandleStore = (*CHCandleStore)(nil)
	_ domrepo.Health      = (*CHCandleStore)(nil)
)
