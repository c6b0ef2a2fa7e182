package repository

import (
	"context"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgch "FinScan/pkg/clickhouse"
)

// InstrumentTypeEquity is the only instrument type scanned.
const InstrumentTypeEquity = "equity"

// CHInstrumentStore reads the scan universe from the instruments table.
type CHInstrumentStore struct {
	ch *pkgch.Client
	db string
}

func NewCHInstrumentStore(ch *pkgch.Client, database string) *CHInstrumentStore {
	if database == "" {
		database = DefaultDatabase
	}
	return &CHInstrumentStore{ch: ch, db: database}
}

// ActiveInstruments returns up to limit active equities ordered by symbol.
func (s *CHInstrumentStore) ActiveInstruments(ctx context.Context, limit int) ([]models.Instrument, error) {
	if limit <= 0 {
		return nil, models.NewConfigurationError("limit", "must be positive")
	}
	q := fmt.Sprintf(`
        SELECT symbol, name, exchange, type
        FROM %s FINAL
        WHERE active = 1 AND type = ?
        ORDER BY symbol
        LIMIT ?`, instrumentTable(s.db))
	rows, err := s.ch.DB().QueryContext(ctx, q, InstrumentTypeEquity, limit)
	if err != nil {
		return nil, models.NewTransientStoreError("active_instruments", err)
	}
	defer rows.Close()
	out := make([]models.Instrument, 0, limit)
	for rows.Next() {
		in := models.Instrument{Active: true}
		if err := rows.Scan(&in.Symbol, &in.Name, &in.Exchange, &in.Type); err != nil {
			return nil, models.NewTransientStoreError("active_instruments", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewTransientStoreError("active_instruments", err)
	}
	return out, nil
}

// UpsertInstruments replaces instrument rows; the newest updated_at wins.
func (s *CHInstrumentStore) UpsertInstruments(ctx context.Context, instruments []models.Instrument) error {
	now := time.Now().UTC()
	rows := make([][]any, len(instruments))
	for i, in := range instruments {
		active := uint8(0)
		if in.Active {
			active = 1
		}
		typ := in.Type
		if typ == "" {
			typ = InstrumentTypeEquity
		}
		rows[i] = []any{in.Symbol, in.Name, in.Exchange, typ, active, now}
	}
	cols := []string{"symbol", "name", "exchange", "type", "active", "updated_at"}
	if err := s.ch.InsertBatch(ctx, instrumentTable(s.db), cols, rows, pkgch.DefaultChunkSize); err != nil {
		return models.NewTransientStoreError("upsert_instruments", err)
	}
	return nil
}

var _ domrepo.InstrumentStore = (*CHInstrumentStore)(nil)
