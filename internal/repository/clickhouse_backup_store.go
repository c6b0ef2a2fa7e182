package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgch "FinScan/pkg/clickhouse"
	applogger "FinScan/pkg/logger"
)

var backupColumns = []string{"symbol", "source_tf", "target_tf", "day", "source_count", "target_count", "compression_ratio", "created_at", "rows"}

// CHBackupStore keeps aggregation backups in one ClickHouse table, one row
// per (symbol, source, target, day) with the consumed rows as a JSON column.
type CHBackupStore struct {
	ch *pkgch.Client
	db string
	l  *applogger.Logger
}

func NewCHBackupStore(ch *pkgch.Client, database string, l *applogger.Logger) *CHBackupStore {
	if database == "" {
		database = DefaultDatabase
	}
	return &CHBackupStore{ch: ch, db: database, l: l}
}

func backupDay(t time.Time) string { return t.Format("2006-01-02") }

// SaveBackup is write-once: an existing backup for the key is left intact.
func (s *CHBackupStore) SaveBackup(ctx context.Context, b *models.CandleBackup) error {
	exists, err := s.HasBackup(ctx, b.Key())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	payload, err := encodeBackupRows(b.Rows)
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	row := []any{
		b.Symbol, b.SourceTimeframe, b.TargetTimeframe, backupDay(b.Date),
		uint32(b.SourceCount), uint32(b.TargetCount), b.CompressionRatio, b.CreatedAt.UTC(), string(payload),
	}
	table := backupTable(s.db)
	if err := s.ch.InsertBatch(ctx, table, backupColumns, [][]any{row}, 1); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse save_backup error", applogger.String("symbol", b.Symbol), applogger.Error(err))
		}
		return models.NewTransientStoreError("save_backup", err)
	}
	return nil
}

func (s *CHBackupStore) GetBackup(ctx context.Context, key models.BackupKey) (*models.CandleBackup, error) {
	const qtpl = `
        SELECT source_count, target_count, compression_ratio, created_at, rows
        FROM %s FINAL
        WHERE symbol = ? AND source_tf = ? AND target_tf = ? AND day = toDate(?)
        LIMIT 1
    `
	b := &models.CandleBackup{
		Symbol:          key.Symbol,
		SourceTimeframe: key.SourceTimeframe,
		TargetTimeframe: key.TargetTimeframe,
		Date:            key.Date,
	}
	var src, tgt uint32
	var payload string
	err := s.ch.DB().QueryRowContext(ctx, fmt.Sprintf(qtpl, backupTable(s.db)),
		key.Symbol, key.SourceTimeframe, key.TargetTimeframe, backupDay(key.Date),
	).Scan(&src, &tgt, &b.CompressionRatio, &b.CreatedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, models.NewTransientStoreError("get_backup", err)
	}
	b.SourceCount, b.TargetCount = int(src), int(tgt)
	if b.Rows, err = decodeBackupRows(key.Symbol, key.SourceTimeframe, []byte(payload)); err != nil {
		return nil, models.NewDataQualityError(key.Symbol, err.Error())
	}
	return b, nil
}

func (s *CHBackupStore) HasBackup(ctx context.Context, key models.BackupKey) (bool, error) {
	q := fmt.Sprintf("SELECT count() FROM %s WHERE symbol = ? AND source_tf = ? AND target_tf = ? AND day = toDate(?)", backupTable(s.db))
	var n uint64
	if err := s.ch.DB().QueryRowContext(ctx, q, key.Symbol, key.SourceTimeframe, key.TargetTimeframe, backupDay(key.Date)).Scan(&n); err != nil {
		return false, models.NewTransientStoreError("has_backup", err)
	}
	return n > 0, nil
}

func (s *CHBackupStore) DeleteBackupsBefore(ctx context.Context, before time.Time) (int, error) {
	table := backupTable(s.db)
	var n uint64
	if err := s.ch.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT count() FROM %s FINAL WHERE created_at < ?", table), before.UTC()).Scan(&n); err != nil {
		return 0, models.NewTransientStoreError("count_backups", err)
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := s.ch.DB().ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", table), before.UTC()); err != nil {
		return 0, models.NewTransientStoreError("delete_backups", err)
	}
	return int(n), nil
}

var _ domrepo.BackupStore = (*CHBackupStore)(nil)
