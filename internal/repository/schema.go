package repository

import (
	"fmt"

	domrepo "FinScan/internal/domain/repository"
)

// DefaultDatabase is the ClickHouse database holding every FinScan table.
const DefaultDatabase = "finscan"

func candleTable(db string, tf domrepo.Timeframe) string {
	return fmt.Sprintf("%s.candles_%s", db, tf)
}

func featureTable(db string, tf domrepo.Timeframe) string {
	return fmt.Sprintf("%s.features_%s", db, tf)
}

func backupTable(db string) string     { return db + ".candle_backups" }
func instrumentTable(db string) string { return db + ".instruments" }

// SchemaStatements returns the idempotent DDL for db. Every table is a
// ReplacingMergeTree keyed on its identity so repeated upserts collapse to
// the latest version; reads use FINAL.
func SchemaStatements(db string) []string {
	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db)}
	for _, tf := range domrepo.Timeframes {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    ts DateTime64(3, 'UTC'),
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Float64,
    open_interest Nullable(Float64),
    version UInt64
) ENGINE = ReplacingMergeTree(version)
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, ts)`, candleTable(db, tf)),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    ts DateTime64(3, 'UTC'),
    payload String,
    version UInt64
) ENGINE = ReplacingMergeTree(version)
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, ts)`, featureTable(db, tf)),
		)
	}
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    source_tf LowCardinality(String),
    target_tf LowCardinality(String),
    day Date,
    source_count UInt32,
    target_count UInt32,
    compression_ratio Float64,
    created_at DateTime64(3, 'UTC'),
    rows String
) ENGINE = ReplacingMergeTree(created_at)
ORDER BY (symbol, source_tf, target_tf, day)`, backupTable(db)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    symbol String,
    name String,
    exchange LowCardinality(String),
    type LowCardinality(String),
    active UInt8,
    updated_at DateTime
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY symbol`, instrumentTable(db)),
	)
	return stmts
}
