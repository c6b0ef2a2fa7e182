package clickhouse

import (
	"context"
	"fmt"
	"strings"
)

// DefaultChunkSize is the number of rows sent per batch.
const DefaultChunkSize = 5000

// InsertBatch sends rows in chunks. Each chunk is one prepared statement
// inside a transaction, which clickhouse-go turns into a single native
// block insert on commit.
func (c *Client) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	query := fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(columns, ", "))
	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		if err := c.insertChunk(ctx, query, len(columns), rows[start:end], start); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func (c *Client) insertChunk(ctx context.Context, query string, width int, rows [][]any, offset int) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range rows {
		if len(r) != width {
			return fmt.Errorf("row %d has %d values, want %d", offset+i, len(r), width)
		}
		if _, err = stmt.ExecContext(ctx, r...); err != nil {
			return fmt.Errorf("row %d: %w", offset+i, err)
		}
	}
	return tx.Commit()
}
