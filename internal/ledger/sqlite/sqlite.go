// Package sqlite implements a SQLite-backed ledger.Store using database/sql.
// It is the backend of choice for single-machine CLI runs: the progress
// ledger travels with the data directory and needs no server. Writes are one
// short transaction per mutation, which SQLite handles comfortably at
// chunk-level granularity (thousands of rows, not millions).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// SQLite driver; replace with your preferred driver if desired.
	_ "modernc.org/sqlite" // alternative: github.com/mattn/go-sqlite3

	"github.com/alexmclaughlin2005/caselaw/internal/ledger"
)

// Store is a SQLite-backed implementation of ledger.Store.
type Store struct {
	db *sql.DB
}

func init() {
	ledger.Register("sqlite", func(ctx context.Context, cfg ledger.Config) (ledger.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

// schemaSQL creates the progress table on first open. The UNIQUE constraint
// is the durable form of the "chunk_number unique within a job" invariant.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS csv_chunk_progress (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name       TEXT    NOT NULL,
	dataset_date     TEXT    NOT NULL,
	chunk_number     INTEGER NOT NULL,
	chunk_filename   TEXT    NOT NULL,
	chunk_start_row  INTEGER,
	chunk_end_row    INTEGER,
	chunk_row_count  INTEGER,
	checksum         TEXT    NOT NULL DEFAULT '',
	status           TEXT    NOT NULL DEFAULT 'pending',
	rows_imported    INTEGER NOT NULL DEFAULT 0,
	rows_skipped     INTEGER NOT NULL DEFAULT 0,
	started_at       TIMESTAMP,
	completed_at     TIMESTAMP,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT    NOT NULL DEFAULT '',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	import_method    TEXT    NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	UNIQUE (table_name, dataset_date, chunk_number)
);
CREATE INDEX IF NOT EXISTS ix_chunk_progress_job
	ON csv_chunk_progress (table_name, dataset_date);
`

// Open opens (creating if necessary) the ledger database at dsn.
//
// DSN is passed directly to database/sql; for example:
//
//	"file:caselaw.db?cache=shared"
//	"caselaw.db"
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// Apply a basic ping with context to fail fast on invalid DSNs.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	// Single writer at a time; busy_timeout lets a polling reader coexist
	// with an in-progress import.
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL;")

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(ctx context.Context, chunks []ledger.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO csv_chunk_progress (
			table_name, dataset_date, chunk_number, chunk_filename,
			chunk_start_row, chunk_end_row, chunk_row_count, checksum,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.TableName, c.DatasetDate, c.ChunkNumber, c.ChunkFilename,
			c.StartRow, c.EndRow, c.RowCount, c.Checksum, now, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: insert chunk %d: %w", c.ChunkNumber, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

const selectCols = `
	id, table_name, dataset_date, chunk_number, chunk_filename,
	chunk_start_row, chunk_end_row, chunk_row_count, checksum,
	status, rows_imported, rows_skipped,
	started_at, completed_at, duration_seconds,
	error_message, retry_count, import_method, created_at, updated_at`

func (s *Store) List(ctx context.Context, table, datasetDate string) ([]ledger.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectCols+`
		FROM csv_chunk_progress
		WHERE table_name = ? AND dataset_date = ?
		ORDER BY chunk_number`, table, datasetDate)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list chunks: %w", err)
	}
	defer rows.Close()

	var out []ledger.Chunk
	for rows.Next() {
		var (
			c                    ledger.Chunk
			startedAt, completed sql.NullTime
		)
		if err := rows.Scan(
			&c.ID, &c.TableName, &c.DatasetDate, &c.ChunkNumber, &c.ChunkFilename,
			&c.StartRow, &c.EndRow, &c.RowCount, &c.Checksum,
			&c.Status, &c.RowsImported, &c.RowsSkipped,
			&startedAt, &completed, &c.DurationSeconds,
			&c.ErrorMessage, &c.RetryCount, &c.ImportMethod, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan chunk: %w", err)
		}
		if startedAt.Valid {
			t := startedAt.Time
			c.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			c.CompletedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Summarize(ctx context.Context, table, datasetDate string) (ledger.Summary, error) {
	chunks, err := s.List(ctx, table, datasetDate)
	if err != nil {
		return ledger.Summary{}, err
	}
	return ledger.Summarize(table, datasetDate, chunks), nil
}

func (s *Store) MarkProcessing(ctx context.Context, id int64, method string, retry int) error {
	return s.exec(ctx, `
		UPDATE csv_chunk_progress
		SET status = 'processing', started_at = ?, import_method = ?,
		    retry_count = ?, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC(), method, retry, time.Now().UTC(), id)
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, rowsImported, rowsSkipped int64, dur time.Duration) error {
	now := time.Now().UTC()
	return s.exec(ctx, `
		UPDATE csv_chunk_progress
		SET status = 'completed', completed_at = ?, duration_seconds = ?,
		    rows_imported = ?, rows_skipped = ?, error_message = '', updated_at = ?
		WHERE id = ?`,
		now, int64(dur.Seconds()), rowsImported, rowsSkipped, now, id)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	now := time.Now().UTC()
	return s.exec(ctx, `
		UPDATE csv_chunk_progress
		SET status = 'failed', completed_at = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		now, ledger.TruncateError(errMsg), now, id)
}

func (s *Store) Reset(ctx context.Context, table, datasetDate string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE csv_chunk_progress
		SET status = 'pending', started_at = NULL, completed_at = NULL,
		    duration_seconds = 0, rows_imported = 0, rows_skipped = 0,
		    error_message = '', retry_count = 0, import_method = '',
		    updated_at = ?
		WHERE table_name = ? AND dataset_date = ?`,
		time.Now().UTC(), table, datasetDate)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reset chunks: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, table, datasetDate string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM csv_chunk_progress
		WHERE table_name = ? AND dataset_date = ?`, table, datasetDate)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete chunks: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }

// exec runs one mutation and requires it to touch exactly one row; a miss
// means the caller holds a stale chunk id.
func (s *Store) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("sqlite: update matched %d rows, want 1", n)
	}
	return nil
}
