// Package postgres implements a Postgres-backed ledger.Store using pgx v5.
// Keeping the progress ledger in the same database as the target tables
// means one backup/restore unit covers both the data and the record of how
// it got there, which is how the production deployment runs.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alexmclaughlin2005/caselaw/internal/ledger"
)

// Store is a Postgres-backed implementation of ledger.Store.
type Store struct {
	pool *pgxpool.Pool
}

func init() {
	ledger.Register("postgres", func(ctx context.Context, cfg ledger.Config) (ledger.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS csv_chunk_progress (
	id               BIGSERIAL PRIMARY KEY,
	table_name       VARCHAR(100) NOT NULL,
	dataset_date     VARCHAR(20)  NOT NULL,
	chunk_number     INTEGER      NOT NULL,
	chunk_filename   VARCHAR(255) NOT NULL,
	chunk_start_row  BIGINT,
	chunk_end_row    BIGINT,
	chunk_row_count  BIGINT,
	checksum         TEXT         NOT NULL DEFAULT '',
	status           VARCHAR(20)  NOT NULL DEFAULT 'pending',
	rows_imported    BIGINT       NOT NULL DEFAULT 0,
	rows_skipped     BIGINT       NOT NULL DEFAULT 0,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	duration_seconds BIGINT       NOT NULL DEFAULT 0,
	error_message    TEXT         NOT NULL DEFAULT '',
	retry_count      INTEGER      NOT NULL DEFAULT 0,
	import_method    VARCHAR(50)  NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
	UNIQUE (table_name, dataset_date, chunk_number)
);
CREATE INDEX IF NOT EXISTS ix_chunk_progress_job
	ON csv_chunk_progress (table_name, dataset_date);
`

// Open connects to Postgres and ensures the progress table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Create(ctx context.Context, chunks []ledger.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO csv_chunk_progress (
				table_name, dataset_date, chunk_number, chunk_filename,
				chunk_start_row, chunk_end_row, chunk_row_count, checksum
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.TableName, c.DatasetDate, c.ChunkNumber, c.ChunkFilename,
			c.StartRow, c.EndRow, c.RowCount, c.Checksum,
		); err != nil {
			return fmt.Errorf("postgres: insert chunk %d: %w", c.ChunkNumber, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, table, datasetDate string) ([]ledger.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, table_name, dataset_date, chunk_number, chunk_filename,
		       chunk_start_row, chunk_end_row, chunk_row_count, checksum,
		       status, rows_imported, rows_skipped,
		       started_at, completed_at, duration_seconds,
		       error_message, retry_count, import_method, created_at, updated_at
		FROM csv_chunk_progress
		WHERE table_name = $1 AND dataset_date = $2
		ORDER BY chunk_number`, table, datasetDate)
	if err != nil {
		return nil, fmt.Errorf("postgres: list chunks: %w", err)
	}
	defer rows.Close()

	var out []ledger.Chunk
	for rows.Next() {
		var (
			c      ledger.Chunk
			status string
		)
		if err := rows.Scan(
			&c.ID, &c.TableName, &c.DatasetDate, &c.ChunkNumber, &c.ChunkFilename,
			&c.StartRow, &c.EndRow, &c.RowCount, &c.Checksum,
			&status, &c.RowsImported, &c.RowsSkipped,
			&c.StartedAt, &c.CompletedAt, &c.DurationSeconds,
			&c.ErrorMessage, &c.RetryCount, &c.ImportMethod, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		c.Status = ledger.Status(status)
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
		SET status = 'processing', started_at = now(), import_method = $2,
		    retry_count = $3, updated_at = now()
		WHERE id = $1`, id, method, retry)
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, rowsImported, rowsSkipped int64, dur time.Duration) error {
	return s.exec(ctx, `
		UPDATE csv_chunk_progress
		SET status = 'completed', completed_at = now(), duration_seconds = $2,
		    rows_imported = $3, rows_skipped = $4, error_message = '',
		    updated_at = now()
		WHERE id = $1`, id, int64(dur.Seconds()), rowsImported, rowsSkipped)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return s.exec(ctx, `
		UPDATE csv_chunk_progress
		SET status = 'failed', completed_at = now(), error_message = $2,
		    updated_at = now()
		WHERE id = $1`, id, ledger.TruncateError(errMsg))
}

func (s *Store) Reset(ctx context.Context, table, datasetDate string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE csv_chunk_progress
		SET status = 'pending', started_at = NULL, completed_at = NULL,
		    duration_seconds = 0, rows_imported = 0, rows_skipped = 0,
		    error_message = '', retry_count = 0, import_method = '',
		    updated_at = now()
		WHERE table_name = $1 AND dataset_date = $2`, table, datasetDate)
	if err != nil {
		return 0, fmt.Errorf("postgres: reset chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Delete(ctx context.Context, table, datasetDate string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM csv_chunk_progress
		WHERE table_name = $1 AND dataset_date = $2`, table, datasetDate)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) exec(ctx context.Context, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres: update chunk: %w", err)
	}
	if n := tag.RowsAffected(); n != 1 {
		return fmt.Errorf("postgres: update matched %d rows, want 1", n)
	}
	return nil
}
