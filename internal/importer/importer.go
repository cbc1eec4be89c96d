// Package importer drives chunked CSV imports against the progress ledger.
// It owns the retry and resume state machine: which chunks to attempt, how
// to record attempts, and how a run's overall status is derived. The actual
// row writing is delegated to a sink strategy; parsing to the csv package.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/alexmclaughlin2005/caselaw/internal/chunk"
	"github.com/alexmclaughlin2005/caselaw/internal/config"
	"github.com/alexmclaughlin2005/caselaw/internal/fsio"
	"github.com/alexmclaughlin2005/caselaw/internal/ledger"
	"github.com/alexmclaughlin2005/caselaw/internal/metrics"
	parsercsv "github.com/alexmclaughlin2005/caselaw/internal/parser/csv"
	"github.com/alexmclaughlin2005/caselaw/internal/schema"
	"github.com/alexmclaughlin2005/caselaw/internal/sink"
)

// ErrMissingChunkFile reports that a ledger row points at a chunk file that
// no longer exists on disk. The chunk is marked failed without retries;
// retrying cannot make the file reappear.
var ErrMissingChunkFile = errors.New("importer: chunk file missing")

// ErrNoChunks reports that the job has no ledger rows at all. The caller
// must split the source file first.
var ErrNoChunks = errors.New("importer: no ledger rows for this table and date")

// maxRecordedErrors bounds Result.Errors so a run over thousands of broken
// chunks cannot balloon the result. The ledger still holds every error.
const maxRecordedErrors = 25

// Request names one chunked import run.
type Request struct {
	Table       string
	DatasetDate string
	Method      string // sink.MethodBatched or sink.MethodCopy
	Resume      bool   // skip chunks already completed
	MaxRetries  int    // attempts per chunk; min 1
	BatchSize   int
	OnConflict  sink.ConflictPolicy
	Parser      config.Options

	// Stop requests a graceful halt; checked between chunks only, so the
	// in-flight chunk always lands in a terminal status.
	Stop <-chan struct{}
}

// ChunkError is one failed chunk in a Result.
type ChunkError struct {
	ChunkNumber int    `json:"chunk_number"`
	Error       string `json:"error"`
	Attempts    int    `json:"attempts"`
}

// Result aggregates one run.
type Result struct {
	TableName         string        `json:"table_name"`
	DatasetDate       string        `json:"dataset_date"`
	TotalChunks       int           `json:"total_chunks"`
	ProcessedChunks   int           `json:"processed_chunks"`
	SuccessfulChunks  int           `json:"successful_chunks"`
	FailedChunks      int           `json:"failed_chunks"`
	SkippedChunks     int           `json:"skipped_chunks"`
	TotalRowsImported int64         `json:"total_rows_imported"`
	TotalRowsSkipped  int64         `json:"total_rows_skipped"`
	ImportMethod      string        `json:"import_method"`
	Status            string        `json:"status"` // completed | partial | failed
	Duration          time.Duration `json:"duration"`
	Errors            []ChunkError  `json:"errors,omitempty"`
}

// Importer binds the ledger, the database, and the chunk directory.
type Importer struct {
	Store     ledger.Store
	Conn      sink.Conn
	ChunksDir string

	// ExistsTimeout bounds the per-chunk file existence check.
	ExistsTimeout time.Duration

	// Exists checks a chunk file before its attempts; nil means fsio.Exists.
	// Tests substitute fakes here.
	Exists func(ctx context.Context, path string, timeout time.Duration) (bool, error)

	// NewInserter builds the sink strategy; nil means sink.New. Tests
	// substitute fakes here.
	NewInserter func(method string, conn sink.Conn, batchSize int, policy sink.ConflictPolicy) (sink.Inserter, error)
}

// ImportChunked runs every eligible chunk of (table, date) in chunk-number
// order. A chunk failure never aborts the run; the error is recorded on the
// ledger row and in the result, and the next chunk proceeds. Only ledger
// write failures and cancellation abort early.
func (im *Importer) ImportChunked(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res := Result{TableName: req.Table, DatasetDate: req.DatasetDate}

	table, err := schema.Lookup(req.Table)
	if err != nil {
		return res, err
	}
	method := req.Method
	if method == "" {
		method = sink.MethodBatched
	}
	res.ImportMethod = method

	newInserter := im.NewInserter
	if newInserter == nil {
		newInserter = sink.New
	}
	ins, err := newInserter(method, im.Conn, req.BatchSize, req.OnConflict)
	if err != nil {
		return res, err
	}
	attempts := req.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	chunks, err := im.Store.List(ctx, req.Table, req.DatasetDate)
	if err != nil {
		return res, fmt.Errorf("importer: list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return res, fmt.Errorf("%w: %s-%s", ErrNoChunks, req.Table, req.DatasetDate)
	}
	res.TotalChunks = len(chunks)

	log.Printf("importer: %s-%s: %d chunk(s), method=%s resume=%v",
		req.Table, req.DatasetDate, len(chunks), method, req.Resume)

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			res.finish(start)
			return res, err
		}
		select {
		case <-req.Stop:
			log.Printf("importer: %s-%s: stop requested, halting after chunk %d",
				req.Table, req.DatasetDate, c.ChunkNumber-1)
			res.finish(start)
			return res, nil
		default:
		}

		if req.Resume && c.Status == ledger.StatusCompleted {
			res.SkippedChunks++
			continue
		}

		rowsImported, rowsSkipped, cerr := im.runChunk(ctx, table, ins, method, attempts, req.Parser, c)
		if cerr != nil && cerr.ledgerErr != nil {
			res.finish(start)
			return res, cerr.ledgerErr
		}
		res.ProcessedChunks++
		if cerr != nil {
			res.FailedChunks++
			if len(res.Errors) < maxRecordedErrors {
				res.Errors = append(res.Errors, ChunkError{
					ChunkNumber: c.ChunkNumber,
					Error:       cerr.err.Error(),
					Attempts:    cerr.attempts,
				})
			}
			continue
		}
		res.SuccessfulChunks++
		res.TotalRowsImported += rowsImported
		res.TotalRowsSkipped += rowsSkipped
	}

	res.finish(start)
	log.Printf("importer: %s-%s: %s: %d ok, %d failed, %d skipped, %s rows imported in %s",
		req.Table, req.DatasetDate, res.Status, res.SuccessfulChunks, res.FailedChunks,
		res.SkippedChunks, humanize.Comma(res.TotalRowsImported), res.Duration.Round(time.Millisecond))
	return res, nil
}

// chunkFailure carries a chunk's terminal error. ledgerErr, when set, is a
// failed ledger write or a cancellation and must abort the whole run.
type chunkFailure struct {
	err       error
	attempts  int
	ledgerErr error
}

// runChunk attempts one chunk up to the retry budget. It returns the imported
// and skipped row counts on success, or the terminal failure.
func (im *Importer) runChunk(ctx context.Context, table schema.Table, ins sink.Inserter, method string, attempts int, opt config.Options, c ledger.Chunk) (int64, int64, *chunkFailure) {
	path := chunk.Path(im.ChunksDir, c.TableName, c.DatasetDate, c.ChunkNumber)

	exists := im.Exists
	if exists == nil {
		exists = fsio.Exists
	}
	ok, err := exists(ctx, path, im.ExistsTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, &chunkFailure{ledgerErr: ctx.Err()}
		}
		// A check that timed out or errored fails this chunk only. Retrying
		// against a stalled filesystem would stall the run the same way.
		ferr := fmt.Errorf("importer: check chunk file: %w", err)
		if lerr := im.Store.MarkFailed(ctx, c.ID, ferr.Error()); lerr != nil {
			return 0, 0, &chunkFailure{ledgerErr: lerr}
		}
		metrics.RecordChunk(c.TableName, ferr, 0)
		return 0, 0, &chunkFailure{err: ferr, attempts: 0}
	}
	if !ok {
		ferr := fmt.Errorf("%w: %s", ErrMissingChunkFile, path)
		if lerr := im.Store.MarkFailed(ctx, c.ID, ferr.Error()); lerr != nil {
			return 0, 0, &chunkFailure{ledgerErr: lerr}
		}
		metrics.RecordChunk(c.TableName, ferr, 0)
		return 0, 0, &chunkFailure{err: ferr, attempts: 0}
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := im.Store.MarkProcessing(ctx, c.ID, method, attempt); err != nil {
			return 0, 0, &chunkFailure{ledgerErr: err}
		}

		began := time.Now()
		imported, skipped, err := im.attemptChunk(ctx, table, ins, path, opt, c)
		if err == nil {
			if lerr := im.Store.MarkCompleted(ctx, c.ID, imported, skipped, time.Since(began)); lerr != nil {
				return 0, 0, &chunkFailure{ledgerErr: lerr}
			}
			metrics.RecordChunk(c.TableName, nil, time.Since(began))
			metrics.RecordRows(c.TableName, "imported", imported)
			return imported, skipped, nil
		}

		lastErr = err
		log.Printf("importer: %s chunk %d attempt %d/%d failed: %v",
			c.TableName, c.ChunkNumber, attempt+1, attempts, err)
	}

	if lerr := im.Store.MarkFailed(ctx, c.ID, lastErr.Error()); lerr != nil {
		return 0, 0, &chunkFailure{ledgerErr: lerr}
	}
	metrics.RecordChunk(c.TableName, lastErr, 0)
	return 0, 0, &chunkFailure{err: lastErr, attempts: attempts}
}

// attemptChunk is one parse-and-insert pass over the chunk file. Each attempt
// re-verifies the checksum and re-opens the file; the previous attempt's
// transaction has already been rolled back by the sink.
func (im *Importer) attemptChunk(ctx context.Context, table schema.Table, ins sink.Inserter, path string, opt config.Options, c ledger.Chunk) (int64, int64, error) {
	if err := chunk.Verify(path, c.Checksum); err != nil {
		return 0, 0, err
	}

	f, err := fsio.Open(ctx, path, im.ExistsTimeout)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var malformed, invalidKey int64
	onSkip := func(line int, reason parsercsv.Reason, err error) {
		switch reason {
		case parsercsv.ReasonInvalidKey:
			invalidKey++
		default:
			malformed++
		}
		log.Printf("importer: %s chunk %d line %d skipped (%s): %v",
			c.TableName, c.ChunkNumber, line, reason, err)
	}

	rr, err := parsercsv.NewRowReader(f, table, opt, onSkip)
	if err != nil {
		return 0, 0, err
	}

	stats, err := ins.Insert(ctx, table, rr)
	if err != nil {
		return 0, 0, err
	}
	metrics.RecordRows(c.TableName, "conflict_skipped", stats.RowsSkipped)
	metrics.RecordRows(c.TableName, "malformed", malformed)
	metrics.RecordRows(c.TableName, "invalid_key", invalidKey)

	// The chunk's skipped total covers both rows the conflict policy absorbed
	// and rows the parser dropped.
	return stats.RowsInserted, stats.RowsSkipped + malformed + invalidKey, nil
}

// finish stamps duration and derives the run status.
func (r *Result) finish(start time.Time) {
	r.Duration = time.Since(start)
	switch {
	case r.FailedChunks == 0:
		r.Status = "completed"
	case r.SuccessfulChunks > 0:
		r.Status = "partial"
	default:
		r.Status = "failed"
	}
}
