// Package ledger contains the durable chunk-progress model and the
// storage-agnostic Store contract.
//
// The ledger is the single source of truth for "what has been imported so
// far": one record per chunk, keyed by (table_name, dataset_date,
// chunk_number). Concrete backends live in subpackages (postgres, sqlite,
// memory) and register themselves with the factory in this package; import
// ledger/all to enable all built-in backends.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a chunk.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// MaxErrorMessageLen bounds the persisted error text per chunk.
const MaxErrorMessageLen = 500

// Chunk is one durable progress record: a bounded slice of a source CSV.
//
// StartRow/EndRow are 1-based offsets over the *original* file's data rows
// (header excluded); they exist for auditability and are preserved across
// Reset so files need not be re-split.
type Chunk struct {
	ID            int64
	TableName     string
	DatasetDate   string
	ChunkNumber   int
	ChunkFilename string

	StartRow int64
	EndRow   int64
	RowCount int64

	// Checksum is the XXH3-128 hex digest of the chunk file, recorded at
	// split time and verified before each import attempt.
	Checksum string

	Status       Status
	RowsImported int64
	RowsSkipped  int64

	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds int64

	ErrorMessage string
	RetryCount   int
	ImportMethod string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary aggregates chunk progress for one (table, dataset_date) job.
type Summary struct {
	TableName    string  `json:"table_name"`
	DatasetDate  string  `json:"dataset_date"`
	TotalChunks  int     `json:"total_chunks"`
	Completed    int     `json:"completed_chunks"`
	Failed       int     `json:"failed_chunks"`
	Processing   int     `json:"processing_chunks"`
	Pending      int     `json:"pending_chunks"`
	TotalRows    int64   `json:"total_rows"`
	ImportedRows int64   `json:"imported_rows"`
	SkippedRows  int64   `json:"skipped_rows"`
	ProgressPct  float64 `json:"progress_percentage"`
	Status       string  `json:"status"`
}

// Store is the minimal persistence contract for chunk progress. Every
// mutation is a single-row update applied in its own transaction, so
// concurrent readers (status polling) never observe a torn record.
type Store interface {
	// Create inserts the given chunks (status pending). Chunk numbers must
	// be unique within their (table, date) job.
	Create(ctx context.Context, chunks []Chunk) error

	// List returns the job's chunks ordered by chunk number.
	List(ctx context.Context, table, datasetDate string) ([]Chunk, error)

	// Summarize aggregates the job's progress.
	Summarize(ctx context.Context, table, datasetDate string) (Summary, error)

	// MarkProcessing records the start of an import attempt. retry is the
	// zero-based attempt index; the caller owns the retry count because
	// retries happen before the next ledger write.
	MarkProcessing(ctx context.Context, id int64, method string, retry int) error

	// MarkCompleted records a successful import with timing and row counts,
	// clearing any previous error text.
	MarkCompleted(ctx context.Context, id int64, rowsImported, rowsSkipped int64, dur time.Duration) error

	// MarkFailed records a terminal failure with (truncated) error text.
	MarkFailed(ctx context.Context, id int64, errMsg string) error

	// Reset returns every chunk of the job to pending, clearing derived
	// fields (timing, counts, error, retries) while preserving the filename,
	// row-range metadata, and checksum.
	Reset(ctx context.Context, table, datasetDate string) (int64, error)

	// Delete removes the job's chunk records and returns how many were
	// removed. Backing files are the splitter's concern, not the store's.
	Delete(ctx context.Context, table, datasetDate string) (int64, error)

	// Close releases backend resources.
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	// Kind selects the backend implementation (e.g. "postgres", "sqlite",
	// "memory").
	Kind string

	// DSN is the backend connection string; unused by the memory store.
	DSN string
}

// Factory constructs a Store from a Config.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a Store backend available under the given kind.
// Re-registering a kind replaces the previous factory.
func Register(kind string, fn Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = fn
}

// New opens a Store for cfg.Kind. Unknown kinds return an error listing the
// registered backends.
func New(ctx context.Context, cfg Config) (Store, error) {
	factoriesMu.RLock()
	fn, ok := factories[cfg.Kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: unknown store kind %q (registered: %v)", cfg.Kind, registered())
	}
	return fn(ctx, cfg)
}

func registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// TruncateError bounds err text to MaxErrorMessageLen bytes for persistence.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorMessageLen {
		return msg[:MaxErrorMessageLen]
	}
	return msg
}

// Summarize derives a Summary from an in-memory chunk list. Backends that
// load whole jobs (sqlite, memory) share this; the postgres store aggregates
// in SQL but follows the same status derivation.
//
// Overall status rules:
//   - "not_started" when the job has no chunks
//   - "completed" iff every chunk completed
//   - "failed" iff any chunk failed and none are processing
//   - "processing" iff any chunk is currently processing
//   - "in_progress" iff some completed and some pending remain
//   - "pending" otherwise
func Summarize(table, datasetDate string, chunks []Chunk) Summary {
	s := Summary{TableName: table, DatasetDate: datasetDate, TotalChunks: len(chunks)}
	if len(chunks) == 0 {
		s.Status = "not_started"
		return s
	}

	for _, c := range chunks {
		switch c.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusProcessing:
			s.Processing++
		case StatusPending:
			s.Pending++
		}
		s.TotalRows += c.RowCount
		s.ImportedRows += c.RowsImported
		s.SkippedRows += c.RowsSkipped
	}
	s.ProgressPct = float64(s.Completed) / float64(s.TotalChunks) * 100

	switch {
	case s.Completed == s.TotalChunks:
		s.Status = "completed"
	case s.Processing > 0:
		s.Status = "processing"
	case s.Failed > 0:
		s.Status = "failed"
	case s.Pending > 0 && s.Completed > 0:
		s.Status = "in_progress"
	default:
		s.Status = "pending"
	}
	return s
}
