// Package sink writes parsed CSV rows into Postgres target tables. Two
// strategies are provided: batched multi-row INSERTs and COPY through a
// temporary staging table. Both run one chunk inside one transaction, so a
// failed chunk leaves the target table untouched.
package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexmclaughlin2005/caselaw/internal/schema"
)

// DefaultBatchSize is used when a strategy's BatchSize is zero.
const DefaultBatchSize = 5000

// maxBindParams is the Postgres extended-protocol limit on bind parameters
// per statement (uint16 on the wire). Batched lowers its effective batch
// size so a wide table never renders a statement past it.
const maxBindParams = 65535

// Inserter writes one chunk's rows into a target table.
type Inserter interface {
	Insert(ctx context.Context, table schema.Table, rows RowSource) (Stats, error)
}

// Insert method names accepted in config and on the CLI.
const (
	MethodBatched = "batched"
	MethodCopy    = "copy"
)

// New returns the named insert strategy bound to conn.
func New(method string, conn Conn, batchSize int, policy ConflictPolicy) (Inserter, error) {
	switch method {
	case MethodBatched, "":
		return &Batched{Conn: conn, BatchSize: batchSize, OnConflict: policy}, nil
	case MethodCopy:
		return &Copy{Conn: conn, BatchSize: batchSize, OnConflict: policy}, nil
	default:
		return nil, fmt.Errorf("sink: unknown insert method %q", method)
	}
}

// RowSource is a stream of typed rows aligned to a known column list. The
// parser's RowReader satisfies it. Next returns io.EOF at end of stream.
type RowSource interface {
	Next() ([]any, int, error)
	Columns() []string
}

// ConflictPolicy controls what an insert does when a row's primary key
// already exists in the target.
type ConflictPolicy string

const (
	// ConflictSkip leaves the existing row alone (ON CONFLICT DO NOTHING).
	// Imports into a live table must never clobber newer data.
	ConflictSkip ConflictPolicy = "skip"

	// ConflictUpdate overwrites the existing row's non-key columns from the
	// incoming row (ON CONFLICT DO UPDATE).
	ConflictUpdate ConflictPolicy = "update"
)

// Valid reports whether p is a known policy.
func (p ConflictPolicy) Valid() bool {
	return p == ConflictSkip || p == ConflictUpdate
}

// Stats reports the outcome of one chunk's insert.
type Stats struct {
	RowsRead     int64 // rows drained from the source
	RowsInserted int64 // net-new rows in the target (count diff)
	RowsSkipped  int64 // rows absorbed by the conflict policy
}

// InsertBatchError reports which batch of a chunk failed. The chunk's
// transaction has been rolled back by the time the caller sees it; the whole
// chunk is eligible for retry.
type InsertBatchError struct {
	Batch int // zero-based batch index within the chunk
	Err   error
}

func (e *InsertBatchError) Error() string {
	return fmt.Sprintf("sink: batch %d: %v", e.Batch, e.Err)
}

func (e *InsertBatchError) Unwrap() error { return e.Err }

// pgIdent quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.search_docket".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}

// conflictClause renders the ON CONFLICT tail for the policy. cols is the
// full insert column list; pk is excluded from the update set.
func conflictClause(policy ConflictPolicy, pk string, cols []string) string {
	if policy == ConflictUpdate {
		var sets []string
		for _, c := range cols {
			if c == pk {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(c), pgIdent(c)))
		}
		if len(sets) > 0 {
			return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", pgIdent(pk), strings.Join(sets, ", "))
		}
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", pgIdent(pk))
}
