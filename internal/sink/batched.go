package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alexmclaughlin2005/caselaw/internal/metrics"
	"github.com/alexmclaughlin2005/caselaw/internal/schema"
)

// Batched inserts rows with multi-row INSERT statements, BatchSize rows per
// statement, all inside a single transaction. Conflicting primary keys are
// handled per the policy; the net-new row count comes from a COUNT(*) diff
// taken inside the same transaction.
type Batched struct {
	Conn       Conn
	BatchSize  int
	OnConflict ConflictPolicy
}

var _ Inserter = (*Batched)(nil)

func (b *Batched) Insert(ctx context.Context, table schema.Table, rows RowSource) (Stats, error) {
	size := b.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	policy := b.OnConflict
	if policy == "" {
		policy = ConflictSkip
	}
	cols := rows.Columns()
	if len(cols) == 0 {
		return Stats{}, fmt.Errorf("sink: source has no bound columns")
	}
	if max := maxBindParams / len(cols); size > max {
		size = max
	}

	tx, err := b.Conn.Begin(ctx)
	if err != nil {
		return Stats{}, err
	}

	countSQL := "SELECT COUNT(*) FROM " + pgFQN(table.Name)
	before, err := tx.QueryInt64(ctx, countSQL)
	if err != nil {
		tx.Rollback(ctx)
		return Stats{}, fmt.Errorf("sink: count before: %w", err)
	}

	var (
		stats Stats
		batch = make([]any, 0, size*len(cols))
		nrows = 0
		bi    = 0
	)
	flush := func() error {
		if nrows == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, insertSQL(table, cols, policy, nrows), batch...); err != nil {
			return &InsertBatchError{Batch: bi, Err: err}
		}
		bi++
		batch = batch[:0]
		nrows = 0
		return nil
	}

	for {
		vals, _, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tx.Rollback(ctx)
			return stats, err
		}
		stats.RowsRead++
		batch = append(batch, vals...)
		nrows++
		if nrows == size {
			if err := flush(); err != nil {
				tx.Rollback(ctx)
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		tx.Rollback(ctx)
		return stats, err
	}

	after, err := tx.QueryInt64(ctx, countSQL)
	if err != nil {
		tx.Rollback(ctx)
		return stats, fmt.Errorf("sink: count after: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("sink: commit: %w", err)
	}
	metrics.RecordBatches(table.Name, int64(bi))

	stats.RowsInserted = after - before
	stats.RowsSkipped = stats.RowsRead - stats.RowsInserted
	return stats, nil
}

// insertSQL renders a multi-row insert for n rows of the given columns.
func insertSQL(table schema.Table, cols []string, policy ConflictPolicy, n int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(pgFQN(table.Name))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(mapIdent(cols), ", "))
	sb.WriteString(") VALUES ")
	arg := 1
	for r := 0; r < n; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range cols {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", arg)
			arg++
		}
		sb.WriteByte(')')
	}
	sb.WriteByte(' ')
	sb.WriteString(conflictClause(policy, table.PrimaryKey, cols))
	return sb.String()
}
