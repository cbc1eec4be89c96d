package sink

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conn is the narrow database seam the insert strategies run against.
// Production code wraps a pgx pool; tests supply fakes that record SQL.
type Conn interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one transaction. CopyFrom targets a table visible to the
// transaction's session, which is what lets the copy strategy stage into a
// TEMP table.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	QueryInt64(ctx context.Context, sql string, args ...any) (int64, error)
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Pool adapts a pgx connection pool to the Conn seam.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to dsn and returns the pooled Conn plus its close function.
func NewPool(ctx context.Context, dsn string) (*Pool, func(), error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return &Pool{pool: p}, p.Close, nil
}

func (p *Pool) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgxTx{tx}, nil
}

type pgxTx struct {
	tx pgx.Tx
}

func (t pgxTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t pgxTx) QueryInt64(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, sql, args...).Scan(&n)
	return n, err
}

func (t pgxTx) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return t.tx.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
}

func (t pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
