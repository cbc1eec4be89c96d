package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/alexmclaughlin2005/caselaw/internal/schema"
)

var docketTable = schema.Table{
	Name:       "search_docket",
	PrimaryKey: "id",
	Columns: []schema.Column{
		{Name: "id", Kind: schema.KindBigInt},
		{Name: "case_name", Kind: schema.KindText},
	},
}

// sliceSource serves a fixed set of rows.
type sliceSource struct {
	cols []string
	rows [][]any
	i    int
}

func (s *sliceSource) Columns() []string { return s.cols }

func (s *sliceSource) Next() ([]any, int, error) {
	if s.i >= len(s.rows) {
		return nil, 0, io.EOF
	}
	r := s.rows[s.i]
	s.i++
	return r, s.i + 1, nil
}

func nRows(n int) *sliceSource {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), fmt.Sprintf("Case %d", i+1)}
	}
	return &sliceSource{cols: []string{"id", "case_name"}, rows: rows}
}

type execCall struct {
	sql  string
	args []any
}

type copyCall struct {
	table string
	cols  []string
	rows  [][]any
}

// fakeTx records everything the strategy does and serves scripted COUNT(*)
// results. execErr, when set, fails the nth INSERT exec (zero-based over
// inserts only).
type fakeTx struct {
	execs      []execCall
	copies     []copyCall
	counts     []int64
	countIdx   int
	failInsert int // index of the INSERT exec/copy to fail, -1 for none
	inserts    int
	committed  bool
	rolledBack bool
}

func newFakeTx(before, after int64) *fakeTx {
	return &fakeTx{counts: []int64{before, after}, failInsert: -1}
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	if strings.HasPrefix(sql, "INSERT INTO") && strings.Contains(sql, "VALUES") {
		if t.inserts == t.failInsert {
			return 0, errors.New("duplicate key value violates unique constraint")
		}
		t.inserts++
	}
	return 0, nil
}

func (t *fakeTx) QueryInt64(ctx context.Context, sql string, args ...any) (int64, error) {
	if t.countIdx >= len(t.counts) {
		return 0, errors.New("unexpected count query")
	}
	n := t.counts[t.countIdx]
	t.countIdx++
	return n, nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, table string, cols []string, rows [][]any) (int64, error) {
	if t.inserts == t.failInsert {
		return 0, errors.New("copy: broken pipe")
	}
	t.inserts++
	cp := make([][]any, len(rows))
	copy(cp, rows)
	t.copies = append(t.copies, copyCall{table: table, cols: cols, rows: cp})
	return int64(len(rows)), nil
}

func (t *fakeTx) Commit(ctx context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.rolledBack = true; return nil }

type fakeConn struct{ tx *fakeTx }

func (c *fakeConn) Begin(ctx context.Context) (Tx, error) { return c.tx, nil }

func insertExecs(tx *fakeTx) []execCall {
	var out []execCall
	for _, e := range tx.execs {
		if strings.HasPrefix(e.sql, "INSERT INTO") && strings.Contains(e.sql, "VALUES") {
			out = append(out, e)
		}
	}
	return out
}

func TestBatchedBatchBoundaries(t *testing.T) {
	t.Parallel()
	tx := newFakeTx(0, 7)
	b := &Batched{Conn: &fakeConn{tx: tx}, BatchSize: 3}

	stats, err := b.Insert(context.Background(), docketTable, nRows(7))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ins := insertExecs(tx)
	if len(ins) != 3 {
		t.Fatalf("insert statements = %d, want 3", len(ins))
	}
	wantArgs := []int{6, 6, 2} // 2 columns per row
	for i, e := range ins {
		if len(e.args) != wantArgs[i] {
			t.Errorf("batch %d: args = %d, want %d", i, len(e.args), wantArgs[i])
		}
	}
	if !strings.Contains(ins[0].sql, `ON CONFLICT ("id") DO NOTHING`) {
		t.Errorf("conflict clause missing: %s", ins[0].sql)
	}
	// Placeholders restart per statement; the final 1-row batch uses $1,$2.
	if !strings.Contains(ins[2].sql, "($1, $2)") || strings.Contains(ins[2].sql, "$3") {
		t.Errorf("final batch placeholders wrong: %s", ins[2].sql)
	}
	if !strings.Contains(ins[0].sql, "($5, $6)") || strings.Contains(ins[0].sql, "$7") {
		t.Errorf("full batch placeholders wrong: %s", ins[0].sql)
	}
	if !tx.committed || tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
	if stats.RowsRead != 7 || stats.RowsInserted != 7 || stats.RowsSkipped != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBatchedCapsBindParameters(t *testing.T) {
	t.Parallel()
	const ncols = 40
	table := schema.Table{Name: "wide", PrimaryKey: "c00"}
	cols := make([]string, ncols)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%02d", i)
		table.Columns = append(table.Columns, schema.Column{Name: cols[i], Kind: schema.KindText})
	}
	rows := make([][]any, 1700)
	for i := range rows {
		r := make([]any, ncols)
		for c := range r {
			r[c] = fmt.Sprintf("v%d", i)
		}
		rows[i] = r
	}
	tx := newFakeTx(0, 1700)
	b := &Batched{Conn: &fakeConn{tx: tx}, BatchSize: 5000}

	stats, err := b.Insert(context.Background(), table, &sliceSource{cols: cols, rows: rows})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if stats.RowsRead != 1700 {
		t.Errorf("RowsRead = %d, want 1700", stats.RowsRead)
	}
	// 65535/40 = 1638 rows per statement, so 1700 rows take two batches.
	ins := insertExecs(tx)
	if len(ins) != 2 {
		t.Fatalf("insert statements = %d, want 2", len(ins))
	}
	wantArgs := []int{1638 * ncols, 62 * ncols}
	for i, e := range ins {
		if len(e.args) != wantArgs[i] {
			t.Errorf("batch %d: args = %d, want %d", i, len(e.args), wantArgs[i])
		}
		if len(e.args) > 65535 {
			t.Errorf("batch %d: %d bind parameters exceeds the protocol limit", i, len(e.args))
		}
	}
}

func TestBatchedNetNewFromCountDiff(t *testing.T) {
	t.Parallel()
	tx := newFakeTx(100, 105)
	b := &Batched{Conn: &fakeConn{tx: tx}, BatchSize: 10}

	stats, err := b.Insert(context.Background(), docketTable, nRows(7))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if stats.RowsInserted != 5 || stats.RowsSkipped != 2 {
		t.Errorf("stats = %+v, want inserted 5 skipped 2", stats)
	}
}

func TestBatchedUpdatePolicySQL(t *testing.T) {
	t.Parallel()
	tx := newFakeTx(0, 2)
	b := &Batched{Conn: &fakeConn{tx: tx}, BatchSize: 10, OnConflict: ConflictUpdate}

	if _, err := b.Insert(context.Background(), docketTable, nRows(2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ins := insertExecs(tx)
	if len(ins) != 1 {
		t.Fatalf("insert statements = %d", len(ins))
	}
	want := `ON CONFLICT ("id") DO UPDATE SET "case_name" = EXCLUDED."case_name"`
	if !strings.Contains(ins[0].sql, want) {
		t.Errorf("sql = %s\nwant substring %s", ins[0].sql, want)
	}
}

func TestBatchedRollbackOnBatchError(t *testing.T) {
	t.Parallel()
	tx := newFakeTx(0, 0)
	tx.failInsert = 1
	b := &Batched{Conn: &fakeConn{tx: tx}, BatchSize: 3}

	_, err := b.Insert(context.Background(), docketTable, nRows(7))
	var be *InsertBatchError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *InsertBatchError", err)
	}
	if be.Batch != 1 {
		t.Errorf("Batch = %d, want 1", be.Batch)
	}
	if !tx.rolledBack || tx.committed {
		t.Errorf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestCopyStagingSequence(t *testing.T) {
	t.Parallel()
	tx := newFakeTx(0, 5)
	c := &Copy{Conn: &fakeConn{tx: tx}, BatchSize: 2}

	stats, err := c.Insert(context.Background(), docketTable, nRows(5))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if stats.RowsRead != 5 || stats.RowsInserted != 5 {
		t.Errorf("stats = %+v", stats)
	}

	if len(tx.execs) != 3 {
		t.Fatalf("execs = %d, want create/merge/drop", len(tx.execs))
	}
	if !strings.HasPrefix(tx.execs[0].sql, `CREATE TEMP TABLE "stage_search_docket" (LIKE "search_docket" INCLUDING DEFAULTS)`) {
		t.Errorf("create = %s", tx.execs[0].sql)
	}
	if !strings.Contains(tx.execs[1].sql, `SELECT "id", "case_name" FROM "stage_search_docket" ON CONFLICT ("id") DO NOTHING`) {
		t.Errorf("merge = %s", tx.execs[1].sql)
	}
	if tx.execs[2].sql != `DROP TABLE "stage_search_docket"` {
		t.Errorf("drop = %s", tx.execs[2].sql)
	}

	if len(tx.copies) != 3 { // 2+2+1
		t.Fatalf("copy calls = %d, want 3", len(tx.copies))
	}
	for i, cc := range tx.copies {
		if cc.table != "stage_search_docket" {
			t.Errorf("copy %d targets %s", i, cc.table)
		}
	}
	if !tx.committed {
		t.Error("not committed")
	}
}

func TestCopyRollbackOnCopyError(t *testing.T) {
	t.Parallel()
	tx := newFakeTx(0, 0)
	tx.failInsert = 0
	c := &Copy{Conn: &fakeConn{tx: tx}, BatchSize: 2}

	_, err := c.Insert(context.Background(), docketTable, nRows(5))
	var be *InsertBatchError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *InsertBatchError", err)
	}
	if !tx.rolledBack {
		t.Error("transaction not rolled back")
	}
}

func TestNewUnknownMethod(t *testing.T) {
	t.Parallel()
	if _, err := New("bulk", nil, 0, ConflictSkip); err == nil {
		t.Fatal("want error for unknown method")
	}
	ins, err := New(MethodCopy, &fakeConn{}, 0, ConflictSkip)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ins.(*Copy); !ok {
		t.Fatalf("New(copy) = %T", ins)
	}
}
