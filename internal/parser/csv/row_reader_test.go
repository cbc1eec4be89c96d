package csv

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/alexmclaughlin2005/caselaw/internal/config"
	"github.com/alexmclaughlin2005/caselaw/internal/schema"
)

var courtTable = schema.Table{
	Name:       "people_db_court",
	PrimaryKey: "id",
	Columns: []schema.Column{
		{Name: "id", Kind: schema.KindText},
		{Name: "full_name", Kind: schema.KindText},
		{Name: "in_use", Kind: schema.KindBoolean},
		{Name: "start_date", Kind: schema.KindDate},
		{Name: "position", Kind: schema.KindInteger},
	},
}

type skipRecorder struct {
	lines   []int
	reasons []Reason
}

func (s *skipRecorder) fn() SkipFunc {
	return func(line int, reason Reason, err error) {
		s.lines = append(s.lines, line)
		s.reasons = append(s.reasons, reason)
	}
}

func mustReader(t *testing.T, data string, table schema.Table, opt config.Options, onSkip SkipFunc) *RowReader {
	t.Helper()
	rr, err := NewRowReader(strings.NewReader(data), table, opt, onSkip)
	if err != nil {
		t.Fatalf("NewRowReader: %v", err)
	}
	return rr
}

func drain(t *testing.T, rr *RowReader) [][]any {
	t.Helper()
	var out [][]any
	for {
		vals, _, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		cp := make([]any, len(vals))
		copy(cp, vals)
		out = append(out, cp)
	}
}

func TestRowReaderBasic(t *testing.T) {
	t.Parallel()
	data := "id,full_name,in_use,start_date,position\n" +
		"scotus,Supreme Court,t,1789-09-24,1\n" +
		"ca1,First Circuit,f,,2\n"
	rr := mustReader(t, data, courtTable, nil, nil)

	rows := drain(t, rr)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][2] != true || rows[1][2] != false {
		t.Errorf("boolean coercion: got %v, %v", rows[0][2], rows[1][2])
	}
	if rows[1][3] != nil {
		t.Errorf("empty date should be nil, got %v", rows[1][3])
	}
	if rows[0][4] != int64(1) {
		t.Errorf("integer coercion: got %#v, want int64(1)", rows[0][4])
	}
}

func TestRowReaderColumnIntersection(t *testing.T) {
	t.Parallel()
	// File carries an extra column the table does not know; it is dropped.
	data := "id,full_name,legacy_code\nscotus,Supreme Court,XX\n"
	rr := mustReader(t, data, courtTable, nil, nil)

	want := []string{"id", "full_name"}
	got := rr.Columns()
	if len(got) != len(want) {
		t.Fatalf("Columns() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Columns() = %v, want %v", got, want)
		}
	}
	rows := drain(t, rr)
	if len(rows) != 1 || rows[0][1] != "Supreme Court" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestRowReaderSchemaMismatch(t *testing.T) {
	t.Parallel()
	_, err := NewRowReader(strings.NewReader("alpha,beta\n1,2\n"), courtTable, nil, nil)
	var sme *SchemaMismatchError
	if !errors.As(err, &sme) {
		t.Fatalf("err = %v, want *SchemaMismatchError", err)
	}
	if sme.Table != "people_db_court" {
		t.Errorf("Table = %q", sme.Table)
	}
}

func TestRowReaderMalformedRowsSkipped(t *testing.T) {
	t.Parallel()
	data := "id,full_name,in_use,start_date,position\n" +
		"scotus,Supreme Court,t,1789-09-24,1\n" +
		"short,row\n" +
		"ca1,First Circuit,f,1891-06-16,2\n"
	var rec skipRecorder
	rr := mustReader(t, data, courtTable, nil, rec.fn())

	rows := drain(t, rr)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	malformed, invalid := rr.Skipped()
	if malformed != 1 || invalid != 0 {
		t.Errorf("Skipped() = %d, %d; want 1, 0", malformed, invalid)
	}
	if len(rec.lines) != 1 || rec.lines[0] != 3 || rec.reasons[0] != ReasonMalformedRow {
		t.Errorf("skip callback: lines=%v reasons=%v", rec.lines, rec.reasons)
	}
}

func TestRowReaderLineNumbersSpanQuotedNewlines(t *testing.T) {
	t.Parallel()
	data := "id,full_name,in_use,start_date,position\n" +
		"scotus,\"Supreme Court of the\nUnited States\",t,1789-09-24,1\n" +
		"short,row\n" +
		"ca1,First Circuit,f,1891-06-16,2\n"
	var rec skipRecorder
	rr := mustReader(t, data, courtTable, nil, rec.fn())

	_, line, err := rr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if line != 2 {
		t.Errorf("first record line = %d, want 2", line)
	}
	// The quoted field spans lines 2-3, so the bad row sits on line 4, not
	// at record ordinal 3.
	_, line, err = rr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if line != 5 {
		t.Errorf("second good record line = %d, want 5", line)
	}
	if len(rec.lines) != 1 || rec.lines[0] != 4 {
		t.Errorf("skip lines = %v, want [4]", rec.lines)
	}
}

func TestRowReaderInvalidKeySkipped(t *testing.T) {
	t.Parallel()
	table := schema.Table{
		Name:       "search_docket",
		PrimaryKey: "id",
		Columns: []schema.Column{
			{Name: "id", Kind: schema.KindBigInt},
			{Name: "case_name", Kind: schema.KindText},
		},
	}
	data := "id,case_name\n1,Roe v. Wade\nnot-a-number,Bad Row\n2,Marbury v. Madison\n"
	var rec skipRecorder
	rr := mustReader(t, data, table, nil, rec.fn())

	rows := drain(t, rr)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	_, invalid := rr.Skipped()
	if invalid != 1 {
		t.Errorf("invalid key skips = %d, want 1", invalid)
	}
	if len(rec.reasons) != 1 || rec.reasons[0] != ReasonInvalidKey {
		t.Errorf("reasons = %v", rec.reasons)
	}
}

func TestRowReaderEmbeddedNewlines(t *testing.T) {
	t.Parallel()
	table := schema.Table{
		Name:       "search_opinioncluster",
		PrimaryKey: "id",
		Columns: []schema.Column{
			{Name: "id", Kind: schema.KindBigInt},
			{Name: "headmatter", Kind: schema.KindText},
		},
	}
	data := "id,headmatter\n" +
		"1,\"<p>Line one\nLine two</p>\"\n" +
		"2,plain\n"
	rr := mustReader(t, data, table, nil, nil)

	rows := drain(t, rr)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][1] != "<p>Line one\nLine two</p>" {
		t.Errorf("quoted field = %q", rows[0][1])
	}
}

func TestRowReaderBOMAndDateZero(t *testing.T) {
	t.Parallel()
	data := "\ufeffid,full_name,in_use,start_date,position\n" +
		"scotus,Supreme Court,t,0,1\n"
	rr := mustReader(t, data, courtTable, nil, nil)

	rows := drain(t, rr)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0][0] != "scotus" {
		t.Errorf("BOM not stripped from first header cell: id = %v", rows[0][0])
	}
	if rows[0][3] != nil {
		t.Errorf("date literal \"0\" should coerce to nil, got %v", rows[0][3])
	}
}

func TestRowReaderOversizedField(t *testing.T) {
	t.Parallel()
	opt := config.Options{"max_field_bytes": float64(16)}
	data := "id,full_name,in_use,start_date,position\n" +
		"scotus," + strings.Repeat("x", 64) + ",t,,1\n" +
		"ca1,ok,f,,2\n"
	var rec skipRecorder
	rr := mustReader(t, data, courtTable, opt, rec.fn())

	rows := drain(t, rr)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	malformed, _ := rr.Skipped()
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}
}

func TestRowReaderBadBooleanStoresNull(t *testing.T) {
	t.Parallel()
	data := "id,in_use\nscotus,yes\nca1,t\n"
	rr := mustReader(t, data, courtTable, nil, nil)

	rows := drain(t, rr)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][1] != nil {
		t.Errorf("bad boolean should be nil, got %v", rows[0][1])
	}
	if rows[1][1] != true {
		t.Errorf("'t' should be true, got %v", rows[1][1])
	}
}
