package schema

import (
	"slices"
	"testing"
)

func TestLookupKnownTable(t *testing.T) {
	t.Parallel()
	tab, err := Lookup("search_docket")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if tab.PrimaryKey != "id" {
		t.Errorf("PrimaryKey = %q", tab.PrimaryKey)
	}
	names := tab.ColumnNames()
	if names[0] != "id" || !slices.Contains(names, "case_name") {
		t.Errorf("ColumnNames = %v", names)
	}
}

func TestLookupUnknownTable(t *testing.T) {
	t.Parallel()
	if _, err := Lookup("search_unknown"); err == nil {
		t.Fatal("want error")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	tab, err := Lookup("search_docket")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		column string
		want   Kind
	}{
		{"id", KindInteger},
		{"blocked", KindBoolean},
		{"date_filed", KindDate},
		{"date_created", KindTimestamp},
		{"case_name", KindText},
		{"no_such_column", KindText},
	}
	for _, tc := range tests {
		if got := tab.KindOf(tc.column); got != tc.want {
			t.Errorf("KindOf(%q) = %q, want %q", tc.column, got, tc.want)
		}
	}
}

func TestRegisterAndNames(t *testing.T) {
	Register(Table{
		Name:       "search_citation_test",
		PrimaryKey: "id",
		Columns:    []Column{{"id", KindInteger}, {"cite", KindText}},
	})
	tab, err := Lookup("search_citation_test")
	if err != nil {
		t.Fatalf("Lookup after Register: %v", err)
	}
	if tab.KindOf("cite") != KindText {
		t.Errorf("KindOf(cite) = %q", tab.KindOf("cite"))
	}
	if !slices.Contains(Names(), "search_citation_test") {
		t.Errorf("Names() missing registered table")
	}
}
