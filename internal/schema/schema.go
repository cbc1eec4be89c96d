// Package schema describes target-table shapes for the import pipeline.
//
// The import core treats tables as opaque sinks: an ordered column list, a
// kind per column (used for CSV value coercion), and the primary-key column
// (used for conflict-skip inserts and row validation). Creating or migrating
// the tables themselves is owned by the API application's migration layer,
// not by this module.
package schema

import "fmt"

// Kind classifies a column for CSV value coercion.
type Kind string

const (
	KindText      Kind = "text"
	KindInteger   Kind = "integer"
	KindBigInt    Kind = "bigint"
	KindFloat     Kind = "float"
	KindBoolean   Kind = "boolean"
	KindDate      Kind = "date"
	KindTimestamp Kind = "timestamp"
)

// Column is one target-table column.
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Table describes a target table: its ordered columns and primary key.
type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey string   `json:"primary_key"`
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// KindOf returns the kind of the named column, or KindText when unknown.
func (t Table) KindOf(name string) Kind {
	for _, c := range t.Columns {
		if c.Name == name {
			return c.Kind
		}
	}
	return KindText
}

// Lookup returns the registered table description for name.
func Lookup(name string) (Table, error) {
	t, ok := registry[name]
	if !ok {
		return Table{}, fmt.Errorf("schema: unknown table %q", name)
	}
	return t, nil
}

// Register adds (or replaces) a table description. Exposed so operators can
// load additional table shapes from config without rebuilding.
func Register(t Table) { registry[t.Name] = t }

// Names returns the registered table names. Order is unspecified.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}

// registry holds the CourtListener dump tables this system imports, in the
// shape the dumps actually carry. Dependency order for whole-dataset imports
// is people_db_* first, then search_*.
var registry = map[string]Table{}

func init() {
	for _, t := range []Table{
		{
			Name:       "people_db_court",
			PrimaryKey: "id",
			Columns: []Column{
				{"id", KindText},
				{"date_modified", KindTimestamp},
				{"full_name", KindText},
				{"short_name", KindText},
				{"citation_string", KindText},
				{"jurisdiction", KindText},
				{"start_date", KindDate},
				{"end_date", KindDate},
				{"in_use", KindBoolean},
				{"has_opinion_scraper", KindBoolean},
				{"position", KindFloat},
			},
		},
		{
			Name:       "people_db_person",
			PrimaryKey: "id",
			Columns: []Column{
				{"id", KindInteger},
				{"date_created", KindTimestamp},
				{"date_modified", KindTimestamp},
				{"name_first", KindText},
				{"name_middle", KindText},
				{"name_last", KindText},
				{"name_suffix", KindText},
				{"date_dob", KindDate},
				{"date_dod", KindDate},
				{"gender", KindText},
				{"fjc_id", KindInteger},
				{"slug", KindText},
			},
		},
		{
			Name:       "search_docket",
			PrimaryKey: "id",
			Columns: []Column{
				{"id", KindInteger},
				{"date_created", KindTimestamp},
				{"date_modified", KindTimestamp},
				{"court_id", KindText},
				{"assigned_to_id", KindInteger},
				{"referred_to_id", KindInteger},
				{"appeal_from_id", KindText},
				{"docket_number", KindText},
				{"case_name", KindText},
				{"case_name_short", KindText},
				{"case_name_full", KindText},
				{"cause", KindText},
				{"nature_of_suit", KindText},
				{"jury_demand", KindText},
				{"jurisdiction_type", KindText},
				{"date_filed", KindDate},
				{"date_terminated", KindDate},
				{"date_argued", KindDate},
				{"date_reargued", KindDate},
				{"date_reargument_denied", KindDate},
				{"date_cert_granted", KindDate},
				{"date_cert_denied", KindDate},
				{"date_blocked", KindDate},
				{"date_last_index", KindTimestamp},
				{"date_last_filing", KindDate},
				{"source", KindInteger},
				{"pacer_case_id", KindText},
				{"slug", KindText},
				{"blocked", KindBoolean},
				{"ia_needs_upload", KindBoolean},
				{"ia_upload_failure_count", KindInteger},
				{"ia_date_first_change", KindTimestamp},
				{"view_count", KindInteger},
				{"docket_number_core", KindText},
			},
		},
		{
			Name:       "search_opinioncluster",
			PrimaryKey: "id",
			Columns: []Column{
				{"id", KindInteger},
				{"docket_id", KindInteger},
				{"case_name", KindText},
				{"case_name_short", KindText},
				{"case_name_full", KindText},
				{"date_created", KindDate},
				{"date_modified", KindDate},
				{"date_filed", KindDate},
				{"date_filed_is_approximate", KindBoolean},
				{"date_argued", KindDate},
				{"date_reargued", KindDate},
				{"date_reargument_denied", KindDate},
				{"date_blocked", KindDate},
				{"judges", KindText},
				{"attorneys", KindText},
				{"nature_of_suit", KindText},
				{"posture", KindText},
				{"syllabus", KindText},
				{"headnotes", KindText},
				{"summary", KindText},
				{"headmatter", KindText},
				{"procedural_history", KindText},
				{"disposition", KindText},
				{"history", KindText},
				{"other_dates", KindText},
				{"source", KindText},
				{"scdb_id", KindText},
				{"precedential_status", KindText},
				{"blocked", KindBoolean},
				{"citation_count", KindInteger},
				{"slug", KindText},
			},
		},
		{
			Name:       "search_opinionscited",
			PrimaryKey: "id",
			Columns: []Column{
				{"id", KindInteger},
				{"citing_opinion_id", KindInteger},
				{"cited_opinion_id", KindInteger},
				{"depth", KindInteger},
				{"score", KindFloat},
			},
		},
		{
			Name:       "search_parenthetical",
			PrimaryKey: "id",
			Columns: []Column{
				{"id", KindInteger},
				{"described_opinion_id", KindInteger},
				{"describing_opinion_id", KindInteger},
				{"text", KindText},
				{"score", KindFloat},
				{"group_id", KindBigInt},
			},
		},
	} {
		Register(t)
	}
}
