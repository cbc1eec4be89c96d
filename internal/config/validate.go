package config

// This file adds a lightweight linter/validator for Config values. It
// performs static checks over a decoded Config and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Config.
//
// Path is a dotted path into the config (e.g. "ledger.kind",
// "import.chunk_size_rows"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasError reports whether any issue in the slice is of error severity.
func HasError(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs static validation of a Config.
//
// It does not mutate the config. Callers may decide whether to treat
// warnings as fatal or not.
func Validate(c Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.DataDir) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "data_dir",
			Message:  "data_dir must not be empty; it is where source CSV dumps live",
		})
	}
	if strings.TrimSpace(c.ChunksDir) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "chunks_dir",
			Message:  "chunks_dir must not be empty (defaulted from data_dir when that is set)",
		})
	}

	issues = append(issues, validateLedger(c.Ledger)...)
	issues = append(issues, validateImport(c.Import)...)

	if c.TargetDB.DSN == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "target_db.dsn",
			Message:  "target_db.dsn is empty; only split/progress/reset/delete operations will work",
		})
	}

	return issues
}

func validateLedger(l LedgerConfig) []Issue {
	var issues []Issue

	switch l.Kind {
	case "postgres", "sqlite", "memory":
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ledger.kind",
			Message:  "ledger.kind must not be empty",
		})
	default:
		// Unknown kinds are warnings for forward compatibility; the store
		// registry rejects them at open time with the registered kinds listed.
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "ledger.kind",
			Message:  fmt.Sprintf("unknown ledger kind %q", l.Kind),
		})
	}

	if (l.Kind == "postgres" || l.Kind == "sqlite") && l.DSN == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "ledger.dsn",
			Message:  fmt.Sprintf("ledger.dsn is required for kind %q", l.Kind),
		})
	}

	return issues
}

func validateImport(im ImportConfig) []Issue {
	var issues []Issue

	if im.ChunkSizeRows < MinChunkSizeRows || im.ChunkSizeRows > MaxChunkSizeRows {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "import.chunk_size_rows",
			Message: fmt.Sprintf("chunk_size_rows %d outside allowed range [%d, %d]",
				im.ChunkSizeRows, MinChunkSizeRows, MaxChunkSizeRows),
		})
	}
	if im.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "import.batch_size",
			Message:  "batch_size must be > 0",
		})
	}
	if im.MaxRetries <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "import.max_retries",
			Message:  "max_retries must be >= 1 (the first attempt counts)",
		})
	}

	switch im.Method {
	case "batched", "copy":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "import.method",
			Message:  fmt.Sprintf("unknown import method %q (want \"batched\" or \"copy\")", im.Method),
		})
	}

	switch im.OnConflict {
	case "skip", "update":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "import.on_conflict",
			Message:  fmt.Sprintf("unknown conflict policy %q (want \"skip\" or \"update\")", im.OnConflict),
		})
	}

	if im.Workers < 1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "import.workers",
			Message:  "workers < 1; background submission will run inline",
		})
	}

	return issues
}
