// Package config defines the canonical, JSON-serializable configuration model
// for the caselaw import tooling. It is intentionally small, explicit, and
// dependency-free so that configs can be loaded from disk (or other sources)
// and passed through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: Changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: Field names in Go mirror the JSON structure used in config
//     files under configs/*.json.
//  3. Minimalism: No third-party config libraries; decoding is performed by
//     the standard library, with a light Options helper for typed access.
//
// Example (trimmed):
//
//	{
//	  "data_dir":   "/var/caselaw/data",
//	  "chunks_dir": "/var/caselaw/data/chunks",
//	  "target_db":  { "dsn": "postgresql://..." },
//	  "ledger":     { "kind": "postgres", "dsn": "postgresql://..." },
//	  "import":     { "batch_size": 5000, "max_retries": 3 },
//	  "parser":     { "options": { "max_field_bytes": 1048576 } }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Chunk size bounds, in rows. Values outside this range either produce a
// single pathological chunk or an excessive chunk count; Validate rejects
// them.
const (
	MinChunkSizeRows = 10_000
	MaxChunkSizeRows = 10_000_000
)

// Config is the top-level object decoded from a config file.
type Config struct {
	// DataDir holds the source CSV dumps ({table}-{date}.csv).
	DataDir string `json:"data_dir"`

	// ChunksDir holds per-job chunk directories. Defaults to
	// DataDir/chunks when empty.
	ChunksDir string `json:"chunks_dir"`

	// TargetDB is the database the rows are imported into.
	TargetDB DBConfig `json:"target_db"`

	// Ledger configures the chunk-progress store.
	Ledger LedgerConfig `json:"ledger"`

	// Import tunes the chunk import orchestrator.
	Import ImportConfig `json:"import"`

	// Parser carries Row Parser options (see parser/csv).
	Parser ParserConfig `json:"parser"`
}

// DBConfig configures the target database connection.
type DBConfig struct {
	// DSN is the connection string for pgx/pgxpool (e.g., postgresql://...).
	DSN string `json:"dsn"`
}

// LedgerConfig selects and configures the progress-ledger backend.
type LedgerConfig struct {
	// Kind selects the store implementation: "postgres", "sqlite", "memory".
	Kind string `json:"kind"`

	// DSN is the backend connection string. For sqlite this is a file path
	// or file: URI; unused by the memory store.
	DSN string `json:"dsn"`
}

// ImportConfig tunes chunking and import behavior.
type ImportConfig struct {
	// ChunkSizeRows is the default rows-per-chunk for splitting.
	ChunkSizeRows int `json:"chunk_size_rows"`

	// BatchSize is the rows-per-INSERT batch for the batched inserter.
	BatchSize int `json:"batch_size"`

	// MaxRetries is the per-chunk retry budget.
	MaxRetries int `json:"max_retries"`

	// Method selects the bulk-insert strategy: "batched" or "copy".
	Method string `json:"method"`

	// OnConflict selects the primary-key conflict policy: "skip" (default)
	// or "update".
	OnConflict string `json:"on_conflict"`

	// Workers bounds the background task pool used for split/import runs
	// submitted by non-blocking callers.
	Workers int `json:"workers"`

	// ExistsTimeoutSeconds bounds file-existence checks against slow
	// storage volumes. Zero means the fsio default.
	ExistsTimeoutSeconds int `json:"exists_timeout_seconds"`
}

// ParserConfig carries the free-form Row Parser options.
type ParserConfig struct {
	// Options is interpreted by parser/csv. Typical keys:
	//   comma (string), trim_space (bool), lazy_quotes (bool),
	//   max_field_bytes (int)
	Options Options `json:"options"`
}

// Load reads and decodes a Config from path, applying defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var c Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.ApplyDefaults()
	return c, nil
}

// ApplyDefaults fills zero-valued fields with working defaults. It is called
// by Load and may be called directly on hand-built configs (tests, CLI).
func (c *Config) ApplyDefaults() {
	if c.ChunksDir == "" && c.DataDir != "" {
		c.ChunksDir = c.DataDir + "/chunks"
	}
	if c.Ledger.Kind == "" {
		c.Ledger.Kind = "postgres"
	}
	if c.Import.ChunkSizeRows == 0 {
		c.Import.ChunkSizeRows = 1_000_000
	}
	if c.Import.BatchSize == 0 {
		c.Import.BatchSize = 5_000
	}
	if c.Import.MaxRetries == 0 {
		c.Import.MaxRetries = 3
	}
	if c.Import.Method == "" {
		c.Import.Method = "batched"
	}
	if c.Import.OnConflict == "" {
		c.Import.OnConflict = "skip"
	}
	if c.Import.Workers == 0 {
		c.Import.Workers = 2
	}
	if c.Parser.Options == nil {
		c.Parser.Options = Options{}
	}
}

// Options is a small helper to fetch typed values from arbitrary JSON maps
// without introducing third-party configuration libraries. It purposefully
// performs only minimal type coercion and returns provided defaults when a
// key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
// If the value is neither float64 nor int, def is returned.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. This is useful for single-character parser settings such
// as a CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null
// "options" object in JSON decodes to a non-nil, empty Options map. This
// simplifies call sites by removing the need to nil-check Options values.
func (o *Options) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Options{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m == nil {
		m = map[string]any{}
	}
	*o = m
	return nil
}
