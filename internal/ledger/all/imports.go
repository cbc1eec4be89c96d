// Package all wires all built-in ledger backends into the ledger factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete store backend to run,
// which in turn register their factories with the ledger package.
//
// In other words, importing this package makes the following ledger kinds
// available at runtime:
//
//   - "postgres" (internal/ledger/postgres)
//   - "sqlite"   (internal/ledger/sqlite)
//   - "memory"   (internal/ledger/memory)
//
// Typical usage (in cmd/caselaw-import/main.go or a similar wiring layer):
//
//	import (
//	    _ "github.com/alexmclaughlin2005/caselaw/internal/ledger/all"
//
//	    "github.com/alexmclaughlin2005/caselaw/internal/ledger"
//	)
//
//	store, err := ledger.New(ctx, ledger.Config{Kind: cfg.Ledger.Kind, DSN: cfg.Ledger.DSN})
package all

import (
	_ "github.com/alexmclaughlin2005/caselaw/internal/ledger/memory"
	_ "github.com/alexmclaughlin2005/caselaw/internal/ledger/postgres"
	_ "github.com/alexmclaughlin2005/caselaw/internal/ledger/sqlite"
)
