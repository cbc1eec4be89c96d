package importer

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/alexmclaughlin2005/caselaw/internal/chunk"
	"github.com/alexmclaughlin2005/caselaw/internal/config"
	parsercsv "github.com/alexmclaughlin2005/caselaw/internal/parser/csv"
	"github.com/alexmclaughlin2005/caselaw/internal/schema"
	"github.com/alexmclaughlin2005/caselaw/internal/sink"
)

// RangeRequest names one parallel range import over an un-split source file.
type RangeRequest struct {
	Table      string
	SourcePath string
	Workers    int
	Method     string
	BatchSize  int
	OnConflict sink.ConflictPolicy
	Parser     config.Options
}

// RangeResult aggregates a parallel run.
type RangeResult struct {
	TableName         string        `json:"table_name"`
	Workers           int           `json:"workers"`
	TotalRows         int64         `json:"total_rows"`
	TotalRowsImported int64         `json:"total_rows_imported"`
	TotalRowsSkipped  int64         `json:"total_rows_skipped"`
	Duration          time.Duration `json:"duration"`
}

// ImportRanges imports the source file with Workers concurrent transactions
// over disjoint row ranges. There are no ledger rows and no resume: a failed
// worker fails the whole run, and a crash must be re-run from the start.
// This trades the chunked path's durability for throughput on first loads
// into an empty table.
//
// Each worker re-reads the file from the top to find its range start; with W
// workers that is W scans of the source, which is still cheap next to the
// insert work. Transactions are independent, so the conflict policy keeps
// overlap with pre-existing rows harmless.
func (im *Importer) ImportRanges(ctx context.Context, req RangeRequest) (RangeResult, error) {
	start := time.Now()
	res := RangeResult{TableName: req.Table}

	table, err := schema.Lookup(req.Table)
	if err != nil {
		return res, err
	}
	workers := req.Workers
	if workers < 1 {
		workers = 1
	}
	res.Workers = workers

	newInserter := im.NewInserter
	if newInserter == nil {
		newInserter = sink.New
	}

	total, err := countDataRows(req.SourcePath)
	if err != nil {
		return res, err
	}
	res.TotalRows = total
	if total == 0 {
		return res, fmt.Errorf("importer: %s has no data rows", req.SourcePath)
	}
	if int64(workers) > total {
		workers = int(total)
		res.Workers = workers
	}

	log.Printf("importer: %s: parallel import of %s rows across %d worker(s)",
		req.Table, humanize.Comma(total), workers)

	per := total / int64(workers)
	var imported, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := int64(w)*per + 1
		hi := lo + per - 1
		if w == workers-1 {
			hi = total
		}
		g.Go(func() error {
			ins, err := newInserter(req.Method, im.Conn, req.BatchSize, req.OnConflict)
			if err != nil {
				return err
			}
			stats, err := im.importRange(gctx, table, ins, req, lo, hi)
			if err != nil {
				return fmt.Errorf("rows %d-%d: %w", lo, hi, err)
			}
			imported.Add(stats.RowsInserted)
			skipped.Add(stats.RowsSkipped)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.TotalRowsImported = imported.Load()
	res.TotalRowsSkipped = skipped.Load()
	res.Duration = time.Since(start)
	log.Printf("importer: %s: parallel import done, %s rows imported in %s",
		req.Table, humanize.Comma(res.TotalRowsImported), res.Duration.Round(time.Millisecond))
	return res, nil
}

// importRange runs one worker's transaction over data rows [lo, hi].
func (im *Importer) importRange(ctx context.Context, table schema.Table, ins sink.Inserter, req RangeRequest, lo, hi int64) (sink.Stats, error) {
	f, err := os.Open(req.SourcePath)
	if err != nil {
		return sink.Stats{}, err
	}
	defer f.Close()

	rr, err := parsercsv.NewRowReader(bufio.NewReaderSize(f, 1<<20), table, req.Parser, nil)
	if err != nil {
		return sink.Stats{}, err
	}
	return ins.Insert(ctx, table, &rangeSource{src: rr, lo: lo, hi: hi})
}

// rangeSource restricts a RowSource to valid-row ordinals [lo, hi], 1-based.
type rangeSource struct {
	src interface {
		Next() ([]any, int, error)
		Columns() []string
	}
	lo, hi int64
	n      int64
}

func (r *rangeSource) Columns() []string { return r.src.Columns() }

func (r *rangeSource) Next() ([]any, int, error) {
	for {
		if r.n >= r.hi {
			return nil, 0, io.EOF
		}
		vals, line, err := r.src.Next()
		if err != nil {
			return nil, line, err
		}
		r.n++
		if r.n < r.lo {
			continue
		}
		return vals, line, nil
	}
}

// countDataRows counts CSV records after the header, respecting quoting.
func countDataRows(path string) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", chunk.ErrSourceNotFound, path)
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	cr := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var n int64 = -1 // header
	for {
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("importer: count rows in %s: %w", path, err)
		}
		n++
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
