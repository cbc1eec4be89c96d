package chunk

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/alexmclaughlin2005/caselaw/internal/config"
	"github.com/alexmclaughlin2005/caselaw/internal/ledger"
)

// SplitRequest names one split job.
type SplitRequest struct {
	SourcePath    string
	Table         string
	DatasetDate   string // YYYY-MM-DD, taken from the dump's export date
	ChunkSizeRows int    // data rows per chunk; clamped to the configured range
}

// Splitter turns a source CSV into chunk files plus pending ledger rows.
type Splitter struct {
	Store     ledger.Store
	ChunksDir string
}

// Split streams the source file once, writing complete CSV records (header
// included) into numbered chunk files and creating one pending ledger row per
// file. Records are split on logical row boundaries, so quoted fields with
// embedded newlines never straddle two chunks.
//
// If the ledger already has rows for (table, date) it returns ErrChunksExist
// without touching the filesystem. A crash mid-split can leave orphaned chunk
// files with no ledger rows; re-running after a reset overwrites them.
func (s *Splitter) Split(ctx context.Context, req SplitRequest) ([]ledger.Chunk, error) {
	size := req.ChunkSizeRows
	if size < config.MinChunkSizeRows {
		size = config.MinChunkSizeRows
	}
	if size > config.MaxChunkSizeRows {
		size = config.MaxChunkSizeRows
	}

	existing, err := s.Store.List(ctx, req.Table, req.DatasetDate)
	if err != nil {
		return nil, fmt.Errorf("chunk: list ledger rows: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %s-%s has %d rows", ErrChunksExist, req.Table, req.DatasetDate, len(existing))
	}

	src, err := os.Open(req.SourcePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, req.SourcePath)
	}
	if err != nil {
		return nil, err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, err
	}
	dir := Dir(s.ChunksDir, req.Table, req.DatasetDate)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := checkFreeSpace(dir, info.Size()); err != nil {
		return nil, err
	}

	cr := csv.NewReader(bufio.NewReaderSize(src, 1<<20))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("chunk: read header of %s: %w", req.SourcePath, err)
	}
	header = append([]string(nil), header...)

	log.Printf("chunk: splitting %s (%s) into chunks of %s rows",
		req.SourcePath, humanize.Bytes(uint64(info.Size())), humanize.Comma(int64(size)))

	start := time.Now()
	w := &chunkWriter{dir: dir, table: req.Table, date: req.DatasetDate, header: header}

	var chunks []ledger.Chunk
	row := int64(0) // 1-based over data rows
	for {
		if err := ctx.Err(); err != nil {
			w.abort()
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			w.abort()
			return nil, fmt.Errorf("chunk: read %s: %w", req.SourcePath, err)
		}
		row++
		if err := w.write(rec); err != nil {
			w.abort()
			return nil, err
		}
		if w.rows == int64(size) {
			c, err := w.flush(row)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, c)
		}
	}
	if w.rows > 0 {
		c, err := w.flush(row)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunk: %s has a header but no data rows", req.SourcePath)
	}

	if err := s.Store.Create(ctx, chunks); err != nil {
		return nil, fmt.Errorf("chunk: create ledger rows: %w", err)
	}
	// Re-read so callers get store-assigned IDs and timestamps.
	chunks, err = s.Store.List(ctx, req.Table, req.DatasetDate)
	if err != nil {
		return nil, fmt.Errorf("chunk: list created rows: %w", err)
	}

	log.Printf("chunk: %s-%s: wrote %d chunk(s), %s rows in %s",
		req.Table, req.DatasetDate, len(chunks), humanize.Comma(row), time.Since(start).Round(time.Millisecond))
	return chunks, nil
}

// chunkWriter accumulates records into the current chunk file.
type chunkWriter struct {
	dir    string
	table  string
	date   string
	header []string

	n    int // chunk number of the open file, 1-based
	f    *os.File
	bw   *bufio.Writer
	cw   *csv.Writer
	rows int64
}

func (w *chunkWriter) write(rec []string) error {
	if w.f == nil {
		w.n++
		f, err := os.Create(filepath.Join(w.dir, FileName(w.table, w.date, w.n)))
		if err != nil {
			return err
		}
		w.f = f
		w.bw = bufio.NewWriterSize(f, 1<<20)
		w.cw = csv.NewWriter(w.bw)
		if err := w.cw.Write(w.header); err != nil {
			return err
		}
	}
	w.rows++
	return w.cw.Write(rec)
}

// flush closes the open chunk file and returns its pending ledger row.
// endRow is the source-relative ordinal of the last row written.
func (w *chunkWriter) flush(endRow int64) (ledger.Chunk, error) {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		w.abort()
		return ledger.Chunk{}, err
	}
	if err := w.bw.Flush(); err != nil {
		w.abort()
		return ledger.Chunk{}, err
	}
	name := w.f.Name()
	if err := w.f.Close(); err != nil {
		return ledger.Chunk{}, err
	}
	w.f, w.bw, w.cw = nil, nil, nil

	sum, err := Checksum(name)
	if err != nil {
		return ledger.Chunk{}, err
	}
	c := ledger.Chunk{
		TableName:     w.table,
		DatasetDate:   w.date,
		ChunkNumber:   w.n,
		ChunkFilename: FileName(w.table, w.date, w.n),
		StartRow:      endRow - w.rows + 1,
		EndRow:        endRow,
		RowCount:      w.rows,
		Checksum:      sum,
		Status:        ledger.StatusPending,
	}
	w.rows = 0
	return c, nil
}

func (w *chunkWriter) abort() {
	if w.f != nil {
		w.f.Close()
		os.Remove(w.f.Name())
		w.f = nil
	}
}
