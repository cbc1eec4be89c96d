package importer

import (
	"context"
	"fmt"
	"log"

	"github.com/alexmclaughlin2005/caselaw/internal/chunk"
	"github.com/alexmclaughlin2005/caselaw/internal/ledger"
)

// Progress returns the job's ledger summary.
func (im *Importer) Progress(ctx context.Context, table, datasetDate string) (ledger.Summary, error) {
	return im.Store.Summarize(ctx, table, datasetDate)
}

// ResetChunks returns every chunk of the job to pending so the next import
// reprocesses them. Chunk files are untouched.
func (im *Importer) ResetChunks(ctx context.Context, table, datasetDate string) (int64, error) {
	n, err := im.Store.Reset(ctx, table, datasetDate)
	if err != nil {
		return 0, fmt.Errorf("importer: reset: %w", err)
	}
	log.Printf("importer: %s-%s: reset %d chunk(s) to pending", table, datasetDate, n)
	return n, nil
}

// DeleteChunks removes the job's ledger rows, and its chunk files when
// deleteFiles is set. Files go second: if the ledger delete fails, nothing
// is lost; if the file delete fails, the orphaned files are harmless and a
// re-split overwrites them. With deleteFiles false the files stay on disk
// for a later re-split or manual inspection.
func (im *Importer) DeleteChunks(ctx context.Context, table, datasetDate string, deleteFiles bool) (rows int64, files int, err error) {
	rows, err = im.Store.Delete(ctx, table, datasetDate)
	if err != nil {
		return 0, 0, fmt.Errorf("importer: delete ledger rows: %w", err)
	}
	if deleteFiles {
		files, err = chunk.DeleteFiles(im.ChunksDir, table, datasetDate)
		if err != nil {
			return rows, 0, fmt.Errorf("importer: delete chunk files: %w", err)
		}
	}
	log.Printf("importer: %s-%s: deleted %d ledger row(s) and %d chunk file(s)",
		table, datasetDate, rows, files)
	return rows, files, nil
}
