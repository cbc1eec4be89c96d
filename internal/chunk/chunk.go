// Package chunk splits one large CSV dump file into bounded chunk files and
// registers them with the progress ledger. Chunk files are write-once: after
// a successful split they are never modified, only read by importers and
// eventually deleted as a set.
package chunk

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/xxh3"
)

// ErrSourceNotFound reports that the CSV file to split does not exist.
var ErrSourceNotFound = errors.New("chunk: source file not found")

// ErrChunksExist reports that the ledger already has rows for the job. The
// caller must reset or delete the previous run before splitting again;
// silently re-splitting would strand the old progress records.
var ErrChunksExist = errors.New("chunk: ledger rows already exist for this table and date")

// ErrChecksumMismatch reports that a chunk file's content no longer matches
// the checksum recorded at split time.
var ErrChecksumMismatch = errors.New("chunk: file checksum mismatch")

// Dir returns the directory holding a job's chunk files.
func Dir(chunksDir, table, datasetDate string) string {
	return filepath.Join(chunksDir, fmt.Sprintf("%s-%s", table, datasetDate))
}

// FileName returns the bare chunk file name for chunk number n (1-based).
func FileName(table, datasetDate string, n int) string {
	return fmt.Sprintf("%s-%s.chunk_%04d.csv", table, datasetDate, n)
}

// Path returns the full path of chunk number n under chunksDir.
func Path(chunksDir, table, datasetDate string, n int) string {
	return filepath.Join(Dir(chunksDir, table, datasetDate), FileName(table, datasetDate, n))
}

// Checksum returns the lowercase hex XXH3-128 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("chunk: checksum %s: %w", path, err)
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the file's checksum and compares it against want. An
// empty want (rows created before checksums were recorded) passes.
func Verify(path, want string) error {
	if want == "" {
		return nil
	}
	got, err := Checksum(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s: have %s, want %s", ErrChecksumMismatch, path, got, want)
	}
	return nil
}

// DeleteFiles removes a job's chunk directory and everything in it. It
// returns how many chunk files were removed; a missing directory counts as
// zero, not an error.
func DeleteFiles(chunksDir, table, datasetDate string) (int, error) {
	dir := Dir(chunksDir, table, datasetDate)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".csv" {
			n++
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, err
	}
	return n, nil
}
