// Package memory implements an in-process ledger.Store backed by a
// mutex-guarded map. It exists for tests and dry runs; progress does not
// survive a restart, so production imports should use the postgres or sqlite
// backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexmclaughlin2005/caselaw/internal/ledger"
)

// Store is an in-memory ledger.Store.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*ledger.Chunk
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{nextID: 1, byID: map[int64]*ledger.Chunk{}}
}

func init() {
	ledger.Register("memory", func(ctx context.Context, cfg ledger.Config) (ledger.Store, error) {
		return New(), nil
	})
}

func (s *Store) Create(ctx context.Context, chunks []ledger.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		for _, existing := range s.byID {
			if existing.TableName == c.TableName &&
				existing.DatasetDate == c.DatasetDate &&
				existing.ChunkNumber == c.ChunkNumber {
				return fmt.Errorf("memory: duplicate chunk %d for %s-%s",
					c.ChunkNumber, c.TableName, c.DatasetDate)
			}
		}
		now := time.Now().UTC()
		cc := c
		cc.ID = s.nextID
		cc.Status = ledger.StatusPending
		cc.CreatedAt = now
		cc.UpdatedAt = now
		s.byID[cc.ID] = &cc
		s.nextID++
	}
	return nil
}

func (s *Store) List(ctx context.Context, table, datasetDate string) ([]ledger.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Chunk
	for _, c := range s.byID {
		if c.TableName == table && c.DatasetDate == datasetDate {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out, nil
}

func (s *Store) Summarize(ctx context.Context, table, datasetDate string) (ledger.Summary, error) {
	chunks, err := s.List(ctx, table, datasetDate)
	if err != nil {
		return ledger.Summary{}, err
	}
	return ledger.Summarize(table, datasetDate, chunks), nil
}

func (s *Store) MarkProcessing(ctx context.Context, id int64, method string, retry int) error {
	return s.update(id, func(c *ledger.Chunk) {
		now := time.Now().UTC()
		c.Status = ledger.StatusProcessing
		c.StartedAt = &now
		c.ImportMethod = method
		c.RetryCount = retry
	})
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, rowsImported, rowsSkipped int64, dur time.Duration) error {
	return s.update(id, func(c *ledger.Chunk) {
		now := time.Now().UTC()
		c.Status = ledger.StatusCompleted
		c.CompletedAt = &now
		c.DurationSeconds = int64(dur.Seconds())
		c.RowsImported = rowsImported
		c.RowsSkipped = rowsSkipped
		c.ErrorMessage = ""
	})
}

func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return s.update(id, func(c *ledger.Chunk) {
		now := time.Now().UTC()
		c.Status = ledger.StatusFailed
		c.CompletedAt = &now
		c.ErrorMessage = ledger.TruncateError(errMsg)
	})
}

func (s *Store) Reset(ctx context.Context, table, datasetDate string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.byID {
		if c.TableName != table || c.DatasetDate != datasetDate {
			continue
		}
		c.Status = ledger.StatusPending
		c.StartedAt = nil
		c.CompletedAt = nil
		c.DurationSeconds = 0
		c.RowsImported = 0
		c.RowsSkipped = 0
		c.ErrorMessage = ""
		c.RetryCount = 0
		c.ImportMethod = ""
		c.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, table, datasetDate string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.byID {
		if c.TableName == table && c.DatasetDate == datasetDate {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) update(id int64, fn func(*ledger.Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("memory: chunk id %d not found", id)
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}
