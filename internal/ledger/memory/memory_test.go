package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alexmclaughlin2005/caselaw/internal/ledger"
)

func seed(t *testing.T, s *Store, n int) []ledger.Chunk {
	t.Helper()
	chunks := make([]ledger.Chunk, n)
	for i := range chunks {
		chunks[i] = ledger.Chunk{
			TableName:     "search_docket",
			DatasetDate:   "2024-05-06",
			ChunkNumber:   i + 1,
			ChunkFilename: "search_docket-2024-05-06.chunk_0001.csv",
			StartRow:      int64(i)*1000 + 1,
			EndRow:        int64(i+1) * 1000,
			RowCount:      1000,
			Checksum:      "abcd",
		}
	}
	if err := s.Create(context.Background(), chunks); err != nil {
		t.Fatalf("Create: %v", err)
	}
	out, err := s.List(context.Background(), "search_docket", "2024-05-06")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return out
}

func TestCreateAssignsIDsAndDefaults(t *testing.T) {
	t.Parallel()
	s := New()
	chunks := seed(t, s, 3)

	for i, c := range chunks {
		if c.ID == 0 {
			t.Errorf("chunk %d has no ID", i)
		}
		if c.Status != ledger.StatusPending {
			t.Errorf("chunk %d status = %s", i, c.Status)
		}
		if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
			t.Errorf("chunk %d missing timestamps", i)
		}
	}
}

func TestCreateRejectsDuplicateChunkNumber(t *testing.T) {
	t.Parallel()
	s := New()
	seed(t, s, 2)

	err := s.Create(context.Background(), []ledger.Chunk{
		{TableName: "search_docket", DatasetDate: "2024-05-06", ChunkNumber: 2},
	})
	if err == nil {
		t.Fatal("duplicate chunk number accepted")
	}
	// A different date is a different job; same number is fine.
	err = s.Create(context.Background(), []ledger.Chunk{
		{TableName: "search_docket", DatasetDate: "2024-06-01", ChunkNumber: 2},
	})
	if err != nil {
		t.Fatalf("distinct job rejected: %v", err)
	}
}

func TestMarkTransitions(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	chunks := seed(t, s, 1)
	id := chunks[0].ID

	if err := s.MarkProcessing(ctx, id, "batched", 1); err != nil {
		t.Fatal(err)
	}
	got, _ := s.List(ctx, "search_docket", "2024-05-06")
	if got[0].Status != ledger.StatusProcessing || got[0].StartedAt == nil {
		t.Errorf("after MarkProcessing: %+v", got[0])
	}
	if got[0].ImportMethod != "batched" || got[0].RetryCount != 1 {
		t.Errorf("method/retry = %s/%d", got[0].ImportMethod, got[0].RetryCount)
	}

	if err := s.MarkFailed(ctx, id, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.List(ctx, "search_docket", "2024-05-06")
	if got[0].Status != ledger.StatusFailed || got[0].ErrorMessage != "boom" {
		t.Errorf("after MarkFailed: %+v", got[0])
	}

	if err := s.MarkCompleted(ctx, id, 900, 100, 90*time.Second); err != nil {
		t.Fatal(err)
	}
	got, _ = s.List(ctx, "search_docket", "2024-05-06")
	c := got[0]
	if c.Status != ledger.StatusCompleted || c.CompletedAt == nil {
		t.Errorf("after MarkCompleted: %+v", c)
	}
	if c.RowsImported != 900 || c.RowsSkipped != 100 || c.DurationSeconds != 90 {
		t.Errorf("counts = %+v", c)
	}
	if c.ErrorMessage != "" {
		t.Errorf("error message survived completion: %q", c.ErrorMessage)
	}

	if err := s.MarkProcessing(ctx, 9999, "batched", 0); err == nil {
		t.Error("MarkProcessing on unknown id succeeded")
	}
}

func TestResetClearsDerivedPreservesMetadata(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	chunks := seed(t, s, 2)

	s.MarkProcessing(ctx, chunks[0].ID, "copy", 2)
	s.MarkCompleted(ctx, chunks[0].ID, 1000, 0, time.Minute)
	s.MarkFailed(ctx, chunks[1].ID, "boom")

	n, err := s.Reset(ctx, "search_docket", "2024-05-06")
	if err != nil || n != 2 {
		t.Fatalf("Reset = %d, %v; want 2", n, err)
	}
	got, _ := s.List(ctx, "search_docket", "2024-05-06")
	for _, c := range got {
		if c.Status != ledger.StatusPending || c.StartedAt != nil || c.CompletedAt != nil {
			t.Errorf("chunk %d not reset: %+v", c.ChunkNumber, c)
		}
		if c.RowsImported != 0 || c.ErrorMessage != "" || c.RetryCount != 0 || c.ImportMethod != "" {
			t.Errorf("chunk %d derived fields remain: %+v", c.ChunkNumber, c)
		}
		if c.RowCount != 1000 || c.Checksum != "abcd" || c.ChunkFilename == "" {
			t.Errorf("chunk %d metadata lost: %+v", c.ChunkNumber, c)
		}
	}
}

func TestDeleteScopedToJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	seed(t, s, 3)
	if err := s.Create(ctx, []ledger.Chunk{
		{TableName: "people_db_person", DatasetDate: "2024-05-06", ChunkNumber: 1},
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.Delete(ctx, "search_docket", "2024-05-06")
	if err != nil || n != 3 {
		t.Fatalf("Delete = %d, %v; want 3", n, err)
	}
	other, _ := s.List(ctx, "people_db_person", "2024-05-06")
	if len(other) != 1 {
		t.Errorf("unrelated job affected: %d rows", len(other))
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	chunks := seed(t, s, 3)
	s.MarkProcessing(ctx, chunks[0].ID, "batched", 0)
	s.MarkCompleted(ctx, chunks[0].ID, 1000, 0, time.Second)

	sum, err := s.Summarize(ctx, "search_docket", "2024-05-06")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != "in_progress" || sum.Completed != 1 || sum.Pending != 2 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestFactoryRegistration(t *testing.T) {
	t.Parallel()
	st, err := ledger.New(context.Background(), ledger.Config{Kind: "memory"})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*Store); !ok {
		t.Fatalf("ledger.New(memory) = %T", st)
	}
}
