package fsio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExistsPresent(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "a.csv")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err := Exists(context.Background(), p, time.Second)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true, nil", ok, err)
	}
}

func TestExistsMissing(t *testing.T) {
	t.Parallel()
	ok, err := Exists(context.Background(), filepath.Join(t.TempDir(), "nope"), time.Second)
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v; want false, nil", ok, err)
	}
}

func TestOpenReadsFile(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "a.csv")
	if err := os.WriteFile(p, []byte("id,name\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(context.Background(), p, time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if f.Name() != p {
		t.Fatalf("Name = %q, want %q", f.Name(), p)
	}
}

func TestOpenMissing(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope"), time.Second)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestExistsTimeout(t *testing.T) {
	old := stat
	stat = func(string) (os.FileInfo, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, os.ErrNotExist
	}
	t.Cleanup(func() { stat = old })

	ok, err := Exists(context.Background(), "slow.csv", 10*time.Millisecond)
	if ok || !errors.Is(err, ErrCheckTimeout) {
		t.Fatalf("Exists = %v, %v; want false, ErrCheckTimeout", ok, err)
	}
}

func TestExistsCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Exists(ctx, "/", time.Minute)
	// The stat may win the race against an already-cancelled context; either
	// outcome is acceptable, but a reported error must be the context's.
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
