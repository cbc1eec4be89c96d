// Package fsio wraps filesystem checks that must not stall the pipeline.
// Chunk directories may live on network filesystems where a plain stat can
// hang for minutes; callers here get a bounded answer instead.
package fsio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrCheckTimeout reports that a filesystem check did not answer in time.
// The underlying stat keeps running in its goroutine; the caller moves on.
var ErrCheckTimeout = errors.New("fsio: filesystem check timed out")

// DefaultExistsTimeout bounds Exists when the caller passes no timeout.
const DefaultExistsTimeout = 10 * time.Second

// stat is swapped by tests that need a slow filesystem.
var stat = os.Stat

// Exists reports whether path exists, answering within timeout (or
// DefaultExistsTimeout when timeout <= 0). On timeout it returns false and
// ErrCheckTimeout; a missing file returns false and a nil error.
func Exists(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultExistsTimeout
	}
	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)
	statf := stat
	go func() {
		_, err := statf(path)
		switch {
		case err == nil:
			ch <- answer{ok: true}
		case errors.Is(err, os.ErrNotExist):
			ch <- answer{}
		default:
			ch <- answer{err: err}
		}
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case a := <-ch:
		return a.ok, a.err
	case <-ctx.Done():
		return false, ctx.Err()
	case <-t.C:
		return false, fmt.Errorf("%w: %s after %s", ErrCheckTimeout, path, timeout)
	}
}

// Open opens path for reading within timeout (or DefaultExistsTimeout when
// timeout <= 0). On timeout the abandoned open is closed when it eventually
// answers, so the descriptor does not leak.
func Open(ctx context.Context, path string, timeout time.Duration) (*os.File, error) {
	if timeout <= 0 {
		timeout = DefaultExistsTimeout
	}
	type answer struct {
		f   *os.File
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		f, err := os.Open(path)
		ch <- answer{f: f, err: err}
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	closeLate := func() {
		if a := <-ch; a.f != nil {
			a.f.Close()
		}
	}

	select {
	case a := <-ch:
		return a.f, a.err
	case <-ctx.Done():
		go closeLate()
		return nil, ctx.Err()
	case <-t.C:
		go closeLate()
		return nil, fmt.Errorf("%w: %s after %s", ErrCheckTimeout, path, timeout)
	}
}
