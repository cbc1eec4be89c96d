// Package tasks runs named background jobs with a bounded worker pool.
// Imports block for minutes to hours, so callers submit them here and poll
// the progress ledger for detail; the task handle only answers whether the
// run is still alive and how it ended.
package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Task is one submitted job. Fields are immutable after creation; outcome
// is published through the Done channel.
type Task struct {
	Name        string
	SubmittedAt time.Time

	mu         sync.Mutex
	startedAt  time.Time
	finishedAt time.Time
	err        error
	done       chan struct{}
}

// Done is closed when the task finishes, success or not.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's outcome. It is only meaningful after Done is
// closed; before then it returns nil.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Finished reports whether the task has completed.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// StartedAt returns when the task began executing (zero while queued).
func (t *Task) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// FinishedAt returns when the task completed (zero until then).
func (t *Task) FinishedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt
}

// Runner owns a bounded pool of task goroutines. The zero value is not
// usable; construct with NewRunner.
type Runner struct {
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// NewRunner returns a Runner executing at most workers tasks at once.
func NewRunner(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		sem:    make(chan struct{}, workers),
		ctx:    ctx,
		cancel: cancel,
		tasks:  map[string]*Task{},
	}
}

// Submit queues fn under name. A name stays reserved while its task is
// queued or running; re-submitting a finished name replaces the old record.
// Excess submissions queue until a worker slot frees.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("tasks: name is required")
	}
	r.mu.Lock()
	if prev, ok := r.tasks[name]; ok && !prev.Finished() {
		r.mu.Unlock()
		return nil, fmt.Errorf("tasks: %q is already running", name)
	}
	t := &Task{
		Name:        name,
		SubmittedAt: time.Now(),
		done:        make(chan struct{}),
	}
	r.tasks[name] = t
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(t.done)

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-r.ctx.Done():
			t.mu.Lock()
			t.err = r.ctx.Err()
			t.finishedAt = time.Now()
			t.mu.Unlock()
			return
		}

		t.mu.Lock()
		t.startedAt = time.Now()
		t.mu.Unlock()

		err := run(r.ctx, fn)

		t.mu.Lock()
		t.err = err
		t.finishedAt = time.Now()
		t.mu.Unlock()
	}()
	return t, nil
}

// run invokes fn, converting a panic into the task's error so one broken
// job cannot take down the process.
func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tasks: panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Get returns the task registered under name.
func (r *Runner) Get(name string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	return t, ok
}

// List returns every known task, newest submission first.
func (r *Runner) List() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

// Shutdown cancels the runner's context and waits for in-flight tasks to
// return. Tasks observe the cancellation between chunks like any other
// stop request.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}
