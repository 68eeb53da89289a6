// Package runner executes batches of independent tasks concurrently and
// joins their outcomes. Both modes preserve the same ordering and failure
// semantics; they differ only in how goroutines are provisioned.
package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// defaultWorkers is the pool size when New receives a non-positive count.
const defaultWorkers = 4

// ErrClosed is returned by Run after the runner has been closed.
var ErrClosed = errors.New("runner is closed")

// Mode selects how Run provisions goroutines for its tasks.
type Mode int

const (
	// ModeSpawn starts one goroutine per task.
	ModeSpawn Mode = iota
	// ModePool hands tasks to a fixed set of shared workers. Submission
	// blocks while every worker is busy.
	ModePool
)

func (m Mode) String() string {
	if m == ModePool {
		return "pool"
	}
	return "spawn"
}

// Task is one unit of independent work. Tasks must honor ctx cancellation
// in their own blocking calls.
type Task func(ctx context.Context) error

type submission struct {
	ctx  context.Context
	task Task
	slot *error
	wg   *sync.WaitGroup
}

// Runner runs N independent tasks concurrently and joins their errors.
// A single Runner is safe for concurrent use by multiple callers; in
// ModePool they share the same bounded worker set.
type Runner struct {
	mode   Mode
	logger *logrus.Logger

	tasks    chan *submission
	workerWg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a runner in the given mode. The workers count only applies
// to ModePool; non-positive values fall back to a small default. A nil
// logger falls back to a default logrus logger.
func New(mode Mode, workers int, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Runner{
		mode:   mode,
		logger: logger,
	}
	if mode == ModePool {
		if workers <= 0 {
			workers = defaultWorkers
		}
		r.tasks = make(chan *submission)
		for i := 0; i < workers; i++ {
			r.workerWg.Add(1)
			go r.worker()
		}
	}
	return r
}

// Run executes every task concurrently and waits until all have finished
// or ctx expires, whichever comes first. The returned error joins each
// task's error in task order, regardless of completion order. When ctx
// expires first, Run returns ctx.Err() immediately and in-flight tasks
// finish in the background.
func (r *Runner) Run(ctx context.Context, tasks ...Task) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if len(tasks) == 0 {
		return nil
	}

	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))

	for i, task := range tasks {
		sub := &submission{ctx: ctx, task: task, slot: &errs[i], wg: &wg}
		if r.mode == ModePool {
			select {
			case r.tasks <- sub:
			case <-ctx.Done():
				// The pool never saw this submission, so the slot is
				// ours to settle.
				*sub.slot = ctx.Err()
				wg.Done()
			}
		} else {
			go execute(sub)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		r.logger.WithFields(logrus.Fields{
			"mode":  r.mode.String(),
			"tasks": len(tasks),
		}).Debug("Caller released at deadline, remaining tasks finish in background")
		return ctx.Err()
	}
}

// Close stops pool workers after they finish the work already accepted.
// Run must not be called concurrently with Close; calls after Close
// return ErrClosed. Close is idempotent.
func (r *Runner) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.tasks != nil {
		close(r.tasks)
		r.workerWg.Wait()
	}
	return nil
}

func (r *Runner) worker() {
	defer r.workerWg.Done()
	for sub := range r.tasks {
		execute(sub)
	}
}

// execute settles exactly one error slot. A ctx that expired before the
// task started is recorded without running the task, so an abandoned
// batch does not start new work.
func execute(sub *submission) {
	defer sub.wg.Done()
	if err := sub.ctx.Err(); err != nil {
		*sub.slot = err
		return
	}
	*sub.slot = sub.task(sub.ctx)
}
