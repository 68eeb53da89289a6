package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestRunner(t *testing.T, mode Mode, workers int) *Runner {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := New(mode, workers, logger)
	t.Cleanup(func() { r.Close() })
	return r
}

var bothModes = []struct {
	name string
	mode Mode
}{
	{"spawn", ModeSpawn},
	{"pool", ModePool},
}

func TestRunner_AllTasksSucceed(t *testing.T) {
	for _, tt := range bothModes {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, tt.mode, 2)

			var ran int32
			tasks := make([]Task, 5)
			for i := range tasks {
				tasks[i] = func(ctx context.Context) error {
					atomic.AddInt32(&ran, 1)
					return nil
				}
			}

			if err := r.Run(context.Background(), tasks...); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got := atomic.LoadInt32(&ran); got != 5 {
				t.Errorf("Expected 5 tasks to run, got %d", got)
			}
		})
	}
}

func TestRunner_EmptyRun(t *testing.T) {
	for _, tt := range bothModes {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, tt.mode, 2)
			if err := r.Run(context.Background()); err != nil {
				t.Errorf("Expected no error for an empty batch, got %v", err)
			}
		})
	}
}

func TestRunner_JoinsErrorsInTaskOrder(t *testing.T) {
	errFirst := errors.New("embed failed")
	errSecond := errors.New("graph store unavailable")

	for _, tt := range bothModes {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, tt.mode, 2)

			err := r.Run(context.Background(),
				func(ctx context.Context) error {
					time.Sleep(30 * time.Millisecond) // completes last
					return errFirst
				},
				func(ctx context.Context) error { return nil },
				func(ctx context.Context) error { return errSecond },
			)
			if err == nil {
				t.Fatal("Expected an error, got nil")
			}
			if !errors.Is(err, errFirst) {
				t.Errorf("Expected joined error to contain %v, got %v", errFirst, err)
			}
			if !errors.Is(err, errSecond) {
				t.Errorf("Expected joined error to contain %v, got %v", errSecond, err)
			}

			// Task order, not completion order.
			want := "embed failed\ngraph store unavailable"
			if err.Error() != want {
				t.Errorf("Expected %q, got %q", want, err.Error())
			}
		})
	}
}

func TestRunner_PoolBoundsConcurrency(t *testing.T) {
	r := newTestRunner(t, ModePool, 2)

	var current, peak int32
	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			cur := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil
		}
	}

	if err := r.Run(context.Background(), tasks...); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Errorf("Expected at most 2 tasks in flight, got %d", got)
	}
}

func TestRunner_TasksRunConcurrently(t *testing.T) {
	// The two tasks rendezvous: serial execution would never complete.
	for _, tt := range bothModes {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, tt.mode, 2)

			first := make(chan struct{})
			second := make(chan struct{})
			err := r.Run(context.Background(),
				func(ctx context.Context) error {
					close(first)
					<-second
					return nil
				},
				func(ctx context.Context) error {
					<-first
					close(second)
					return nil
				},
			)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
		})
	}
}

func TestRunner_DeadlineReleasesCaller(t *testing.T) {
	for _, tt := range bothModes {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, tt.mode, 2)

			release := make(chan struct{})
			finished := make(chan struct{})
			ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
			defer cancel()

			start := time.Now()
			err := r.Run(ctx, func(ctx context.Context) error {
				<-release
				close(finished)
				return nil
			})
			elapsed := time.Since(start)

			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("Expected context.DeadlineExceeded, got %v", err)
			}
			if elapsed > 500*time.Millisecond {
				t.Errorf("Expected the caller released near its deadline, took %v", elapsed)
			}

			close(release)
			select {
			case <-finished:
			case <-time.After(time.Second):
				t.Error("Expected the abandoned task to finish in the background")
			}
		})
	}
}

func TestRunner_PreCancelledContextSkipsTasks(t *testing.T) {
	for _, tt := range bothModes {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, tt.mode, 2)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			var ran int32
			err := r.Run(ctx,
				func(ctx context.Context) error {
					atomic.AddInt32(&ran, 1)
					return nil
				},
				func(ctx context.Context) error {
					atomic.AddInt32(&ran, 1)
					return nil
				},
			)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("Expected context.Canceled, got %v", err)
			}
			if got := atomic.LoadInt32(&ran); got != 0 {
				t.Errorf("Expected no task to start, got %d", got)
			}
		})
	}
}

func TestRunner_ConcurrentCallersSharePool(t *testing.T) {
	r := newTestRunner(t, ModePool, 2)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Run(context.Background(),
				func(ctx context.Context) error {
					time.Sleep(5 * time.Millisecond)
					return nil
				},
				func(ctx context.Context) error { return nil },
			)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Expected no error from caller %d, got %v", i, err)
		}
	}
}

func TestRunner_CloseRejectsFurtherRuns(t *testing.T) {
	for _, tt := range bothModes {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			logger.SetOutput(io.Discard)
			r := New(tt.mode, 2, logger)

			if err := r.Close(); err != nil {
				t.Fatalf("Expected no error from Close, got %v", err)
			}
			if err := r.Close(); err != nil {
				t.Fatalf("Expected idempotent Close, got %v", err)
			}

			err := r.Run(context.Background(), func(ctx context.Context) error { return nil })
			if !errors.Is(err, ErrClosed) {
				t.Errorf("Expected ErrClosed, got %v", err)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	if got := ModeSpawn.String(); got != "spawn" {
		t.Errorf("Expected spawn, got %s", got)
	}
	if got := ModePool.String(); got != "pool" {
		t.Errorf("Expected pool, got %s", got)
	}
}
