// Package worker runs one long-running activity on its own goroutine with a
// cancellation flag and a completion signal that callers can wait on.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
)

// Func is the body of a worker. It must return promptly once ctx is done.
type Func func(ctx context.Context) error

// Worker is a cancellable background activity.
type Worker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches fn on a new goroutine. The worker's context derives from
// parent, so cancelling parent also stops the worker.
func Start(parent context.Context, name string, fn Func) *Worker {
	ctx, cancel := context.WithCancel(parent)
	w := &Worker{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(ctx, fn)
	return w
}

func (w *Worker) run(ctx context.Context, fn Func) {
	defer close(w.done)
	defer w.cancel()
	defer func() {
		if r := recover(); r != nil {
			w.setErr(fmt.Errorf("%s: panic: %v", w.name, r))
			debug.Info("worker %s panicked: %v", w.name, r)
		}
	}()

	debug.Verbose("worker %s started", w.name)
	err := fn(ctx)
	w.setErr(err)
	debug.Verbose("worker %s terminated (err=%v)", w.name, err)
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// Name returns the name given at Start.
func (w *Worker) Name() string {
	return w.name
}

// Stop signals the worker to terminate at its next cancellation point.
// It does not wait; use Wait for that.
func (w *Worker) Stop() {
	w.cancel()
}

// Wait blocks until the worker has terminated or timeout elapses and
// reports whether it terminated. A timeout of 0 polls, a negative
// timeout waits without limit.
func (w *Worker) Wait(timeout time.Duration) bool {
	if timeout == 0 {
		select {
		case <-w.done:
			return true
		default:
			return false
		}
	}
	if timeout < 0 {
		<-w.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed when the worker has terminated.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Running reports whether the worker has not terminated yet.
func (w *Worker) Running() bool {
	return !w.Wait(0)
}

// Err returns the error the worker terminated with, nil while running
// or after a clean exit.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepUntil waits until deadline, until ctx is done, or until wake
// receives, whichever comes first. It reports whether it was woken.
func SleepUntil(ctx context.Context, deadline time.Time, wake <-chan struct{}) (woken bool, err error) {
	d := time.Until(deadline)
	if d <= 0 {
		return false, ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-wake:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}
