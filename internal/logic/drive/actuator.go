package drive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/guideport"
	"github.com/cjeanneret/GuideGo/internal/worker"
)

// Actuator keeps the guide port busy according to the most recent
// correction. Every interval it activates the lines for the fraction of
// the interval given by the default correction. A correction is added to
// the first interval after it was set only, so it is never applied twice.
// It is an intermediate layer between the guiding loop and the guide port.
type Actuator struct {
	port     guideport.GuidePort
	interval time.Duration

	mu       sync.Mutex
	tx, ty   float64 // correction, duty cycle per axis
	pending  bool    // tx, ty not issued yet
	dx, dy   float64 // default correction
	observer func(Pulse)
	w        *worker.Worker

	wake chan struct{}
}

// NewActuator creates an actuator for the given control interval.
func NewActuator(port guideport.GuidePort, interval time.Duration) (*Actuator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("actuator interval %v: %w", interval, guideerr.ErrBadParameter)
	}
	return &Actuator{
		port:     port,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Interval returns the control interval.
func (a *Actuator) Interval() time.Duration {
	return a.interval
}

// SetCorrection replaces the current correction and starts a new
// interval with it. Superseded corrections are dropped.
func (a *Actuator) SetCorrection(tx, ty float64) {
	a.mu.Lock()
	a.tx, a.ty = tx, ty
	a.pending = true
	a.mu.Unlock()
	a.signal()
}

// SetDefaultCorrection sets the correction added to every interval,
// typically to compensate a known drift.
func (a *Actuator) SetDefaultCorrection(dx, dy float64) {
	a.mu.Lock()
	a.dx, a.dy = dx, dy
	a.mu.Unlock()
	a.signal()
}

// Correction returns the most recent correction, issued or not.
func (a *Actuator) Correction() (tx, ty float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tx, a.ty
}

// SetObserver registers a function called with every pulse issued.
func (a *Actuator) SetObserver(f func(Pulse)) {
	a.mu.Lock()
	a.observer = f
	a.mu.Unlock()
}

func (a *Actuator) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Start launches the actuation goroutine. It fails with
// guideerr.ErrBadState if the actuator is already running.
func (a *Actuator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w != nil && a.w.Running() {
		return fmt.Errorf("actuator already running: %w", guideerr.ErrBadState)
	}
	a.w = worker.Start(ctx, "actuator", a.run)
	return nil
}

// Stop signals the actuation goroutine to release the lines and terminate.
func (a *Actuator) Stop() {
	if w := a.worker(); w != nil {
		w.Stop()
	}
}

// Wait waits for the actuation goroutine to terminate, see worker.Worker.Wait.
func (a *Actuator) Wait(timeout time.Duration) bool {
	w := a.worker()
	return w == nil || w.Wait(timeout)
}

// Running reports whether the actuation goroutine is active.
func (a *Actuator) Running() bool {
	w := a.worker()
	return w != nil && w.Running()
}

// Err returns the error that ended the actuation goroutine, if any.
func (a *Actuator) Err() error {
	if w := a.worker(); w != nil {
		return w.Err()
	}
	return nil
}

func (a *Actuator) worker() *worker.Worker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.w
}

func (a *Actuator) run(ctx context.Context) error {
	for {
		a.mu.Lock()
		tx, ty := a.dx, a.dy
		if a.pending {
			tx, ty = tx+a.tx, ty+a.ty
			a.pending = false
		}
		pulse := PulseFor(tx, ty, a.interval)
		observer := a.observer
		a.mu.Unlock()

		start := time.Now()
		if err := a.port.Activate(pulse.Lines()); err != nil {
			return fmt.Errorf("guide port: %w", err)
		}
		debug.Trace("Actuator: %v", pulse)
		if observer != nil {
			observer(pulse)
		}

		if _, err := worker.SleepUntil(ctx, start.Add(a.interval), a.wake); err != nil {
			// pulses already running are cut short
			if err := a.port.Activate(0, 0, 0, 0); err != nil {
				return fmt.Errorf("guide port release: %w", err)
			}
			return nil
		}
	}
}
