package guiding

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
	"github.com/cjeanneret/GuideGo/internal/logic/control"
	"github.com/cjeanneret/GuideGo/internal/logic/drive"
	"github.com/cjeanneret/GuideGo/internal/logic/tracker"
	"github.com/cjeanneret/GuideGo/internal/store"
	"github.com/cjeanneret/GuideGo/internal/worker"
)

// Loop is the periodic control loop: image, offset, correction, pulses.
// Cycles are strictly sequential; the pulses of one cycle are finished
// before the next image is taken.
type Loop struct {
	Camera      camera.Camera
	Exposure    time.Duration
	Tracker     tracker.Tracker
	Controller  control.Controller
	Calibration *calibration.Calibration
	Actuator    *drive.Actuator

	Sink    Sink
	History *History

	Store store.TrackingStore // optional
	Key   string              // store key of the guider
	RunID string              // store id of this run
}

// Run executes cycles until ctx is cancelled, in which case it returns
// ctx.Err(). Tracker failures skip a cycle; any other error ends the run.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Actuator.Interval()
	tx, ty := l.Calibration.DefaultCorrection()
	l.Actuator.SetDefaultCorrection(tx, ty)
	if err := l.Actuator.Start(ctx); err != nil {
		return err
	}
	defer func() {
		l.Actuator.Stop()
		l.Actuator.Wait(-1)
	}()
	debug.Info("Guiding every %v, default correction (%.3f, %.3f)", interval, tx, ty)

	for cycle := 1; ; cycle++ {
		start := time.Now()
		end, err := l.cycle(ctx, cycle, interval)
		if err != nil {
			return err
		}
		if !l.Actuator.Running() {
			if err := l.Actuator.Err(); err != nil {
				return err
			}
			return ctx.Err()
		}
		deadline := start.Add(interval)
		if end.After(deadline) {
			deadline = end
		}
		if err := worker.Sleep(ctx, time.Until(deadline)); err != nil {
			return err
		}
	}
}

// cycle performs one measurement and correction. It returns when the
// pulses it started will be finished.
func (l *Loop) cycle(ctx context.Context, n int, interval time.Duration) (time.Time, error) {
	img, err := camera.Acquire(ctx, l.Camera, l.Exposure)
	if err != nil {
		return time.Time{}, err
	}
	offset, err := l.Tracker.Measure(img)
	if guideerr.Recoverable(err) {
		debug.Live("Cycle %d skipped: %v", n, err)
		l.Actuator.SetCorrection(0, 0)
		return time.Now(), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	debug.Offset(offset.X, offset.Y)

	correction := l.Controller.Correct(offset)
	ra, dec, err := l.Calibration.Pulses(correction.Scale(-1))
	if err != nil {
		return time.Time{}, err
	}
	// issued once, within the next interval
	dt := interval.Seconds()
	l.Actuator.SetCorrection(ra/dt, dec/dt)
	now := time.Now()

	p := TrackingPoint{When: now, Offset: offset, Correction: correction, RA: ra, DEC: dec}
	debug.Live("Cycle %d: offset %v, correction %v, RA %.3fs, DEC %.3fs", n, offset, correction, ra, dec)
	if l.History != nil {
		l.History.Add(p)
	}
	if l.Sink != nil {
		l.Sink.Publish(Tracking{Point: p})
	}
	if l.Store != nil {
		if err := l.Store.AppendTracking(ctx, l.Key, l.RunID, p.Record()); err != nil {
			debug.Error(fmt.Errorf("tracking store: %w", err))
		}
	}

	pulse := drive.PulseFor(ra/dt, dec/dt, interval)
	return now.Add(max(pulse.RA.Duration, pulse.DEC.Duration)), nil
}
