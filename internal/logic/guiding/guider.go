package guiding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/hw/guideport"
	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
	"github.com/cjeanneret/GuideGo/internal/logic/control"
	"github.com/cjeanneret/GuideGo/internal/logic/drive"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/logic/state"
	"github.com/cjeanneret/GuideGo/internal/logic/tracker"
	"github.com/cjeanneret/GuideGo/internal/store"
	"github.com/cjeanneret/GuideGo/internal/worker"
)

// MinInterval is the shortest guiding interval accepted.
const MinInterval = 100 * time.Millisecond

// store operations of a finishing run are bounded by this timeout
const storeTimeout = 5 * time.Second

// ControllerFactory builds the controller of a guiding run for its interval.
type ControllerFactory func(interval time.Duration) (control.Controller, error)

// Config holds the collaborators and settings of a Guider.
type Config struct {
	Descriptor Descriptor
	Camera     camera.Camera
	Port       guideport.GuidePort
	Store      store.Store // nil means a MemoryStore

	Exposure         time.Duration
	Grid             geometry.GridConstant // nil means geometry.DefaultGridConstant
	CalibrationRange int
	Settle           time.Duration
	MaxResidual      float64 // px, 0 accepts any calibration fit
	HistorySize      int
	BacklashLast     int // analyse only the last backlash points, 0 for all

	Tracker    tracker.Factory
	Controller ControllerFactory // nil means a gain of 1 on both axes
}

// Guider owns a camera and a guide port and runs at most one of
// calibration, backlash estimation or guiding at a time.
type Guider struct {
	cfg         Config
	machine     *state.Machine
	calibration atomic.Pointer[calibration.Calibration]
	sinks       MultiSink

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	tracker    tracker.Factory
	controller ControllerFactory
	exposure   time.Duration
	w          *worker.Worker
	activity   Activity
	stopping   bool
	lastAction string
	history    *History
}

// NewGuider creates an unconfigured guider.
func NewGuider(cfg Config) *Guider {
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Controller == nil {
		cfg.Controller = func(time.Duration) (control.Controller, error) {
			return control.NewGainController(1, 1)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Guider{
		cfg:        cfg,
		machine:    state.New(),
		ctx:        ctx,
		cancel:     cancel,
		tracker:    cfg.Tracker,
		controller: cfg.Controller,
		exposure:   cfg.Exposure,
		history:    NewHistory(cfg.HistorySize),
		lastAction: "created",
	}
}

// Subscribe registers a sink for the guider's events.
func (g *Guider) Subscribe(s Sink) {
	g.sinks.Add(s)
}

func (g *Guider) publish(e Event) {
	g.sinks.Publish(e)
}

// Configure moves the guider from Unconfigured to Idle.
func (g *Guider) Configure() error {
	if _, err := g.machine.Apply(state.Configure); err != nil {
		return err
	}
	g.setLastAction("configured")
	return nil
}

// State returns the current state.
func (g *Guider) State() state.State {
	return g.machine.State()
}

// Descriptor identifies the guider.
func (g *Guider) Descriptor() Descriptor {
	return g.cfg.Descriptor
}

// Calibration returns the current calibration, nil if there is none.
func (g *Guider) Calibration() *calibration.Calibration {
	return g.calibration.Load()
}

// LastAction describes the last thing the guider did.
func (g *Guider) LastAction() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAction
}

func (g *Guider) setLastAction(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	g.mu.Lock()
	g.lastAction = s
	g.mu.Unlock()
	debug.Info("Guider %v: %s", g.cfg.Descriptor, s)
}

// Summary returns the statistics of the current or last guiding run.
func (g *Guider) Summary() TrackingSummary {
	g.mu.Lock()
	h := g.history
	g.mu.Unlock()
	return h.Summary()
}

// SetTracker sets how trackers are built from a reference image.
func (g *Guider) SetTracker(f tracker.Factory) {
	g.mu.Lock()
	g.tracker = f
	g.mu.Unlock()
}

// SetController makes every following guiding run use c.
func (g *Guider) SetController(c control.Controller) {
	g.mu.Lock()
	g.controller = func(time.Duration) (control.Controller, error) { return c, nil }
	g.mu.Unlock()
}

// SetExposure sets the exposure time of the guide images.
func (g *Guider) SetExposure(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("exposure %v: %w", d, guideerr.ErrBadParameter)
	}
	g.mu.Lock()
	g.exposure = d
	g.mu.Unlock()
	return nil
}

// UseCalibration installs a calibration obtained elsewhere, e.g. loaded
// from a store.
func (g *Guider) UseCalibration(c *calibration.Calibration) error {
	if !c.Usable() {
		return fmt.Errorf("calibration is singular: %w", guideerr.ErrBadParameter)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy() {
		return fmt.Errorf("%s in progress: %w", g.activity, guideerr.ErrBadState)
	}
	if _, err := g.machine.Apply(state.AddCalibration); err != nil {
		return err
	}
	g.calibration.Store(c)
	g.lastAction = "calibration " + c.ID + " installed"
	return nil
}

// Uncalibrate drops the current calibration.
func (g *Guider) Uncalibrate() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.machine.Apply(state.Uncalibrate); err != nil {
		return err
	}
	g.calibration.Store(nil)
	g.lastAction = "uncalibrated"
	return nil
}

// busy reports whether a worker is running. Callers hold g.mu.
func (g *Guider) busy() bool {
	return g.w != nil && g.w.Running()
}

// start runs fn on a new worker. Callers hold g.mu and have already
// moved the state machine.
func (g *Guider) start(a Activity, fn worker.Func) {
	g.activity = a
	g.w = worker.Start(g.ctx, string(a), fn)
}

// reference takes the first image of a run and builds its tracker.
func (g *Guider) reference(ctx context.Context, f tracker.Factory, exposure time.Duration) (tracker.Tracker, error) {
	img, err := camera.Acquire(ctx, g.cfg.Camera, exposure)
	if err != nil {
		return nil, fmt.Errorf("reference image: %w", err)
	}
	return f(img)
}

// restore returns the state machine to where it was before a run that
// did not produce a new calibration. The machine is in Idle afterwards
// unless a calibration is still held.
func (g *Guider) restore() {
	if g.calibration.Load().Usable() {
		if _, err := g.machine.Apply(state.AddCalibration); err != nil {
			debug.Error(err)
		}
	}
}

// StartCalibrating starts a calibration run for the given optics, in
// meters. The result is reported through a Complete event.
func (g *Guider) StartCalibrating(focalLength, pixelSize float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tracker == nil {
		return fmt.Errorf("no tracker configured: %w", guideerr.ErrBadParameter)
	}
	if g.busy() {
		return fmt.Errorf("%s in progress: %w", g.activity, guideerr.ErrBadState)
	}
	if _, err := g.machine.Apply(state.StartCalibrating); err != nil {
		return err
	}
	factory, exposure := g.tracker, g.exposure
	g.lastAction = "calibration started"

	g.start(ActivityCalibration, func(ctx context.Context) error {
		cal, err := g.calibrate(ctx, factory, exposure, focalLength, pixelSize)
		switch {
		case err == nil:
			g.calibration.Store(cal)
			if _, err := g.machine.Apply(state.AddCalibration); err != nil {
				debug.Error(err)
			}
			g.persistCalibration(cal)
			g.setLastAction("calibration %s complete", cal.ID)
			g.publish(Complete{Activity: ActivityCalibration, Calibration: cal})
			return nil
		case errors.Is(err, context.Canceled):
			g.failCalibration()
			g.setLastAction("calibration cancelled")
			g.publish(ProgressUpdate{Activity: ActivityCalibration, Aborted: true})
			return nil
		default:
			g.failCalibration()
			g.setLastAction("calibration failed: %v", err)
			g.publish(Failed{Activity: ActivityCalibration, Err: err})
			return err
		}
	})
	return nil
}

func (g *Guider) failCalibration() {
	if _, err := g.machine.Apply(state.FailCalibration); err != nil {
		debug.Error(err)
	}
	g.restore()
}

func (g *Guider) calibrate(ctx context.Context, f tracker.Factory, exposure time.Duration, focalLength, pixelSize float64) (*calibration.Calibration, error) {
	tr, err := g.reference(ctx, f, exposure)
	if err != nil {
		return nil, err
	}
	est := &calibration.Estimator{
		Camera:   g.cfg.Camera,
		Port:     g.cfg.Port,
		Tracker:  tr,
		Exposure: exposure,
		Grid:     g.cfg.Grid,
		Range:    g.cfg.CalibrationRange,
		Settle:   g.cfg.Settle,

		MaxResidual: g.cfg.MaxResidual,
		OnPoint: func(p calibration.Point) {
			g.publish(CalibrationPoint{Point: p})
		},
		OnProgress: func(f float64) {
			g.publish(ProgressUpdate{Activity: ActivityCalibration, Fraction: f})
		},
	}
	return est.Run(ctx, focalLength, pixelSize)
}

func (g *Guider) persistCalibration(cal *calibration.Calibration) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.cfg.Store.SaveCalibration(ctx, g.cfg.Descriptor.String(), cal); err != nil {
		debug.Error(fmt.Errorf("failed to save calibration: %w", err))
	}
}

// StartGuiding starts the guiding loop with the given interval.
func (g *Guider) StartGuiding(interval time.Duration) error {
	if interval < MinInterval {
		return fmt.Errorf("guiding interval %v below %v: %w", interval, MinInterval, guideerr.ErrBadParameter)
	}
	cal := g.calibration.Load()
	if !cal.Usable() {
		return fmt.Errorf("cannot guide: %w", guideerr.ErrNoCalibration)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tracker == nil {
		return fmt.Errorf("no tracker configured: %w", guideerr.ErrBadParameter)
	}
	if g.busy() {
		return fmt.Errorf("%s in progress: %w", g.activity, guideerr.ErrBadState)
	}
	ctrl, err := g.controller(interval)
	if err != nil {
		return err
	}
	act, err := drive.NewActuator(g.cfg.Port, interval)
	if err != nil {
		return err
	}
	if _, err := g.machine.Apply(state.StartGuiding); err != nil {
		return err
	}
	factory, exposure := g.tracker, g.exposure
	g.history = NewHistory(g.cfg.HistorySize)
	history := g.history
	run := store.NewRunID()
	g.lastAction = "guiding started"

	g.start(ActivityGuiding, func(ctx context.Context) error {
		err := g.guide(ctx, factory, exposure, &Loop{
			Camera:      g.cfg.Camera,
			Exposure:    exposure,
			Controller:  ctrl,
			Calibration: cal,
			Actuator:    act,
			Sink:        &g.sinks,
			History:     history,
			Store:       g.cfg.Store,
			Key:         g.cfg.Descriptor.String(),
			RunID:       run,
		})
		if _, serr := g.machine.Apply(state.StopGuiding); serr != nil {
			debug.Error(serr)
		}
		if err == nil || errors.Is(err, context.Canceled) {
			g.setLastAction("guiding stopped after %d cycles", history.Summary().Count)
			g.publish(Complete{Activity: ActivityGuiding})
			return nil
		}
		g.setLastAction("guiding failed: %v", err)
		g.publish(Failed{Activity: ActivityGuiding, Err: err})
		return err
	})
	return nil
}

func (g *Guider) guide(ctx context.Context, f tracker.Factory, exposure time.Duration, loop *Loop) error {
	tr, err := g.reference(ctx, f, exposure)
	if err != nil {
		return err
	}
	loop.Tracker = tr
	return loop.Run(ctx)
}

// StartBacklash starts a backlash measurement on axis with the given
// step length and number of steps.
func (g *Guider) StartBacklash(axis backlash.Axis, interval time.Duration, points int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tracker == nil {
		return fmt.Errorf("no tracker configured: %w", guideerr.ErrBadParameter)
	}
	if g.busy() {
		return fmt.Errorf("%s in progress: %w", g.activity, guideerr.ErrBadState)
	}
	if _, err := g.machine.Apply(state.StartBacklash); err != nil {
		return err
	}
	factory, exposure := g.tracker, g.exposure
	g.lastAction = "backlash started"

	g.start(ActivityBacklash, func(ctx context.Context) error {
		r, err := g.backlash(ctx, factory, exposure, axis, interval, points)
		if _, serr := g.machine.Apply(state.StopBacklash); serr != nil {
			debug.Error(serr)
		}
		g.restore()
		switch {
		case err == nil:
			sctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := g.cfg.Store.SaveBacklash(sctx, g.cfg.Descriptor.String(), r); err != nil {
				debug.Error(fmt.Errorf("failed to save backlash result: %w", err))
			}
			cancel()
			g.setLastAction("backlash complete: %v", r)
			g.publish(Complete{Activity: ActivityBacklash, Backlash: r})
			return nil
		case errors.Is(err, context.Canceled):
			g.setLastAction("backlash cancelled")
			g.publish(ProgressUpdate{Activity: ActivityBacklash, Aborted: true})
			return nil
		default:
			g.setLastAction("backlash failed: %v", err)
			g.publish(Failed{Activity: ActivityBacklash, Err: err})
			return err
		}
	})
	return nil
}

func (g *Guider) backlash(ctx context.Context, f tracker.Factory, exposure time.Duration, axis backlash.Axis, interval time.Duration, points int) (*backlash.Result, error) {
	tr, err := g.reference(ctx, f, exposure)
	if err != nil {
		return nil, err
	}
	est := &backlash.Estimator{
		Camera:   g.cfg.Camera,
		Port:     g.cfg.Port,
		Tracker:  tr,
		Exposure: exposure,
		Axis:     axis,
		Interval: interval,
		Points:   points,

		LastPoints: g.cfg.BacklashLast,
	}
	n := points
	if n <= 0 {
		n = backlash.DefaultPoints
	}
	est.OnPoint = func(p backlash.Point) {
		g.publish(BacklashPoint{Point: p})
		g.publish(ProgressUpdate{Activity: ActivityBacklash, Fraction: float64(p.ID+1) / float64(n)})
	}
	return est.Run(ctx)
}

// StopGuiding ends the guiding loop and waits until the guider is back
// in the Calibrated state.
func (g *Guider) StopGuiding() error {
	g.mu.Lock()
	if g.activity != ActivityGuiding || !g.busy() || g.stopping {
		g.mu.Unlock()
		return fmt.Errorf("not guiding: %w", guideerr.ErrBadState)
	}
	return g.stop()
}

// Cancel stops whatever the guider is doing and waits for it to end.
func (g *Guider) Cancel() error {
	g.mu.Lock()
	if !g.busy() || g.stopping {
		g.mu.Unlock()
		return fmt.Errorf("nothing to cancel: %w", guideerr.ErrBadState)
	}
	return g.stop()
}

// stop is entered with g.mu held and releases it while waiting.
func (g *Guider) stop() error {
	g.stopping = true
	w := g.w
	g.mu.Unlock()

	w.Stop()
	w.Wait(-1)

	g.mu.Lock()
	g.stopping = false
	g.mu.Unlock()
	return nil
}

// Wait waits for the running activity to end, see worker.Worker.Wait.
// It reports true if nothing is running anymore.
func (g *Guider) Wait(timeout time.Duration) bool {
	g.mu.Lock()
	w := g.w
	g.mu.Unlock()
	if w == nil {
		return true
	}
	return w.Wait(timeout)
}

// Err returns the error the last activity ended with.
func (g *Guider) Err() error {
	g.mu.Lock()
	w := g.w
	g.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Err()
}

// Close cancels any running activity and waits for it.
func (g *Guider) Close() error {
	g.cancel()
	g.Wait(-1)
	return nil
}
