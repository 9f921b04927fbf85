package backlash

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/hw/guideport"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/logic/tracker"
)

// Defaults for a backlash run.
const (
	DefaultInterval = 5 * time.Second
	DefaultPoints   = 24
)

// Estimator steps one axis back and forth and analyses the star motion.
type Estimator struct {
	Camera   camera.Camera
	Port     guideport.GuidePort
	Tracker  tracker.Tracker
	Exposure time.Duration

	Axis       Axis
	Interval   time.Duration // length of each step pulse
	Points     int           // number of steps
	LastPoints int           // analyse only the last points, 0 for all

	OnPoint func(Point)
}

// Run performs the steps and returns the fitted result. A cancelled run
// returns ctx.Err() and no result.
func (e *Estimator) Run(ctx context.Context) (*Result, error) {
	interval := e.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < 0 {
		return nil, fmt.Errorf("step interval %v: %w", interval, guideerr.ErrBadParameter)
	}
	n := e.Points
	if n <= 0 {
		n = DefaultPoints
	}

	debug.Section("Backlash " + e.Axis.String())
	origin, err := e.measure(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		phase := Phase(i % int(numPhases))
		if err := e.step(ctx, phase.Plus(), interval); err != nil {
			return nil, err
		}
		pos, err := e.measure(ctx)
		if err != nil {
			return nil, err
		}
		p := Point{ID: i, Phase: phase, Time: time.Since(start).Seconds(), Offset: pos.Sub(origin)}
		debug.Live("Backlash step %d (%v): %v", i, phase, p.Offset)
		points = append(points, p)
		if e.OnPoint != nil {
			e.OnPoint(p)
		}
	}

	r, err := Analyze(points, e.LastPoints)
	if err != nil {
		return nil, err
	}
	r.Axis = e.Axis
	return r, nil
}

func (e *Estimator) step(ctx context.Context, plus bool, d time.Duration) error {
	var l guideport.Line
	switch {
	case e.Axis == RA && plus:
		l = guideport.RAPlus
	case e.Axis == RA:
		l = guideport.RAMinus
	case plus:
		l = guideport.DECPlus
	default:
		l = guideport.DECMinus
	}
	if err := guideport.Pulse(ctx, e.Port, l, d); err != nil {
		return fmt.Errorf("backlash step: %w", err)
	}
	return nil
}

func (e *Estimator) measure(ctx context.Context) (geometry.Point, error) {
	img, err := camera.Acquire(ctx, e.Camera, e.Exposure)
	if err != nil {
		return geometry.Point{}, err
	}
	return e.Tracker.Measure(img)
}
