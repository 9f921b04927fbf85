package calibration

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/hw/guideport"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/logic/tracker"
	"github.com/cjeanneret/GuideGo/internal/worker"
)

// DefaultRange is the number of grid steps walked on each side of the origin.
const DefaultRange = 3

// Estimator moves the mount through a grid of pulse combinations and
// fits a Calibration to the displacements it measures.
type Estimator struct {
	Camera   camera.Camera
	Port     guideport.GuidePort
	Tracker  tracker.Tracker
	Exposure time.Duration

	Grid   geometry.GridConstant // nil means geometry.DefaultGridConstant
	Range  int                   // grid steps on each side, 0 means DefaultRange
	Settle time.Duration         // wait after each move before measuring

	// MaxResidual is the largest RMS fit residual in px a calibration may
	// have; 0 accepts any fit.
	MaxResidual float64

	OnPoint    func(Point)
	OnProgress func(float64)
}

// Run performs a calibration. It returns ctx.Err() without a result if
// ctx is cancelled before the last point has been measured.
func (e *Estimator) Run(ctx context.Context, focalLength, pixelSize float64) (*Calibration, error) {
	gc := e.Grid
	if gc == nil {
		gc = geometry.DefaultGridConstant{}
	}
	g, err := gc.Seconds(focalLength, pixelSize)
	if err != nil {
		return nil, err
	}
	gridRange := e.Range
	if gridRange <= 0 {
		gridRange = DefaultRange
	}
	grid := geometry.NewCalibrationGrid(gridRange, g)

	debug.Section("Calibration")
	debug.Value("grid constant", fmt.Sprintf("%.3fs", g))
	debug.Value("grid range", grid.Range)

	origin, err := e.measure(ctx)
	if err != nil {
		return nil, err
	}
	points := []Point{{When: time.Now()}}

	for _, gp := range grid.Points() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ra, dec := grid.Pulse(gp)
		debug.Verbose("grid point (%d,%d): RA %.3fs, DEC %.3fs", gp.RA, gp.DEC, ra, dec)

		if err := e.moveto(ctx, ra, dec); err != nil {
			return nil, err
		}
		p, err := e.sample(ctx, origin, ra, dec)
		if err != nil {
			return nil, err
		}
		points = append(points, p)

		// back to the origin, the sample there tracks drift
		if err := e.moveto(ctx, -ra, -dec); err != nil {
			return nil, err
		}
		p, err = e.sample(ctx, origin, 0, 0)
		if err != nil {
			return nil, err
		}
		points = append(points, p)

		progress := grid.Progress(gp)
		debug.Progress("Calibration", progress)
		if e.OnProgress != nil {
			e.OnProgress(progress)
		}
	}

	a, err := Fit(points)
	if err != nil {
		return nil, err
	}
	residual := Residual(a, points)
	if e.MaxResidual > 0 && residual > e.MaxResidual {
		return nil, fmt.Errorf("calibration residual %.3f px above %.3f px: %w", residual, e.MaxResidual, guideerr.ErrCalibrationFailed)
	}
	cal := &Calibration{
		ID:           uuid.NewString(),
		When:         time.Now(),
		A:            a,
		FocalLength:  focalLength,
		PixelSize:    pixelSize,
		GridConstant: g,
		Drift:        EstimateDrift(points),
		Points:       points,
	}
	debug.Info("Calibration complete: %v, residual %.3f px", cal, residual)
	return cal, nil
}

func (e *Estimator) measure(ctx context.Context) (geometry.Point, error) {
	img, err := camera.Acquire(ctx, e.Camera, e.Exposure)
	if err != nil {
		return geometry.Point{}, err
	}
	return e.Tracker.Measure(img)
}

func (e *Estimator) sample(ctx context.Context, origin geometry.Point, ra, dec float64) (Point, error) {
	if err := worker.Sleep(ctx, e.Settle); err != nil {
		return Point{}, err
	}
	pos, err := e.measure(ctx)
	if err != nil {
		return Point{}, err
	}
	p := Point{RA: ra, DEC: dec, When: time.Now(), Offset: pos.Sub(origin)}
	debug.Offset(p.Offset.X, p.Offset.Y)
	if e.OnPoint != nil {
		e.OnPoint(p)
	}
	return p, nil
}

// moveto pulses RA then DEC, one line at a time, and waits for each
// pulse to complete.
func (e *Estimator) moveto(ctx context.Context, ra, dec float64) error {
	if ra != 0 {
		l := guideport.RAPlus
		if ra < 0 {
			l = guideport.RAMinus
		}
		if err := guideport.Pulse(ctx, e.Port, l, guideport.Seconds(math.Abs(ra))); err != nil {
			return err
		}
	}
	if dec != 0 {
		l := guideport.DECPlus
		if dec < 0 {
			l = guideport.DECMinus
		}
		if err := guideport.Pulse(ctx, e.Port, l, guideport.Seconds(math.Abs(dec))); err != nil {
			return err
		}
	}
	return nil
}
