package calibration

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// condition number above which the normal equations are treated as singular
const maxCondition = 1e12

// Fit solves the least squares problem for the affine map that best
// explains the samples. The x and y rows are solved independently
// through the same 3x3 normal equations.
func Fit(points []Point) (Matrix, error) {
	var a Matrix
	if len(points) < 3 {
		return a, fmt.Errorf("%d calibration points, need 3: %w", len(points), guideerr.ErrCalibrationFailed)
	}

	ata := mat.NewDense(3, 3, nil)
	atx := mat.NewVecDense(3, nil)
	aty := mat.NewVecDense(3, nil)
	for _, p := range points {
		row := [3]float64{p.RA, p.DEC, 1}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				ata.Set(i, j, ata.At(i, j)+row[i]*row[j])
			}
			atx.SetVec(i, atx.AtVec(i)+row[i]*p.Offset.X)
			aty.SetVec(i, aty.AtVec(i)+row[i]*p.Offset.Y)
		}
	}

	if c := mat.Cond(ata, 1); math.IsInf(c, 1) || c > maxCondition {
		return a, fmt.Errorf("calibration points are collinear (condition %.3g): %w", c, guideerr.ErrCalibrationFailed)
	}
	var x, y mat.VecDense
	if err := x.SolveVec(ata, atx); err != nil {
		return a, fmt.Errorf("solve RA row: %v: %w", err, guideerr.ErrCalibrationFailed)
	}
	if err := y.SolveVec(ata, aty); err != nil {
		return a, fmt.Errorf("solve DEC row: %v: %w", err, guideerr.ErrCalibrationFailed)
	}
	a = Matrix{x.AtVec(0), x.AtVec(1), x.AtVec(2), y.AtVec(0), y.AtVec(1), y.AtVec(2)}
	debug.Verbose("calibration fit over %d points: %v", len(points), a)

	if math.Abs(a.Det()) <= singularDeterminant {
		return a, fmt.Errorf("fitted calibration %v is singular: %w", a, guideerr.ErrCalibrationFailed)
	}
	return a, nil
}

// Residual returns the RMS distance between the samples and the map.
func Residual(a Matrix, points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		d := p.Offset.Sub(a.Apply(p.RA, p.DEC))
		sum += d.Dot(d)
	}
	return math.Sqrt(sum / float64(len(points)))
}

// EstimateDrift fits a straight line through the offsets of the samples
// taken without a pulse and returns its slope in px/s. Fewer than two
// such samples give no drift.
func EstimateDrift(points []Point) geometry.Point {
	var ts, xs, ys []float64
	var start time.Time
	for _, p := range points {
		if p.RA != 0 || p.DEC != 0 {
			continue
		}
		if len(ts) == 0 {
			start = p.When
		}
		ts = append(ts, p.When.Sub(start).Seconds())
		xs = append(xs, p.Offset.X)
		ys = append(ys, p.Offset.Y)
	}
	if len(ts) < 2 || stat.Variance(ts, nil) == 0 {
		return geometry.Point{}
	}
	_, bx := stat.LinearRegression(ts, xs, nil, false)
	_, by := stat.LinearRegression(ts, ys, nil, false)
	return geometry.Point{X: bx, Y: by}
}
