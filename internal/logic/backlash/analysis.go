package backlash

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// MinPoints is the smallest number of points Analyze accepts: the model
// has six unknowns and needs some redundancy.
const MinPoints = 8

// condition number of the design matrix above which time is taken to be
// a linear function of the step index, so drift cannot be separated from
// the step counts
const maxCondition = 1e10

// Analyze fits the backlash model to the points. If last > 0 only the
// last points are used, with step counts still taken from the whole run.
func Analyze(points []Point, last int) (*Result, error) {
	if len(points) < MinPoints {
		return nil, fmt.Errorf("%d backlash points, need %d: %w", len(points), MinPoints, guideerr.ErrInsufficientData)
	}
	counts := cumulativeCounts(points)
	first := 0
	if last > 0 && last < len(points) {
		first = len(points) - last
	}
	window := points[first:]
	if len(window) < MinPoints {
		return nil, fmt.Errorf("%d backlash points analysed, need %d: %w", len(window), MinPoints, guideerr.ErrInsufficientData)
	}

	dir := principalDirection(points, first)
	perp := geometry.Point{X: -dir.Y, Y: dir.X}
	n := len(window)
	x := make([]float64, n)
	lateral := make([]float64, n)
	t := make([]float64, n)
	for i, p := range window {
		x[i] = p.Offset.Dot(dir)
		lateral[i] = p.Offset.Dot(perp)
		t[i] = p.Time
	}

	design := mat.NewDense(n, 6, nil)
	for i := range window {
		k := counts[first+i]
		design.SetRow(i, []float64{k[0], k[1], k[2], k[3], 1, t[i]})
	}

	r := &Result{
		Direction: dir,
		Lateral:   stat.Variance(lateral, nil),
		Points:    n,
	}
	y := mat.NewVecDense(n, x)
	var residual []float64
	if c := mat.Cond(design, 2); c <= maxCondition {
		var beta mat.VecDense
		if err := beta.SolveVec(design, y); err != nil {
			return nil, fmt.Errorf("backlash fit: %v: %w", err, guideerr.ErrInsufficientData)
		}
		r.BacklashPlus, r.DrivePlus = beta.AtVec(0), beta.AtVec(1)
		r.BacklashMinus, r.DriveMinus = beta.AtVec(2), beta.AtVec(3)
		r.DriftOffset, r.DriftRate = beta.AtVec(4), beta.AtVec(5)
		residual = residuals(design, &beta, x)
	} else {
		debug.Verbose("backlash design condition %.3g, fitting drift per phase", c)
		drift, err := phaseDrift(window, x, t)
		if err != nil {
			return nil, err
		}
		corrected := make([]float64, n)
		for i := range x {
			corrected[i] = x[i] - drift*t[i]
		}
		reduced := design.Slice(0, n, 0, 5)
		var beta mat.VecDense
		if err := beta.SolveVec(reduced, mat.NewVecDense(n, corrected)); err != nil {
			return nil, fmt.Errorf("backlash fit: %v: %w", err, guideerr.ErrInsufficientData)
		}
		r.BacklashPlus, r.DrivePlus = beta.AtVec(0), beta.AtVec(1)
		r.BacklashMinus, r.DriveMinus = beta.AtVec(2), beta.AtVec(3)
		r.DriftOffset, r.DriftRate = beta.AtVec(4), drift
		residual = residuals(reduced, &beta, corrected)
	}
	var ss float64
	for _, v := range residual {
		ss += v * v
	}
	r.Longitudinal = ss / float64(n)
	debug.Info("Backlash: %v", r)
	return r, nil
}

// cumulativeCounts returns, for every point, how many steps of each phase
// have been taken up to and including it.
func cumulativeCounts(points []Point) [][numPhases]float64 {
	counts := make([][numPhases]float64, len(points))
	var k [numPhases]float64
	for i, p := range points {
		if p.Phase >= 0 && p.Phase < numPhases {
			k[p.Phase]++
		}
		counts[i] = k
	}
	return counts
}

// principalDirection returns the unit vector along which the offsets from
// points[first:] vary most, oriented so that plus steps move along it.
func principalDirection(points []Point, first int) geometry.Point {
	window := points[first:]
	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	for i, p := range window {
		xs[i], ys[i] = p.Offset.X, p.Offset.Y
	}
	cov := mat.NewSymDense(2, []float64{
		stat.Covariance(xs, xs, nil), stat.Covariance(xs, ys, nil),
		stat.Covariance(xs, ys, nil), stat.Covariance(ys, ys, nil),
	})
	dir := geometry.Point{X: 1}
	var eig mat.EigenSym
	if eig.Factorize(cov, true) {
		var vectors mat.Dense
		eig.VectorsTo(&vectors)
		// eigenvalues are ascending, the last vector is the principal one
		dir = geometry.Point{X: vectors.At(0, 1), Y: vectors.At(1, 1)}
		if l := dir.Abs(); l > 0 && !math.IsNaN(l) {
			dir = dir.Scale(1 / l)
		} else {
			dir = geometry.Point{X: 1}
		}
	}

	var along float64
	for i := first; i < len(points); i++ {
		if !points[i].Phase.Plus() {
			continue
		}
		var prev geometry.Point
		if i > 0 {
			prev = points[i-1].Offset
		}
		along += points[i].Offset.Sub(prev).Dot(dir)
	}
	if along < 0 {
		dir = dir.Scale(-1)
	}
	return dir
}

// phaseDrift estimates the drift rate as the mean slope of x over time
// within each phase.
func phaseDrift(window []Point, x, t []float64) (float64, error) {
	var slopes []float64
	for ph := Phase(0); ph < numPhases; ph++ {
		var pt, px []float64
		for i, p := range window {
			if p.Phase == ph {
				pt = append(pt, t[i])
				px = append(px, x[i])
			}
		}
		if len(pt) < 2 || stat.Variance(pt, nil) == 0 {
			continue
		}
		_, slope := stat.LinearRegression(pt, px, nil, false)
		slopes = append(slopes, slope)
	}
	if len(slopes) == 0 {
		return 0, fmt.Errorf("no phase with two distinct times: %w", guideerr.ErrInsufficientData)
	}
	return stat.Mean(slopes, nil), nil
}

func residuals(design mat.Matrix, beta *mat.VecDense, y []float64) []float64 {
	var fit mat.VecDense
	fit.MulVec(design, beta)
	r := make([]float64, len(y))
	for i, v := range y {
		r[i] = v - fit.AtVec(i)
	}
	return r
}
