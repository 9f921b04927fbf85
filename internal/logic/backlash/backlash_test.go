package backlash

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/sim"
)

type model struct {
	bp, dp, bm, dm, a0, a1 float64
}

// generate produces points following the model exactly, along dir.
func generate(m model, dir geometry.Point, times []float64) []Point {
	var k [numPhases]float64
	points := make([]Point, len(times))
	for i, t := range times {
		ph := Phase(i % int(numPhases))
		k[ph]++
		x := k[0]*m.bp + k[1]*m.dp + k[2]*m.bm + k[3]*m.dm + m.a0 + m.a1*t
		points[i] = Point{ID: i, Phase: ph, Time: t, Offset: dir.Scale(x)}
	}
	return points
}

func checkResult(t *testing.T, r *Result, m model) {
	t.Helper()
	got := []float64{r.BacklashPlus, r.DrivePlus, r.BacklashMinus, r.DriveMinus, r.DriftOffset, r.DriftRate}
	want := []float64{m.bp, m.dp, m.bm, m.dm, m.a0, m.a1}
	names := []string{"backlash+", "drive+", "backlash-", "drive-", "drift offset", "drift rate"}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Errorf("%s = %v, want %v", names[i], got[i], want[i])
		}
	}
}

func TestAnalyze_ExactSixParameters(t *testing.T) {
	m := model{bp: 2, dp: 5, bm: -3, dm: -4.5, a0: 0.5, a1: 0.1}
	times := make([]float64, 24)
	for i := range times {
		times[i] = float64(i) + 0.3*math.Sin(float64(i)*1.7)
	}
	dir := geometry.Point{X: 0.6, Y: 0.8}
	r, err := Analyze(generate(m, dir, times), 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	checkResult(t, r, m)
	if math.Abs(r.Direction.X-dir.X) > 1e-9 || math.Abs(r.Direction.Y-dir.Y) > 1e-9 {
		t.Errorf("Direction = %v, want %v", r.Direction, dir)
	}
	if r.Lateral > 1e-12 || r.Longitudinal > 1e-12 {
		t.Errorf("residuals lateral=%v longitudinal=%v, want 0", r.Lateral, r.Longitudinal)
	}
	if r.Points != 24 {
		t.Errorf("Points = %d, want 24", r.Points)
	}
}

func TestAnalyze_RegularTimesFallBack(t *testing.T) {
	// steps of equal length make time a linear function of the step
	// count; a symmetric drive keeps the per-phase slope equal to the drift
	m := model{bp: 2, dp: 5, bm: -3, dm: -4, a0: 0.5, a1: 0.1}
	times := make([]float64, 24)
	for i := range times {
		times[i] = 2*float64(i) + 1
	}
	r, err := Analyze(generate(m, geometry.Point{Y: 1}, times), 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	checkResult(t, r, m)
}

func TestAnalyze_LastPoints(t *testing.T) {
	m := model{bp: 1, dp: 3, bm: -1.5, dm: -2, a0: 0, a1: 0.05}
	times := make([]float64, 32)
	for i := range times {
		times[i] = 1.5*float64(i) + 0.2*math.Cos(float64(i))
	}
	r, err := Analyze(generate(m, geometry.Point{X: 1}, times), 16)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if r.Points != 16 {
		t.Errorf("Points = %d, want 16", r.Points)
	}
	checkResult(t, r, m)
}

func TestAnalyze_InsufficientData(t *testing.T) {
	points := generate(model{dp: 1}, geometry.Point{X: 1}, []float64{0, 1, 2, 3, 4, 5, 6})
	if _, err := Analyze(points, 0); !errors.Is(err, guideerr.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
	points = generate(model{dp: 1}, geometry.Point{X: 1}, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	if _, err := Analyze(points, 4); !errors.Is(err, guideerr.ErrInsufficientData) {
		t.Errorf("last 4: err = %v, want ErrInsufficientData", err)
	}
}

func TestEstimator_RunAgainstSimulator(t *testing.T) {
	m := sim.NewMount(sim.Config{
		RA:      geometry.Point{X: 10},
		DEC:     geometry.Point{X: 3, Y: 40},
		Instant: true,
	})
	var seen int
	e := &Estimator{
		Camera:   m,
		Port:     m,
		Tracker:  m.Tracker(),
		Exposure: time.Millisecond,
		Axis:     DEC,
		Interval: 10 * time.Millisecond,
		Points:   12,
		OnPoint:  func(Point) { seen++ },
	}
	r, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != 12 || r.Points != 12 || r.Axis != DEC {
		t.Errorf("seen=%d result=%+v", seen, r)
	}
	// the simulator has no backlash: a start step moves as far as a
	// continue step, 10 ms at |(3, 40)| px/s
	step := 0.01 * math.Hypot(3, 40)
	if math.Abs(r.BacklashPlus-r.DrivePlus) > 1e-3 || math.Abs(r.BacklashMinus-r.DriveMinus) > 1e-3 {
		t.Errorf("start steps %v/%v, continue steps %v/%v, want equal",
			r.BacklashPlus, r.BacklashMinus, r.DrivePlus, r.DriveMinus)
	}
	if math.Abs(r.DrivePlus-step) > 1e-3 || math.Abs(r.DriveMinus+step) > 1e-3 {
		t.Errorf("drive = %v/%v, want ±%v", r.DrivePlus, r.DriveMinus, step)
	}
	if r.Direction.Y < 0.99 {
		t.Errorf("Direction = %v, want along DEC", r.Direction)
	}
	if math.Abs(r.DriftRate) > 0.5 {
		t.Errorf("DriftRate = %v, want about 0", r.DriftRate)
	}
}

func TestEstimator_Cancel(t *testing.T) {
	m := sim.NewMount(sim.Config{DEC: geometry.Point{Y: 10}})
	e := &Estimator{Camera: m, Port: m, Tracker: m.Tracker(), Exposure: time.Millisecond, Interval: time.Second, Points: 8}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r, err := e.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) || r != nil {
		t.Errorf("Run = %v, %v; want nil, deadline exceeded", r, err)
	}
}
