package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/logic/tracker"
)

func near(a, b geometry.Point, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol
}

func TestMount_InstantPulse(t *testing.T) {
	m := NewMount(Config{
		RA:      geometry.Point{X: 10, Y: 2},
		DEC:     geometry.Point{X: -1, Y: 8},
		Instant: true,
	})

	if err := m.Activate(500*time.Millisecond, 0, 0, 250*time.Millisecond); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	want := geometry.Point{X: 5 + 0.25, Y: 1 - 2}
	if got := m.Offset(); !near(got, want, 1e-9) {
		t.Errorf("Offset = %v, want %v", got, want)
	}
}

func TestMount_ProgressivePulse(t *testing.T) {
	m := NewMount(Config{RA: geometry.Point{X: 100}})

	if err := m.Activate(60*time.Millisecond, 0, 0, 0); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got := m.Offset(); got.X >= 6 {
		t.Errorf("pulse applied at once: %v", got)
	}
	time.Sleep(100 * time.Millisecond)
	if got := m.Offset(); math.Abs(got.X-6) > 1e-6 {
		t.Errorf("Offset after pulse = %v, want x=6", got)
	}
}

func TestMount_ActivationReplacesPending(t *testing.T) {
	m := NewMount(Config{RA: geometry.Point{X: 100}})

	_ = m.Activate(time.Second, 0, 0, 0)
	time.Sleep(20 * time.Millisecond)
	_ = m.Activate(0, 0, 0, 0)
	x := m.Offset().X
	time.Sleep(50 * time.Millisecond)
	if got := m.Offset().X; got != x {
		t.Errorf("star kept moving after zero activation: %v -> %v", x, got)
	}
	if n := len(m.Activations()); n != 2 {
		t.Errorf("recorded %d activations, want 2", n)
	}
}

func TestMount_RejectsOppositeLines(t *testing.T) {
	m := NewMount(Config{})
	if err := m.Activate(time.Second, time.Second, 0, 0); !errors.Is(err, guideerr.ErrBadParameter) {
		t.Errorf("err = %v, want ErrBadParameter", err)
	}
}

func TestMount_CameraRendersStar(t *testing.T) {
	m := NewMount(Config{Width: 48, Height: 40, Background: 100, Instant: true, RA: geometry.Point{X: 4}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ref, err := camera.Acquire(ctx, m, time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	tr, err := tracker.NewStarTrackerFromImage(ref, 10, 50)
	if err != nil {
		t.Fatalf("NewStarTrackerFromImage: %v", err)
	}
	if want := (geometry.Point{X: 24, Y: 20}); !near(tr.Reference, want, 0.05) {
		t.Errorf("star at %v, want %v", tr.Reference, want)
	}

	_ = m.Activate(time.Second, 0, 0, 0)
	img, err := camera.Acquire(ctx, m, time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	off, err := tr.Measure(img)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !near(off, geometry.Point{X: 4}, 0.05) {
		t.Errorf("offset = %v, want (4, 0)", off)
	}
}

func TestMount_ExposureStates(t *testing.T) {
	m := NewMount(Config{})
	if _, err := m.GetImage(); !errors.Is(err, guideerr.ErrBadState) {
		t.Errorf("GetImage before exposure: err = %v, want ErrBadState", err)
	}
	if err := m.StartExposure(time.Hour); err != nil {
		t.Fatalf("StartExposure: %v", err)
	}
	if err := m.StartExposure(time.Second); !errors.Is(err, guideerr.ErrBadState) {
		t.Errorf("second StartExposure: err = %v, want ErrBadState", err)
	}
	if st := m.ExposureStatus(); st != camera.Exposing {
		t.Errorf("status = %v, want exposing", st)
	}
}

func TestMount_TruthTrackerNoise(t *testing.T) {
	m := NewMount(Config{Noise: 0.5, Seed: 3})
	tr := m.Tracker()
	var sum float64
	const n = 400
	for i := 0; i < n; i++ {
		p, err := tr.Measure(nil)
		if err != nil {
			t.Fatalf("Measure: %v", err)
		}
		sum += p.X
	}
	if mean := sum / n; math.Abs(mean) > 0.15 {
		t.Errorf("mean noise = %v, want about 0", mean)
	}
}
