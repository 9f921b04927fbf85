// Package sim simulates a telescope mount with a guide port and a guide
// camera looking at a single star. It is used for development without
// hardware and by the tests of the guiding packages.
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/hw/guideport"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/logic/tracker"
)

// Config describes the simulated mount and camera.
type Config struct {
	RA    geometry.Point // star motion in px/s while RA+ is active
	DEC   geometry.Point // star motion in px/s while DEC+ is active
	Drift geometry.Point // uncorrected drift in px/s
	Noise float64        // standard deviation of position measurements, px
	Seed  int64

	// Instant applies a pulse entirely when it is activated instead of
	// moving the star while the line is on.
	Instant bool

	Width      int     // image width, px
	Height     int     // image height, px
	StarSigma  float64 // star profile standard deviation, px
	StarPeak   float64 // star peak above background
	Background float64
}

// DefaultConfig is a mount moving 8 px/s at guide rate with RA and DEC
// slightly rotated against the sensor axes.
func DefaultConfig() Config {
	return Config{
		RA:         geometry.Point{X: 7.9, Y: 1.2},
		DEC:        geometry.Point{X: -1.1, Y: 8.1},
		Drift:      geometry.Point{X: 0.05, Y: -0.02},
		Noise:      0.05,
		Seed:       1,
		Width:      64,
		Height:     64,
		StarSigma:  1.5,
		StarPeak:   2000,
		Background: 100,
	}
}

// Activation records one call of Activate.
type Activation struct {
	When  time.Time
	Lines [4]time.Duration // RA+, RA-, DEC+, DEC-
}

// history bound for recorded activations
const maxActivations = 1000

// Mount implements guideport.GuidePort and camera.Camera on top of a
// linear model of the star position.
type Mount struct {
	cfg Config

	mu         sync.Mutex
	rng        *rand.Rand
	start      time.Time
	base       geometry.Point // position without drift and pending pulse
	pulseStart time.Time
	pulse      [4]time.Duration
	history    []Activation

	status      camera.Status
	exposureEnd time.Time
	image       *camera.Image
}

var (
	_ guideport.GuidePort = (*Mount)(nil)
	_ camera.Camera       = (*Mount)(nil)
)

// NewMount creates a mount with the star at the image center.
func NewMount(cfg Config) *Mount {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 64
	}
	if cfg.StarSigma <= 0 {
		cfg.StarSigma = 1.5
	}
	if cfg.StarPeak <= 0 {
		cfg.StarPeak = 2000
	}
	now := time.Now()
	return &Mount{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		start:      now,
		pulseStart: now,
	}
}

// lineVector returns the star velocity while line l is active.
func (m *Mount) lineVector(l int) geometry.Point {
	switch guideport.Line(l) {
	case guideport.RAPlus:
		return m.cfg.RA
	case guideport.RAMinus:
		return m.cfg.RA.Scale(-1)
	case guideport.DECPlus:
		return m.cfg.DEC
	default:
		return m.cfg.DEC.Scale(-1)
	}
}

// pulseMotion returns the displacement caused by the pending pulse until now.
func (m *Mount) pulseMotion(now time.Time) geometry.Point {
	var p geometry.Point
	elapsed := now.Sub(m.pulseStart)
	for l, d := range m.pulse {
		if d <= 0 {
			continue
		}
		p = p.Add(m.lineVector(l).Scale(min(elapsed, d).Seconds()))
	}
	return p
}

func (m *Mount) position(now time.Time) geometry.Point {
	drift := m.cfg.Drift.Scale(now.Sub(m.start).Seconds())
	return m.base.Add(drift).Add(m.pulseMotion(now))
}

// Activate implements guideport.GuidePort. A new activation replaces the
// remainder of the previous one.
func (m *Mount) Activate(raPlus, raMinus, decPlus, decMinus time.Duration) error {
	if err := guideport.Validate(raPlus, raMinus, decPlus, decMinus); err != nil {
		return err
	}
	debug.Pulse(raPlus.Seconds(), raMinus.Seconds(), decPlus.Seconds(), decMinus.Seconds())

	now := time.Now()
	lines := [4]time.Duration{raPlus, raMinus, decPlus, decMinus}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = m.base.Add(m.pulseMotion(now))
	m.pulseStart = now
	m.pulse = lines
	if m.cfg.Instant {
		m.base = m.base.Add(m.pulseMotion(now.Add(24 * time.Hour)))
		m.pulse = [4]time.Duration{}
	}
	m.history = append(m.history, Activation{When: now, Lines: lines})
	if len(m.history) > maxActivations {
		m.history = m.history[len(m.history)-maxActivations:]
	}
	return nil
}

// Activations returns the recorded activations, oldest first.
func (m *Mount) Activations() []Activation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Activation, len(m.history))
	copy(out, m.history)
	return out
}

// Offset returns the true star position relative to where it started.
func (m *Mount) Offset() geometry.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position(time.Now())
}

// Displace moves the star without a guide pulse, e.g. to simulate a gust of wind.
func (m *Mount) Displace(d geometry.Point) {
	m.mu.Lock()
	m.base = m.base.Add(d)
	m.mu.Unlock()
}

func (m *Mount) noise() geometry.Point {
	if m.cfg.Noise <= 0 {
		return geometry.Point{}
	}
	return geometry.Point{X: m.cfg.Noise * m.rng.NormFloat64(), Y: m.cfg.Noise * m.rng.NormFloat64()}
}

// StartExposure implements camera.Camera.
func (m *Mount) StartExposure(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("negative exposure time %v: %w", d, guideerr.ErrBadParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == camera.Exposing && time.Now().Before(m.exposureEnd) {
		return fmt.Errorf("exposure in progress: %w", guideerr.ErrBadState)
	}
	m.status = camera.Exposing
	m.exposureEnd = time.Now().Add(d)
	m.image = nil
	return nil
}

// ExposureStatus implements camera.Camera.
func (m *Mount) ExposureStatus() camera.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == camera.Exposing && !time.Now().Before(m.exposureEnd) {
		m.image = m.render(m.position(m.exposureEnd).Add(m.noise()))
		m.status = camera.Exposed
	}
	return m.status
}

// GetImage implements camera.Camera.
func (m *Mount) GetImage() (*camera.Image, error) {
	if m.ExposureStatus() != camera.Exposed {
		return nil, fmt.Errorf("no image available: %w", guideerr.ErrBadState)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.image, nil
}

// render draws the star at offset p from the image center.
func (m *Mount) render(p geometry.Point) *camera.Image {
	img := camera.NewImage(m.cfg.Width, m.cfg.Height)
	cx := float64(m.cfg.Width)/2 + p.X
	cy := float64(m.cfg.Height)/2 + p.Y
	s2 := 2 * m.cfg.StarSigma * m.cfg.StarSigma
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			img.Set(x, y, m.cfg.Background+m.cfg.StarPeak*math.Exp(-(dx*dx+dy*dy)/s2))
		}
	}
	return img
}

// Tracker returns a tracker that ignores the image and reports the true
// star position plus measurement noise.
func (m *Mount) Tracker() tracker.Tracker {
	return truthTracker{m}
}

type truthTracker struct {
	m *Mount
}

func (t truthTracker) Measure(*camera.Image) (geometry.Point, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.position(time.Now()).Add(t.m.noise()), nil
}
