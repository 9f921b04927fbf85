package control

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// Defaults of the optimal controller, in pixels.
const (
	DefaultMeasurementError = 0.5
	DefaultSystemError      = 0.2
)

// initial variance of the filters, large enough for the first
// measurement to dominate
const initialVariance = 1e6

// OptimalController filters the offsets with one Kalman filter per axis
// and applies a gain correction to the filtered estimate.
type OptimalController struct {
	gain GainController
	dt   float64 // seconds

	mu               sync.Mutex
	x, y             *KalmanFilter
	measurementError float64
	systemError      float64
}

// NewOptimalController creates the controller for a guiding interval dt.
func NewOptimalController(gx, gy float64, dt time.Duration) (*OptimalController, error) {
	g, err := NewGainController(gx, gy)
	if err != nil {
		return nil, err
	}
	if dt <= 0 {
		return nil, fmt.Errorf("interval %v: %w", dt, guideerr.ErrBadParameter)
	}
	return &OptimalController{
		gain:             *g,
		dt:               dt.Seconds(),
		x:                NewKalmanFilter(initialVariance),
		y:                NewKalmanFilter(initialVariance),
		measurementError: DefaultMeasurementError,
		systemError:      DefaultSystemError,
	}, nil
}

// SetMeasurementError changes the standard deviation of the offset
// measurements. The filter state is kept.
func (c *OptimalController) SetMeasurementError(e float64) error {
	if !(e > 0) || math.IsInf(e, 0) {
		return fmt.Errorf("measurement error %g: %w", e, guideerr.ErrBadParameter)
	}
	c.mu.Lock()
	c.measurementError = e
	c.mu.Unlock()
	return nil
}

// SetSystemError changes the standard deviation of the mount error growth
// per square root of a second. The filter state is kept.
func (c *OptimalController) SetSystemError(e float64) error {
	if !(e > 0) || math.IsInf(e, 0) {
		return fmt.Errorf("system error %g: %w", e, guideerr.ErrBadParameter)
	}
	c.mu.Lock()
	c.systemError = e
	c.mu.Unlock()
	return nil
}

// MeasurementError returns the current measurement error.
func (c *OptimalController) MeasurementError() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.measurementError
}

// SystemError returns the current system error.
func (c *OptimalController) SystemError() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemError
}

// noise returns the process and measurement variances of one cycle.
func (c *OptimalController) noise() (q, r float64) {
	return c.systemError * c.systemError * c.dt, c.measurementError * c.measurementError
}

// Correct implements Controller.
func (c *OptimalController) Correct(offset geometry.Point) geometry.Point {
	if !offset.Finite() {
		return geometry.Point{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q, r := c.noise()
	c.x.Predict(q)
	c.y.Predict(q)
	filtered := geometry.Point{X: c.x.Update(offset.X, r), Y: c.y.Update(offset.Y, r)}
	debug.Verbose("Kalman: measured %v, filtered %v, variance %.4f", offset, filtered, c.x.P)
	return c.gain.Correct(filtered)
}

// Estimate returns the filtered offset and its variance per axis.
func (c *OptimalController) Estimate() (geometry.Point, geometry.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return geometry.Point{X: c.x.X, Y: c.y.X}, geometry.Point{X: c.x.P, Y: c.y.P}
}

// SteadyStateVariance returns the variance the filters converge to for
// the current noise parameters.
func (c *OptimalController) SteadyStateVariance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, r := c.noise()
	return SteadyStateVariance(q, r)
}

// SteadyStateVariance solves P = (P+q)·r/(P+q+r) for the variance after
// the measurement update.
func SteadyStateVariance(q, r float64) float64 {
	return (-q + math.Sqrt(q*q+4*q*r)) / 2
}
