// Package drive converts a continuous correction into guide port pulses.
package drive

import (
	"fmt"
	"math"
	"time"
)

// Direction of one axis during an interval. An axis is never driven in
// both directions at once because it only has one Direction.
type Direction int

const (
	Idle Direction = iota
	Plus
	Minus
)

func (d Direction) String() string {
	switch d {
	case Idle:
		return "idle"
	case Plus:
		return "+"
	case Minus:
		return "-"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// AxisPulse is the activation of one axis.
type AxisPulse struct {
	Direction Direction
	Duration  time.Duration
}

// Pulse is the activation of both axes during one interval.
type Pulse struct {
	RA  AxisPulse
	DEC AxisPulse
}

// Lines returns the durations of the four guide lines, in the order
// RA+, RA-, DEC+, DEC-.
func (p Pulse) Lines() (raPlus, raMinus, decPlus, decMinus time.Duration) {
	raPlus, raMinus = p.RA.lines()
	decPlus, decMinus = p.DEC.lines()
	return
}

func (a AxisPulse) lines() (plus, minus time.Duration) {
	switch a.Direction {
	case Plus:
		return a.Duration, 0
	case Minus:
		return 0, a.Duration
	default:
		return 0, 0
	}
}

func (p Pulse) String() string {
	return fmt.Sprintf("RA%v%v DEC%v%v", p.RA.Direction, p.RA.Duration, p.DEC.Direction, p.DEC.Duration)
}

// axisPulse turns a duty cycle in [-1, 1] into an activation of at most
// interval. Values outside the range are clamped, NaN is idle.
func axisPulse(t float64, interval time.Duration) AxisPulse {
	if math.IsNaN(t) || t == 0 {
		return AxisPulse{}
	}
	d := Plus
	if t < 0 {
		d, t = Minus, -t
	}
	if t > 1 {
		t = 1
	}
	active := time.Duration(t * float64(interval))
	if active <= 0 {
		return AxisPulse{}
	}
	return AxisPulse{Direction: d, Duration: active}
}

// PulseFor returns the activation for duty cycles tx (RA) and ty (DEC)
// over one interval.
func PulseFor(tx, ty float64, interval time.Duration) Pulse {
	return Pulse{RA: axisPulse(tx, interval), DEC: axisPulse(ty, interval)}
}
