// Package state is the guarded transition table of the guider life cycle.
package state

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
)

// State of a guider.
type State int

const (
	Unconfigured State = iota
	Idle
	Calibrating
	Calibrated
	Guiding
	BacklashEstimating
	numStates
)

// States lists every state, in declaration order.
var States = []State{Unconfigured, Idle, Calibrating, Calibrated, Guiding, BacklashEstimating}

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case Calibrated:
		return "calibrated"
	case Guiding:
		return "guiding"
	case BacklashEstimating:
		return "backlash"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler, for the status JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Action is an operation that changes the state.
type Action int

const (
	Configure Action = iota
	StartCalibrating
	AddCalibration
	FailCalibration
	StartGuiding
	StopGuiding
	StartBacklash
	StopBacklash
	Uncalibrate
	numActions
)

// Actions lists every action, in declaration order.
var Actions = []Action{
	Configure, StartCalibrating, AddCalibration, FailCalibration,
	StartGuiding, StopGuiding, StartBacklash, StopBacklash, Uncalibrate,
}

func (a Action) String() string {
	switch a {
	case Configure:
		return "configure"
	case StartCalibrating:
		return "startCalibrating"
	case AddCalibration:
		return "addCalibration"
	case FailCalibration:
		return "failCalibration"
	case StartGuiding:
		return "startGuiding"
	case StopGuiding:
		return "stopGuiding"
	case StartBacklash:
		return "startBacklash"
	case StopBacklash:
		return "stopBacklash"
	case Uncalibrate:
		return "uncalibrate"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

type transition struct {
	from []State
	to   State
}

var table = [numActions]transition{
	Configure:        {[]State{Unconfigured}, Idle},
	StartCalibrating: {[]State{Idle, Calibrated}, Calibrating},
	AddCalibration:   {[]State{Unconfigured, Idle, Calibrated, Calibrating}, Calibrated},
	FailCalibration:  {[]State{Calibrating}, Idle},
	StartGuiding:     {[]State{Idle, Calibrated}, Guiding},
	StopGuiding:      {[]State{Guiding}, Calibrated},
	StartBacklash:    {[]State{Idle, Calibrated}, BacklashEstimating},
	StopBacklash:     {[]State{BacklashEstimating}, Idle},
	Uncalibrate:      {[]State{Calibrated}, Idle},
}

// Next returns the state reached by applying a in s, and whether a is
// allowed in s at all.
func Next(s State, a Action) (State, bool) {
	if a < 0 || a >= numActions {
		return s, false
	}
	tr := table[a]
	for _, from := range tr.from {
		if from == s {
			return tr.to, true
		}
	}
	return s, false
}

// Machine holds the current state and serializes transitions.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New returns a machine in the Unconfigured state.
func New() *Machine {
	return &Machine{state: Unconfigured}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether a is allowed in the current state.
func (m *Machine) Can(a Action) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := Next(m.state, a)
	return ok
}

// Apply performs a. It fails with guideerr.ErrBadState and leaves the
// state unchanged if a is not allowed.
func (m *Machine) Apply(a Action) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := Next(m.state, a)
	if !ok {
		return m.state, fmt.Errorf("cannot %v while %v: %w", a, m.state, guideerr.ErrBadState)
	}
	if next != m.state {
		debug.State(m.state.String(), next.String())
	}
	m.state = next
	return next, nil
}
