package guiding

import (
	"sync"

	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
)

// Activity names a background process of the guider.
type Activity string

const (
	ActivityCalibration Activity = "calibration"
	ActivityBacklash    Activity = "backlash"
	ActivityGuiding     Activity = "guiding"
)

// Event is something a guider reports while it works. The set of
// events is closed: consumers switch on the concrete type.
type Event interface {
	event()
}

// CalibrationPoint reports one calibration sample.
type CalibrationPoint struct {
	Point calibration.Point
}

// BacklashPoint reports one backlash step.
type BacklashPoint struct {
	Point backlash.Point
}

// ProgressUpdate reports the fraction of a calibration or backlash run
// done so far. Aborted is set once when the run was cancelled.
type ProgressUpdate struct {
	Activity Activity
	Fraction float64
	Aborted  bool
}

// Complete reports the successful end of a run. Exactly one of
// Calibration and Backlash is set for calibration and backlash runs,
// neither for a guiding run.
type Complete struct {
	Activity    Activity
	Calibration *calibration.Calibration
	Backlash    *backlash.Result
}

// Failed reports a run that ended with an error.
type Failed struct {
	Activity Activity
	Err      error
}

// Tracking reports one guiding cycle.
type Tracking struct {
	Point TrackingPoint
}

func (CalibrationPoint) event() {}
func (BacklashPoint) event()    {}
func (ProgressUpdate) event()   {}
func (Complete) event()         {}
func (Failed) event()           {}
func (Tracking) event()         {}

// Sink receives guider events. Publish is called from the guider's
// worker goroutines and must not block for long.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish implements Sink.
func (f SinkFunc) Publish(e Event) { f(e) }

// MultiSink forwards events to several sinks, in order.
type MultiSink struct {
	mu    sync.Mutex
	sinks []Sink
}

// Add registers s.
func (m *MultiSink) Add(s Sink) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Publish implements Sink.
func (m *MultiSink) Publish(e Event) {
	m.mu.Lock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()
	for _, s := range sinks {
		s.Publish(e)
	}
}
