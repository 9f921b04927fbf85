// Package backlash measures the mechanical backlash of one mount axis by
// driving it back and forth and fitting a model of the star motion.
package backlash

import (
	"fmt"

	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// Axis selects the mount axis under test.
type Axis int

const (
	RA Axis = iota
	DEC
)

func (a Axis) String() string {
	switch a {
	case RA:
		return "RA"
	case DEC:
		return "DEC"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// ParseAxis accepts "ra" or "dec" in any case.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "ra", "RA":
		return RA, nil
	case "dec", "DEC", "":
		return DEC, nil
	}
	return DEC, fmt.Errorf("unknown axis %q", s)
}

// Phase is the position of a step within one back and forth cycle.
type Phase int

const (
	PlusStart     Phase = iota // first plus step after moving minus
	PlusContinue               // further plus step
	MinusStart                 // first minus step after moving plus
	MinusContinue              // further minus step
	numPhases
)

func (p Phase) String() string {
	switch p {
	case PlusStart:
		return "plus-start"
	case PlusContinue:
		return "plus-continue"
	case MinusStart:
		return "minus-start"
	case MinusContinue:
		return "minus-continue"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Plus reports whether the phase drives the axis in the plus direction.
func (p Phase) Plus() bool {
	return p == PlusStart || p == PlusContinue
}

// Point is one measurement taken after a step.
type Point struct {
	ID     int            `json:"id" yaml:"id"`
	Phase  Phase          `json:"phase" yaml:"phase"`
	Time   float64        `json:"time" yaml:"time"` // seconds since the start of the run
	Offset geometry.Point `json:"offset" yaml:"offset"`
}

// Result is the fitted model
//
//	x(t) = k0·BacklashPlus + k1·DrivePlus + k2·BacklashMinus + k3·DriveMinus + DriftOffset + DriftRate·t
//
// where k0..k3 count the steps taken in each phase so far and x is the
// offset projected on Direction. BacklashPlus and BacklashMinus are the
// distances moved by a start step; the play lost on reversal is
// DrivePlus-BacklashPlus and BacklashMinus-DriveMinus.
type Result struct {
	Axis          Axis           `json:"axis" yaml:"axis"`
	BacklashPlus  float64        `json:"backlash_plus" yaml:"backlash_plus"`
	DrivePlus     float64        `json:"drive_plus" yaml:"drive_plus"`
	BacklashMinus float64        `json:"backlash_minus" yaml:"backlash_minus"`
	DriveMinus    float64        `json:"drive_minus" yaml:"drive_minus"`
	DriftOffset   float64        `json:"drift_offset" yaml:"drift_offset"`
	DriftRate     float64        `json:"drift_rate" yaml:"drift_rate"` // px/s
	Direction     geometry.Point `json:"direction" yaml:"direction"`
	Lateral       float64        `json:"lateral" yaml:"lateral"`           // variance across Direction, px²
	Longitudinal  float64        `json:"longitudinal" yaml:"longitudinal"` // fit residual variance, px²
	Points        int            `json:"points" yaml:"points"`
}

func (r *Result) String() string {
	return fmt.Sprintf("%v backlash +%.2f/-%.2f px, drive +%.2f/-%.2f px, drift %.3f px/s",
		r.Axis, r.BacklashPlus, r.BacklashMinus, r.DrivePlus, r.DriveMinus, r.DriftRate)
}
