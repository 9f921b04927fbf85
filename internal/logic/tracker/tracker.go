// Package tracker measures how far the guide star has moved between images.
package tracker

import (
	"fmt"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// Tracker turns an image into the offset of the guide star from its
// reference position, in pixels (x right, y up). Implementations hold
// only read-only configuration and are safe for concurrent use.
type Tracker interface {
	Measure(img *camera.Image) (geometry.Point, error)
}

// Factory builds a tracker from a reference image, typically the first
// image taken when calibration or guiding starts.
type Factory func(ref *camera.Image) (Tracker, error)

// Tracker kinds accepted by NewFactory.
const (
	KindStar  = "star"
	KindPhase = "phase"
)

// Options configures the trackers built by NewFactory.
type Options struct {
	Window    int     // star search half-width in pixels
	Threshold float64 // star detection threshold above background
	MinPSR    float64 // phase correlation peak-to-sidelobe minimum
}

// NewFactory returns a Factory for the given tracker kind.
func NewFactory(kind string, opts Options) (Factory, error) {
	switch kind {
	case KindStar, "":
		return func(ref *camera.Image) (Tracker, error) {
			return NewStarTrackerFromImage(ref, opts.Window, opts.Threshold)
		}, nil
	case KindPhase:
		return func(ref *camera.Image) (Tracker, error) {
			return NewPhaseTracker(ref, opts.MinPSR)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported tracker type %q: %w", kind, guideerr.ErrBadParameter)
	}
}

// Fixed returns a Factory that ignores the reference image and always
// hands out t.
func Fixed(t Tracker) Factory {
	return func(*camera.Image) (Tracker, error) { return t, nil }
}
