package geometry

import (
	"fmt"

	"github.com/soniakeys/unit"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
)

// GridConstant chooses the pulse duration (seconds) between two
// neighbouring calibration grid points.
type GridConstant interface {
	Seconds(focalLength, pixelSize float64) (float64, error)
}

// DefaultGridConstant picks a pulse long enough to move the star by at
// least 30 pixels and by at least one arc minute, clamped to [5s, 15s].
type DefaultGridConstant struct {
	GuideRate float64 // fraction of sidereal rate, 0 means DefaultGuideRate
}

// Grid constant limits in seconds.
const (
	minGridConstant       = 5.0
	reducedGridConstant   = 15.0
	excessiveGridConstant = 60.0
	gridPixels            = 30.0
)

var gridAngle = unit.AngleFromSec(60)

// Seconds implements GridConstant.
func (g DefaultGridConstant) Seconds(focalLength, pixelSize float64) (float64, error) {
	if pixelSize <= 0 {
		return 0, fmt.Errorf("pixel size is required: %w", guideerr.ErrBadParameter)
	}
	if focalLength <= 0 {
		return 0, fmt.Errorf("focal length is required: %w", guideerr.ErrBadParameter)
	}
	scale, err := NewPlateScale(focalLength, pixelSize, g.GuideRate)
	if err != nil {
		return 0, err
	}

	pixelGrid := scale.PulseForPixels(gridPixels)
	angleGrid := scale.PulseForAngle(gridAngle)
	debug.Verbose("grid constant for f=%.0fmm, pixel=%.1fum: %.1fs (30px), %.1fs (1')",
		1000*focalLength, 1e6*pixelSize, pixelGrid, angleGrid)

	grid := pixelGrid
	if angleGrid > grid {
		grid = angleGrid
	}
	if grid < minGridConstant {
		grid = minGridConstant
	}
	if grid > excessiveGridConstant {
		return 0, fmt.Errorf("grid constant %.1fs is excessive: %w", grid, guideerr.ErrBadParameter)
	}
	if grid > reducedGridConstant {
		grid = reducedGridConstant
	}
	return grid, nil
}

// FixedGridConstant always returns the same grid constant.
type FixedGridConstant float64

// Seconds implements GridConstant.
func (g FixedGridConstant) Seconds(_, _ float64) (float64, error) {
	if g <= 0 {
		return 0, fmt.Errorf("grid constant %g: %w", float64(g), guideerr.ErrBadParameter)
	}
	return float64(g), nil
}
