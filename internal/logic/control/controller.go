// Package control turns measured star offsets into corrections.
package control

import (
	"fmt"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// Controller computes the pixel correction for a measured offset. It is
// called once per guiding cycle and never fails: a zero correction is
// always a valid answer.
type Controller interface {
	Correct(offset geometry.Point) geometry.Point
}

// GainController corrects a fixed fraction of the offset on each axis.
type GainController struct {
	GX, GY float64
}

// NewGainController checks that both gains lie in (0, 1].
func NewGainController(gx, gy float64) (*GainController, error) {
	if err := checkGain(gx); err != nil {
		return nil, err
	}
	if err := checkGain(gy); err != nil {
		return nil, err
	}
	return &GainController{GX: gx, GY: gy}, nil
}

func checkGain(g float64) error {
	if !(g > 0 && g <= 1) {
		return fmt.Errorf("gain %g not in (0,1]: %w", g, guideerr.ErrBadParameter)
	}
	return nil
}

// Correct implements Controller.
func (c *GainController) Correct(offset geometry.Point) geometry.Point {
	if !offset.Finite() {
		return geometry.Point{}
	}
	return geometry.Point{X: c.GX * offset.X, Y: c.GY * offset.Y}
}
