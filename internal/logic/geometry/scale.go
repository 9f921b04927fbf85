package geometry

import (
	"fmt"

	"github.com/soniakeys/unit"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
)

// Sidereal rate of the sky in arc seconds per second of time.
const siderealArcsecPerSecond = 15.0

// DefaultGuideRate is the guide rate as a fraction of sidereal rate
// used when a mount does not report one.
const DefaultGuideRate = 0.5

// PlateScale describes the angular scale of the guide camera and the speed
// at which guide pulses move the star across the sensor.
type PlateScale struct {
	FocalLength float64 // meters
	PixelSize   float64 // meters
	GuideRate   float64 // fraction of sidereal rate, 0 means DefaultGuideRate
}

// NewPlateScale validates the optics and returns the plate scale.
// Focal lengths beyond 100 m and pixels larger than 100 µm are rejected.
func NewPlateScale(focalLength, pixelSize, guideRate float64) (*PlateScale, error) {
	if focalLength <= 0 || focalLength > 100 {
		return nil, fmt.Errorf("focal length %g m out of range: %w", focalLength, guideerr.ErrBadParameter)
	}
	if pixelSize <= 0 || pixelSize > 100e-6 {
		return nil, fmt.Errorf("pixel size %g m out of range: %w", pixelSize, guideerr.ErrBadParameter)
	}
	if guideRate < 0 || guideRate > 1 {
		return nil, fmt.Errorf("guide rate %g out of range: %w", guideRate, guideerr.ErrBadParameter)
	}
	if guideRate == 0 {
		guideRate = DefaultGuideRate
	}
	return &PlateScale{FocalLength: focalLength, PixelSize: pixelSize, GuideRate: guideRate}, nil
}

// PixelAngle returns the angle subtended by one pixel.
// Small angle approximation: angle = pixel size / focal length (radians).
func (s *PlateScale) PixelAngle() unit.Angle {
	return unit.Angle(s.PixelSize / s.FocalLength)
}

// ArcsecPerPixel returns the plate scale in arc seconds per pixel.
func (s *PlateScale) ArcsecPerPixel() float64 {
	return s.PixelAngle().Sec()
}

// SiderealPixelsPerSecond returns how fast an untracked star drifts, in pixels per second.
func (s *PlateScale) SiderealPixelsPerSecond() float64 {
	return siderealArcsecPerSecond / s.ArcsecPerPixel()
}

// GuidePixelsPerSecond returns how fast a guide pulse moves the star, in pixels per second.
func (s *PlateScale) GuidePixelsPerSecond() float64 {
	return s.GuideRate * s.SiderealPixelsPerSecond()
}

// PulseForPixels converts a star displacement in pixels to the pulse
// duration in seconds needed at the guide rate.
func (s *PlateScale) PulseForPixels(pixels float64) float64 {
	return pixels / s.GuidePixelsPerSecond()
}

// PulseForAngle converts an angular displacement to a pulse duration in seconds.
func (s *PlateScale) PulseForAngle(a unit.Angle) float64 {
	return a.Sec() / (s.GuideRate * siderealArcsecPerSecond)
}
