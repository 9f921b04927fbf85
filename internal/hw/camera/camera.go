package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
)

// Status is the state of a camera exposure.
type Status int

const (
	Idle Status = iota
	Exposing
	Exposed
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Exposing:
		return "exposing"
	case Exposed:
		return "exposed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Camera is the guide camera as seen by the guiding code. It represents
// an abstract imager, regardless of how it is controlled (USB, network,
// simulator, etc.).
type Camera interface {
	// StartExposure begins an exposure. It fails with guideerr.ErrBadState
	// while another exposure is in progress.
	StartExposure(d time.Duration) error

	// ExposureStatus reports the state of the current exposure.
	ExposureStatus() Status

	// GetImage retrieves the exposed image. It fails with
	// guideerr.ErrBadState unless the status is Exposed.
	GetImage() (*Image, error)
}

// pollInterval is how often Acquire checks the exposure status.
const pollInterval = 10 * time.Millisecond

// Acquire takes one image: start the exposure, wait for it without
// blocking cancellation, and retrieve the image.
func Acquire(ctx context.Context, c Camera, exposure time.Duration) (*Image, error) {
	if err := c.StartExposure(exposure); err != nil {
		return nil, fmt.Errorf("start exposure: %w", err)
	}
	debug.Trace("Camera: exposing %v", exposure)

	// most of the wait is the exposure itself
	timer := time.NewTimer(exposure)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		switch st := c.ExposureStatus(); st {
		case Exposed:
			return c.GetImage()
		case Failed:
			return nil, fmt.Errorf("exposure failed")
		case Idle:
			return nil, fmt.Errorf("camera idle while waiting for exposure: %w", guideerr.ErrBadState)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
