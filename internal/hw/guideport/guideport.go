// Package guideport drives the four guide lines of a telescope mount
// (RA+, RA-, DEC+, DEC-).
package guideport

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/worker"
)

// GuidePort activates the guide lines for the given durations. A new
// activation replaces whatever is still pending from the previous one.
//
// Durations must be non-negative, and at most one line of each axis may
// be given a non-zero duration.
type GuidePort interface {
	Activate(raPlus, raMinus, decPlus, decMinus time.Duration) error
}

// Line identifies one guide line.
type Line int

const (
	RAPlus Line = iota
	RAMinus
	DECPlus
	DECMinus
	numLines
)

func (l Line) String() string {
	switch l {
	case RAPlus:
		return "RA+"
	case RAMinus:
		return "RA-"
	case DECPlus:
		return "DEC+"
	case DECMinus:
		return "DEC-"
	default:
		return fmt.Sprintf("line(%d)", int(l))
	}
}

// Validate checks the activation contract.
func Validate(raPlus, raMinus, decPlus, decMinus time.Duration) error {
	if raPlus < 0 || raMinus < 0 || decPlus < 0 || decMinus < 0 {
		return fmt.Errorf("negative pulse duration: %w", guideerr.ErrBadParameter)
	}
	if raPlus > 0 && raMinus > 0 {
		return fmt.Errorf("RA+ and RA- both active: %w", guideerr.ErrBadParameter)
	}
	if decPlus > 0 && decMinus > 0 {
		return fmt.Errorf("DEC+ and DEC- both active: %w", guideerr.ErrBadParameter)
	}
	return nil
}

// Seconds converts a pulse length in seconds to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Limited is implemented by ports that cannot activate a line for longer
// than MaxPulse in one go.
type Limited interface {
	MaxPulse() time.Duration
}

// MaxPulse returns the longest single activation p accepts, 0 if unlimited.
func MaxPulse(p GuidePort) time.Duration {
	if l, ok := p.(Limited); ok {
		return l.MaxPulse()
	}
	return 0
}

// Pulse activates line l for d and waits until the pulse is over. Pulses
// longer than the port accepts are issued as successive activations.
func Pulse(ctx context.Context, p GuidePort, l Line, d time.Duration) error {
	if l < 0 || l >= numLines {
		return fmt.Errorf("%v: %w", l, guideerr.ErrBadParameter)
	}
	limit := MaxPulse(p)
	for d > 0 {
		chunk := d
		if limit > 0 && chunk > limit {
			chunk = limit
		}
		var lines [numLines]time.Duration
		lines[l] = chunk
		if err := p.Activate(lines[0], lines[1], lines[2], lines[3]); err != nil {
			return fmt.Errorf("%v pulse: %w", l, err)
		}
		if err := worker.Sleep(ctx, chunk); err != nil {
			return err
		}
		d -= chunk
	}
	return nil
}
