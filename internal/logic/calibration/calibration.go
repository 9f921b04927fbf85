// Package calibration holds the learned map from guide pulses to star
// motion and the procedure that measures it.
package calibration

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// determinant below which the linear part is considered singular
const singularDeterminant = 1e-9

// Matrix holds the six coefficients of the affine map from pulse
// durations (ra, dec) in seconds to pixel displacement:
//
//	Δx = a0·ra + a1·dec + a2
//	Δy = a3·ra + a4·dec + a5
//
// Its text form is "[a0,a1,a2;a3,a4,a5]".
type Matrix [6]float64

// Det returns the determinant of the linear part.
func (a Matrix) Det() float64 {
	return a[0]*a[4] - a[1]*a[3]
}

// Apply returns the displacement expected after pulsing ra and dec seconds.
func (a Matrix) Apply(ra, dec float64) geometry.Point {
	return geometry.Point{
		X: a[0]*ra + a[1]*dec + a[2],
		Y: a[3]*ra + a[4]*dec + a[5],
	}
}

func (a Matrix) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range a {
		switch i {
		case 0:
		case 3:
			b.WriteByte(';')
		default:
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (a Matrix) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Matrix) UnmarshalText(text []byte) error {
	m, err := ParseMatrix(string(text))
	if err != nil {
		return err
	}
	*a = m
	return nil
}

// ParseMatrix parses the text form produced by Matrix.String.
func ParseMatrix(s string) (Matrix, error) {
	var a Matrix
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return a, fmt.Errorf("calibration %q: missing brackets: %w", s, guideerr.ErrBadParameter)
	}
	rows := strings.Split(s[1:len(s)-1], ";")
	if len(rows) != 2 {
		return a, fmt.Errorf("calibration %q: want 2 rows: %w", s, guideerr.ErrBadParameter)
	}
	for r, row := range rows {
		fields := strings.Split(row, ",")
		if len(fields) != 3 {
			return a, fmt.Errorf("calibration %q: want 3 values per row: %w", s, guideerr.ErrBadParameter)
		}
		for c, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return a, fmt.Errorf("calibration %q: %v: %w", s, err, guideerr.ErrBadParameter)
			}
			a[3*r+c] = v
		}
	}
	return a, nil
}

// Point is one sample taken during calibration: the pulse that was sent
// and the displacement it caused.
type Point struct {
	RA     float64        `json:"ra" yaml:"ra"`   // seconds, negative for RA-
	DEC    float64        `json:"dec" yaml:"dec"` // seconds, negative for DEC-
	When   time.Time      `json:"when" yaml:"when"`
	Offset geometry.Point `json:"offset" yaml:"offset"`
}

// Calibration is an accepted calibration. It is never modified once
// created; a new calibration replaces it as a whole.
type Calibration struct {
	ID           string         `json:"id" yaml:"id"`
	When         time.Time      `json:"when" yaml:"when"`
	A            Matrix         `json:"a" yaml:"a"`
	FocalLength  float64        `json:"focal_length" yaml:"focal_length"`   // m
	PixelSize    float64        `json:"pixel_size" yaml:"pixel_size"`       // m
	GridConstant float64        `json:"grid_constant" yaml:"grid_constant"` // s
	Drift        geometry.Point `json:"drift" yaml:"drift"`                 // px/s
	Points       []Point        `json:"points,omitempty" yaml:"points,omitempty"`
}

// Det returns the determinant of the linear part of the calibration.
func (c *Calibration) Det() float64 {
	return c.A.Det()
}

// Usable reports whether pixel corrections can be mapped back to pulses.
func (c *Calibration) Usable() bool {
	if c == nil {
		return false
	}
	for _, v := range c.A {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return math.Abs(c.Det()) > singularDeterminant
}

// Quality returns 1 - cos² of the angle between the RA and DEC
// directions on the sensor: 1 for perpendicular axes, 0 for parallel ones.
func (c *Calibration) Quality() float64 {
	ra := geometry.Point{X: c.A[0], Y: c.A[3]}
	dec := geometry.Point{X: c.A[1], Y: c.A[4]}
	n := ra.Abs() * dec.Abs()
	if n == 0 {
		return 0
	}
	cos := ra.Dot(dec) / n
	return 1 - cos*cos
}

// Pulses returns the RA and DEC pulse durations, in seconds, that move
// the star by px.
func (c *Calibration) Pulses(px geometry.Point) (ra, dec float64, err error) {
	if !c.Usable() {
		return 0, 0, fmt.Errorf("singular calibration %v: %w", c.A, guideerr.ErrNoCalibration)
	}
	det := c.Det()
	ra = (c.A[4]*px.X - c.A[1]*px.Y) / det
	dec = (c.A[0]*px.Y - c.A[3]*px.X) / det
	return ra, dec, nil
}

// DefaultCorrection returns the duty cycle per axis that compensates the
// drift measured during calibration.
func (c *Calibration) DefaultCorrection() (tx, ty float64) {
	tx, ty, err := c.Pulses(c.Drift.Scale(-1))
	if err != nil {
		return 0, 0
	}
	return tx, ty
}

func (c *Calibration) String() string {
	return fmt.Sprintf("%v det=%.3g quality=%.2f", c.A, c.Det(), c.Quality())
}
