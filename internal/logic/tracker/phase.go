package tracker

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// DefaultMinPSR is the peak-to-sidelobe ratio below which a phase
// correlation is rejected.
const DefaultMinPSR = 6.0

// sidelobe exclusion half-width around the correlation peak
const peakExclusion = 5

// PhaseTracker compares each image with a fixed reference image using
// phase correlation. It does not need a point-like star, so it also works
// on extended objects or defocused images.
type PhaseTracker struct {
	width, height int
	reference     []complex128 // spectrum of the reference image
	MinPSR        float64
}

// NewPhaseTracker computes the spectrum of ref once.
func NewPhaseTracker(ref *camera.Image, minPSR float64) (*PhaseTracker, error) {
	if ref == nil || ref.Width < 2*peakExclusion+2 || ref.Height < 2*peakExclusion+2 {
		return nil, fmt.Errorf("reference image too small: %w", guideerr.ErrBadParameter)
	}
	if minPSR <= 0 {
		minPSR = DefaultMinPSR
	}
	return &PhaseTracker{
		width:     ref.Width,
		height:    ref.Height,
		reference: spectrum(ref),
		MinPSR:    minPSR,
	}, nil
}

// Measure implements Tracker.
func (t *PhaseTracker) Measure(img *camera.Image) (geometry.Point, error) {
	if img == nil || img.Width != t.width || img.Height != t.height {
		return geometry.Point{}, fmt.Errorf("image size differs from reference %dx%d: %w",
			t.width, t.height, guideerr.ErrBadParameter)
	}
	w, h := t.width, t.height

	// normalized cross power spectrum
	cross := spectrum(img)
	for i, c := range cross {
		c *= cmplx.Conj(t.reference[i])
		if m := cmplx.Abs(c); m > 1e-12 {
			cross[i] = c / complex(m, 0)
		} else {
			cross[i] = 0
		}
	}
	transform2(cross, w, h, true)

	surface := make([]float64, len(cross))
	peak, px, py := math.Inf(-1), 0, 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := real(cross[y*w+x])
			surface[y*w+x] = v
			if v > peak {
				peak, px, py = v, x, y
			}
		}
	}

	psr := peakToSidelobe(surface, w, h, px, py, peak)
	debug.Verbose("phase correlation peak at (%d,%d), PSR %.1f", px, py, psr)
	if psr < t.MinPSR {
		return geometry.Point{}, fmt.Errorf("PSR %.1f below %.1f: %w", psr, t.MinPSR, guideerr.ErrLowConfidence)
	}

	at := func(x, y int) float64 {
		return surface[((y+h)%h)*w+(x+w)%w]
	}
	dx := parabolicPeak(at(px-1, py), peak, at(px+1, py))
	dy := parabolicPeak(at(px, py-1), peak, at(px, py+1))
	return geometry.Point{X: signedShift(px, w) + dx, Y: signedShift(py, h) + dy}, nil
}

// spectrum returns the 2-D Fourier transform of the mean-subtracted image.
func spectrum(img *camera.Image) []complex128 {
	mean := stat.Mean(img.Pix, nil)
	data := make([]complex128, len(img.Pix))
	for i, v := range img.Pix {
		data[i] = complex(v-mean, 0)
	}
	transform2(data, img.Width, img.Height, false)
	return data
}

// transform2 applies a row-column 2-D FFT in place; inverse selects the
// unnormalized backward transform.
func transform2(data []complex128, w, h int, inverse bool) {
	rows := fourier.NewCmplxFFT(w)
	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		copy(row, data[y*w:(y+1)*w])
		if inverse {
			rows.Sequence(row, row)
		} else {
			rows.Coefficients(row, row)
		}
		copy(data[y*w:(y+1)*w], row)
	}

	cols := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = data[y*w+x]
		}
		if inverse {
			cols.Sequence(col, col)
		} else {
			cols.Coefficients(col, col)
		}
		for y := 0; y < h; y++ {
			data[y*w+x] = col[y]
		}
	}
}

func peakToSidelobe(surface []float64, w, h, px, py int, peak float64) float64 {
	side := make([]float64, 0, len(surface))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if cyclicDistance(x, px, w) <= peakExclusion && cyclicDistance(y, py, h) <= peakExclusion {
				continue
			}
			side = append(side, surface[y*w+x])
		}
	}
	mean, std := stat.MeanStdDev(side, nil)
	if std == 0 {
		return math.Inf(1)
	}
	return (peak - mean) / std
}

func cyclicDistance(a, b, n int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	return min(d, n-d)
}

// parabolicPeak returns the sub-sample position of the vertex of the
// parabola through three equally spaced samples around a maximum.
func parabolicPeak(left, center, right float64) float64 {
	denom := left - 2*center + right
	if denom == 0 {
		return 0
	}
	d := 0.5 * (left - right) / denom
	return math.Max(-0.5, math.Min(0.5, d))
}

// signedShift maps a cyclic index to a shift in (-n/2, n/2].
func signedShift(i, n int) float64 {
	if i > n/2 {
		return float64(i - n)
	}
	return float64(i)
}
