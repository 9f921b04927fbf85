package tracker

import (
	"fmt"
	"math"

	"github.com/cjeanneret/GuideGo/internal/debug"
	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/hw/camera"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// Defaults for the star tracker.
const (
	DefaultWindow    = 20
	DefaultThreshold = 50
)

// StarTracker locates the star near Reference and reports how far its
// centroid moved.
type StarTracker struct {
	Reference geometry.Point
	Window    int     // half-width of the search box
	Threshold float64 // minimum peak height above background
}

// NewStarTrackerFromImage finds the brightest star of ref and tracks it.
func NewStarTrackerFromImage(ref *camera.Image, window int, threshold float64) (*StarTracker, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	center := geometry.Point{X: float64(ref.Width) / 2, Y: float64(ref.Height) / 2}
	half := ref.Width
	if ref.Height > half {
		half = ref.Height
	}
	star, err := FindStar(ref, center, half, threshold)
	if err != nil {
		return nil, err
	}
	debug.Info("Tracking star at %v", star)
	return &StarTracker{Reference: star, Window: window, Threshold: threshold}, nil
}

// Measure implements Tracker.
func (t *StarTracker) Measure(img *camera.Image) (geometry.Point, error) {
	star, err := FindStar(img, t.Reference, t.Window, t.Threshold)
	if err != nil {
		return geometry.Point{}, err
	}
	return star.Sub(t.Reference), nil
}

// FindStar returns the sub-pixel centroid of the brightest star inside
// the box of half-width window around the given point.
func FindStar(img *camera.Image, around geometry.Point, window int, threshold float64) (geometry.Point, error) {
	cx, cy := int(math.Round(around.X)), int(math.Round(around.Y))
	x0, x1 := max(cx-window, 0), min(cx+window, img.Width-1)
	y0, y1 := max(cy-window, 0), min(cy+window, img.Height-1)
	if x0 > x1 || y0 > y1 {
		return geometry.Point{}, fmt.Errorf("search window outside image: %w", guideerr.ErrNoStarFound)
	}

	// peak and background of the window
	mx, my := x0, y0
	peak, background := math.Inf(-1), math.Inf(1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			v := img.At(x, y)
			if v > peak {
				peak, mx, my = v, x, y
			}
			if v < background {
				background = v
			}
		}
	}
	if peak-background <= threshold {
		return geometry.Point{}, fmt.Errorf("peak %.1f above background %.1f: %w",
			peak-background, background, guideerr.ErrNoStarFound)
	}

	r := halfMaxRadius(img, mx, my, background, (peak-background)/2, window)
	debug.Verbose("star peak at (%d,%d), value %.1f, background %.1f, radius %d", mx, my, peak, background, r)

	var sum, sx, sy float64
	for y := my - r; y <= my+r; y++ {
		for x := mx - r; x <= mx+r; x++ {
			if !img.Contains(x, y) {
				continue
			}
			w := img.At(x, y) - background
			if w <= 0 {
				continue
			}
			sum += w
			sx += w * float64(x)
			sy += w * float64(y)
		}
	}
	return geometry.Point{X: sx / sum, Y: sy / sum}, nil
}

// halfMaxRadius grows a square ring around (mx, my) until every pixel on
// it is below half maximum, and returns twice that radius, bounded by
// [2, limit].
func halfMaxRadius(img *camera.Image, mx, my int, background, half float64, limit int) int {
	r := 1
	for ; r < limit; r++ {
		ringMax := math.Inf(-1)
		for d := -r; d <= r; d++ {
			for _, v := range []float64{
				img.At(mx+d, my-r), img.At(mx+d, my+r),
				img.At(mx-r, my+d), img.At(mx+r, my+d),
			} {
				ringMax = math.Max(ringMax, v)
			}
		}
		if ringMax-background < half {
			break
		}
	}
	return min(max(2*r, 2), limit)
}
