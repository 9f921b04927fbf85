package guiding

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
	"github.com/cjeanneret/GuideGo/internal/store"
)

// DefaultHistorySize is the number of tracking points kept for the summary.
const DefaultHistorySize = 100

// TrackingPoint is the outcome of one guiding cycle.
type TrackingPoint struct {
	When       time.Time      `json:"when"`
	Offset     geometry.Point `json:"offset"`     // measured, px
	Correction geometry.Point `json:"correction"` // applied, px
	RA         float64        `json:"ra"`         // pulse seconds, negative for RA-
	DEC        float64        `json:"dec"`        // pulse seconds, negative for DEC-
}

// Record converts the point for storage.
func (p TrackingPoint) Record() store.TrackingRecord {
	return store.TrackingRecord{When: p.When, Offset: p.Offset, Correction: p.Correction, RA: p.RA, DEC: p.DEC}
}

// TrackingSummary describes the recent guiding performance.
type TrackingSummary struct {
	Started time.Time      `json:"started"`
	Count   int            `json:"count"` // cycles since the start of the run
	Mean    geometry.Point `json:"mean"`  // mean offset over the recent points
	RMSX    float64        `json:"rms_x"`
	RMSY    float64        `json:"rms_y"`
	RMS     float64        `json:"rms"`
	Last    *TrackingPoint `json:"last,omitempty"`
}

// History is a bounded ring of recent tracking points.
type History struct {
	mu      sync.Mutex
	points  []TrackingPoint
	size    int
	next    int
	count   int
	started time.Time
}

// NewHistory returns a history keeping the last size points.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, started: time.Now()}
}

// Add records a point, dropping the oldest one when full.
func (h *History) Add(p TrackingPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.points) < h.size {
		h.points = append(h.points, p)
	} else {
		h.points[h.next] = p
	}
	h.next = (h.next + 1) % h.size
	h.count++
}

// Points returns the kept points, oldest first.
func (h *History) Points() []TrackingPoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]TrackingPoint, 0, len(h.points))
	if len(h.points) < h.size {
		return append(out, h.points...)
	}
	out = append(out, h.points[h.next:]...)
	return append(out, h.points[:h.next]...)
}

// Summary computes the statistics of the kept points.
func (h *History) Summary() TrackingSummary {
	points := h.Points()
	h.mu.Lock()
	s := TrackingSummary{Started: h.started, Count: h.count}
	h.mu.Unlock()
	if len(points) == 0 {
		return s
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	x2 := make([]float64, len(points))
	y2 := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.Offset.X, p.Offset.Y
		x2[i], y2[i] = p.Offset.X*p.Offset.X, p.Offset.Y*p.Offset.Y
	}
	s.Mean = geometry.Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
	mx, my := stat.Mean(x2, nil), stat.Mean(y2, nil)
	s.RMSX, s.RMSY, s.RMS = math.Sqrt(mx), math.Sqrt(my), math.Sqrt(mx+my)
	last := points[len(points)-1]
	s.Last = &last
	return s
}
