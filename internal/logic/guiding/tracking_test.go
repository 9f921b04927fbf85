package guiding

import (
	"math"
	"testing"
	"time"

	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

func TestHistory_RingKeepsNewest(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Add(TrackingPoint{Offset: geometry.Point{X: float64(i)}})
	}
	pts := h.Points()
	if len(pts) != 3 {
		t.Fatalf("kept %d points, want 3", len(pts))
	}
	for i, want := range []float64{3, 4, 5} {
		if pts[i].Offset.X != want {
			t.Errorf("point %d = %v, want %v", i, pts[i].Offset.X, want)
		}
	}
}

func TestHistory_Summary(t *testing.T) {
	h := NewHistory(0)
	if s := h.Summary(); s.Count != 0 || s.Last != nil {
		t.Errorf("empty summary = %+v", s)
	}
	h.Add(TrackingPoint{Offset: geometry.Point{X: 3, Y: 4}})
	h.Add(TrackingPoint{Offset: geometry.Point{X: -3, Y: 4}, When: time.Unix(10, 0)})

	s := h.Summary()
	if s.Count != 2 {
		t.Errorf("Count = %d, want 2", s.Count)
	}
	if s.Mean != (geometry.Point{X: 0, Y: 4}) {
		t.Errorf("Mean = %v", s.Mean)
	}
	if math.Abs(s.RMSX-3) > 1e-12 || math.Abs(s.RMSY-4) > 1e-12 || math.Abs(s.RMS-5) > 1e-12 {
		t.Errorf("RMS = %v %v %v, want 3 4 5", s.RMSX, s.RMSY, s.RMS)
	}
	if s.Last == nil || !s.Last.When.Equal(time.Unix(10, 0)) {
		t.Errorf("Last = %+v", s.Last)
	}
}

func TestTrackingPoint_Record(t *testing.T) {
	p := TrackingPoint{When: time.Unix(1, 0), Offset: geometry.Point{X: 1}, Correction: geometry.Point{Y: 2}, RA: 0.5, DEC: -0.25}
	r := p.Record()
	if !r.When.Equal(p.When) || r.Offset != p.Offset || r.Correction != p.Correction || r.RA != 0.5 || r.DEC != -0.25 {
		t.Errorf("Record() = %+v", r)
	}
}

func TestMultiSink_ForwardsInOrder(t *testing.T) {
	var got []string
	var m MultiSink
	m.Add(SinkFunc(func(e Event) { got = append(got, "a") }))
	m.Add(SinkFunc(func(e Event) { got = append(got, "b") }))
	m.Publish(ProgressUpdate{Activity: ActivityCalibration, Fraction: 0.5})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("sinks called %v, want [a b]", got)
	}
}

func TestDescriptor_String(t *testing.T) {
	cases := []struct {
		d    Descriptor
		want string
	}{
		{Descriptor{Camera: "sim", GuidePort: "gpio"}, "sim/0/gpio"},
		{Descriptor{Camera: "cam", CCD: 1, GuidePort: "serial", AdaptiveOptics: "ao"}, "cam/1/serial/ao"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.d.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}
