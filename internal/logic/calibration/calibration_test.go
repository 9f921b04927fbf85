package calibration

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

func testCalibration() *Calibration {
	return &Calibration{
		ID:           "5f0c8a46-2b1e-4a55-9c39-0c6a0fb0e7a1",
		When:         time.Date(2024, 3, 9, 22, 15, 0, 0, time.UTC),
		A:            Matrix{7.9, -1.1, 0.02, 1.2, 8.1, -0.0125},
		FocalLength:  0.5,
		PixelSize:    5.4e-6,
		GridConstant: 5,
		Drift:        geometry.Point{X: 0.05, Y: -0.02},
	}
}

func TestMatrix_TextRoundTrip(t *testing.T) {
	a := Matrix{1, -2.5, 1e-7, 0.1, 3, 123456.789}
	s := a.String()
	if s != "[1,-2.5,1e-07;0.1,3,123456.789]" {
		t.Errorf("String = %q", s)
	}
	b, err := ParseMatrix(s)
	if err != nil {
		t.Fatalf("ParseMatrix: %v", err)
	}
	if b != a {
		t.Errorf("round trip = %v, want %v", b, a)
	}
	if b, err = ParseMatrix(" [ 1, 2, 3 ; 4, 5, 6 ] "); err != nil || b != (Matrix{1, 2, 3, 4, 5, 6}) {
		t.Errorf("ParseMatrix with spaces = %v, %v", b, err)
	}
}

func TestParseMatrix_Errors(t *testing.T) {
	cases := []string{
		"",
		"1,2,3;4,5,6",
		"[1,2,3]",
		"[1,2;3,4]",
		"[1,2,3;4,5,x]",
		"[1,2,3;4,5,6;7,8,9]",
	}
	for _, s := range cases {
		if _, err := ParseMatrix(s); !errors.Is(err, guideerr.ErrBadParameter) {
			t.Errorf("ParseMatrix(%q): err = %v, want ErrBadParameter", s, err)
		}
	}
}

func TestCalibration_JSONRoundTrip(t *testing.T) {
	c := testCalibration()
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal map: %v", err)
	}
	if m["a"] != "[7.9,-1.1,0.02;1.2,8.1,-0.0125]" {
		t.Errorf("a = %v", m["a"])
	}

	var back Calibration
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.A != c.A || back.ID != c.ID || !back.When.Equal(c.When) || back.Drift != c.Drift {
		t.Errorf("round trip = %+v, want %+v", back, c)
	}
}

func TestCalibration_YAMLRoundTrip(t *testing.T) {
	c := testCalibration()
	c.Points = []Point{{RA: 5, When: c.When, Offset: geometry.Point{X: 39.5, Y: 6}}}
	data, err := yaml.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Calibration
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v\n%s", err, data)
	}
	if back.A != c.A || back.PixelSize != c.PixelSize || len(back.Points) != 1 || back.Points[0].Offset != c.Points[0].Offset {
		t.Errorf("round trip = %+v, want %+v", back, c)
	}
}

func TestCalibration_Pulses(t *testing.T) {
	c := testCalibration()
	want := geometry.Point{X: 3, Y: -4}
	ra, dec, err := c.Pulses(want)
	if err != nil {
		t.Fatalf("Pulses: %v", err)
	}
	got := c.A.Apply(ra, dec).Sub(c.A.Apply(0, 0))
	if math.Abs(got.X-want.X) > 1e-9 || math.Abs(got.Y-want.Y) > 1e-9 {
		t.Errorf("A·Pulses(%v) = %v", want, got)
	}

	tx, ty := c.DefaultCorrection()
	comp := c.A.Apply(tx, ty).Sub(c.A.Apply(0, 0))
	if math.Abs(comp.X+c.Drift.X) > 1e-9 || math.Abs(comp.Y+c.Drift.Y) > 1e-9 {
		t.Errorf("default correction moves %v, want %v", comp, c.Drift.Scale(-1))
	}
}

func TestCalibration_Usable(t *testing.T) {
	cases := []struct {
		name string
		a    Matrix
		want bool
	}{
		{"regular", Matrix{1, 0, 0, 0, 1, 0}, true},
		{"singular", Matrix{1, 2, 0, 2, 4, 0}, false},
		{"tiny", Matrix{1e-5, 0, 0, 0, 1e-5, 0}, false},
		{"nan", Matrix{math.NaN(), 0, 0, 0, 1, 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Calibration{A: tc.a}
			if got := c.Usable(); got != tc.want {
				t.Errorf("Usable = %v, want %v", got, tc.want)
			}
		})
	}
	var none *Calibration
	if none.Usable() {
		t.Error("nil calibration must not be usable")
	}
	if _, _, err := (&Calibration{A: Matrix{1, 2, 0, 2, 4, 0}}).Pulses(geometry.Point{X: 1}); !errors.Is(err, guideerr.ErrNoCalibration) {
		t.Errorf("Pulses on singular: err = %v, want ErrNoCalibration", err)
	}
}

func TestCalibration_Quality(t *testing.T) {
	if q := (&Calibration{A: Matrix{2, 0, 0, 0, 3, 0}}).Quality(); math.Abs(q-1) > 1e-12 {
		t.Errorf("orthogonal quality = %v, want 1", q)
	}
	if q := (&Calibration{A: Matrix{1, 2, 0, 1, 2, 0}}).Quality(); math.Abs(q) > 1e-12 {
		t.Errorf("parallel quality = %v, want 0", q)
	}
}
