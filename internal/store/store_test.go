package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

const key = "sim/0/sim"

func testCalibration(id string) *calibration.Calibration {
	return &calibration.Calibration{
		ID:           id,
		When:         time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC),
		A:            calibration.Matrix{7.9, -1.1, 0, 1.2, 8.1, 0},
		FocalLength:  0.5,
		PixelSize:    5.4e-6,
		GridConstant: 5,
	}
}

func testRecords() []TrackingRecord {
	when := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	return []TrackingRecord{
		{When: when, Offset: geometry.Point{X: 1, Y: -0.5}, Correction: geometry.Point{X: 0.5, Y: -0.25}, RA: 0.06},
		{When: when.Add(2 * time.Second), Offset: geometry.Point{X: 0.4}, Correction: geometry.Point{X: 0.2}, DEC: -0.01},
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.LoadCalibration(ctx, key); !errors.Is(err, guideerr.ErrNoCalibration) {
		t.Errorf("empty store: err = %v, want ErrNoCalibration", err)
	}
	_ = s.SaveCalibration(ctx, key, testCalibration("a"))
	_ = s.SaveCalibration(ctx, key, testCalibration("b"))
	c, err := s.LoadCalibration(ctx, key)
	if err != nil || c.ID != "b" {
		t.Errorf("LoadCalibration = %v, %v; want b", c, err)
	}

	run := NewRunID()
	records := testRecords()
	_ = s.AppendTracking(ctx, key, run, records[0])
	_ = s.AppendTracking(ctx, key, run, records[1])
	if got := s.Tracking(key, run); len(got) != 2 || got[1].DEC != -0.01 {
		t.Errorf("Tracking = %+v", got)
	}
	if runs := s.Runs(key); len(runs) != 1 || runs[0] != run {
		t.Errorf("Runs = %v", runs)
	}

	_ = s.SaveBacklash(ctx, key, &backlash.Result{Axis: backlash.DEC, BacklashPlus: 1.5})
	if got := s.Backlash(key); len(got) != 1 || got[0].BacklashPlus != 1.5 {
		t.Errorf("Backlash = %+v", got)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, err := s.LoadCalibration(ctx, key); !errors.Is(err, guideerr.ErrNoCalibration) {
		t.Errorf("missing file: err = %v, want ErrNoCalibration", err)
	}

	want := testCalibration("c1")
	if err := s.SaveCalibration(ctx, key, want); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sim_0_sim.calibration.yaml")); err != nil {
		t.Errorf("calibration file: %v", err)
	}
	got, err := s.LoadCalibration(ctx, key)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if got.ID != want.ID || got.A != want.A || !got.When.Equal(want.When) {
		t.Errorf("LoadCalibration = %+v, want %+v", got, want)
	}

	records := testRecords()
	run := "run1"
	if err := s.AppendTracking(ctx, key, run, records[0]); err != nil {
		t.Fatalf("AppendTracking: %v", err)
	}
	if err := s.AppendTracking(ctx, key, run, records[1]); err != nil {
		t.Fatalf("AppendTracking: %v", err)
	}
	back, err := s.LoadTracking(key, run)
	if err != nil {
		t.Fatalf("LoadTracking: %v", err)
	}
	if len(back) != 2 || back[0].Offset != records[0].Offset || back[1].DEC != records[1].DEC {
		t.Errorf("LoadTracking = %+v, want %+v", back, records)
	}

	if err := s.SaveBacklash(ctx, key, &backlash.Result{Axis: backlash.RA}); err != nil {
		t.Errorf("SaveBacklash: %v", err)
	}
}

func TestLoadCalibrationFile_Singular(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.yaml")
	data := "id: x\na: '[1,2,0;2,4,0]'\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCalibrationFile(path); !errors.Is(err, guideerr.ErrNoCalibration) {
		t.Errorf("err = %v, want ErrNoCalibration", err)
	}
}

func TestRedisStore_Disabled(t *testing.T) {
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisOptions{Enabled: false})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	if s.Enabled() {
		t.Error("disabled store reports enabled")
	}
	if err := s.SaveCalibration(ctx, key, testCalibration("x")); err != nil {
		t.Errorf("SaveCalibration: %v", err)
	}
	if err := s.AppendTracking(ctx, key, "r", testRecords()...); err != nil {
		t.Errorf("AppendTracking: %v", err)
	}
	if _, err := s.LoadCalibration(ctx, key); !errors.Is(err, guideerr.ErrNoCalibration) {
		t.Errorf("LoadCalibration: err = %v, want ErrNoCalibration", err)
	}
	if got := s.Key(key, "tracking", "r"); got != "guidego:sim/0/sim:tracking:r" {
		t.Errorf("Key = %q", got)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemoryStore(), NewMemoryStore()
	m := Multi{a, b}

	if err := m.SaveCalibration(ctx, key, testCalibration("m")); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}
	if len(a.Calibrations(key)) != 1 || len(b.Calibrations(key)) != 1 {
		t.Error("calibration not written to every store")
	}
	if c, err := (Multi{NewMemoryStore(), b}).LoadCalibration(ctx, key); err != nil || c.ID != "m" {
		t.Errorf("LoadCalibration = %v, %v", c, err)
	}
	if _, err := (Multi{}).LoadCalibration(ctx, key); !errors.Is(err, guideerr.ErrNoCalibration) {
		t.Errorf("empty Multi: err = %v, want ErrNoCalibration", err)
	}
}
