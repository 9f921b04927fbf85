// Package store persists calibrations, tracking history and backlash
// results. The guiding code only ever appends to a store while it runs.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
	"github.com/cjeanneret/GuideGo/internal/logic/geometry"
)

// TrackingRecord is one guiding cycle as stored.
type TrackingRecord struct {
	When       time.Time      `json:"when" yaml:"when"`
	Offset     geometry.Point `json:"offset" yaml:"offset"`
	Correction geometry.Point `json:"correction" yaml:"correction"`
	RA         float64        `json:"ra" yaml:"ra"`   // seconds of RA pulse, signed
	DEC        float64        `json:"dec" yaml:"dec"` // seconds of DEC pulse, signed
}

// CalibrationStore accepts accepted calibrations.
type CalibrationStore interface {
	SaveCalibration(ctx context.Context, key string, c *calibration.Calibration) error
}

// TrackingStore accepts tracking history and backlash results.
type TrackingStore interface {
	AppendTracking(ctx context.Context, key, run string, records ...TrackingRecord) error
	SaveBacklash(ctx context.Context, key string, r *backlash.Result) error
}

// Store is a complete persistence backend. Keys identify the guider,
// see guiding.Descriptor.
type Store interface {
	CalibrationStore
	TrackingStore
	// LoadCalibration returns the most recent calibration saved under
	// key, or an error wrapping guideerr.ErrNoCalibration.
	LoadCalibration(ctx context.Context, key string) (*calibration.Calibration, error)
	Close() error
}

// NewRunID returns a fresh identifier for a guiding run.
func NewRunID() string {
	return uuid.NewString()
}

// fileKey turns a guider key into something usable in a file name.
func fileKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_", "..", "_")
	if key == "" {
		return "default"
	}
	return r.Replace(key)
}
