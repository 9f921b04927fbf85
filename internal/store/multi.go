package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cjeanneret/GuideGo/internal/guideerr"
	"github.com/cjeanneret/GuideGo/internal/logic/backlash"
	"github.com/cjeanneret/GuideGo/internal/logic/calibration"
)

// Multi writes to every store and reads from the first that has the
// requested calibration.
type Multi []Store

func (m Multi) SaveCalibration(ctx context.Context, key string, c *calibration.Calibration) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveCalibration(ctx, key, c))
	}
	return errors.Join(errs...)
}

func (m Multi) LoadCalibration(ctx context.Context, key string) (*calibration.Calibration, error) {
	var errs []error
	for _, s := range m {
		c, err := s.LoadCalibration(ctx, key)
		if err == nil {
			return c, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no store configured: %w", guideerr.ErrNoCalibration)
	}
	return nil, errors.Join(errs...)
}

func (m Multi) AppendTracking(ctx context.Context, key, run string, records ...TrackingRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.AppendTracking(ctx, key, run, records...))
	}
	return errors.Join(errs...)
}

func (m Multi) SaveBacklash(ctx context.Context, key string, r *backlash.Result) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveBacklash(ctx, key, r))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
