// Package guideerr defines the error kinds shared by the guiding packages.
//
// Callers match them with errors.Is; producers wrap them with
// fmt.Errorf("...: %w", guideerr.ErrX) to add context.
package guideerr

import "errors"

var (
	// ErrBadState: the operation is not valid in the current guider or device state.
	ErrBadState = errors.New("bad state")

	// ErrBadParameter: a caller supplied an out-of-range value.
	ErrBadParameter = errors.New("bad parameter")

	// ErrNoCalibration: guiding was requested without a usable calibration.
	ErrNoCalibration = errors.New("no usable calibration")

	// ErrCalibrationFailed: the calibration fit could not produce a usable matrix.
	ErrCalibrationFailed = errors.New("calibration failed")

	// ErrInsufficientData: too few samples for an estimate.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoStarFound: the star tracker found nothing above the noise threshold.
	ErrNoStarFound = errors.New("no star found")

	// ErrLowConfidence: the phase correlation peak is not distinct enough.
	ErrLowConfidence = errors.New("low correlation confidence")
)

// Recoverable reports whether err only affects a single guiding cycle.
// Tracker failures are absorbed by the loop; anything else ends the run.
func Recoverable(err error) bool {
	return errors.Is(err, ErrNoStarFound) || errors.Is(err, ErrLowConfidence)
}
