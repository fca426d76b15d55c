package calibration

import "github.com/pkg/errors"

var (
	// ErrInsufficientPoints marks an image with fewer correspondences than pose estimation needs.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrPoseEstimationFailure marks an image whose initial pose could not be estimated.
	ErrPoseEstimationFailure = errors.New("pose estimation failure")
	// ErrUnimplementedCalibration is set on the result when no builder is registered for a model.
	ErrUnimplementedCalibration = errors.New("calibration is not implemented for this camera model")
	// ErrSolverNonConvergence is set on the result when the solver did not reach a usable solution.
	ErrSolverNonConvergence = errors.New("solver did not converge")
	// ErrMeanEstimationTypeMismatch is returned when averaging cameras of different models.
	ErrMeanEstimationTypeMismatch = errors.New("cannot average cameras of different models")
	// ErrNoObservations is returned when calibrating without any images.
	ErrNoObservations = errors.New("no observations to calibrate from")
)

// NewInsufficientPointsError is used when image i has fewer than need correspondences.
func NewInsufficientPointsError(i, got, need int) error {
	return errors.Wrapf(ErrInsufficientPoints, "image %d has %d correspondences, need %d", i, got, need)
}

// NewUnimplementedCalibrationError is used when a model has no registered builder.
func NewUnimplementedCalibrationError(model string) error {
	return errors.Wrapf(ErrUnimplementedCalibration, "model %q", model)
}
