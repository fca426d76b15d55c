package transform

import "github.com/pkg/errors"

var (
	// ErrPoseEstimationFailed is returned (wrapped) when no pose can be recovered from a set of
	// point correspondences.
	ErrPoseEstimationFailed = errors.New("pose estimation failed")
	// ErrDegenerateConfiguration is returned (wrapped) when the points do not constrain a unique
	// homography, e.g: too many collinear points.
	ErrDegenerateConfiguration = errors.New("degenerate point configuration")
	// ErrNotEnoughInliers is returned by the RANSAC search when no sample reaches the minimum
	// inlier count.
	ErrNotEnoughInliers = errors.New("not enough inliers")
)

// NewNotEnoughPointsError is used when fewer than the minimum number of correspondences are given.
func NewNotEnoughPointsError(need, got int) error {
	return errors.Errorf("need at least %d point correspondences, got %d", need, got)
}

// NewMismatchedPointsError is used when the two sides of a correspondence set differ in length.
func NewMismatchedPointsError(a, b int) error {
	return errors.Errorf("sets of points must have the same number of elements, got %d and %d", a, b)
}
