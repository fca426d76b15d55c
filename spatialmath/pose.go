package spatialmath

import (
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/utils"
)

// PoseParams is the number of scalar parameters in a Pose: three for the axis angle rotation and
// three for the translation.
const PoseParams = 6

// Pose is a rigid transform from the target frame into the camera frame. Rotation is an R3 axis
// angle whose norm is the angle in radians.
type Pose struct {
	Rotation    r3.Vector `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// NewPoseFromRotationMatrix builds a pose from a rotation matrix and translation.
func NewPoseFromRotationMatrix(rm *RotationMatrix, t r3.Vector) Pose {
	return Pose{Rotation: rm.ToR3(), Translation: t}
}

// Transform maps the point from the target frame into the camera frame.
func (p Pose) Transform(pt r3.Vector) r3.Vector {
	return RotateR3(p.Rotation, pt).Add(p.Translation)
}

// RotationMatrix returns the rotation part of the pose as a matrix.
func (p Pose) RotationMatrix() *RotationMatrix {
	return R3ToRotationMatrix(p.Rotation)
}

// Params flattens the pose into [rx, ry, rz, tx, ty, tz].
func (p Pose) Params() []float64 {
	return []float64{
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z,
		p.Translation.X, p.Translation.Y, p.Translation.Z,
	}
}

// PoseFromParams is the inverse of Pose.Params.
func PoseFromParams(params []float64) (Pose, error) {
	if len(params) != PoseParams {
		return Pose{}, utils.NewLengthMismatchError("pose parameters", PoseParams, len(params))
	}
	return poseFromParams(params), nil
}

// TransformParams applies the pose encoded as [rx, ry, rz, tx, ty, tz] to the point. It is the
// allocation free path used by residual evaluation.
func TransformParams(params []float64, pt r3.Vector) r3.Vector {
	return poseFromParams(params).Transform(pt)
}

func poseFromParams(params []float64) Pose {
	return Pose{
		Rotation:    r3.Vector{X: params[0], Y: params[1], Z: params[2]},
		Translation: r3.Vector{X: params[3], Y: params[4], Z: params[5]},
	}
}

// IsZero reports whether both the rotation and translation are zero. Images excluded from a
// calibration keep a zero pose.
func (p Pose) IsZero() bool {
	return p.Rotation == (r3.Vector{}) && p.Translation == (r3.Vector{})
}
