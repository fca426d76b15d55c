// Package camera defines the camera models used by calibration: the shared pinhole intrinsics and
// the lens distortion variants layered on top of them.
package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have valid intrinsics parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// unsetTolerance is the Frobenius distance from identity under which a camera matrix is considered
// never initialized.
const unsetTolerance = 1e-9

// Intrinsics holds the parameters of the pinhole mapping from the normalized image plane to pixels.
type Intrinsics struct {
	Fx    float64 `json:"fx"`
	Fy    float64 `json:"fy"`
	Cx    float64 `json:"cx"`
	Cy    float64 `json:"cy"`
	Alpha float64 `json:"alpha"`
}

// IdentityIntrinsics returns the intrinsics of an identity camera matrix.
func IdentityIntrinsics() Intrinsics {
	return Intrinsics{Fx: 1, Fy: 1}
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (in *Intrinsics) CheckValid() error {
	if in == nil {
		return NewNoIntrinsicsError("Intrinsics not provided")
	}
	if !(in.Fx > 0) || !(in.Fy > 0) {
		return NewNoIntrinsicsError(
			errors.Errorf("focal lengths must be positive, got fx=%v fy=%v", in.Fx, in.Fy).Error())
	}
	for _, v := range []float64{in.Cx, in.Cy, in.Alpha} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewNoIntrinsicsError("principal point and skew must be finite")
		}
	}
	return nil
}

// CameraMatrix returns the 3x3 camera matrix [[fx, alpha*fx, cx], [0, fy, cy], [0, 0, 1]].
func (in *Intrinsics) CameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		in.Fx, in.Alpha * in.Fx, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	})
}

// IntrinsicsFromCameraMatrix is the inverse of CameraMatrix.
func IntrinsicsFromCameraMatrix(m mat.Matrix) (Intrinsics, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return Intrinsics{}, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	if m.At(1, 0) != 0 || m.At(2, 0) != 0 || m.At(2, 1) != 0 || m.At(2, 2) != 1 {
		return Intrinsics{}, errors.New("camera matrix is not upper triangular with a unit corner")
	}
	in := Intrinsics{
		Fx: m.At(0, 0),
		Fy: m.At(1, 1),
		Cx: m.At(0, 2),
		Cy: m.At(1, 2),
	}
	if in.Fx != 0 {
		in.Alpha = m.At(0, 1) / in.Fx
	}
	return in, in.CheckValid()
}

// IsUnset reports whether the camera matrix is still (within tolerance) the identity.
func (in *Intrinsics) IsUnset() bool {
	var diff mat.Dense
	diff.Sub(in.CameraMatrix(), eye3())
	return mat.Norm(&diff, 2) < unsetTolerance
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// InitialCameraEstimate guesses intrinsics from the image size alone: a focal length of
// max(width, height)/pi and the principal point at the image center.
func InitialCameraEstimate(width, height int) Intrinsics {
	f := math.Max(float64(width), float64(height)) / math.Pi
	return Intrinsics{
		Fx: f,
		Fy: f,
		Cx: float64(width)/2 - 0.5,
		Cy: float64(height)/2 - 0.5,
	}
}

// Normalize removes the intrinsics from a pixel coordinate, giving a point on the z=1 plane.
func (in *Intrinsics) Normalize(p r2.Point) r2.Point {
	y := (p.Y - in.Cy) / in.Fy
	x := (p.X-in.Cx)/in.Fx - in.Alpha*y
	return r2.Point{X: x, Y: y}
}

// Image applies the intrinsics to a point on the z=1 plane, giving pixels.
func (in *Intrinsics) Image(p r2.Point) r2.Point {
	return ImageParams(in.Fx, in.Fy, in.Cx, in.Cy, in.Alpha, p)
}

// ImageParams is Image over loose parameters, as used while they are being optimized.
func ImageParams(fx, fy, cx, cy, alpha float64, p r2.Point) r2.Point {
	return r2.Point{
		X: fx*(p.X+alpha*p.Y) + cx,
		Y: fy*p.Y + cy,
	}
}

// Params returns [fx, fy, cx, cy].
func (in *Intrinsics) Params() []float64 {
	return []float64{in.Fx, in.Fy, in.Cx, in.Cy}
}

// SetParams sets fx, fy, cx and cy from a 4 element slice.
func (in *Intrinsics) SetParams(params []float64) error {
	if len(params) != 4 {
		return errors.Errorf("intrinsics need 4 parameters (fx, fy, cx, cy), got %d", len(params))
	}
	in.Fx, in.Fy, in.Cx, in.Cy = params[0], params[1], params[2], params[3]
	return nil
}
