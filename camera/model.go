package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// The model names used for serialization dispatch.
const (
	PinholeName                = "pinhole"
	AngularPolynomialName      = "AngularPolynomial"
	RadialPolynomialName       = "RadialPolynomial"
	RadialPolynomialRobustName = "RadialPolynomialRobust"
)

// Model is a pinhole camera with a lens distortion model layered between the camera frame and the
// normalized image plane.
type Model interface {
	// Name is the variant name, stable across serialization.
	Name() string
	// Intrinsics is shared with the caller and may be mutated in place.
	Intrinsics() *Intrinsics
	SetIntrinsics(Intrinsics)
	Normalize(r2.Point) r2.Point
	Image(r2.Point) r2.Point
	// Distort maps a ray in the camera frame to a normalized distorted point.
	Distort(r3.Vector) r2.Point
	// Undistort maps a normalized distorted point to a normalized undistorted point.
	Undistort(r2.Point) r2.Point
	DistortionCoefficients() []float64
	SetDistortionCoefficients([]float64) error
	// CoefficientsVector is [fx, fy, cx, cy, distortion...].
	CoefficientsVector() []float64
}

// RobustModel is implemented by models whose calibrations always use a robust loss.
type RobustModel interface {
	Model
	UsesRobustLoss() bool
}

// IsRobust reports whether calibrating m should attach a robust loss.
func IsRobust(m Model) bool {
	rm, ok := m.(RobustModel)
	return ok && rm.UsesRobustLoss()
}

// NewModel returns a model of the named variant with identity intrinsics and zero distortion.
func NewModel(name string) (Model, error) {
	switch name {
	case PinholeName:
		return NewPinhole(), nil
	case AngularPolynomialName:
		return NewAngularPolynomial(), nil
	case RadialPolynomialName, "CeresRadialPolynomial", "OpencvRadialPolynomial":
		return NewRadialPolynomial(), nil
	case RadialPolynomialRobustName:
		return NewRadialPolynomialRobust(), nil
	default:
		return nil, errors.Errorf("do not know how to parse %q camera model", name)
	}
}

// NewModelFromCoefficients builds a model from a flattened coefficient vector as returned by
// CoefficientsVector. Alpha is left at zero.
func NewModelFromCoefficients(name string, coeffs []float64) (Model, error) {
	m, err := NewModel(name)
	if err != nil {
		return nil, err
	}
	if len(coeffs) < 4 {
		return nil, errors.Errorf("coefficient vector needs at least 4 values, got %d", len(coeffs))
	}
	var in Intrinsics
	if err := in.SetParams(coeffs[:4]); err != nil {
		return nil, err
	}
	if err := in.CheckValid(); err != nil {
		return nil, err
	}
	m.SetIntrinsics(in)
	if err := m.SetDistortionCoefficients(coeffs[4:]); err != nil {
		return nil, err
	}
	return m, nil
}

// Copy returns a deep copy of m.
func Copy(m Model) (Model, error) {
	out, err := NewModel(m.Name())
	if err != nil {
		return nil, err
	}
	out.SetIntrinsics(*m.Intrinsics())
	if err := out.SetDistortionCoefficients(m.DistortionCoefficients()); err != nil {
		return nil, err
	}
	return out, nil
}

// intrinsicsBase holds the parts shared by all variants.
type intrinsicsBase struct {
	intrinsics Intrinsics
}

func newIntrinsicsBase() intrinsicsBase {
	return intrinsicsBase{intrinsics: IdentityIntrinsics()}
}

func (b *intrinsicsBase) Intrinsics() *Intrinsics {
	return &b.intrinsics
}

func (b *intrinsicsBase) SetIntrinsics(in Intrinsics) {
	b.intrinsics = in
}

func (b *intrinsicsBase) Normalize(p r2.Point) r2.Point {
	return b.intrinsics.Normalize(p)
}

func (b *intrinsicsBase) Image(p r2.Point) r2.Point {
	return b.intrinsics.Image(p)
}

func (b *intrinsicsBase) coefficientsVector(dist []float64) []float64 {
	return append(b.intrinsics.Params(), dist...)
}

// setCoefficients copies src into dst, zero filling when src is shorter.
func setCoefficients(name string, dst, src []float64) error {
	if len(src) > len(dst) {
		return errors.Errorf("%s takes at most %d distortion coefficients, got %d", name, len(dst), len(src))
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, src)
	return nil
}

// ProjectRay divides a ray by its depth, giving a point on the z=1 plane.
func ProjectRay(w r3.Vector) r2.Point {
	return r2.Point{X: w.X / w.Z, Y: w.Y / w.Z}
}
