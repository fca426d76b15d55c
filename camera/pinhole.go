package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Pinhole is a camera without lens distortion.
type Pinhole struct {
	intrinsicsBase
}

// NewPinhole returns a pinhole camera with identity intrinsics.
func NewPinhole() *Pinhole {
	return &Pinhole{intrinsicsBase: newIntrinsicsBase()}
}

// Name returns the variant name.
func (p *Pinhole) Name() string {
	return PinholeName
}

// Distort projects the ray onto the z=1 plane.
func (p *Pinhole) Distort(w r3.Vector) r2.Point {
	return ProjectRay(w)
}

// Undistort is the identity.
func (p *Pinhole) Undistort(pt r2.Point) r2.Point {
	return pt
}

// DistortionCoefficients is always empty.
func (p *Pinhole) DistortionCoefficients() []float64 {
	return []float64{}
}

// SetDistortionCoefficients only accepts an empty slice.
func (p *Pinhole) SetDistortionCoefficients(c []float64) error {
	return setCoefficients(PinholeName, nil, c)
}

// CoefficientsVector returns [fx, fy, cx, cy].
func (p *Pinhole) CoefficientsVector() []float64 {
	return p.coefficientsVector(nil)
}
