package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// AngularCoefficients is the number of distortion coefficients of an AngularPolynomial.
const AngularCoefficients = 4

// TanApproximationCoefficients make the distorted angle approximate tan(theta), so that an
// AngularPolynomial behaves close to a pinhole camera for moderate fields of view. They are a
// useful starting point when calibrating a narrow lens with the angular model.
var TanApproximationCoefficients = []float64{0.334961658, 0.118066350, 0.092151584, 0}

// AngularPolynomial is an equidistant (fisheye style) model where the distorted radius is an odd
// polynomial of the angle between the ray and the optical axis.
type AngularPolynomial struct {
	intrinsicsBase
	K [AngularCoefficients]float64
}

// NewAngularPolynomial returns an angular model with identity intrinsics and zero coefficients.
func NewAngularPolynomial() *AngularPolynomial {
	return &AngularPolynomial{intrinsicsBase: newIntrinsicsBase()}
}

// Name returns the variant name.
func (a *AngularPolynomial) Name() string {
	return AngularPolynomialName
}

// DistortAngular applies the angular polynomial k to the ray w.
func DistortAngular(k []float64, w r3.Vector) r2.Point {
	theta := math.Atan2(math.Hypot(w.X, w.Y), w.Z)
	psi := math.Atan2(w.Y, w.X)
	td := distortTheta(k, theta)
	return r2.Point{X: td * math.Cos(psi), Y: td * math.Sin(psi)}
}

func distortTheta(k []float64, theta float64) float64 {
	t2 := theta * theta
	return theta * (1 + t2*(k[0]+t2*(k[1]+t2*(k[2]+t2*k[3]))))
}

func distortThetaDerivative(k []float64, theta float64) float64 {
	t2 := theta * theta
	return 1 + t2*(3*k[0]+t2*(5*k[1]+t2*(7*k[2]+t2*9*k[3])))
}

// Distort maps a ray to the normalized distorted plane.
func (a *AngularPolynomial) Distort(w r3.Vector) r2.Point {
	return DistortAngular(a.K[:], w)
}

// Undistort returns the pinhole projection of the ray that distorts to p.
func (a *AngularPolynomial) Undistort(p r2.Point) r2.Point {
	rd := p.Norm()
	if rd == 0 {
		return r2.Point{}
	}
	theta, ok := a.solveTheta(rd)
	if !ok {
		forward := func(q r2.Point) r2.Point {
			return a.Distort(r3.Vector{X: q.X, Y: q.Y, Z: 1})
		}
		return minimizeInverse(forward, p, p.Mul(math.Tan(math.Min(rd, 1.5))/rd))
	}
	return p.Mul(math.Tan(theta) / rd)
}

// solveTheta finds theta in [0, pi/2) with distortTheta(theta) = rd by Newton's method, kept inside
// the interval by bisecting toward the violated end.
func (a *AngularPolynomial) solveTheta(rd float64) (float64, bool) {
	const upper = math.Pi / 2
	k := a.K[:]
	theta := math.Min(rd, upper*0.99)
	for i := 0; i < newtonIterations; i++ {
		f := distortTheta(k, theta) - rd
		if math.Abs(f) < newtonTolerance {
			return theta, true
		}
		d := distortThetaDerivative(k, theta)
		if !(d > 0) {
			return theta, false
		}
		next := theta - f/d
		switch {
		case next < 0:
			next = theta / 2
		case next >= upper:
			next = (theta + upper) / 2
		}
		theta = next
	}
	return theta, math.Abs(distortTheta(k, theta)-rd) < newtonTolerance
}

// DistortionCoefficients returns k1..k4.
func (a *AngularPolynomial) DistortionCoefficients() []float64 {
	return append([]float64{}, a.K[:]...)
}

// SetDistortionCoefficients sets up to 4 coefficients, zero filling the rest.
func (a *AngularPolynomial) SetDistortionCoefficients(c []float64) error {
	return setCoefficients(AngularPolynomialName, a.K[:], c)
}

// CoefficientsVector returns [fx, fy, cx, cy, k1, k2, k3, k4].
func (a *AngularPolynomial) CoefficientsVector() []float64 {
	return a.coefficientsVector(a.K[:])
}
