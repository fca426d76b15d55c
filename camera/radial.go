package camera

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/solver"
)

// RadialCoefficients is the number of distortion coefficients of a RadialPolynomial, ordered
// k1, k2, p1, p2, k3, k4, k5, k6.
const RadialCoefficients = 8

// RadialPolynomial is the Brown-Conrady model with a rational radial term and two tangential
// coefficients.
type RadialPolynomial struct {
	intrinsicsBase
	K [RadialCoefficients]float64
}

// NewRadialPolynomial returns a radial model with identity intrinsics and zero coefficients.
func NewRadialPolynomial() *RadialPolynomial {
	return &RadialPolynomial{intrinsicsBase: newIntrinsicsBase()}
}

// Name returns the variant name.
func (rp *RadialPolynomial) Name() string {
	return RadialPolynomialName
}

// DistortRadial applies the coefficients k (k1, k2, p1, p2, k3, k4, k5, k6) to a point on the z=1
// plane.
func DistortRadial(k []float64, p r2.Point) r2.Point {
	k1, k2, p1, p2, k3, k4, k5, k6 := k[0], k[1], k[2], k[3], k[4], k[5], k[6], k[7]
	xp, yp := p.X, p.Y
	rsq := xp*xp + yp*yp
	r4 := rsq * rsq
	r6 := r4 * rsq
	radial := (1 + k1*rsq + k2*r4 + k3*r6) / (1 + k4*rsq + k5*r4 + k6*r6)
	return r2.Point{
		X: xp*radial + 2*p1*xp*yp + p2*(rsq+2*xp*xp),
		Y: yp*radial + p1*(rsq+2*yp*yp) + 2*p2*xp*yp,
	}
}

// Distort maps a ray to the normalized distorted plane.
func (rp *RadialPolynomial) Distort(w r3.Vector) r2.Point {
	return DistortRadial(rp.K[:], ProjectRay(w))
}

func (rp *RadialPolynomial) forward(q r2.Point) r2.Point {
	return DistortRadial(rp.K[:], q)
}

// Undistort inverts the distortion with Newton's method, falling back to a direct minimization of
// the forward error when Newton does not converge.
func (rp *RadialPolynomial) Undistort(p r2.Point) r2.Point {
	u, ok := newtonInverse(rp.forward, p)
	if ok {
		return u
	}
	return minimizeInverse(rp.forward, p, p)
}

// DistortionCoefficients returns k1, k2, p1, p2, k3, k4, k5, k6.
func (rp *RadialPolynomial) DistortionCoefficients() []float64 {
	return append([]float64{}, rp.K[:]...)
}

// SetDistortionCoefficients sets up to 8 coefficients, zero filling the rest.
func (rp *RadialPolynomial) SetDistortionCoefficients(c []float64) error {
	return setCoefficients(rp.Name(), rp.K[:], c)
}

// CoefficientsVector returns [fx, fy, cx, cy, k1, k2, p1, p2, k3, k4, k5, k6].
func (rp *RadialPolynomial) CoefficientsVector() []float64 {
	return rp.coefficientsVector(rp.K[:])
}

// RadialPolynomialRobust is a RadialPolynomial whose calibrations use a robust loss and whose
// undistortion is refined by the least squares solver.
type RadialPolynomialRobust struct {
	RadialPolynomial
}

// NewRadialPolynomialRobust returns a robust radial model with identity intrinsics and zero
// coefficients.
func NewRadialPolynomialRobust() *RadialPolynomialRobust {
	return &RadialPolynomialRobust{RadialPolynomial: *NewRadialPolynomial()}
}

// Name returns the variant name.
func (rr *RadialPolynomialRobust) Name() string {
	return RadialPolynomialRobustName
}

// UsesRobustLoss is always true.
func (rr *RadialPolynomialRobust) UsesRobustLoss() bool {
	return true
}

// SetDistortionCoefficients sets up to 8 coefficients, zero filling the rest.
func (rr *RadialPolynomialRobust) SetDistortionCoefficients(c []float64) error {
	return setCoefficients(rr.Name(), rr.K[:], c)
}

// Undistort runs the RadialPolynomial inversion and then polishes the result with the solver.
func (rr *RadialPolynomialRobust) Undistort(p r2.Point) r2.Point {
	u := rr.RadialPolynomial.Undistort(p)
	polished, err := polishInverse(rr.forward, p, u)
	if err != nil {
		return u
	}
	return polished
}

func polishInverse(forward forwardMap, target, start r2.Point) (r2.Point, error) {
	x := []float64{start.X, start.Y}
	cost, err := solver.NewNumericDiffCostFunction(func(params [][]float64, residuals []float64) error {
		d := forward(r2.Point{X: params[0][0], Y: params[0][1]}).Sub(target)
		residuals[0], residuals[1] = d.X, d.Y
		return nil
	}, 2, 2)
	if err != nil {
		return start, err
	}
	problem := solver.NewProblem()
	if err := problem.AddResidualBlock(cost, nil, x); err != nil {
		return start, err
	}
	opts := solver.DefaultOptions()
	opts.MaxIterations = 10
	opts.NumThreads = 1
	if _, err := solver.Solve(context.Background(), problem, opts); err != nil {
		return start, err
	}
	return r2.Point{X: x[0], Y: x[1]}, nil
}
