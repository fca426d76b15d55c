package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	newtonIterations = 20
	newtonTolerance  = 1e-13
)

type forwardMap func(r2.Point) r2.Point

// newtonInverse solves forward(u) = target starting from target itself. The Jacobian of the
// forward map is taken by central differences.
func newtonInverse(forward forwardMap, target r2.Point) (r2.Point, bool) {
	u := target
	jac := mat.NewDense(2, 2, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	f := func(y, x []float64) {
		q := forward(r2.Point{X: x[0], Y: x[1]})
		y[0], y[1] = q.X, q.Y
	}
	for i := 0; i < newtonIterations; i++ {
		res := forward(u).Sub(target)
		if res.Norm() < newtonTolerance {
			return u, true
		}
		fd.Jacobian(jac, f, []float64{u.X, u.Y}, settings)
		a, b := jac.At(0, 0), jac.At(0, 1)
		c, d := jac.At(1, 0), jac.At(1, 1)
		det := a*d - b*c
		if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
			return u, false
		}
		u = r2.Point{
			X: u.X - (d*res.X-b*res.Y)/det,
			Y: u.Y - (-c*res.X+a*res.Y)/det,
		}
	}
	return u, forward(u).Sub(target).Norm() < newtonTolerance
}

// minimizeInverse finds the point whose image under forward is closest to target using a
// derivative free search from start.
func minimizeInverse(forward forwardMap, target, start r2.Point) r2.Point {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			d := forward(r2.Point{X: x[0], Y: x[1]}).Sub(target)
			return d.Dot(d)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-28,
			Iterations: 100,
		},
	}
	result, err := optimize.Minimize(problem, []float64{start.X, start.Y}, settings, &optimize.NelderMead{})
	if result == nil || (err != nil && len(result.X) != 2) {
		return start
	}
	return r2.Point{X: result.X[0], Y: result.X[1]}
}
