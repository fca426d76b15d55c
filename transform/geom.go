// Package transform holds the planar and projective geometry used to bootstrap a calibration:
// homographies, a RANSAC homography inlier search and pose-from-points estimation.
package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2: the centroid
// moves to the origin and the mean distance to it becomes sqrt(2).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T
}

// normalizePoints3D centers the points and scales them to a mean distance of sqrt(3) from the
// origin. It returns the normalized points with the centroid and scale used.
func normalizePoints3D(pts []r3.Vector) ([]r3.Vector, r3.Vector, float64) {
	nPoints := float64(len(pts))
	centroid := r3.Vector{}
	for _, pt := range pts {
		centroid = centroid.Add(pt)
	}
	centroid = centroid.Mul(1 / nPoints)

	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(centroid).Norm() / nPoints
	}
	scale := 1.0
	if d > 0 {
		scale = math.Sqrt(3) / d
	}
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(centroid).Mul(scale)
	}
	return out, centroid, scale
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U      *mat.Dense
	V      *mat.Dense
	Values []float64
}

// performSVD performs SVD on inputMatrix and returns U, V and the singular values in descending
// order. It returns nil if the factorization fails.
func performSVD(inputMatrix mat.Matrix) *matsSVD {
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}

	u, v := &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	return &matsSVD{U: u, V: v, Values: svd.Values(nil)}
}

// nullVector returns the right singular vector of the smallest singular value of a, padding a with
// zero rows when it has fewer rows than columns so the full V is always available. The second value
// is the ratio between the second smallest and the largest singular value; a tiny ratio means the
// null space is more than one dimensional.
func nullVector(a *mat.Dense) ([]float64, float64, bool) {
	rows, cols := a.Dims()
	if rows < cols {
		padded := mat.NewDense(cols, cols, nil)
		padded.Slice(0, rows, 0, cols).(*mat.Dense).Copy(a)
		a = padded
	}
	mats := performSVD(a)
	if mats == nil {
		return nil, 0, false
	}
	out := make([]float64, cols)
	mat.Col(out, cols-1, mats.V)
	conditioning := 0.0
	if mats.Values[0] > 0 {
		conditioning = mats.Values[cols-2] / mats.Values[0]
	}
	return out, conditioning, true
}
