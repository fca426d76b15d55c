package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/camcalib/spatialmath"
)

const (
	minPosePoints       = 4
	minNonPlanarPoints  = 6
	planarityThreshold  = 1e-9
	maxRefineIterations = 200
)

// EstimatePose recovers the rigid transform taking the object points into the camera frame, given
// their projections on the normalized image plane (z = 1, i.e. undistorted points seen through an
// identity camera matrix). Planar targets are initialized from the plane-to-image homography and
// general targets from a 3x4 direct linear transform; both are then refined by minimizing the
// normalized reprojection error.
func EstimatePose(object []r3.Vector, normalized []r2.Point) (spatialmath.Pose, error) {
	if len(object) != len(normalized) {
		return spatialmath.Pose{}, errors.Wrap(ErrPoseEstimationFailed,
			NewMismatchedPointsError(len(object), len(normalized)).Error())
	}
	if len(object) < minPosePoints {
		return spatialmath.Pose{}, errors.Wrap(ErrPoseEstimationFailed,
			NewNotEnoughPointsError(minPosePoints, len(object)).Error())
	}

	basis, centroid, planar, err := principalAxes(object)
	if err != nil {
		return spatialmath.Pose{}, errors.Wrap(ErrPoseEstimationFailed, err.Error())
	}

	var initial spatialmath.Pose
	if planar {
		initial, err = planarPose(object, normalized, basis, centroid)
	} else {
		if len(object) < minNonPlanarPoints {
			return spatialmath.Pose{}, errors.Wrap(ErrPoseEstimationFailed,
				NewNotEnoughPointsError(minNonPlanarPoints, len(object)).Error())
		}
		initial, err = dltPose(object, normalized)
	}
	if err != nil {
		return spatialmath.Pose{}, errors.Wrap(ErrPoseEstimationFailed, err.Error())
	}

	pose := refinePose(initial, object, normalized)
	for _, pt := range object {
		if pose.Transform(pt).Z <= 0 {
			return spatialmath.Pose{}, errors.Wrap(ErrPoseEstimationFailed, "points behind camera")
		}
	}
	return pose, nil
}

// NormalizedReprojectionError returns the RMS distance between the normalized projections of the
// object points under the pose and the observed normalized points.
func NormalizedReprojectionError(pose spatialmath.Pose, object []r3.Vector, normalized []r2.Point) float64 {
	if len(object) == 0 {
		return 0
	}
	return math.Sqrt(poseCost(pose.Params(), object, normalized) / float64(len(object)))
}

// principalAxes returns a right handed basis whose first two columns span the directions of largest
// spread of the points, the centroid, and whether the points lie on a plane.
func principalAxes(object []r3.Vector) (*mat.Dense, r3.Vector, bool, error) {
	centered, centroid, _ := normalizePoints3D(object)
	cov := mat.NewDense(3, 3, nil)
	for _, p := range centered {
		v := []float64{p.X, p.Y, p.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				cov.Set(i, j, cov.At(i, j)+v[i]*v[j])
			}
		}
	}
	mats := performSVD(cov)
	if mats == nil {
		return nil, r3.Vector{}, false, errors.New("svd of point covariance failed")
	}
	if mats.Values[1] < planarityThreshold*mats.Values[0] {
		return nil, r3.Vector{}, false, errors.New("object points are collinear")
	}
	basis := mat.DenseCopyOf(mats.U)
	e1 := r3.Vector{X: basis.At(0, 0), Y: basis.At(1, 0), Z: basis.At(2, 0)}
	e2 := r3.Vector{X: basis.At(0, 1), Y: basis.At(1, 1), Z: basis.At(2, 1)}
	e3 := e1.Cross(e2)
	basis.Set(0, 2, e3.X)
	basis.Set(1, 2, e3.Y)
	basis.Set(2, 2, e3.Z)
	planar := mats.Values[2] < planarityThreshold*mats.Values[0]
	return basis, centroid, planar, nil
}

// planarPose decomposes the homography from plane coordinates to the normalized image,
// H ~ [r1 r2 t], into a pose in the plane frame and then moves it back into the object frame.
func planarPose(object []r3.Vector, normalized []r2.Point, basis *mat.Dense, centroid r3.Vector) (spatialmath.Pose, error) {
	e1 := r3.Vector{X: basis.At(0, 0), Y: basis.At(1, 0), Z: basis.At(2, 0)}
	e2 := r3.Vector{X: basis.At(0, 1), Y: basis.At(1, 1), Z: basis.At(2, 1)}
	planePts := make([]r2.Point, len(object))
	for i, p := range object {
		d := p.Sub(centroid)
		planePts[i] = r2.Point{X: d.Dot(e1), Y: d.Dot(e2)}
	}
	h, err := FindHomography(planePts, normalized)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	h1 := r3.Vector{X: h[0][0], Y: h[1][0], Z: h[2][0]}
	h2 := r3.Vector{X: h[0][1], Y: h[1][1], Z: h[2][1]}
	h3 := r3.Vector{X: h[0][2], Y: h[1][2], Z: h[2][2]}
	norm := (h1.Norm() + h2.Norm()) / 2
	if norm < 1e-12 {
		return spatialmath.Pose{}, errors.New("degenerate plane homography")
	}
	lambda := 1 / norm
	// The plane centroid maps to h3; it must sit in front of the camera.
	if h3.Z < 0 {
		lambda = -lambda
	}
	r1 := h1.Mul(lambda)
	r2v := h2.Mul(lambda)
	r3v := r1.Cross(r2v)
	t := h3.Mul(lambda)

	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	rPlane, err := spatialmath.NearestRotationMatrix(approx)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	// Pcam = Rplane * B^T * (P - c) + t = R * P + (t - R*c)
	var r mat.Dense
	r.Mul(rPlane.Dense(), basis.T())
	rm, err := spatialmath.NewRotationMatrix(r.RawMatrix().Data)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	return spatialmath.NewPoseFromRotationMatrix(rm, t.Sub(rm.Mul(centroid))), nil
}

// dltPose solves x ~ [R|t] X for a general point set from the 3x4 direct linear transform over
// normalized object coordinates.
func dltPose(object []r3.Vector, normalized []r2.Point) (spatialmath.Pose, error) {
	objNorm, centroid, scale := normalizePoints3D(object)
	a := mat.NewDense(2*len(object), 12, nil)
	for i, p := range objNorm {
		x, y := normalized[i].X, normalized[i].Y
		a.SetRow(2*i, []float64{p.X, p.Y, p.Z, 1, 0, 0, 0, 0, -x * p.X, -x * p.Y, -x * p.Z, -x})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, p.X, p.Y, p.Z, 1, -y * p.X, -y * p.Y, -y * p.Z, -y})
	}
	sol, conditioning, ok := nullVector(a)
	if !ok || conditioning < degenerateThreshold {
		return spatialmath.Pose{}, errors.Wrap(ErrDegenerateConfiguration, "projection matrix is not constrained")
	}
	m := mat.NewDense(3, 3, []float64{
		sol[0], sol[1], sol[2],
		sol[4], sol[5], sol[6],
		sol[8], sol[9], sol[10],
	})
	det := mat.Det(m)
	if math.Abs(det) < 1e-15 {
		return spatialmath.Pose{}, errors.New("singular projection matrix")
	}
	s := math.Cbrt(det)
	m.Scale(1/s, m)
	rm, err := spatialmath.NearestRotationMatrix(m)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	tPrime := r3.Vector{X: sol[3] / s, Y: sol[7] / s, Z: sol[11] / s}
	// x ~ R*P' + t' with P' = scale*(P - c), so t = t'/scale - R*c.
	t := tPrime.Mul(1 / scale).Sub(rm.Mul(centroid))
	pose := spatialmath.NewPoseFromRotationMatrix(rm, t)

	// The DLT fixes the projection up to sign; the depth test picks the physical one.
	var inFront int
	for _, p := range object {
		if pose.Transform(p).Z > 0 {
			inFront++
		}
	}
	if inFront*2 < len(object) {
		return spatialmath.Pose{}, errors.New("projection places the target behind the camera")
	}
	return pose, nil
}

func poseCost(params []float64, object []r3.Vector, normalized []r2.Point) float64 {
	cost := 0.0
	for i, p := range object {
		c := spatialmath.TransformParams(params, p)
		if c.Z <= 0 {
			return math.Inf(1)
		}
		dx := c.X/c.Z - normalized[i].X
		dy := c.Y/c.Z - normalized[i].Y
		cost += dx*dx + dy*dy
	}
	return cost
}

// refinePose polishes the pose with BFGS on the normalized reprojection error. The initial pose is
// kept whenever the optimizer does not improve on it.
func refinePose(initial spatialmath.Pose, object []r3.Vector, normalized []r2.Point) spatialmath.Pose {
	f := func(x []float64) float64 {
		return poseCost(x, object, normalized)
	}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Central})
		},
	}
	x0 := initial.Params()
	f0 := f(x0)
	if f0 == 0 {
		return initial
	}
	settings := &optimize.Settings{
		MajorIterations:   maxRefineIterations,
		GradientThreshold: 1e-14,
	}
	// A failed line search still reports the best point it reached.
	result, _ := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if result == nil || math.IsNaN(result.F) || result.F >= f0 {
		return initial
	}
	refined, err := spatialmath.PoseFromParams(result.X)
	if err != nil {
		return initial
	}
	return refined
}
