package transform

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/camcalib/spatialmath"
)

var testHomography = Homography{
	{1.2, 0.1, 30},
	{-0.05, 0.9, 12},
	{1e-4, -2e-4, 1},
}

func gridPoints(rows, cols int, spacing float64) []r2.Point {
	pts := make([]r2.Point, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			pts = append(pts, r2.Point{X: float64(j) * spacing, Y: float64(i) * spacing})
		}
	}
	return pts
}

func TestFindHomography(t *testing.T) {
	src := gridPoints(4, 5, 20)
	dst := make([]r2.Point, len(src))
	for i, p := range src {
		dst[i] = testHomography.Apply(p)
	}
	h, err := FindHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, testHomography.At(i, j), 1e-8)
		}
	}

	inv, err := h.Inverse()
	test.That(t, err, test.ShouldBeNil)
	back := inv.Apply(dst[7])
	test.That(t, back.X, test.ShouldAlmostEqual, src[7].X, 1e-8)
	test.That(t, back.Y, test.ShouldAlmostEqual, src[7].Y, 1e-8)

	// minimal sample
	h, err = FindHomography(src[:4:4], dst[:4:4])
	test.That(t, err, test.ShouldNotBeNil) // first four grid points are collinear
	test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)
	test.That(t, h, test.ShouldBeNil)

	corners := []int{0, 4, 15, 19}
	var cs, cd []r2.Point
	for _, c := range corners {
		cs = append(cs, src[c])
		cd = append(cd, dst[c])
	}
	h, err = FindHomography(cs, cd)
	test.That(t, err, test.ShouldBeNil)
	p := h.Apply(src[8])
	test.That(t, p.X, test.ShouldAlmostEqual, dst[8].X, 1e-6)
	test.That(t, p.Y, test.ShouldAlmostEqual, dst[8].Y, 1e-6)

	_, err = FindHomography(src[:3], dst[:3])
	test.That(t, err, test.ShouldNotBeNil)
	_, err = FindHomography(src, dst[:5])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewHomography(t *testing.T) {
	_, err := NewHomography([]float64{})
	test.That(t, err.Error(), test.ShouldEqual, "input to NewHomography must have length of 9. Has length of 0")

	h, err := NewHomography([]float64{1, 0, 5, 0, 1, -3, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.Apply(r2.Point{X: 1, Y: 1}), test.ShouldResemble, r2.Point{X: 6, Y: -2})
}

func TestFindHomographyRANSAC(t *testing.T) {
	src := gridPoints(6, 8, 10)
	dst := make([]r2.Point, len(src))
	for i, p := range src {
		dst[i] = testHomography.Apply(p)
	}
	outliers := []int{3, 17, 30, 41}
	for _, o := range outliers {
		dst[o] = dst[o].Add(r2.Point{X: 40, Y: -25})
	}

	opts := DefaultRANSACOptions()
	opts.Rand = rand.New(rand.NewSource(42))
	h, mask, err := FindHomographyRANSAC(src, dst, opts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(mask), test.ShouldEqual, len(src))
	isOutlier := map[int]bool{}
	for _, o := range outliers {
		isOutlier[o] = true
	}
	for i, in := range mask {
		test.That(t, in, test.ShouldEqual, !isOutlier[i])
	}
	test.That(t, h.TransferError(src[0], dst[0]), test.ShouldBeLessThan, 1e-6)

	// Not enough support.
	opts.MinInliers = len(src)
	_, _, err = FindHomographyRANSAC(src, dst, opts)
	test.That(t, errors.Is(err, ErrNotEnoughInliers), test.ShouldBeTrue)

	_, _, err = FindHomographyRANSAC(src[:3], dst[:3], DefaultRANSACOptions())
	test.That(t, err, test.ShouldNotBeNil)
}

func project(pose spatialmath.Pose, object []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(object))
	for i, p := range object {
		c := pose.Transform(p)
		out[i] = r2.Point{X: c.X / c.Z, Y: c.Y / c.Z}
	}
	return out
}

func assertPoseNear(t *testing.T, got, want spatialmath.Pose, tol float64) {
	t.Helper()
	g, w := got.Params(), want.Params()
	for i := range g {
		test.That(t, g[i], test.ShouldAlmostEqual, w[i], tol)
	}
}

func TestEstimatePosePlanar(t *testing.T) {
	var object []r3.Vector
	for _, p := range gridPoints(5, 6, 0.03) {
		object = append(object, r3.Vector{X: p.X, Y: p.Y})
	}
	for _, truth := range []spatialmath.Pose{
		{Rotation: r3.Vector{X: 0.1, Y: -0.2, Z: 0.05}, Translation: r3.Vector{X: -0.05, Y: -0.04, Z: 0.6}},
		{Rotation: r3.Vector{X: -0.4, Y: 0.3, Z: 1.2}, Translation: r3.Vector{X: 0.02, Y: 0.01, Z: 1.1}},
		{Rotation: r3.Vector{X: 3.0, Y: 0.1}, Translation: r3.Vector{X: 0.01, Y: 0.1, Z: 0.8}},
	} {
		pose, err := EstimatePose(object, project(truth, object))
		test.That(t, err, test.ShouldBeNil)
		assertPoseNear(t, pose, truth, 1e-6)
		test.That(t, NormalizedReprojectionError(pose, object, project(truth, object)), test.ShouldBeLessThan, 1e-9)
	}
}

func TestEstimatePoseNonPlanar(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	object := make([]r3.Vector, 12)
	for i := range object {
		object[i] = r3.Vector{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5, Z: rng.Float64() - 0.5}
	}
	truth := spatialmath.Pose{Rotation: r3.Vector{X: 0.3, Y: 0.2, Z: -0.1}, Translation: r3.Vector{X: 0.1, Y: -0.2, Z: 4}}
	pose, err := EstimatePose(object, project(truth, object))
	test.That(t, err, test.ShouldBeNil)
	assertPoseNear(t, pose, truth, 1e-6)
}

func TestEstimatePoseFailures(t *testing.T) {
	object := []r3.Vector{{X: 0}, {X: 1}, {X: 2}}
	_, err := EstimatePose(object, make([]r2.Point, 3))
	test.That(t, errors.Is(err, ErrPoseEstimationFailed), test.ShouldBeTrue)

	collinear := []r3.Vector{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}}
	_, err = EstimatePose(collinear, make([]r2.Point, 5))
	test.That(t, errors.Is(err, ErrPoseEstimationFailed), test.ShouldBeTrue)

	_, err = EstimatePose(collinear, make([]r2.Point, 4))
	test.That(t, errors.Is(err, ErrPoseEstimationFailed), test.ShouldBeTrue)

	// Non planar with too few points.
	fivePts := []r3.Vector{{X: 0}, {X: 1}, {Y: 1}, {Z: 1}, {X: 1, Y: 1, Z: 1}}
	_, err = EstimatePose(fivePts, make([]r2.Point, 5))
	test.That(t, errors.Is(err, ErrPoseEstimationFailed), test.ShouldBeTrue)
}
