package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/spatialmath"
)

// ProjectPoint maps an object point, expressed in the frame given by pose, to pixels.
func ProjectPoint(m Model, obj r3.Vector, pose spatialmath.Pose) r2.Point {
	return m.Image(m.Distort(pose.Transform(obj)))
}

// ProjectPoints is ProjectPoint over a slice.
func ProjectPoints(m Model, objs []r3.Vector, pose spatialmath.Pose) []r2.Point {
	out := make([]r2.Point, len(objs))
	for i, obj := range objs {
		out[i] = ProjectPoint(m, obj, pose)
	}
	return out
}

// NormalizeUndistort maps a pixel to the normalized undistorted plane.
func NormalizeUndistort(m Model, p r2.Point) r2.Point {
	return m.Undistort(m.Normalize(p))
}

// NormalizeUndistortImage is NormalizeUndistort over a slice.
func NormalizeUndistortImage(m Model, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = NormalizeUndistort(m, p)
	}
	return out
}

// DistortImage maps points on the normalized undistorted plane to distorted pixels.
func DistortImage(m Model, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = m.Image(m.Distort(r3.Vector{X: p.X, Y: p.Y, Z: 1}))
	}
	return out
}

// UndistortPoints maps distorted pixels to the pixels an undistorted camera with the same
// intrinsics would observe.
func UndistortPoints(m Model, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = m.Image(NormalizeUndistort(m, p))
	}
	return out
}
