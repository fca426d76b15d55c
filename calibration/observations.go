package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
)

// Correspondence pairs a point on the calibration target with where it was observed in an image.
type Correspondence struct {
	Object r3.Vector `json:"object"`
	Image  r2.Point  `json:"image"`
}

// ObservationSet holds the correspondences of each image.
type ObservationSet [][]Correspondence

// NumImages returns the number of images, usable or not.
func (o ObservationSet) NumImages() int {
	return len(o)
}

// TotalPoints returns the number of correspondences over all images.
func (o ObservationSet) TotalPoints() int {
	return lo.SumBy(o, func(c []Correspondence) int { return len(c) })
}

// Split returns the object and image points of image i.
func (o ObservationSet) Split(i int) ([]r3.Vector, []r2.Point) {
	objs := lo.Map(o[i], func(c Correspondence, _ int) r3.Vector { return c.Object })
	imgs := lo.Map(o[i], func(c Correspondence, _ int) r2.Point { return c.Image })
	return objs, imgs
}

// NewObservationSet zips per image object and image points. The outer slices must have the same
// length, as must each pair of inner slices; extra points on either side are dropped.
func NewObservationSet(objects [][]r3.Vector, images [][]r2.Point) ObservationSet {
	n := min(len(objects), len(images))
	out := make(ObservationSet, n)
	for i := 0; i < n; i++ {
		m := min(len(objects[i]), len(images[i]))
		out[i] = make([]Correspondence, m)
		for j := 0; j < m; j++ {
			out[i][j] = Correspondence{Object: objects[i][j], Image: images[i][j]}
		}
	}
	return out
}
