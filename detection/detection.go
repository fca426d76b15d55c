package detection

import (
	"encoding/json"
	"io"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/calibration"
	"go.viam.com/camcalib/transform"
)

// Detection is the set of target features found in one image.
type Detection struct {
	ImagePoints []r2.Point
	WorldPoints []r3.Vector
	IDs         []int
}

// NewGridDetection pairs image points found on a grid board, in WorldPoints order, with the
// board's world points. Ids are the grid indices.
func NewGridDetection(board *Board, imagePoints []r2.Point) (*Detection, error) {
	world := board.WorldPoints()
	if len(imagePoints) != len(world) {
		return nil, errors.Errorf("board %q has %d features, detected %d", board.Name, len(world), len(imagePoints))
	}
	d := &Detection{}
	for i, p := range imagePoints {
		d.Add(world[i], p, i)
	}
	return d, nil
}

// NewTagDetection pairs detected tag centers with their location on a tag board. Tags the board
// does not carry are skipped.
func NewTagDetection(board *Board, ids []int, imagePoints []r2.Point) (*Detection, error) {
	if len(ids) != len(imagePoints) {
		return nil, transform.NewMismatchedPointsError(len(ids), len(imagePoints))
	}
	d := &Detection{}
	for i, id := range ids {
		x, y, ok := board.Find(id)
		if !ok {
			continue
		}
		d.Add(board.WorldLocation(x, y), imagePoints[i], id)
	}
	return d, nil
}

// Add appends a correspondence.
func (d *Detection) Add(world r3.Vector, img r2.Point, id int) {
	d.WorldPoints = append(d.WorldPoints, world)
	d.ImagePoints = append(d.ImagePoints, img)
	d.IDs = append(d.IDs, id)
}

// Len returns the number of correspondences.
func (d *Detection) Len() int {
	return len(d.ImagePoints)
}

// Good reports whether anything was detected.
func (d *Detection) Good() bool {
	return d != nil && d.Len() > 0
}

func (d *Detection) boardPoints() []r2.Point {
	out := make([]r2.Point, len(d.WorldPoints))
	for i, w := range d.WorldPoints {
		out[i] = r2.Point{X: w.X, Y: w.Y}
	}
	return out
}

// BoardToImageHomography fits the homography from the board plane to the image.
func (d *Detection) BoardToImageHomography() (*transform.Homography, error) {
	return transform.FindHomography(d.boardPoints(), d.ImagePoints)
}

// ValidateCode is the outcome of Validate.
type ValidateCode int

// The outcomes of Validate.
const (
	AllValid             ValidateCode = 0
	NotEnoughPoints      ValidateCode = -1
	NoGoodConfigurations ValidateCode = -2
)

func (c ValidateCode) String() string {
	switch c {
	case AllValid:
		return "all valid"
	case NotEnoughPoints:
		return "not enough points"
	case NoGoodConfigurations:
		return "no good configurations"
	default:
		return "unknown"
	}
}

// Validate searches for the board to image homography supported by the most correspondences and
// drops the correspondences it does not transfer within threshold pixels.
func (d *Detection) Validate(threshold float64, rng *rand.Rand) ValidateCode {
	if d.Len() < calibration.MinImagePoints {
		return NotEnoughPoints
	}
	opts := transform.DefaultRANSACOptions()
	opts.Threshold = threshold
	opts.Rand = rng
	_, inliers, err := transform.FindHomographyRANSAC(d.boardPoints(), d.ImagePoints, opts)
	if err != nil {
		return NoGoodConfigurations
	}
	kept := &Detection{}
	for i, ok := range inliers {
		if ok {
			kept.Add(d.WorldPoints[i], d.ImagePoints[i], d.IDs[i])
		}
	}
	*d = *kept
	if d.Len() < calibration.MinImagePoints {
		return NotEnoughPoints
	}
	return AllValid
}

// SharedPoints are the correspondences two detections have in common.
type SharedPoints struct {
	ImagePoints [2][]r2.Point
	WorldPoints []r3.Vector
}

// SharedWith matches the ids of a and b.
func SharedWith(a, b *Detection) SharedPoints {
	var shared SharedPoints
	index := make(map[int]int, len(b.IDs))
	for j, id := range b.IDs {
		if _, ok := index[id]; !ok {
			index[id] = j
		}
	}
	for i, id := range a.IDs {
		j, ok := index[id]
		if !ok {
			continue
		}
		shared.ImagePoints[0] = append(shared.ImagePoints[0], a.ImagePoints[i])
		shared.ImagePoints[1] = append(shared.ImagePoints[1], b.ImagePoints[j])
		shared.WorldPoints = append(shared.WorldPoints, a.WorldPoints[i])
	}
	return shared
}

// ToObservations converts detections to calibration input. Nil detections become images without
// correspondences.
func ToObservations(dets []*Detection) calibration.ObservationSet {
	obs := make(calibration.ObservationSet, len(dets))
	for i, d := range dets {
		if d == nil {
			continue
		}
		obs[i] = make([]calibration.Correspondence, d.Len())
		for j := range d.ImagePoints {
			obs[i][j] = calibration.Correspondence{Object: d.WorldPoints[j], Image: d.ImagePoints[j]}
		}
	}
	return obs
}

type detectionJSON struct {
	ImagePoints [][2]float64 `json:"image_points"`
	WorldPoints [][3]float64 `json:"world_points"`
	IDs         []int        `json:"ids"`
}

// MarshalJSON writes points as nested arrays.
func (d *Detection) MarshalJSON() ([]byte, error) {
	out := detectionJSON{
		ImagePoints: make([][2]float64, len(d.ImagePoints)),
		WorldPoints: make([][3]float64, len(d.WorldPoints)),
		IDs:         d.IDs,
	}
	for i, p := range d.ImagePoints {
		out.ImagePoints[i] = [2]float64{p.X, p.Y}
	}
	for i, w := range d.WorldPoints {
		out.WorldPoints[i] = [3]float64{w.X, w.Y, w.Z}
	}
	if out.IDs == nil {
		out.IDs = []int{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the format written by MarshalJSON.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var in detectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.ImagePoints) != len(in.WorldPoints) {
		return transform.NewMismatchedPointsError(len(in.ImagePoints), len(in.WorldPoints))
	}
	if in.IDs != nil && len(in.IDs) != len(in.ImagePoints) {
		return errors.Errorf("detection has %d ids for %d points", len(in.IDs), len(in.ImagePoints))
	}
	*d = Detection{}
	for i := range in.ImagePoints {
		id := i
		if in.IDs != nil {
			id = in.IDs[i]
		}
		d.Add(
			r3.Vector{X: in.WorldPoints[i][0], Y: in.WorldPoints[i][1], Z: in.WorldPoints[i][2]},
			r2.Point{X: in.ImagePoints[i][0], Y: in.ImagePoints[i][1]},
			id,
		)
	}
	return nil
}

// ReadDetections decodes a JSON array of detections; null entries stay nil.
func ReadDetections(r io.Reader) ([]*Detection, error) {
	var dets []*Detection
	if err := json.NewDecoder(r).Decode(&dets); err != nil {
		return nil, errors.Wrap(err, "error decoding detections")
	}
	return dets, nil
}

// WriteDetections encodes detections as a JSON array.
func WriteDetections(w io.Writer, dets []*Detection) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dets)
}
