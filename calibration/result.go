package calibration

import (
	"math"
	"time"

	"github.com/golang/geo/r2"
	"github.com/samber/lo"

	"go.viam.com/camcalib/spatialmath"
)

// ReprojError is the reprojection of one used correspondence after calibration.
type ReprojError struct {
	Projected r2.Point `json:"projected"`
	// Error is the projected point minus the observed point, in pixels.
	Error r2.Point `json:"error"`
}

// Result is the outcome of a calibration. Per image slices are indexed like the ObservationSet.
type Result struct {
	// RMS is the reprojection RMS over used points, or -1 when the calibration did not succeed.
	RMS float64
	// Residual is the final solver cost, or -1 when the calibration did not succeed.
	Residual     float64
	ReprojErrors [][]ReprojError
	// Status is false for images excluded from the calibration.
	Status     []bool
	NumPoints  int
	NumImages  int
	TotalTime  time.Duration
	Success    bool
	Poses      []spatialmath.Pose
	Iterations int
	// Err explains why Success is false.
	Err error
}

// NewResult returns a result for n images before any work has been done.
func NewResult(n int) *Result {
	r := &Result{
		RMS:          -1,
		Residual:     -1,
		NumPoints:    -1,
		NumImages:    -1,
		ReprojErrors: make([][]ReprojError, n),
		Status:       make([]bool, n),
		Poses:        make([]spatialmath.Pose, n),
	}
	for i := range r.Status {
		r.Status[i] = true
	}
	return r
}

// Valid reports whether RMS and Residual hold a calibrated value.
func (r *Result) Valid() bool {
	return r.Success && r.RMS >= 0
}

// UsedImages returns the indices of the images that took part in the calibration.
func (r *Result) UsedImages() []int {
	var out []int
	for i, ok := range r.Status {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// PerImageRMS returns the reprojection RMS of each image, -1 for excluded images.
func (r *Result) PerImageRMS() []float64 {
	out := make([]float64, len(r.Status))
	for i, errs := range r.ReprojErrors {
		if !r.Status[i] || len(errs) == 0 {
			out[i] = -1
			continue
		}
		out[i] = rmsOf(errs)
	}
	return out
}

// ErrorMagnitudes flattens the per point error norms of the used images.
func (r *Result) ErrorMagnitudes() []float64 {
	return lo.FlatMap(r.ReprojErrors, func(errs []ReprojError, _ int) []float64 {
		return lo.Map(errs, func(e ReprojError, _ int) float64 { return e.Error.Norm() })
	})
}

func (r *Result) countUsed() {
	r.NumImages = lo.Count(r.Status, true)
}

func rmsOf(errs []ReprojError) float64 {
	sum := 0.0
	for _, e := range errs {
		sum += e.Error.Dot(e.Error)
	}
	return math.Sqrt(sum / float64(2*len(errs)))
}

func (r *Result) invalidate(err error) {
	r.Success = false
	r.RMS = -1
	r.Residual = -1
	r.Err = err
}
