package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// degenerateThreshold is the smallest acceptable ratio between the second smallest and largest
// singular value of a DLT system.
const degenerateThreshold = 1e-10

// Homography is a 3x3 matrix (represented as a 2D array) mapping points of one plane onto another.
// Indices are [row][column].
type Homography [3][3]float64

// NewHomography creates a Homography from a slice of 9 row major values.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = vals[3*i+j]
		}
	}
	return &h, nil
}

func homographyFromDense(m mat.Matrix) *Homography {
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j)
		}
	}
	return &h
}

// At returns the value at the given row and column.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Dense returns the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, h[i][j])
		}
	}
	return out
}

// Apply maps the point through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the inverse homography.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	out := homographyFromDense(&inv)
	out.normalize()
	return out, nil
}

// TransferError returns the distance between dst and the image of src under h.
func (h *Homography) TransferError(src, dst r2.Point) float64 {
	p := h.Apply(src)
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		return math.Inf(1)
	}
	return p.Sub(dst).Norm()
}

func (h *Homography) normalize() {
	s := h[2][2]
	if math.Abs(s) < 1e-15 {
		return
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] /= s
		}
	}
}

// FindHomography computes the homography mapping src[i] to dst[i] with the normalized direct linear
// transform. At least 4 correspondences are needed.
func FindHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, NewMismatchedPointsError(len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, NewNotEnoughPointsError(4, len(src))
	}
	srcNorm, T1 := normalizePoints(src)
	dstNorm, T2 := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcNorm {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h, conditioning, ok := nullVector(a)
	if !ok {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "svd failed")
	}
	if conditioning < degenerateThreshold {
		return nil, errors.Wrapf(ErrDegenerateConfiguration, "homography system is rank deficient (%g)", conditioning)
	}

	// H = T2^-1 * Hn * T1
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(T2); err != nil {
		return nil, errors.Wrap(ErrDegenerateConfiguration, err.Error())
	}
	hn := mat.NewDense(3, 3, h)
	var tmp, out mat.Dense
	tmp.Mul(&t2Inv, hn)
	out.Mul(&tmp, T1)

	ret := homographyFromDense(&out)
	if math.Abs(ret[2][2]) < 1e-15 {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "homography maps a point to infinity")
	}
	ret.normalize()
	return ret, nil
}
