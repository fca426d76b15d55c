// Package detection holds calibration targets and the points detected on them in images.
package detection

import (
	"encoding/json"
	"io"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/src-d/go-billy.v4"
)

// Pattern is the kind of calibration target.
type Pattern string

// The known target patterns.
const (
	Chessboard            Pattern = "chessboard"
	CirclesGrid           Pattern = "circles_grid"
	AsymmetricCirclesGrid Pattern = "asym_circles_grid"
	AprilTags             Pattern = "apriltags_36h11"
)

// Board is a planar calibration target. Width and Height count features, not squares.
type Board struct {
	Name       string  `json:"name"`
	Pattern    Pattern `json:"type"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	SquareSize float64 `json:"squareSize"`
	// IDs lists the tag id at each grid position, row major, for tag boards.
	IDs []int `json:"ids,omitempty"`
}

// Validate checks the board description.
func (b *Board) Validate() error {
	switch b.Pattern {
	case Chessboard, CirclesGrid, AsymmetricCirclesGrid:
	case AprilTags:
		if len(b.IDs) != 0 && len(b.IDs) != b.Width*b.Height {
			return errors.Errorf("board %q has %d ids for a %dx%d grid", b.Name, len(b.IDs), b.Width, b.Height)
		}
	default:
		return errors.Errorf("don't know how to handle board type %q", b.Pattern)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return errors.Errorf("board %q must have a positive size, got %dx%d", b.Name, b.Width, b.Height)
	}
	if !(b.SquareSize > 0) {
		return errors.Errorf("board %q must have a positive square size, got %v", b.Name, b.SquareSize)
	}
	return nil
}

// Size returns the number of features along each axis.
func (b *Board) Size() (int, int) {
	return b.Width, b.Height
}

// WorldPoints returns the feature positions in detection order: row by row, starting at the
// origin corner.
func (b *Board) WorldPoints() []r3.Vector {
	out := make([]r3.Vector, 0, b.Width*b.Height)
	for i := 0; i < b.Height; i++ {
		for j := 0; j < b.Width; j++ {
			x := float64(j)
			if b.Pattern == AsymmetricCirclesGrid {
				x = float64(2*j + i%2)
			}
			out = append(out, r3.Vector{X: x * b.SquareSize, Y: float64(i) * b.SquareSize})
		}
	}
	return out
}

// WorldLocation returns the position of grid feature (x, y) relative to the board center.
func (b *Board) WorldLocation(x, y int) r3.Vector {
	half := r3.Vector{X: b.SquareSize * float64(b.Width) / 2, Y: b.SquareSize * float64(b.Height) / 2}
	return r3.Vector{X: float64(x) * b.SquareSize, Y: float64(y) * b.SquareSize}.Sub(half)
}

// Extents returns the four outermost grid features, clockwise from the first.
func (b *Board) Extents() []r3.Vector {
	return []r3.Vector{
		b.WorldLocation(0, 0),
		b.WorldLocation(b.Width-1, 0),
		b.WorldLocation(b.Width-1, b.Height-1),
		b.WorldLocation(0, b.Height-1),
	}
}

// Find returns the grid position of a tag id.
func (b *Board) Find(id int) (int, int, bool) {
	for i, v := range b.IDs {
		if v == id {
			return i % b.Width, i / b.Width, true
		}
	}
	return 0, 0, false
}

// ReadBoard decodes and validates a JSON board description. An empty name in the description is
// replaced by name.
func ReadBoard(r io.Reader, name string) (*Board, error) {
	var b Board
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, errors.Wrap(err, "error decoding board")
	}
	if b.Name == "" {
		b.Name = name
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadBoard reads a JSON board description from fs.
func LoadBoard(fs billy.Filesystem, path, name string) (b *Board, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open board file %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadBoard(f, name)
}
