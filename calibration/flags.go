package calibration

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HuberThreshold is the Huber loss scale, in pixels.
const HuberThreshold = 4.0

// Flags are the calibration options that change the optimization problem.
type Flags struct {
	FixSkew         bool
	ZeroTangentDist bool
	RationalModel   bool
	HuberLoss       bool
}

const (
	flagFixSkew         = "fix_skew"
	flagZeroTangentDist = "zero_tangent_dist"
	flagRationalModel   = "rational_model"
	flagHuberLoss       = "huber_loss"
)

// ParseFlags parses flag names, optionally prefixed with '+' as written by String.
func ParseFlags(names []string) (Flags, error) {
	var f Flags
	for _, raw := range names {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "+"))
		switch name {
		case "":
		case flagFixSkew:
			f.FixSkew = true
		case flagZeroTangentDist:
			f.ZeroTangentDist = true
		case flagRationalModel:
			f.RationalModel = true
		case flagHuberLoss:
			f.HuberLoss = true
		default:
			return Flags{}, errors.Errorf("unknown calibration flag %q", raw)
		}
	}
	return f, nil
}

// String renders the set flags as "+name" tokens separated by spaces.
func (f Flags) String() string {
	var parts []string
	if f.FixSkew {
		parts = append(parts, "+"+flagFixSkew)
	}
	if f.ZeroTangentDist {
		parts = append(parts, "+"+flagZeroTangentDist)
	}
	if f.RationalModel {
		parts = append(parts, "+"+flagRationalModel)
	}
	if f.HuberLoss {
		parts = append(parts, "+"+flagHuberLoss)
	}
	return strings.Join(parts, " ")
}

// Criteria are the solver stopping criteria.
type Criteria struct {
	MaxIterations int
	Epsilon       float64
	// MaxTime of zero means no limit.
	MaxTime time.Duration
}

// DefaultCriteria returns 100 iterations at machine epsilon with no time limit.
func DefaultCriteria() Criteria {
	return Criteria{
		MaxIterations: 100,
		Epsilon:       math.Nextafter(1, 2) - 1,
	}
}
