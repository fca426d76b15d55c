package transform

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

const minimalHomographySample = 4

// RANSACOptions configures FindHomographyRANSAC.
type RANSACOptions struct {
	// Threshold is the maximum transfer error, in dst units, for a correspondence to be an inlier.
	Threshold float64
	// Iterations is the number of minimal samples drawn.
	Iterations int
	// MinInliers is the smallest acceptable consensus set; values below 4 are raised to 4.
	MinInliers int
	// Rand is the sample source. A nil source uses a fixed seed so results are reproducible.
	Rand *rand.Rand
}

// DefaultRANSACOptions returns options suited to board-to-image homographies in pixels.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{Threshold: 3.0, Iterations: 500, MinInliers: minimalHomographySample}
}

// FindHomographyRANSAC searches for the homography supported by the largest set of
// correspondences. Each iteration fits a homography to a random minimal sample of four
// correspondences and counts the correspondences it transfers within the threshold; the best
// consensus set is refit with all of its members. It returns the refit homography and the inlier
// mask over the input.
func FindHomographyRANSAC(src, dst []r2.Point, opts RANSACOptions) (*Homography, []bool, error) {
	if len(src) != len(dst) {
		return nil, nil, NewMismatchedPointsError(len(src), len(dst))
	}
	if len(src) < minimalHomographySample {
		return nil, nil, NewNotEnoughPointsError(minimalHomographySample, len(src))
	}
	minInliers := opts.MinInliers
	if minInliers < minimalHomographySample {
		minInliers = minimalHomographySample
	}
	rng := opts.Rand
	if rng == nil {
		//nolint:gosec
		rng = rand.New(rand.NewSource(1))
	}
	iterations := opts.Iterations
	if iterations <= 0 {
		iterations = DefaultRANSACOptions().Iterations
	}

	var bestMask []bool
	bestCount := 0
	sampleSrc := make([]r2.Point, minimalHomographySample)
	sampleDst := make([]r2.Point, minimalHomographySample)
	for iter := 0; iter < iterations; iter++ {
		ids := rng.Perm(len(src))[:minimalHomographySample]
		for i, id := range ids {
			sampleSrc[i] = src[id]
			sampleDst[i] = dst[id]
		}
		h, err := FindHomography(sampleSrc, sampleDst)
		if err != nil {
			continue
		}
		mask, count := inliers(h, src, dst, opts.Threshold)
		if count > bestCount {
			bestCount = count
			bestMask = mask
			if count == len(src) {
				break
			}
		}
	}
	if bestCount < minInliers {
		return nil, nil, errors.Wrapf(ErrNotEnoughInliers, "best consensus has %d of %d points, need %d",
			bestCount, len(src), minInliers)
	}

	inSrc := make([]r2.Point, 0, bestCount)
	inDst := make([]r2.Point, 0, bestCount)
	for i, in := range bestMask {
		if in {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	refit, err := FindHomography(inSrc, inDst)
	if err != nil {
		return nil, nil, err
	}
	// The refit can move the model slightly; keep its mask only when it does not lose support.
	mask, count := inliers(refit, src, dst, opts.Threshold)
	if count < bestCount {
		mask = bestMask
	}
	return refit, mask, nil
}

func inliers(h *Homography, src, dst []r2.Point, threshold float64) ([]bool, int) {
	mask := make([]bool, len(src))
	count := 0
	for i := range src {
		if h.TransferError(src[i], dst[i]) <= threshold {
			mask[i] = true
			count++
		}
	}
	return mask, count
}
