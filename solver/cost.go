// Package solver is a small nonlinear least-squares solver organized around parameter blocks and
// residual blocks. Parameter blocks are caller owned slices that the solver updates in place;
// residual blocks tie a cost function (and optionally a robust loss) to the blocks it reads.
package solver

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// CostFunction computes a fixed number of residuals from a fixed list of parameter blocks.
type CostFunction interface {
	NumResiduals() int
	ParameterBlockSizes() []int
	// Evaluate writes the residuals for the given parameter values. For every i where jacobians[i]
	// is non-nil it also writes the row major NumResiduals x ParameterBlockSizes()[i] derivative of
	// the residuals with respect to block i.
	Evaluate(params [][]float64, residuals []float64, jacobians [][]float64) error
}

// ResidualFunc computes residuals from parameter blocks. It must be safe to call concurrently.
type ResidualFunc func(params [][]float64, residuals []float64) error

type numericDiffCostFunction struct {
	f            ResidualFunc
	numResiduals int
	sizes        []int
	settings     *fd.JacobianSettings
}

// NewNumericDiffCostFunction wraps a residual function into a CostFunction whose Jacobians are
// computed by central differences.
func NewNumericDiffCostFunction(f ResidualFunc, numResiduals int, blockSizes ...int) (CostFunction, error) {
	if numResiduals <= 0 {
		return nil, errors.Errorf("cost function needs at least one residual, got %d", numResiduals)
	}
	for i, size := range blockSizes {
		if size <= 0 {
			return nil, errors.Errorf("parameter block %d has invalid size %d", i, size)
		}
	}
	return &numericDiffCostFunction{
		f:            f,
		numResiduals: numResiduals,
		sizes:        blockSizes,
		settings:     &fd.JacobianSettings{Formula: fd.Central},
	}, nil
}

func (c *numericDiffCostFunction) NumResiduals() int {
	return c.numResiduals
}

func (c *numericDiffCostFunction) ParameterBlockSizes() []int {
	return c.sizes
}

func (c *numericDiffCostFunction) Evaluate(params [][]float64, residuals []float64, jacobians [][]float64) error {
	if err := c.f(params, residuals); err != nil {
		return err
	}
	for i, jac := range jacobians {
		if jac == nil {
			continue
		}
		local := make([][]float64, len(params))
		copy(local, params)
		var evalErr error
		g := func(y, x []float64) {
			local[i] = x
			if err := c.f(local, y); err != nil {
				evalErr = err
				for k := range y {
					y[k] = math.NaN()
				}
			}
		}
		x := make([]float64, len(params[i]))
		copy(x, params[i])
		dst := mat.NewDense(c.numResiduals, c.sizes[i], jac)
		fd.Jacobian(dst, g, x, c.settings)
		if evalErr != nil {
			return errors.Wrapf(evalErr, "differentiating parameter block %d", i)
		}
	}
	return nil
}
