package solver

import (
	"math"

	"github.com/pkg/errors"
)

// ErrUnknownParameterBlock is returned when a parameter block was never added to the problem.
var ErrUnknownParameterBlock = errors.New("unknown parameter block")

type parameterBlock struct {
	values   []float64
	constant bool
	lower    []float64
	upper    []float64
	// offset into the variable state vector, -1 for constant blocks
	offset int
}

type residualBlock struct {
	cost   CostFunction
	loss   LossFunction
	blocks []int
}

// Problem is a nonlinear least-squares problem: minimize 1/2 sum_i rho_i(||f_i(x)||^2).
// Parameter blocks are identified by their backing array, like pointers into caller memory.
type Problem struct {
	blocks     []*parameterBlock
	blockIndex map[*float64]int
	residuals  []*residualBlock
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{blockIndex: map[*float64]int{}}
}

// AddParameterBlock registers a parameter block. Adding the same block twice is a no-op; adding a
// block that overlaps another with a different size is an error.
func (p *Problem) AddParameterBlock(values []float64) error {
	if len(values) == 0 {
		return errors.New("parameter blocks must not be empty")
	}
	if idx, ok := p.blockIndex[&values[0]]; ok {
		if len(p.blocks[idx].values) != len(values) {
			return errors.Errorf("parameter block re-added with size %d, was %d", len(values), len(p.blocks[idx].values))
		}
		return nil
	}
	block := &parameterBlock{
		values: values,
		lower:  make([]float64, len(values)),
		upper:  make([]float64, len(values)),
		offset: -1,
	}
	for i := range values {
		block.lower[i] = math.Inf(-1)
		block.upper[i] = math.Inf(1)
	}
	p.blockIndex[&values[0]] = len(p.blocks)
	p.blocks = append(p.blocks, block)
	return nil
}

// AddResidualBlock adds a residual block reading the given parameter blocks, which are added to the
// problem when needed. A nil loss is the plain squared loss.
func (p *Problem) AddResidualBlock(cost CostFunction, loss LossFunction, blocks ...[]float64) error {
	sizes := cost.ParameterBlockSizes()
	if len(sizes) != len(blocks) {
		return errors.Errorf("cost function expects %d parameter blocks, got %d", len(sizes), len(blocks))
	}
	rb := &residualBlock{cost: cost, loss: loss, blocks: make([]int, len(blocks))}
	for i, values := range blocks {
		if len(values) != sizes[i] {
			return errors.Errorf("parameter block %d has size %d, cost function expects %d", i, len(values), sizes[i])
		}
		if err := p.AddParameterBlock(values); err != nil {
			return err
		}
		rb.blocks[i] = p.blockIndex[&values[0]]
	}
	p.residuals = append(p.residuals, rb)
	return nil
}

func (p *Problem) block(values []float64) (*parameterBlock, error) {
	if len(values) == 0 {
		return nil, ErrUnknownParameterBlock
	}
	idx, ok := p.blockIndex[&values[0]]
	if !ok {
		return nil, ErrUnknownParameterBlock
	}
	return p.blocks[idx], nil
}

// SetParameterBlockConstant holds the block at its current value during the solve.
func (p *Problem) SetParameterBlockConstant(values []float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	b.constant = true
	return nil
}

// SetParameterBlockVariable undoes SetParameterBlockConstant.
func (p *Problem) SetParameterBlockVariable(values []float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	b.constant = false
	return nil
}

// IsParameterBlockConstant reports whether the block is held constant.
func (p *Problem) IsParameterBlockConstant(values []float64) (bool, error) {
	b, err := p.block(values)
	if err != nil {
		return false, err
	}
	return b.constant, nil
}

// SetParameterLowerBound bounds values[index] from below.
func (p *Problem) SetParameterLowerBound(values []float64, index int, lower float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(b.values) {
		return errors.Errorf("bound index %d out of range for block of size %d", index, len(b.values))
	}
	b.lower[index] = lower
	return nil
}

// SetParameterUpperBound bounds values[index] from above.
func (p *Problem) SetParameterUpperBound(values []float64, index int, upper float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(b.values) {
		return errors.Errorf("bound index %d out of range for block of size %d", index, len(b.values))
	}
	b.upper[index] = upper
	return nil
}

// NumParameterBlocks returns the number of registered parameter blocks.
func (p *Problem) NumParameterBlocks() int {
	return len(p.blocks)
}

// NumResidualBlocks returns the number of residual blocks.
func (p *Problem) NumResidualBlocks() int {
	return len(p.residuals)
}

// NumResiduals returns the total number of scalar residuals.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, rb := range p.residuals {
		n += rb.cost.NumResiduals()
	}
	return n
}

// layout assigns state offsets to the variable blocks and returns the state size.
func (p *Problem) layout() int {
	n := 0
	for _, b := range p.blocks {
		if b.constant {
			b.offset = -1
			continue
		}
		b.offset = n
		n += len(b.values)
	}
	return n
}

func (p *Problem) gatherState(x []float64) {
	for _, b := range p.blocks {
		if b.offset >= 0 {
			copy(x[b.offset:], b.values)
		}
	}
}

func (p *Problem) scatterState(x []float64) {
	for _, b := range p.blocks {
		if b.offset >= 0 {
			copy(b.values, x[b.offset:b.offset+len(b.values)])
		}
	}
}

// project clamps x into the parameter bounds.
func (p *Problem) project(x []float64) {
	for _, b := range p.blocks {
		if b.offset < 0 {
			continue
		}
		for i := range b.values {
			v := x[b.offset+i]
			if v < b.lower[i] {
				v = b.lower[i]
			}
			if v > b.upper[i] {
				v = b.upper[i]
			}
			x[b.offset+i] = v
		}
	}
}
