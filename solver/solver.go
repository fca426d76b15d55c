package solver

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/utils"
)

// TerminationType describes why the solver stopped.
type TerminationType int

const (
	// Convergence means one of the tolerances was met.
	Convergence TerminationType = iota
	// NoConvergence means the iteration or time budget ran out first.
	NoConvergence
	// Failure means the problem could not be evaluated or solved.
	Failure
	// Canceled means the context ended the solve.
	Canceled
)

func (t TerminationType) String() string {
	switch t {
	case Convergence:
		return "CONVERGENCE"
	case NoConvergence:
		return "NO_CONVERGENCE"
	case Failure:
		return "FAILURE"
	case Canceled:
		return "CANCELED"
	}
	return "UNKNOWN"
}

const (
	initialLambda = 1e-4
	maxLambda     = 1e32
	minDiagonal   = 1e-6
	maxDiagonal   = 1e32
)

// Options configures Solve.
type Options struct {
	MaxIterations int
	// MaxSolverTime bounds the wall time of the solve. Zero means unbounded.
	MaxSolverTime time.Duration
	// FunctionTolerance stops when |delta cost| / cost falls below it.
	FunctionTolerance float64
	// GradientTolerance stops when the max norm of the projected gradient falls below it.
	GradientTolerance float64
	// ParameterTolerance stops when ||dx|| <= ParameterTolerance * (||x|| + ParameterTolerance).
	ParameterTolerance float64
	// NumThreads is the number of goroutines evaluating residual blocks; <= 0 uses all processors.
	NumThreads int
	Logger     logging.Logger
}

// DefaultOptions returns the default solver options.
func DefaultOptions() Options {
	return Options{
		MaxIterations:      50,
		FunctionTolerance:  1e-6,
		GradientTolerance:  1e-10,
		ParameterTolerance: 1e-8,
	}
}

// Summary describes a finished solve.
type Summary struct {
	InitialCost     float64
	FinalCost       float64
	Iterations      int
	SuccessfulSteps int
	Time            time.Duration
	Termination     TerminationType
	Message         string
}

// Converged reports whether the solve terminated by meeting a tolerance.
func (s *Summary) Converged() bool {
	return s.Termination == Convergence
}

// IsSolutionUsable reports whether the parameters hold a valid, if possibly unconverged, solution.
func (s *Summary) IsSolutionUsable() bool {
	return s.Termination == Convergence || s.Termination == NoConvergence
}

// evaluation is the state of the linearized problem at one point.
type evaluation struct {
	cost     float64
	jtj      *mat.SymDense
	gradient []float64
}

// Solve minimizes the problem with Levenberg-Marquardt, writing the solution into the parameter
// blocks. Errors are returned for malformed problems and context cancellation; running out of
// iterations is reported through the summary.
func Solve(ctx context.Context, problem *Problem, opts Options) (*Summary, error) {
	start := time.Now()
	summary := &Summary{Termination: Failure}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewBlankLogger("solver")
	}
	defer func() {
		summary.Time = time.Since(start)
	}()

	n := problem.layout()
	if len(problem.residuals) == 0 {
		return summary, errors.New("problem has no residual blocks")
	}
	x := make([]float64, n)
	problem.gatherState(x)
	problem.project(x)
	problem.scatterState(x)

	current, err := evaluate(ctx, problem, n, true, opts.NumThreads)
	if err != nil {
		return summary, err
	}
	summary.InitialCost = current.cost
	summary.FinalCost = current.cost
	if n == 0 {
		summary.Termination = Convergence
		summary.Message = "no variable parameters"
		return summary, nil
	}

	lambda := initialLambda
	nu := 2.0
	trial := make([]float64, n)
	step := make([]float64, n)
	for {
		if ctx.Err() != nil {
			summary.Termination = Canceled
			summary.Message = ctx.Err().Error()
			return summary, ctx.Err()
		}
		if current.cost == 0 {
			summary.Termination = Convergence
			summary.Message = "cost is zero"
			return summary, nil
		}
		if g := projectedGradientNorm(problem, x, current.gradient); g <= opts.GradientTolerance {
			summary.Termination = Convergence
			summary.Message = "gradient tolerance reached"
			return summary, nil
		}
		if summary.Iterations >= opts.MaxIterations {
			summary.Termination = NoConvergence
			summary.Message = "maximum number of iterations reached"
			return summary, nil
		}
		if opts.MaxSolverTime > 0 && time.Since(start) > opts.MaxSolverTime {
			summary.Termination = NoConvergence
			summary.Message = "maximum solver time reached"
			return summary, nil
		}
		if lambda > maxLambda {
			summary.Termination = Convergence
			summary.Message = "trust region collapsed"
			return summary, nil
		}
		summary.Iterations++

		if !solveDamped(current, lambda, step) {
			lambda *= nu
			nu *= 2
			continue
		}
		copy(trial, x)
		floats.Add(trial, step)
		problem.project(trial)
		floats.SubTo(step, trial, x)

		if floats.Norm(step, 2) <= opts.ParameterTolerance*(floats.Norm(x, 2)+opts.ParameterTolerance) {
			summary.Termination = Convergence
			summary.Message = "parameter tolerance reached"
			return summary, nil
		}

		problem.scatterState(trial)
		next, err := evaluate(ctx, problem, n, true, opts.NumThreads)
		if err != nil {
			problem.scatterState(x)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				summary.Termination = Canceled
				summary.Message = err.Error()
			}
			return summary, err
		}

		predicted := predictedDecrease(current, step)
		actual := current.cost - next.cost
		rho := 0.0
		if predicted > 0 {
			rho = actual / predicted
		}
		logger.CDebugf(ctx, "iter %3d cost %.6e step %.3e lambda %.3e rho %.3f",
			summary.Iterations, next.cost, floats.Norm(step, 2), lambda, rho)

		if !math.IsNaN(next.cost) && !math.IsInf(next.cost, 0) && rho > 0 {
			copy(x, trial)
			prevCost := current.cost
			current = next
			summary.SuccessfulSteps++
			summary.FinalCost = current.cost
			lambda *= math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3))
			nu = 2
			if math.Abs(prevCost-current.cost) <= opts.FunctionTolerance*prevCost {
				summary.Termination = Convergence
				summary.Message = "function tolerance reached"
				return summary, nil
			}
			continue
		}
		problem.scatterState(x)
		lambda *= nu
		nu *= 2
	}
}

// EvaluateCost returns 1/2 sum rho(||f_i||^2) at the current parameter values.
func EvaluateCost(ctx context.Context, problem *Problem, numThreads int) (float64, error) {
	n := problem.layout()
	ev, err := evaluate(ctx, problem, n, false, numThreads)
	if err != nil {
		return 0, err
	}
	return ev.cost, nil
}

// evaluate computes the cost and, when linearize is set, the Gauss-Newton normal equations over the
// variable blocks. Residual blocks are split across numThreads groups that each accumulate their
// own normal equations before merging.
func evaluate(ctx context.Context, problem *Problem, n int, linearize bool, numThreads int) (*evaluation, error) {
	ev := &evaluation{}
	if linearize {
		ev.jtj = mat.NewSymDense(max(n, 1), nil)
		ev.gradient = make([]float64, n)
	}
	var mu sync.Mutex

	err := utils.GroupWorkParallel(ctx, len(problem.residuals), numThreads,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			local := &evaluation{}
			if linearize {
				local.jtj = mat.NewSymDense(max(n, 1), nil)
				local.gradient = make([]float64, n)
			}
			return func(memberNum, workNum int) error {
					return accumulate(problem, problem.residuals[workNum], local, linearize)
				}, func() {
					mu.Lock()
					defer mu.Unlock()
					ev.cost += local.cost
					if linearize {
						ev.jtj.AddSym(ev.jtj, local.jtj)
						floats.Add(ev.gradient, local.gradient)
					}
				}
		})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func accumulate(problem *Problem, rb *residualBlock, ev *evaluation, linearize bool) error {
	numResiduals := rb.cost.NumResiduals()
	params := make([][]float64, len(rb.blocks))
	var jacobians [][]float64
	if linearize {
		jacobians = make([][]float64, len(rb.blocks))
	}
	for i, idx := range rb.blocks {
		b := problem.blocks[idx]
		params[i] = b.values
		if linearize && b.offset >= 0 {
			jacobians[i] = make([]float64, numResiduals*len(b.values))
		}
	}
	residuals := make([]float64, numResiduals)
	if err := rb.cost.Evaluate(params, residuals, jacobians); err != nil {
		return err
	}

	sq := floats.Dot(residuals, residuals)
	weight := 1.0
	if rb.loss != nil {
		rho := rb.loss.Evaluate(sq)
		ev.cost += 0.5 * rho[0]
		weight = math.Sqrt(math.Max(rho[1], 0))
	} else {
		ev.cost += 0.5 * sq
	}
	if !linearize {
		return nil
	}
	if weight != 1 {
		floats.Scale(weight, residuals)
		for _, jac := range jacobians {
			if jac != nil {
				floats.Scale(weight, jac)
			}
		}
	}

	for i, idxI := range rb.blocks {
		bi := problem.blocks[idxI]
		if bi.offset < 0 {
			continue
		}
		ji := jacobians[i]
		sizeI := len(bi.values)
		for a := 0; a < sizeI; a++ {
			g := 0.0
			for r := 0; r < numResiduals; r++ {
				g += ji[r*sizeI+a] * residuals[r]
			}
			ev.gradient[bi.offset+a] += g
		}
		for j, idxJ := range rb.blocks {
			bj := problem.blocks[idxJ]
			if bj.offset < bi.offset {
				continue
			}
			jj := jacobians[j]
			sizeJ := len(bj.values)
			for a := 0; a < sizeI; a++ {
				for c := 0; c < sizeJ; c++ {
					row, col := bi.offset+a, bj.offset+c
					if idxI == idxJ && col < row {
						continue
					}
					v := 0.0
					for r := 0; r < numResiduals; r++ {
						v += ji[r*sizeI+a] * jj[r*sizeJ+c]
					}
					ev.jtj.SetSym(row, col, ev.jtj.At(row, col)+v)
				}
			}
		}
	}
	return nil
}

// solveDamped solves (J^T J + lambda D) step = -g with D the clamped diagonal of J^T J.
func solveDamped(ev *evaluation, lambda float64, step []float64) bool {
	n := len(step)
	a := mat.NewSymDense(n, nil)
	a.CopySym(ev.jtj)
	for i := 0; i < n; i++ {
		d := math.Min(math.Max(ev.jtj.At(i, i), minDiagonal), maxDiagonal)
		a.SetSym(i, i, a.At(i, i)+lambda*d)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return false
	}
	rhs := mat.NewVecDense(n, nil)
	for i, g := range ev.gradient {
		rhs.SetVec(i, -g)
	}
	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, rhs); err != nil {
		return false
	}
	for i := range step {
		step[i] = sol.AtVec(i)
		if math.IsNaN(step[i]) || math.IsInf(step[i], 0) {
			return false
		}
	}
	return true
}

// predictedDecrease is the decrease of the quadratic model, -g.dx - 1/2 dx^T J^T J dx.
func predictedDecrease(ev *evaluation, step []float64) float64 {
	v := mat.NewVecDense(len(step), step)
	var jv mat.VecDense
	jv.MulVec(ev.jtj, v)
	return -floats.Dot(ev.gradient, step) - 0.5*mat.Dot(v, &jv)
}

// projectedGradientNorm is max |x - P(x - g)| with P the projection onto the bounds.
func projectedGradientNorm(problem *Problem, x, gradient []float64) float64 {
	moved := make([]float64, len(x))
	floats.SubTo(moved, x, gradient)
	problem.project(moved)
	out := 0.0
	for i := range x {
		out = math.Max(out, math.Abs(x[i]-moved[i]))
	}
	return out
}
