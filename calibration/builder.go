package calibration

import (
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/camera"
	"go.viam.com/camcalib/solver"
	"go.viam.com/camcalib/spatialmath"
)

// ModelBuilder describes how the distortion of one camera model is laid out as solver parameter
// blocks.
type ModelBuilder interface {
	// DistortionBlocks copies the distortion coefficients of m into parameter blocks that can each
	// be held constant independently.
	DistortionBlocks(m camera.Model) [][]float64
	// Distort applies the distortion held in the blocks to a ray in the camera frame.
	Distort(blocks [][]float64, w r3.Vector) r2.Point
	// Constrain zeroes and fixes blocks according to the flags.
	Constrain(problem *solver.Problem, blocks [][]float64, flags Flags) error
	// Write stores the blocks back into m.
	Write(m camera.Model, blocks [][]float64) error
}

var (
	buildersMu sync.RWMutex
	builders   = map[string]ModelBuilder{}
)

// RegisterModelBuilder registers the builder used to calibrate models with the given name.
func RegisterModelBuilder(name string, b ModelBuilder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	if _, ok := builders[name]; ok {
		panic(errors.Errorf("model builder for %q already registered", name))
	}
	builders[name] = b
}

// LookupModelBuilder returns the builder registered for a model name.
func LookupModelBuilder(name string) (ModelBuilder, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	b, ok := builders[name]
	return b, ok
}

func init() {
	RegisterModelBuilder(camera.PinholeName, pinholeBuilder{})
	RegisterModelBuilder(camera.AngularPolynomialName, angularBuilder{})
	RegisterModelBuilder(camera.RadialPolynomialName, radialBuilder{})
	RegisterModelBuilder(camera.RadialPolynomialRobustName, radialBuilder{})
}

type pinholeBuilder struct{}

func (pinholeBuilder) DistortionBlocks(camera.Model) [][]float64 {
	return nil
}

func (pinholeBuilder) Distort(_ [][]float64, w r3.Vector) r2.Point {
	return camera.ProjectRay(w)
}

func (pinholeBuilder) Constrain(*solver.Problem, [][]float64, Flags) error {
	return nil
}

func (pinholeBuilder) Write(camera.Model, [][]float64) error {
	return nil
}

type angularBuilder struct{}

func (angularBuilder) DistortionBlocks(m camera.Model) [][]float64 {
	k := make([]float64, camera.AngularCoefficients)
	copy(k, m.DistortionCoefficients())
	return [][]float64{k}
}

func (angularBuilder) Distort(blocks [][]float64, w r3.Vector) r2.Point {
	return camera.DistortAngular(blocks[0], w)
}

func (angularBuilder) Constrain(*solver.Problem, [][]float64, Flags) error {
	return nil
}

func (angularBuilder) Write(m camera.Model, blocks [][]float64) error {
	return m.SetDistortionCoefficients(blocks[0])
}

// radialBuilder splits k1, k2, p1, p2, k3, k4, k5, k6 into k12, p12, k3 and k456.
type radialBuilder struct{}

const (
	radialK12 = iota
	radialP12
	radialK3
	radialK456
)

func (radialBuilder) DistortionBlocks(m camera.Model) [][]float64 {
	k := make([]float64, camera.RadialCoefficients)
	copy(k, m.DistortionCoefficients())
	return [][]float64{
		{k[0], k[1]},
		{k[2], k[3]},
		{k[4]},
		{k[5], k[6], k[7]},
	}
}

func (radialBuilder) coefficients(blocks [][]float64) []float64 {
	k := make([]float64, 0, camera.RadialCoefficients)
	for _, b := range blocks {
		k = append(k, b...)
	}
	return k
}

func (b radialBuilder) Distort(blocks [][]float64, w r3.Vector) r2.Point {
	return camera.DistortRadial(b.coefficients(blocks), camera.ProjectRay(w))
}

func (radialBuilder) Constrain(problem *solver.Problem, blocks [][]float64, flags Flags) error {
	if flags.ZeroTangentDist {
		for i := range blocks[radialP12] {
			blocks[radialP12][i] = 0
		}
		if err := problem.SetParameterBlockConstant(blocks[radialP12]); err != nil {
			return err
		}
	}
	if !flags.RationalModel {
		for i := range blocks[radialK456] {
			blocks[radialK456][i] = 0
		}
		if err := problem.SetParameterBlockConstant(blocks[radialK456]); err != nil {
			return err
		}
	}
	return nil
}

func (b radialBuilder) Write(m camera.Model, blocks [][]float64) error {
	return m.SetDistortionCoefficients(b.coefficients(blocks))
}

// problemBlocks are the parameter blocks of one calibration problem.
type problemBlocks struct {
	builder ModelBuilder
	camera  []float64
	alpha   []float64
	dist    [][]float64
	poses   [][]float64
}

func newProblemBlocks(m camera.Model, b ModelBuilder, numImages int) *problemBlocks {
	in := m.Intrinsics()
	return &problemBlocks{
		builder: b,
		camera:  in.Params(),
		alpha:   []float64{in.Alpha},
		dist:    b.DistortionBlocks(m),
		poses:   make([][]float64, numImages),
	}
}

// globals returns the blocks shared by every residual, in residual parameter order.
func (pb *problemBlocks) globals() [][]float64 {
	return append([][]float64{pb.camera, pb.alpha}, pb.dist...)
}

func (pb *problemBlocks) blockSizes() []int {
	var sizes []int
	for _, b := range pb.globals() {
		sizes = append(sizes, len(b))
	}
	return append(sizes, spatialmath.PoseParams)
}

// project evaluates the pixel projection of obj given values for globals() followed by a pose.
func project(b ModelBuilder, params [][]float64, obj r3.Vector) r2.Point {
	last := len(params) - 1
	cam, alpha := params[0], params[1][0]
	w := spatialmath.TransformParams(params[last], obj)
	d := b.Distort(params[2:last], w)
	return camera.ImageParams(cam[0], cam[1], cam[2], cam[3], alpha, d)
}

// reprojectionCost returns the cost of one correspondence.
func reprojectionCost(b ModelBuilder, c Correspondence, sizes []int) (solver.CostFunction, error) {
	return solver.NewNumericDiffCostFunction(func(params [][]float64, residuals []float64) error {
		p := project(b, params, c.Object)
		residuals[0] = p.X - c.Image.X
		residuals[1] = p.Y - c.Image.Y
		return nil
	}, 2, sizes...)
}

// addImage adds the residual blocks of one image with an initial pose.
func (pb *problemBlocks) addImage(problem *solver.Problem, i int, pose []float64, corrs []Correspondence,
	loss solver.LossFunction,
) error {
	pb.poses[i] = pose
	sizes := pb.blockSizes()
	blocks := append(pb.globals(), pose)
	for _, c := range corrs {
		cost, err := reprojectionCost(pb.builder, c, sizes)
		if err != nil {
			return err
		}
		if err := problem.AddResidualBlock(cost, loss, blocks...); err != nil {
			return err
		}
	}
	return nil
}

// constrain applies the constraints shared by all models plus the model's own.
func (pb *problemBlocks) constrain(problem *solver.Problem, flags Flags, width, height int) error {
	if flags.FixSkew {
		if err := problem.SetParameterBlockConstant(pb.alpha); err != nil {
			return err
		}
	}
	for i := range pb.camera {
		if err := problem.SetParameterLowerBound(pb.camera, i, 0); err != nil {
			return err
		}
	}
	if width > 0 {
		if err := problem.SetParameterUpperBound(pb.camera, 2, float64(width)); err != nil {
			return err
		}
	}
	if height > 0 {
		if err := problem.SetParameterUpperBound(pb.camera, 3, float64(height)); err != nil {
			return err
		}
	}
	return pb.builder.Constrain(problem, pb.dist, flags)
}

// write stores the solved globals into m.
func (pb *problemBlocks) write(m camera.Model) error {
	in := *m.Intrinsics()
	if err := in.SetParams(pb.camera); err != nil {
		return err
	}
	in.Alpha = pb.alpha[0]
	m.SetIntrinsics(in)
	return pb.builder.Write(m, pb.dist)
}
