package calibration

import (
	"context"
	"image"
	"math"
	"runtime"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/camcalib/camera"
	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/solver"
	"go.viam.com/camcalib/spatialmath"
	"go.viam.com/camcalib/transform"
	"go.viam.com/camcalib/utils"
)

const (
	// MinImagePoints is the fewest correspondences an image needs to take part in a calibration.
	MinImagePoints = 4
	// rmsAgreementTolerance bounds the relative disagreement between the solver cost and the
	// recomputed RMS.
	rmsAgreementTolerance = 1e-6
	parameterTolerance    = 1e-10
)

// Engine calibrates camera models from observations of a known target.
type Engine struct {
	logger     logging.Logger
	numThreads int
	clock      clock.Clock
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNumThreads bounds the goroutines used for pose estimation and residual evaluation. n <= 0
// keeps the default of one per CPU.
func WithNumThreads(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.numThreads = n
		}
	}
}

// WithClock sets the clock used to time calibrations.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// NewEngine returns an engine logging to logger.
func NewEngine(logger logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:     logger,
		numThreads: runtime.NumCPU(),
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Calibrate jointly estimates the intrinsics and distortion of model and the pose of every usable
// image. The model is updated in place only when the calibration succeeds. Per image failures
// exclude the image and are recorded in Result.Status; model and solver failures are reported
// through Result.Success and Result.Err. An error is returned only for invalid arguments and
// cancellation.
func (e *Engine) Calibrate(
	ctx context.Context,
	model camera.Model,
	obs ObservationSet,
	imageSize image.Point,
	flags Flags,
	criteria Criteria,
) (*Result, error) {
	if model == nil {
		return nil, errors.New("cannot calibrate a nil camera model")
	}
	if len(obs) == 0 {
		return nil, ErrNoObservations
	}
	start := e.clock.Now()
	result := NewResult(len(obs))
	defer func() {
		result.TotalTime = e.clock.Since(start)
	}()
	logger := e.logger.Sublogger(model.Name())

	builder, ok := LookupModelBuilder(model.Name())
	if !ok {
		result.invalidate(NewUnimplementedCalibrationError(model.Name()))
		logger.Errorw("cannot calibrate", "error", result.Err)
		return result, nil
	}

	// Work on a copy so an unconverged solve never leaves the caller's model half updated.
	work, err := camera.Copy(model)
	if err != nil {
		return nil, err
	}
	if work.Intrinsics().IsUnset() {
		if imageSize.X <= 0 || imageSize.Y <= 0 {
			return nil, errors.Errorf("intrinsics are unset and image size %v cannot seed them", imageSize)
		}
		work.SetIntrinsics(camera.InitialCameraEstimate(imageSize.X, imageSize.Y))
		logger.Debugw("initial camera estimate", "intrinsics", *work.Intrinsics())
	}
	if err := work.Intrinsics().CheckValid(); err != nil {
		return nil, err
	}

	if err := e.initPoses(ctx, logger, work, obs, result); err != nil {
		return nil, err
	}
	result.countUsed()
	result.NumPoints = 0
	for _, i := range result.UsedImages() {
		result.NumPoints += len(obs[i])
	}
	logger.Infof("calibrating from %d of %d images (%d points)", result.NumImages, len(obs), result.NumPoints)
	if result.NumImages == 0 {
		result.invalidate(errors.Wrap(ErrInsufficientPoints, "no image is usable"))
		return result, nil
	}

	blocks := newProblemBlocks(work, builder, len(obs))
	problem := solver.NewProblem()
	var loss solver.LossFunction
	if flags.HuberLoss || camera.IsRobust(work) {
		logger.Debugf("using Huber loss with threshold %v", HuberThreshold)
		loss = solver.NewHuberLoss(HuberThreshold)
	}
	for _, i := range result.UsedImages() {
		if err := blocks.addImage(problem, i, result.Poses[i].Params(), obs[i], loss); err != nil {
			return nil, err
		}
	}
	if err := blocks.constrain(problem, flags, imageSize.X, imageSize.Y); err != nil {
		return nil, err
	}

	opts := solver.DefaultOptions()
	opts.MaxIterations = criteria.MaxIterations
	opts.MaxSolverTime = criteria.MaxTime
	if criteria.Epsilon > 0 {
		opts.FunctionTolerance = criteria.Epsilon
	}
	opts.ParameterTolerance = parameterTolerance
	opts.NumThreads = e.numThreads
	opts.Logger = logger.Sublogger("solver")
	summary, err := solver.Solve(ctx, problem, opts)
	if err != nil {
		return nil, errors.Wrap(err, "solving calibration problem")
	}
	result.Iterations = summary.Iterations
	logger.Infow("solver finished",
		"termination", summary.Termination.String(),
		"message", summary.Message,
		"iterations", summary.Iterations,
		"initial_cost", summary.InitialCost,
		"final_cost", summary.FinalCost)

	if !summary.Converged() {
		result.invalidate(errors.Wrap(ErrSolverNonConvergence, summary.Message))
		return result, nil
	}

	if err := blocks.write(work); err != nil {
		return nil, err
	}
	for _, i := range result.UsedImages() {
		pose, err := spatialmath.PoseFromParams(blocks.poses[i])
		if err != nil {
			return nil, err
		}
		result.Poses[i] = pose
	}

	result.Residual = summary.FinalCost
	result.RMS = reprojectionRMS(work, obs, result)
	if loss == nil && result.NumPoints > 0 {
		solverRMS := math.Sqrt(2 * summary.FinalCost / float64(2*result.NumPoints))
		if d := utils.RelativeDifference(result.RMS, solverRMS); d > rmsAgreementTolerance {
			logger.Warnw("recomputed RMS disagrees with solver cost",
				"rms", result.RMS, "solver_rms", solverRMS, "relative_difference", d)
		}
	}
	result.Success = true

	if err := copyInto(model, work); err != nil {
		return nil, err
	}
	logger.Infow("calibration succeeded", "rms", result.RMS, "coefficients", model.CoefficientsVector())
	return result, nil
}

// initPoses estimates an initial pose for every image on a bounded pool of goroutines. Images that
// fail are marked in result.Status and never abort the run.
func (e *Engine) initPoses(
	ctx context.Context,
	logger logging.Logger,
	model camera.Model,
	obs ObservationSet,
	result *Result,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.numThreads)
	for i := range obs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if len(obs[i]) < MinImagePoints {
				result.Status[i] = false
				logger.Warnw("excluding image", "image", i,
					"error", NewInsufficientPointsError(i, len(obs[i]), MinImagePoints))
				return nil
			}
			objs, imgs := obs.Split(i)
			pose, err := transform.EstimatePose(objs, camera.NormalizeUndistortImage(model, imgs))
			if err != nil {
				result.Status[i] = false
				logger.Warnw("excluding image", "image", i,
					"error", errors.Wrap(ErrPoseEstimationFailure, err.Error()))
				return nil
			}
			result.Poses[i] = pose
			return nil
		})
	}
	return g.Wait()
}

// reprojectionRMS projects every used correspondence with the final model and poses, filling
// result.ReprojErrors.
func reprojectionRMS(m camera.Model, obs ObservationSet, result *Result) float64 {
	sum := 0.0
	n := 0
	for i, corrs := range obs {
		if !result.Status[i] {
			result.ReprojErrors[i] = nil
			continue
		}
		errs := make([]ReprojError, len(corrs))
		for j, c := range corrs {
			p := camera.ProjectPoint(m, c.Object, result.Poses[i])
			d := p.Sub(c.Image)
			errs[j] = ReprojError{Projected: p, Error: d}
			sum += d.Dot(d)
			n += 2
		}
		result.ReprojErrors[i] = errs
	}
	if n == 0 {
		return -1
	}
	return math.Sqrt(sum / float64(n))
}

func copyInto(dst, src camera.Model) error {
	dst.SetIntrinsics(*src.Intrinsics())
	return dst.SetDistortionCoefficients(src.DistortionCoefficients())
}

// CalibrateSimple calibrates with the default criteria and returns only the RMS and poses. The RMS
// is -1 when the calibration did not succeed, in which case the reason is returned as the error.
func (e *Engine) CalibrateSimple(
	ctx context.Context,
	model camera.Model,
	obs ObservationSet,
	imageSize image.Point,
	flags Flags,
) (float64, []spatialmath.Pose, error) {
	result, err := e.Calibrate(ctx, model, obs, imageSize, flags, DefaultCriteria())
	if err != nil {
		return -1, nil, err
	}
	if !result.Success {
		return -1, result.Poses, result.Err
	}
	return result.RMS, result.Poses, nil
}
