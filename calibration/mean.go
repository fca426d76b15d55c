package calibration

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/camcalib/camera"
)

// EstimateMeanCamera averages the coefficients of cameras of the same model. Alpha is averaged
// alongside.
func EstimateMeanCamera(models []camera.Model) (camera.Model, error) {
	if len(models) == 0 {
		return nil, errors.New("cannot average an empty list of cameras")
	}
	name := models[0].Name()
	sum := make([]float64, len(models[0].CoefficientsVector()))
	alpha := 0.0
	for i, m := range models {
		if m.Name() != name {
			return nil, errors.Wrapf(ErrMeanEstimationTypeMismatch, "camera %d is %q, expected %q", i, m.Name(), name)
		}
		c := m.CoefficientsVector()
		if len(c) != len(sum) {
			return nil, errors.Wrapf(ErrMeanEstimationTypeMismatch,
				"camera %d has %d coefficients, expected %d", i, len(c), len(sum))
		}
		floats.Add(sum, c)
		alpha += m.Intrinsics().Alpha
	}
	if len(models) > 1 {
		floats.Scale(1/float64(len(models)), sum)
		alpha /= float64(len(models))
	}
	mean, err := camera.NewModelFromCoefficients(name, sum)
	if err != nil {
		return nil, err
	}
	in := *mean.Intrinsics()
	in.Alpha = alpha
	mean.SetIntrinsics(in)
	return mean, nil
}
