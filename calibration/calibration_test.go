package calibration

import (
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/camera"
)

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"fix_skew", "+zero_tangent_dist", " HUBER_LOSS ", ""})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldResemble, Flags{FixSkew: true, ZeroTangentDist: true, HuberLoss: true})
	test.That(t, f.String(), test.ShouldEqual, "+fix_skew +zero_tangent_dist +huber_loss")

	again, err := ParseFlags([]string{"+fix_skew", "+zero_tangent_dist", "+huber_loss"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, f)

	_, err = ParseFlags([]string{"fix_aspect"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "fix_aspect")

	test.That(t, Flags{}.String(), test.ShouldEqual, "")
	test.That(t, Flags{RationalModel: true}.String(), test.ShouldEqual, "+rational_model")
}

func TestDefaultCriteria(t *testing.T) {
	c := DefaultCriteria()
	test.That(t, c.MaxIterations, test.ShouldEqual, 100)
	test.That(t, c.Epsilon, test.ShouldEqual, 2.220446049250313e-16)
	test.That(t, c.MaxTime, test.ShouldEqual, time.Duration(0))
}

func TestNewResult(t *testing.T) {
	r := NewResult(3)
	test.That(t, r.RMS, test.ShouldEqual, -1.)
	test.That(t, r.Residual, test.ShouldEqual, -1.)
	test.That(t, r.NumPoints, test.ShouldEqual, -1)
	test.That(t, r.NumImages, test.ShouldEqual, -1)
	test.That(t, r.Status, test.ShouldResemble, []bool{true, true, true})
	test.That(t, len(r.Poses), test.ShouldEqual, 3)
	test.That(t, len(r.ReprojErrors), test.ShouldEqual, 3)
	test.That(t, r.Valid(), test.ShouldBeFalse)

	r.Status[1] = false
	r.countUsed()
	test.That(t, r.NumImages, test.ShouldEqual, 2)
	test.That(t, r.UsedImages(), test.ShouldResemble, []int{0, 2})
}

func TestPerImageRMS(t *testing.T) {
	r := NewResult(2)
	r.Status[1] = false
	r.ReprojErrors[0] = []ReprojError{
		{Error: r2.Point{X: 3, Y: 4}},
		{Error: r2.Point{X: 0, Y: 0}},
	}
	rms := r.PerImageRMS()
	test.That(t, rms[0], test.ShouldAlmostEqual, 2.5)
	test.That(t, rms[1], test.ShouldEqual, -1.)
	test.That(t, r.ErrorMagnitudes(), test.ShouldResemble, []float64{5, 0})
}

func TestObservationSet(t *testing.T) {
	obs := NewObservationSet(
		[][]r3.Vector{{{X: 1}, {X: 2}, {X: 3}}, {{Y: 1}}},
		[][]r2.Point{{{X: 10}, {X: 20}}, {{Y: 10}}, {{Y: 20}}},
	)
	test.That(t, obs.NumImages(), test.ShouldEqual, 2)
	test.That(t, obs.TotalPoints(), test.ShouldEqual, 3)
	objs, imgs := obs.Split(0)
	test.That(t, objs, test.ShouldResemble, []r3.Vector{{X: 1}, {X: 2}})
	test.That(t, imgs, test.ShouldResemble, []r2.Point{{X: 10}, {X: 20}})
}

func TestEstimateMeanCamera(t *testing.T) {
	a := camera.NewRadialPolynomial()
	a.SetIntrinsics(camera.Intrinsics{Fx: 1000.123456789, Fy: 999.987654321, Cx: 500.5, Cy: 499.25, Alpha: 0.001})
	test.That(t, a.SetDistortionCoefficients([]float64{0.1, -0.05, 0.001, 0.002, 0.0003}), test.ShouldBeNil)

	mean, err := EstimateMeanCamera([]camera.Model{a})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mean.Name(), test.ShouldEqual, camera.RadialPolynomialName)
	test.That(t, mean.CoefficientsVector(), test.ShouldResemble, a.CoefficientsVector())
	test.That(t, mean.Intrinsics().Alpha, test.ShouldEqual, 0.001)

	b := camera.NewRadialPolynomial()
	b.SetIntrinsics(camera.Intrinsics{Fx: 1000, Fy: 1000, Cx: 500, Cy: 500, Alpha: 0.003})
	test.That(t, b.SetDistortionCoefficients([]float64{0.3}), test.ShouldBeNil)
	mean, err = EstimateMeanCamera([]camera.Model{a, b})
	test.That(t, err, test.ShouldBeNil)
	c := mean.CoefficientsVector()
	test.That(t, c[0], test.ShouldAlmostEqual, 1000.0617283945)
	test.That(t, c[4], test.ShouldAlmostEqual, 0.2)
	test.That(t, c[5], test.ShouldAlmostEqual, -0.025)
	test.That(t, mean.Intrinsics().Alpha, test.ShouldAlmostEqual, 0.002)
	test.That(t, a.CoefficientsVector()[4], test.ShouldEqual, 0.1)

	_, err = EstimateMeanCamera([]camera.Model{a, camera.NewAngularPolynomial()})
	test.That(t, errors.Is(err, ErrMeanEstimationTypeMismatch), test.ShouldBeTrue)

	_, err = EstimateMeanCamera(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeOptions(t *testing.T) {
	opts, err := DecodeOptions(map[string]interface{}{
		"model":          "AngularPolynomial",
		"flags":          []interface{}{"fix_skew", "huber_loss"},
		"max_iterations": "25",
		"max_time":       "30s",
		"image_width":    1280,
		"image_height":   720,
		"intrinsics":     map[string]interface{}{"fx": 600, "fy": 600, "cx": 640, "cy": 360},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Model, test.ShouldEqual, camera.AngularPolynomialName)
	test.That(t, opts.MaxIterations, test.ShouldEqual, 25)
	test.That(t, opts.MaxTime, test.ShouldEqual, 30*time.Second)
	test.That(t, opts.Epsilon, test.ShouldEqual, DefaultCriteria().Epsilon)
	test.That(t, opts.Criteria().MaxTime, test.ShouldEqual, 30*time.Second)

	flags, err := opts.ParsedFlags()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, flags, test.ShouldResemble, Flags{FixSkew: true, HuberLoss: true})

	m, err := opts.NewModel()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Name(), test.ShouldEqual, camera.AngularPolynomialName)
	test.That(t, m.Intrinsics().Fx, test.ShouldEqual, 600.)

	defaults, err := DecodeOptions(map[string]interface{}{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, defaults.Model, test.ShouldEqual, camera.RadialPolynomialName)
	test.That(t, defaults.MaxIterations, test.ShouldEqual, 100)

	_, err = DecodeOptions(map[string]interface{}{"model": "fisheye"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = DecodeOptions(map[string]interface{}{"flags": []string{"nope"}})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = DecodeOptions(map[string]interface{}{"unknown_key": 1})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = DecodeOptions(map[string]interface{}{"intrinsics": map[string]interface{}{"fx": 0, "fy": 1}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestModelBuilders(t *testing.T) {
	for _, name := range []string{
		camera.PinholeName, camera.AngularPolynomialName,
		camera.RadialPolynomialName, camera.RadialPolynomialRobustName,
	} {
		_, ok := LookupModelBuilder(name)
		test.That(t, ok, test.ShouldBeTrue)
	}
	_, ok := LookupModelBuilder("unregistered")
	test.That(t, ok, test.ShouldBeFalse)

	m := camera.NewRadialPolynomial()
	coeffs := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	test.That(t, m.SetDistortionCoefficients(coeffs), test.ShouldBeNil)
	b := radialBuilder{}
	blocks := b.DistortionBlocks(m)
	test.That(t, blocks, test.ShouldResemble, [][]float64{{0.1, 0.2}, {0.3, 0.4}, {0.5}, {0.6, 0.7, 0.8}})
	w := r3.Vector{X: 0.2, Y: -0.1, Z: 1}
	test.That(t, b.Distort(blocks, w), test.ShouldResemble, m.Distort(w))

	test.That(t, func() { RegisterModelBuilder(camera.PinholeName, pinholeBuilder{}) }, test.ShouldPanic)
}

func TestBuilderDistortMatchesModel(t *testing.T) {
	angular := camera.NewAngularPolynomial()
	test.That(t, angular.SetDistortionCoefficients([]float64{0.05, -0.01, 0.002}), test.ShouldBeNil)
	radial := camera.NewRadialPolynomial()
	test.That(t, radial.SetDistortionCoefficients([]float64{0.1, -0.05, 0.001, -0.002, 0.01, 0.2}), test.ShouldBeNil)

	for _, m := range []camera.Model{camera.NewPinhole(), angular, radial} {
		b, ok := LookupModelBuilder(m.Name())
		test.That(t, ok, test.ShouldBeTrue)
		blocks := b.DistortionBlocks(m)
		for _, w := range []r3.Vector{{X: 0.2, Y: -0.1, Z: 1}, {X: -0.3, Y: 0.4, Z: 2.5}, {X: 0, Y: 0, Z: 0.7}} {
			test.That(t, b.Distort(blocks, w), test.ShouldResemble, m.Distort(w))
		}
	}
}
