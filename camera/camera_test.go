package camera

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/spatialmath"
)

func TestIntrinsicsCheckValid(t *testing.T) {
	var nilIntrinsics *Intrinsics
	err := nilIntrinsics.CheckValid()
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	in := &Intrinsics{Fx: 0, Fy: 100}
	err = in.CheckValid()
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "focal lengths must be positive")

	in = &Intrinsics{Fx: 100, Fy: 100, Cx: math.NaN()}
	test.That(t, in.CheckValid(), test.ShouldNotBeNil)

	in = &Intrinsics{Fx: 100, Fy: 120, Cx: 50, Cy: 60, Alpha: 0.01}
	test.That(t, in.CheckValid(), test.ShouldBeNil)
}

func TestCameraMatrix(t *testing.T) {
	in := Intrinsics{Fx: 800, Fy: 810, Cx: 320, Cy: 240, Alpha: 0.002}
	k := in.CameraMatrix()
	test.That(t, k.At(0, 1), test.ShouldAlmostEqual, 1.6)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.)

	back, err := IntrinsicsFromCameraMatrix(k)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Fx, test.ShouldEqual, in.Fx)
	test.That(t, back.Fy, test.ShouldEqual, in.Fy)
	test.That(t, back.Cx, test.ShouldEqual, in.Cx)
	test.That(t, back.Cy, test.ShouldEqual, in.Cy)
	test.That(t, back.Alpha, test.ShouldAlmostEqual, in.Alpha, 1e-15)

	k.Set(2, 0, 1)
	_, err = IntrinsicsFromCameraMatrix(k)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInitialCameraEstimate(t *testing.T) {
	identity := IdentityIntrinsics()
	test.That(t, identity.IsUnset(), test.ShouldBeTrue)

	in := InitialCameraEstimate(1920, 1080)
	test.That(t, in.Fx, test.ShouldAlmostEqual, 1920/math.Pi)
	test.That(t, in.Fy, test.ShouldAlmostEqual, 1920/math.Pi)
	test.That(t, in.Cx, test.ShouldEqual, 959.5)
	test.That(t, in.Cy, test.ShouldEqual, 539.5)
	test.That(t, in.Alpha, test.ShouldEqual, 0.)
	test.That(t, in.IsUnset(), test.ShouldBeFalse)
}

func TestNormalizeImage(t *testing.T) {
	in := Intrinsics{Fx: 1000, Fy: 990, Cx: 512, Cy: 384, Alpha: 0.003}
	for _, p := range []r2.Point{{X: 0, Y: 0}, {X: 512, Y: 384}, {X: 1000, Y: 20}, {X: -4, Y: 900}} {
		back := in.Image(in.Normalize(p))
		test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, 1e-9)
	}
	test.That(t, in.SetParams([]float64{1, 2, 3}), test.ShouldNotBeNil)
}

func TestNewModel(t *testing.T) {
	for name, want := range map[string]string{
		"pinhole":                "pinhole",
		"AngularPolynomial":      "AngularPolynomial",
		"RadialPolynomial":       "RadialPolynomial",
		"CeresRadialPolynomial":  "RadialPolynomial",
		"OpencvRadialPolynomial": "RadialPolynomial",
		"RadialPolynomialRobust": "RadialPolynomialRobust",
	} {
		m, err := NewModel(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.Name(), test.ShouldEqual, want)
		test.That(t, m.Intrinsics().IsUnset(), test.ShouldBeTrue)
		for _, c := range m.DistortionCoefficients() {
			test.That(t, c, test.ShouldEqual, 0.)
		}
	}
	_, err := NewModel("fisheye")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "fisheye")

	robust, err := NewModel(RadialPolynomialRobustName)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, IsRobust(robust), test.ShouldBeTrue)
	test.That(t, IsRobust(NewRadialPolynomial()), test.ShouldBeFalse)
}

func TestSetDistortionCoefficients(t *testing.T) {
	rp := NewRadialPolynomial()
	test.That(t, rp.SetDistortionCoefficients([]float64{0.1, 0.2}), test.ShouldBeNil)
	test.That(t, rp.DistortionCoefficients(), test.ShouldResemble, []float64{0.1, 0.2, 0, 0, 0, 0, 0, 0})
	test.That(t, rp.SetDistortionCoefficients(make([]float64, 9)), test.ShouldNotBeNil)

	ap := NewAngularPolynomial()
	test.That(t, ap.SetDistortionCoefficients(TanApproximationCoefficients), test.ShouldBeNil)
	test.That(t, ap.DistortionCoefficients(), test.ShouldResemble, TanApproximationCoefficients)
	test.That(t, ap.SetDistortionCoefficients(make([]float64, 5)), test.ShouldNotBeNil)

	ph := NewPinhole()
	test.That(t, ph.SetDistortionCoefficients(nil), test.ShouldBeNil)
	test.That(t, ph.SetDistortionCoefficients([]float64{0.1}), test.ShouldNotBeNil)
}

func TestCoefficientsVector(t *testing.T) {
	coeffs := []float64{1000, 1001, 500, 499, 0.1, -0.05, 0.001, 0.002, 0.01, 0, 0, 0}
	m, err := NewModelFromCoefficients(RadialPolynomialName, coeffs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.CoefficientsVector(), test.ShouldResemble, coeffs)

	cp, err := Copy(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cp.CoefficientsVector(), test.ShouldResemble, coeffs)
	cp.Intrinsics().Fx = 5
	test.That(t, m.Intrinsics().Fx, test.ShouldEqual, 1000.)

	_, err = NewModelFromCoefficients(PinholeName, []float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewModelFromCoefficients(PinholeName, []float64{0, 0, 0, 0})
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	_, err = NewModelFromCoefficients(AngularPolynomialName, make([]float64, 9))
	test.That(t, err, test.ShouldNotBeNil)
}

func modelWith(t *testing.T, name string, coeffs []float64) Model {
	t.Helper()
	m, err := NewModel(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.SetDistortionCoefficients(coeffs), test.ShouldBeNil)
	return m
}

func rayGrid() []r3.Vector {
	var rays []r3.Vector
	for x := -0.5; x <= 0.5; x += 0.125 {
		for y := -0.5; y <= 0.5; y += 0.125 {
			rays = append(rays, r3.Vector{X: x, Y: y, Z: 1})
		}
	}
	return rays
}

func TestDistortUndistortRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		coeffs []float64
	}{
		{PinholeName, nil},
		{AngularPolynomialName, []float64{0.1, -0.05, 0.01, 0}},
		{AngularPolynomialName, TanApproximationCoefficients},
		{RadialPolynomialName, []float64{0.1, -0.05}},
		{RadialPolynomialName, []float64{-0.2, 0.05, 0.001, -0.002, 0.01}},
		{RadialPolynomialName, []float64{0.1, 0.01, 0, 0, 0, 0.05, 0.01, 0.001}},
		{RadialPolynomialRobustName, []float64{-0.2, 0.05, 0.001, -0.002}},
	}
	for _, tc := range cases {
		m := modelWith(t, tc.name, tc.coeffs)
		for _, w := range rayGrid() {
			d := m.Distort(w)
			u := m.Undistort(d)
			test.That(t, u.X, test.ShouldAlmostEqual, w.X/w.Z, 1e-6)
			test.That(t, u.Y, test.ShouldAlmostEqual, w.Y/w.Z, 1e-6)

			again := m.Distort(r3.Vector{X: u.X, Y: u.Y, Z: 1})
			test.That(t, again.X, test.ShouldAlmostEqual, d.X, 1e-6)
			test.That(t, again.Y, test.ShouldAlmostEqual, d.Y, 1e-6)
		}
	}
}

func TestZeroDistortionIsPinhole(t *testing.T) {
	for _, name := range []string{PinholeName, AngularPolynomialName, RadialPolynomialName, RadialPolynomialRobustName} {
		m := modelWith(t, name, nil)
		for _, w := range rayGrid() {
			w = w.Mul(2.5)
			u := m.Undistort(m.Distort(w))
			test.That(t, u.X, test.ShouldAlmostEqual, w.X/w.Z, 1e-9)
			test.That(t, u.Y, test.ShouldAlmostEqual, w.Y/w.Z, 1e-9)
		}
	}
	for _, name := range []string{PinholeName, RadialPolynomialName} {
		m := modelWith(t, name, nil)
		p := r2.Point{X: 0.3, Y: -0.2}
		test.That(t, m.Distort(r3.Vector{X: 0.6, Y: -0.4, Z: 2}), test.ShouldResemble, p)
		test.That(t, m.Undistort(p), test.ShouldResemble, p)
	}
}

func TestAngularDistortion(t *testing.T) {
	k := []float64{0.1, 0.01, 0, 0}
	w := r3.Vector{X: 1, Y: 1, Z: 1}
	theta := math.Atan(math.Sqrt2)
	td := theta * (1 + 0.1*theta*theta + 0.01*math.Pow(theta, 4))
	d := DistortAngular(k, w)
	test.That(t, d.X, test.ShouldAlmostEqual, td*math.Cos(math.Pi/4), 1e-12)
	test.That(t, d.Y, test.ShouldAlmostEqual, td*math.Sin(math.Pi/4), 1e-12)

	ap := NewAngularPolynomial()
	test.That(t, ap.Undistort(r2.Point{}), test.ShouldResemble, r2.Point{})
}

func TestRadialDistortion(t *testing.T) {
	k := []float64{0.1, -0.05, 0.01, 0.02, 0.001, 0, 0, 0}
	p := r2.Point{X: 0.2, Y: -0.1}
	rsq := 0.05
	radial := 1 + 0.1*rsq - 0.05*rsq*rsq + 0.001*rsq*rsq*rsq
	d := DistortRadial(k, p)
	test.That(t, d.X, test.ShouldAlmostEqual, 0.2*radial+2*0.01*0.2*-0.1+0.02*(rsq+2*0.04), 1e-12)
	test.That(t, d.Y, test.ShouldAlmostEqual, -0.1*radial+0.01*(rsq+2*0.01)+2*0.02*0.2*-0.1, 1e-12)
}

func TestMinimizeInverse(t *testing.T) {
	rp := NewRadialPolynomial()
	test.That(t, rp.SetDistortionCoefficients([]float64{0.2, 0.05}), test.ShouldBeNil)
	target := rp.forward(r2.Point{X: 0.25, Y: 0.4})
	u := minimizeInverse(rp.forward, target, target)
	test.That(t, u.X, test.ShouldAlmostEqual, 0.25, 1e-6)
	test.That(t, u.Y, test.ShouldAlmostEqual, 0.4, 1e-6)
}

func TestProjectionHelpers(t *testing.T) {
	m := modelWith(t, RadialPolynomialName, []float64{-0.1, 0.02})
	m.SetIntrinsics(Intrinsics{Fx: 1000, Fy: 1000, Cx: 500, Cy: 500})
	pose := spatialmath.Pose{
		Rotation:    r3.Vector{X: 0.1, Y: -0.2, Z: 0.05},
		Translation: r3.Vector{X: 0.1, Y: 0.05, Z: 3},
	}
	objs := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 0.5, Y: 0, Z: 0}, {X: 0, Y: 0.5, Z: 0}, {X: 0.5, Y: 0.5, Z: 0.1}}
	pixels := ProjectPoints(m, objs, pose)
	normalized := NormalizeUndistortImage(m, pixels)
	for i, obj := range objs {
		c := pose.Transform(obj)
		test.That(t, normalized[i].X, test.ShouldAlmostEqual, c.X/c.Z, 1e-6)
		test.That(t, normalized[i].Y, test.ShouldAlmostEqual, c.Y/c.Z, 1e-6)
	}

	back := DistortImage(m, normalized)
	undistorted := UndistortPoints(m, pixels)
	for i := range pixels {
		test.That(t, back[i].X, test.ShouldAlmostEqual, pixels[i].X, 1e-6)
		test.That(t, back[i].Y, test.ShouldAlmostEqual, pixels[i].Y, 1e-6)
		pinhole := m.Image(normalized[i])
		test.That(t, undistorted[i].X, test.ShouldAlmostEqual, pinhole.X, 1e-9)
		test.That(t, undistorted[i].Y, test.ShouldAlmostEqual, pinhole.Y, 1e-9)
	}
}
