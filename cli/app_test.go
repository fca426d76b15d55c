package cli

import (
	"bytes"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/camcalib/calibration"
	"go.viam.com/camcalib/calibrationdb"
	"go.viam.com/camcalib/camera"
	"go.viam.com/camcalib/detection"
	"go.viam.com/camcalib/spatialmath"
)

const testBoardJSON = `{"name": "target", "type": "chessboard", "width": 6, "height": 5, "squareSize": 0.04}`

// writeFixtures writes a board, synthetic detections of it seen by an ideal 1000px pinhole camera
// and an options file into dir.
func writeFixtures(t *testing.T, dir string) (boardPath, detPath, optsPath string) {
	t.Helper()
	boardPath = filepath.Join(dir, "target.json")
	test.That(t, os.WriteFile(boardPath, []byte(testBoardJSON), 0o600), test.ShouldBeNil)
	board, err := detection.ReadBoard(bytes.NewBufferString(testBoardJSON), "target")
	test.That(t, err, test.ShouldBeNil)

	truth := camera.NewPinhole()
	truth.SetIntrinsics(camera.Intrinsics{Fx: 1000, Fy: 1000, Cx: 500, Cy: 500})
	rng := rand.New(rand.NewSource(7))
	dets := make([]*detection.Detection, 0, 8)
	for i := 0; i < 8; i++ {
		pose := spatialmath.Pose{
			Rotation: r3.Vector{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5, Z: 0.3 * (rng.Float64() - 0.5)},
			Translation: r3.Vector{
				X: -0.1 + 0.1*(rng.Float64()-0.5),
				Y: -0.08 + 0.1*(rng.Float64()-0.5),
				Z: 0.5 + 0.3*rng.Float64(),
			},
		}
		var pts []r2.Point
		for _, w := range board.WorldPoints() {
			pts = append(pts, camera.ProjectPoint(truth, w, pose))
		}
		d, err := detection.NewGridDetection(board, pts)
		test.That(t, err, test.ShouldBeNil)
		dets = append(dets, d)
	}
	var buf bytes.Buffer
	test.That(t, detection.WriteDetections(&buf, dets), test.ShouldBeNil)
	detPath = filepath.Join(dir, "detections.json")
	test.That(t, os.WriteFile(detPath, buf.Bytes(), 0o600), test.ShouldBeNil)

	optsPath = filepath.Join(dir, "options.json")
	opts := `{"model": "pinhole", "image_width": 1000, "image_height": 1000,
		"intrinsics": {"fx": 900, "fy": 920, "cx": 480, "cy": 515}}`
	test.That(t, os.WriteFile(optsPath, []byte(opts), 0o600), test.ShouldBeNil)
	return boardPath, detPath, optsPath
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"calibrate"}, args...))
	return out.String(), errOut.String(), err
}

func TestCalibrateCommand(t *testing.T) {
	dir := t.TempDir()
	boardPath, detPath, optsPath := writeFixtures(t, dir)
	recPath := filepath.Join(dir, "out", "calibration.json")
	dbPath := filepath.Join(dir, "calibrations.db")
	plotPath := filepath.Join(dir, "errors.png")

	out, _, err := runApp(t, "--threads", "2", "calibrate",
		"--detections", detPath,
		"--board", boardPath,
		"--options", optsPath,
		"--flag", "fix_skew",
		"--output", recPath,
		"--plot", plotPath,
		"--db", dbPath,
		"--key", "front/left",
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "RMS")
	test.That(t, out, test.ShouldContainSubstring, "stored calibration front/left")

	_, err = os.Stat(plotPath)
	test.That(t, err, test.ShouldBeNil)

	rec, err := calibrationdb.NewOSFileStore(filepath.Dir(recPath)).Load(filepath.Base(recPath))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Success, test.ShouldBeTrue)
	test.That(t, rec.BoardName, test.ShouldEqual, "target")
	test.That(t, rec.Flags, test.ShouldEqual, "+fix_skew")
	test.That(t, rec.NumImages, test.ShouldEqual, 8)
	m, err := rec.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Intrinsics().Fx, test.ShouldAlmostEqual, 1000, 1e-2)
	test.That(t, m.Intrinsics().Cy, test.ShouldAlmostEqual, 500, 1e-2)

	out, _, err = runApp(t, "list", "--db", dbPath, "--prefix", "front")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "front/left\n")

	out, _, err = runApp(t, "show", "--db", dbPath, "--key", "front/left")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"camera_model": "pinhole"`)

	out, _, err = runApp(t, "show", recPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"board_name": "target"`)
}

func TestCalibrateCommandErrors(t *testing.T) {
	dir := t.TempDir()
	_, detPath, optsPath := writeFixtures(t, dir)

	_, _, err := runApp(t, "calibrate", "--detections", detPath, "--options", optsPath, "--model", "fisheye")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "do not know how to parse")

	_, _, err = runApp(t, "calibrate", "--detections", detPath, "--options", optsPath, "--flag", "bogus")
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = runApp(t, "calibrate", "--detections", filepath.Join(dir, "missing.json"), "--options", optsPath)
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = runApp(t, "show")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMeanCommand(t *testing.T) {
	dir := t.TempDir()
	store := calibrationdb.NewOSFileStore(dir)
	for i, fx := range []float64{990, 1010} {
		m := camera.NewPinhole()
		m.SetIntrinsics(camera.Intrinsics{Fx: fx, Fy: fx, Cx: 500, Cy: 500})
		rec := calibrationdb.NewRecord(m, nil, nil, testImage, zeroFlags, testTime)
		test.That(t, store.Save([]string{"a.json", "b.json"}[i], rec), test.ShouldBeNil)
	}
	meanPath := filepath.Join(dir, "mean.json")
	_, _, err := runApp(t, "mean", "--output", meanPath, filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json"))
	test.That(t, err, test.ShouldBeNil)

	rec, err := store.Load("mean.json")
	test.That(t, err, test.ShouldBeNil)
	m, err := rec.Model()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Intrinsics().Fx, test.ShouldAlmostEqual, 1000)

	_, _, err = runApp(t, "mean")
	test.That(t, err, test.ShouldNotBeNil)
}

var (
	testImage = image.Pt(1000, 1000)
	zeroFlags = calibration.Flags{}
	testTime  = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)
