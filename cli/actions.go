package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/src-d/go-billy.v4/osfs"

	"go.viam.com/camcalib/calibration"
	"go.viam.com/camcalib/calibrationdb"
	"go.viam.com/camcalib/camera"
	"go.viam.com/camcalib/detection"
	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/report"
)

func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewBlankLogger("calibrate")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.INFO)
	}
	return logger
}

func loadOptions(c *cli.Context) (*calibration.Options, error) {
	raw := map[string]interface{}{}
	if path := c.Path(calibrateFlagOptions); path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't read options file %q", path)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrapf(err, "error parsing options file %q", path)
		}
	}
	opts, err := calibration.DecodeOptions(raw)
	if err != nil {
		return nil, err
	}
	if c.IsSet(calibrateFlagModel) {
		opts.Model = c.String(calibrateFlagModel)
	}
	opts.Flags = append(opts.Flags, c.StringSlice(calibrateFlagFlags)...)
	if c.IsSet(calibrateFlagImageWidth) {
		opts.ImageWidth = c.Int(calibrateFlagImageWidth)
	}
	if c.IsSet(calibrateFlagImageHeight) {
		opts.ImageHeight = c.Int(calibrateFlagImageHeight)
	}
	if c.IsSet(calibrateFlagMaxIterations) {
		opts.MaxIterations = c.Int(calibrateFlagMaxIterations)
	}
	if c.IsSet(generalFlagThreads) {
		opts.NumThreads = c.Int(generalFlagThreads)
	}
	return opts, opts.Validate()
}

func loadDetections(path string) (dets []*detection.Detection, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open detections file %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return detection.ReadDetections(f)
}

func loadBoard(path string) (*detection.Board, error) {
	if path == "" {
		return nil, nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return detection.LoadBoard(osfs.New(filepath.Dir(path)), filepath.Base(path), name)
}

func loadRecord(path string) (*calibrationdb.Record, error) {
	return calibrationdb.NewOSFileStore(filepath.Dir(path)).Load(filepath.Base(path))
}

func saveRecord(path string, rec *calibrationdb.Record) error {
	return calibrationdb.NewOSFileStore(filepath.Dir(path)).Save(filepath.Base(path), rec)
}

// CalibrateAction calibrates a camera from a file of detections.
func CalibrateAction(c *cli.Context) error {
	logger := newLogger(c)
	opts, err := loadOptions(c)
	if err != nil {
		return err
	}
	flags, err := opts.ParsedFlags()
	if err != nil {
		return err
	}
	model, err := opts.NewModel()
	if err != nil {
		return err
	}
	board, err := loadBoard(c.Path(calibrateFlagBoard))
	if err != nil {
		return err
	}
	dets, err := loadDetections(c.Path(calibrateFlagDetections))
	if err != nil {
		return err
	}
	if threshold := c.Float64(calibrateFlagRANSACThreshold); threshold > 0 {
		rng := rand.New(rand.NewSource(1)) //nolint:gosec
		for i, d := range dets {
			if !d.Good() {
				continue
			}
			if code := d.Validate(threshold, rng); code != detection.AllValid {
				logger.Warnw("detection failed validation", "image", i, "reason", code.String())
			}
		}
	}

	imageSize := image.Pt(opts.ImageWidth, opts.ImageHeight)
	engine := calibration.NewEngine(logger, calibration.WithNumThreads(opts.NumThreads))
	result, err := engine.Calibrate(c.Context, model, detection.ToObservations(dets), imageSize, flags, opts.Criteria())
	if err != nil {
		return err
	}
	if !result.Valid() {
		return errors.Wrap(result.Err, "calibration failed")
	}
	if err := report.Write(c.App.Writer, result); err != nil {
		return err
	}
	if path := c.Path(calibrateFlagPlot); path != "" {
		if err := report.SaveErrorScatter(path, result); err != nil {
			return err
		}
	}

	rec := calibrationdb.NewRecord(model, result, board, imageSize, flags, time.Now())
	if path := c.Path(calibrateFlagOutput); path != "" {
		if err := saveRecord(path, rec); err != nil {
			return err
		}
		logger.Infow("wrote calibration", "path", path)
	}
	if path := c.Path(dbFlagPath); path != "" {
		key, err := saveToDB(c.Context, path, c.String(dbFlagKey), rec)
		if err != nil {
			return err
		}
		printf(c, "stored calibration %s", key)
	}
	return nil
}

func saveToDB(ctx context.Context, path, key string, rec *calibrationdb.Record) (_ string, err error) {
	store, err := calibrationdb.OpenSQLStore(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()
	return store.Save(ctx, key, rec)
}

// MeanAction averages the cameras of several stored calibrations.
func MeanAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one record is required")
	}
	models := make([]camera.Model, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		rec, err := loadRecord(path)
		if err != nil {
			return err
		}
		m, err := rec.Model()
		if err != nil {
			return errors.Wrapf(err, "record %q", path)
		}
		models = append(models, m)
	}
	mean, err := calibration.EstimateMeanCamera(models)
	if err != nil {
		return err
	}
	rec := calibrationdb.NewRecord(mean, nil, nil, image.Point{}, calibration.Flags{}, time.Now())
	if path := c.Path(calibrateFlagOutput); path != "" {
		return saveRecord(path, rec)
	}
	return rec.Encode(c.App.Writer)
}

// ShowAction prints a calibration record read from a file or a database.
func ShowAction(c *cli.Context) (err error) {
	var rec *calibrationdb.Record
	switch {
	case c.NArg() > 0:
		rec, err = loadRecord(c.Args().First())
	case c.Path(dbFlagPath) != "" && c.String(dbFlagKey) != "":
		var store *calibrationdb.SQLStore
		store, err = calibrationdb.OpenSQLStore(c.Context, c.Path(dbFlagPath))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, store.Close())
		}()
		rec, err = store.Get(c.Context, c.String(dbFlagKey))
	default:
		return errors.New("either a record file or --db and --key are required")
	}
	if err != nil {
		return err
	}
	return rec.Encode(c.App.Writer)
}

// ListAction prints the keys stored in a calibration database.
func ListAction(c *cli.Context) (err error) {
	store, err := calibrationdb.OpenSQLStore(c.Context, c.Path(dbFlagPath))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()
	keys, err := store.FindKeysStartingWith(c.Context, c.String(dbFlagPrefix))
	if err != nil {
		return err
	}
	for _, k := range keys {
		printf(c, "%s", k)
	}
	return nil
}

// printf prints a message with no decoration.
func printf(c *cli.Context, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(c.App.Writer, format+"\n", a...)
}
