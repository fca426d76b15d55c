// Package calibrationdb persists calibration results, either as JSON files or in a keyed sqlite
// store.
package calibrationdb

import (
	"encoding/json"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/calibration"
	"go.viam.com/camcalib/camera"
	"go.viam.com/camcalib/detection"
	"go.viam.com/camcalib/spatialmath"
	"go.viam.com/camcalib/utils"
)

// ErrSerialization is returned, wrapped, when a persisted record is malformed or incomplete.
var ErrSerialization = errors.New("malformed calibration record")

func newSerializationError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrSerialization, format, args...)
}

// Record is the persisted form of one calibration.
type Record struct {
	CameraModel            string                      `json:"camera_model"`
	CameraMatrix           [][]float64                 `json:"camera_matrix"`
	DistortionCoefficients []float64                   `json:"distortion_coefficients"`
	BoardName              string                      `json:"board_name,omitempty"`
	BoardWidth             int                         `json:"board_width,omitempty"`
	BoardHeight            int                         `json:"board_height,omitempty"`
	SquareSize             float64                     `json:"square_size,omitempty"`
	CalibrationTime        time.Time                   `json:"calibration_time"`
	RMS                    float64                     `json:"rms"`
	Residual               float64                     `json:"residual"`
	NumPoints              int                         `json:"numPoints"`
	NumImages              int                         `json:"numImages"`
	Success                bool                        `json:"success"`
	ImageWidth             int                         `json:"image_width,omitempty"`
	ImageHeight            int                         `json:"image_height,omitempty"`
	Flags                  string                      `json:"flags"`
	TotalTime              float64                     `json:"total_time"`
	Status                 []bool                      `json:"status,omitempty"`
	ReprojErrors           [][]calibration.ReprojError `json:"reproj_errors,omitempty"`
	Poses                  []spatialmath.Pose          `json:"poses,omitempty"`
}

// NewRecord captures a calibrated model and its result. board may be nil.
func NewRecord(
	model camera.Model,
	result *calibration.Result,
	board *detection.Board,
	imageSize image.Point,
	flags calibration.Flags,
	now time.Time,
) *Record {
	rec := &Record{
		CameraModel:            model.Name(),
		CameraMatrix:           denseRows(model.Intrinsics().CameraMatrix()),
		DistortionCoefficients: model.DistortionCoefficients(),
		CalibrationTime:        now.UTC().Truncate(time.Second),
		ImageWidth:             imageSize.X,
		ImageHeight:            imageSize.Y,
		Flags:                  flags.String(),
	}
	if board != nil {
		rec.BoardName = board.Name
		rec.BoardWidth = board.Width
		rec.BoardHeight = board.Height
		rec.SquareSize = board.SquareSize
	}
	if result != nil {
		rec.RMS = result.RMS
		rec.Residual = result.Residual
		rec.NumPoints = result.NumPoints
		rec.NumImages = result.NumImages
		rec.Success = result.Success
		rec.TotalTime = result.TotalTime.Seconds()
		rec.Status = result.Status
		rec.ReprojErrors = result.ReprojErrors
		rec.Poses = result.Poses
	}
	return rec
}

func denseRows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// Validate checks that the record describes a camera.
func (r *Record) Validate() error {
	_, err := r.Model()
	return err
}

// Model rebuilds the calibrated camera.
func (r *Record) Model() (camera.Model, error) {
	if r.CameraModel == "" {
		return nil, newSerializationError("missing camera_model")
	}
	if len(r.CameraMatrix) != 3 {
		return nil, errors.Wrap(ErrSerialization, utils.NewLengthMismatchError("camera_matrix", 3, len(r.CameraMatrix)).Error())
	}
	data := make([]float64, 0, 9)
	for i, row := range r.CameraMatrix {
		if len(row) != 3 {
			return nil, newSerializationError("camera_matrix row %d must have 3 values, has %d", i, len(row))
		}
		data = append(data, row...)
	}
	in, err := camera.IntrinsicsFromCameraMatrix(mat.NewDense(3, 3, data))
	if err != nil {
		return nil, errors.Wrap(ErrSerialization, err.Error())
	}
	m, err := camera.NewModel(r.CameraModel)
	if err != nil {
		return nil, errors.Wrap(ErrSerialization, err.Error())
	}
	m.SetIntrinsics(in)
	if err := m.SetDistortionCoefficients(r.DistortionCoefficients); err != nil {
		return nil, errors.Wrap(ErrSerialization, err.Error())
	}
	return m, nil
}

// Encode writes the record as indented JSON.
func (r *Record) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// DecodeRecord reads and validates a JSON record.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(ErrSerialization, err.Error())
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
