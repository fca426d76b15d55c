package calibration

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/camera"
)

// Options are the user facing calibration settings, typically decoded from a JSON file.
type Options struct {
	Model         string             `json:"model"`
	Flags         []string           `json:"flags"`
	MaxIterations int                `json:"max_iterations"`
	Epsilon       float64            `json:"epsilon"`
	MaxTime       time.Duration      `json:"max_time"`
	NumThreads    int                `json:"num_threads"`
	ImageWidth    int                `json:"image_width"`
	ImageHeight   int                `json:"image_height"`
	Intrinsics    *camera.Intrinsics `json:"intrinsics,omitempty"`
	Distortion    []float64          `json:"distortion,omitempty"`
}

// DecodeOptions decodes options from a generic map, filling unset values with defaults.
func DecodeOptions(raw map[string]interface{}) (*Options, error) {
	criteria := DefaultCriteria()
	opts := &Options{
		Model:         camera.RadialPolynomialName,
		MaxIterations: criteria.MaxIterations,
		Epsilon:       criteria.Epsilon,
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           opts,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "error creating decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "error decoding calibration options")
	}
	return opts, opts.Validate()
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if _, err := camera.NewModel(o.Model); err != nil {
		return err
	}
	if _, err := ParseFlags(o.Flags); err != nil {
		return err
	}
	if o.MaxIterations < 0 {
		return errors.Errorf("max_iterations must not be negative, got %d", o.MaxIterations)
	}
	if o.ImageWidth < 0 || o.ImageHeight < 0 {
		return errors.Errorf("image size must not be negative, got %dx%d", o.ImageWidth, o.ImageHeight)
	}
	if o.Intrinsics != nil {
		if err := o.Intrinsics.CheckValid(); err != nil {
			return err
		}
	}
	return nil
}

// Criteria returns the stopping criteria described by the options.
func (o *Options) Criteria() Criteria {
	return Criteria{MaxIterations: o.MaxIterations, Epsilon: o.Epsilon, MaxTime: o.MaxTime}
}

// ParsedFlags returns the parsed calibration flags.
func (o *Options) ParsedFlags() (Flags, error) {
	return ParseFlags(o.Flags)
}

// NewModel returns the initial camera model described by the options.
func (o *Options) NewModel() (camera.Model, error) {
	m, err := camera.NewModel(o.Model)
	if err != nil {
		return nil, err
	}
	if o.Intrinsics != nil {
		m.SetIntrinsics(*o.Intrinsics)
	}
	if err := m.SetDistortionCoefficients(o.Distortion); err != nil {
		return nil, err
	}
	return m, nil
}
