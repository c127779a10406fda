// Package config defines the JSON description of a calibration job: the lens, where the control
// points come from, and how the pose solver is tuned.
package config

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/coastalimages/argus/logging"
	"github.com/coastalimages/argus/rimage/transform"
)

// CalibrationConfig describes one calibration job. Control points come either inline, together with
// the lens in Camera, or from a metadata table cache.
type CalibrationConfig struct {
	ConfigFilePath string `json:"-"`

	Camera             *CameraConfig            `json:"camera,omitempty"`
	ControlPoints      []transform.ControlPoint `json:"control_points,omitempty"`
	Metadata           *MetadataConfig          `json:"metadata,omitempty"`
	AlreadyUndistorted bool                     `json:"already_undistorted,omitempty"`
	Solver             map[string]interface{}   `json:"solver,omitempty"`
	LogLevel           string                   `json:"log_level,omitempty"`
}

// CameraConfig is a lens given inline.
type CameraConfig struct {
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	// Distortion lists up to eight Brown-Conrady coefficients, [k1 k2 p1 p2 k3 k4 k5 k6].
	Distortion []float64 `json:"distortion_parameters,omitempty"`
}

// MetadataConfig selects a geometry from a local cache of the metadata tables.
type MetadataConfig struct {
	TablesDir string `json:"tables_dir"`
	CameraID  string `json:"camera_id"`
	// Time picks the geometry valid closest to it, RFC 3339. Empty means now.
	Time    string `json:"time,omitempty"`
	MinGcps int    `json:"min_gcps,omitempty"`
}

// DefaultMinGcps is the fewest picked control points a geometry needs to be used.
const DefaultMinGcps = 6

func newFieldRequiredError(path, field string) error {
	return errors.Errorf("error validating %q: %q is required", path, field)
}

func newFieldError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}

// Validate reports every problem with the lens description.
func (c *CameraConfig) Validate(path string) error {
	if c.Intrinsics == nil {
		return newFieldRequiredError(path, "intrinsic_parameters")
	}
	var errs error
	if err := c.Intrinsics.CheckValid(); err != nil {
		errs = multierr.Append(errs, newFieldError(path+".intrinsic_parameters", err))
	}
	if _, err := transform.NewBrownConrady(c.Distortion); err != nil {
		errs = multierr.Append(errs, newFieldError(path+".distortion_parameters", err))
	}
	return errs
}

// Model builds the camera model the lens describes.
func (c *CameraConfig) Model() (*transform.PinholeCameraModel, error) {
	dist, err := transform.NewBrownConrady(c.Distortion)
	if err != nil {
		return nil, err
	}
	return transform.NewPinholeCameraModel(c.Intrinsics, dist)
}

// Validate reports every problem with the metadata selection.
func (m *MetadataConfig) Validate(path string) error {
	var errs error
	if m.TablesDir == "" {
		errs = multierr.Append(errs, newFieldRequiredError(path, "tables_dir"))
	}
	if m.CameraID == "" {
		errs = multierr.Append(errs, newFieldRequiredError(path, "camera_id"))
	}
	if _, err := m.At(time.Time{}); err != nil {
		errs = multierr.Append(errs, newFieldError(path+".time", err))
	}
	if m.MinGcps < 0 {
		errs = multierr.Append(errs, newFieldError(path+".min_gcps", errors.New("must not be negative")))
	}
	return errs
}

// At returns the configured time, or now when none is set.
func (m *MetadataConfig) At(now time.Time) (time.Time, error) {
	if m.Time == "" {
		return now, nil
	}
	return time.Parse(time.RFC3339, m.Time)
}

// MinControlPoints returns MinGcps, or DefaultMinGcps when unset.
func (m *MetadataConfig) MinControlPoints() int {
	if m.MinGcps == 0 {
		return DefaultMinGcps
	}
	return m.MinGcps
}

// PnPOptions returns the solver defaults overridden by the solver attributes.
func (c *CalibrationConfig) PnPOptions() (transform.PnPOptions, error) {
	opts := transform.DefaultPnPOptions()
	if len(c.Solver) > 0 {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			Result:           &opts,
		})
		if err != nil {
			return opts, err
		}
		if err := decoder.Decode(c.Solver); err != nil {
			return opts, err
		}
	}
	if err := opts.CheckValid(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Level returns the configured log level.
func (c *CalibrationConfig) Level() (logging.Level, error) {
	return logging.LevelFromString(c.LogLevel)
}

// Validate reports every problem with the job.
func (c *CalibrationConfig) Validate() error {
	var errs error
	switch {
	case c.Metadata != nil:
		errs = multierr.Append(errs, c.Metadata.Validate("metadata"))
		if len(c.ControlPoints) > 0 {
			errs = multierr.Append(errs, errors.New(`"control_points" and "metadata" are mutually exclusive`))
		}
		// an inline lens overrides the one stored with the camera
		if c.Camera != nil {
			errs = multierr.Append(errs, c.Camera.Validate("camera"))
		}
	case c.Camera == nil:
		errs = multierr.Append(errs, newFieldRequiredError("config", "camera"))
	default:
		errs = multierr.Append(errs, c.Camera.Validate("camera"))
		if len(c.ControlPoints) < transform.MinControlPoints {
			errs = multierr.Append(errs, newFieldError("control_points",
				errors.Errorf("need at least %d, got %d", transform.MinControlPoints, len(c.ControlPoints))))
		}
	}
	if _, err := c.PnPOptions(); err != nil {
		errs = multierr.Append(errs, newFieldError("solver", err))
	}
	if _, err := c.Level(); err != nil {
		errs = multierr.Append(errs, newFieldError("log_level", err))
	}
	return errs
}
