package transform

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration is returned when intrinsics, distortion or frame size are malformed.
	ErrConfiguration = errors.New("invalid camera configuration")
	// ErrInvalidInput is returned for malformed or degenerate correspondences and queries.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientPoints is returned when fewer than MinControlPoints correspondences are given.
	ErrInsufficientPoints = errors.Wrap(ErrInvalidInput, "insufficient control points")
	// ErrNotRectified is returned by operations that need a pose before one was solved or set.
	ErrNotRectified = errors.New("camera has to be rectified")
	// ErrPoseNotFound is returned when the pose solver diverges or the geometry is degenerate.
	ErrPoseNotFound = errors.New("camera pose not found")
)

// NewConfigurationError is used when the camera intrinsics or distortion are not usable.
func NewConfigurationError(msg string) error {
	return errors.Wrap(ErrConfiguration, msg)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(ErrConfiguration, fmt.Sprintf("invalid distortion_parameters: %s", msg))
}

func newInvalidInputError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}

func newPoseNotFoundError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrPoseNotFound, format, args...)
}
