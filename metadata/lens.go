package metadata

import (
	"fmt"
	"math"

	"github.com/coastalimages/argus/rimage/transform"
)

// Intrinsics converts the stored lens of a camera. K is read column major, and its focal lengths,
// principal point and skew are taken as magnitudes the way the station tooling stores them. The
// four radial and two tangential coefficients map to [k1 k2 p1 p2 k3 k4 0 0].
func (cam Camera) Intrinsics(ip IntrinsicParameters) (*transform.PinholeCameraIntrinsics, *transform.BrownConrady, error) {
	if len(cam.K) != 9 {
		return nil, nil, transform.NewConfigurationError(
			fmt.Sprintf("camera %q: K has %d values, need 9", cam.ID, len(cam.K)))
	}
	// column major: K[col*3+row]
	at := func(row, col int) float64 { return cam.K[col*3+row] }
	intrinsics := &transform.PinholeCameraIntrinsics{
		Width:  ip.Width,
		Height: ip.Height,
		Fx:     math.Abs(at(0, 0)),
		Fy:     math.Abs(at(1, 1)),
		Skew:   math.Abs(at(0, 1)),
		Ppx:    math.Abs(at(0, 2)),
		Ppy:    math.Abs(at(1, 2)),
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, nil, err
	}
	distortion, err := transform.NewBrownConradyFromRadialTangential(cam.Drad, cam.Dtan)
	if err != nil {
		return nil, nil, err
	}
	return intrinsics, distortion, nil
}

// Model builds the pinhole camera model of the camera.
func (cam Camera) Model(ip IntrinsicParameters) (*transform.PinholeCameraModel, error) {
	intrinsics, distortion, err := cam.Intrinsics(ip)
	if err != nil {
		return nil, err
	}
	return transform.NewPinholeCameraModel(intrinsics, distortion)
}
