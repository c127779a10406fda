package transform

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/coastalimages/argus/rimage"
	"github.com/coastalimages/argus/utils"
)

// PinholeCameraModel is the model of a pinhole camera: the raw intrinsics and lens distortion as
// calibrated, plus the derived distortion-free optimal intrinsics every projection is expressed in.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`

	undistortion Distorter
	optimal      *PinholeCameraIntrinsics
}

// NewPinholeCameraModel validates the intrinsics and distortion and computes the optimal matrix.
// A nil distortion means an ideal lens.
func NewPinholeCameraModel(intrinsics *PinholeCameraIntrinsics, distortion Distorter) (*PinholeCameraModel, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if bc, ok := distortion.(*BrownConrady); ok && bc == nil {
		distortion = nil
	}
	if distortion != nil {
		if err := distortion.CheckValid(); err != nil {
			return nil, err
		}
	}
	undistortion, err := undistorterFor(distortion)
	if err != nil {
		return nil, err
	}
	raw := *intrinsics
	optimal, err := optimalIntrinsics(&raw, undistortion)
	if err != nil {
		return nil, err
	}
	return &PinholeCameraModel{
		PinholeCameraIntrinsics: &raw,
		Distortion:              distortion,
		undistortion:            undistortion,
		optimal:                 optimal,
	}, nil
}

// NewPinholeCameraModelFromMatrix builds a model from a 3x3 camera matrix and Brown-Conrady
// coefficients in [k1 k2 p1 p2 k3 k4 k5 k6] order.
func NewPinholeCameraModelFromMatrix(k mat.Matrix, dist []float64, width, height int) (*PinholeCameraModel, error) {
	intrinsics, err := NewPinholeCameraIntrinsicsFromMatrix(k, width, height)
	if err != nil {
		return nil, err
	}
	bc, err := NewBrownConrady(dist)
	if err != nil {
		return nil, err
	}
	return NewPinholeCameraModel(intrinsics, bc)
}

// OptimalIntrinsics returns a copy of the distortion-free intrinsics.
func (params *PinholeCameraModel) OptimalIntrinsics() PinholeCameraIntrinsics {
	return *params.optimal
}

// OptimalMatrix returns the distortion-free camera matrix.
func (params *PinholeCameraModel) OptimalMatrix() *mat.Dense {
	return params.optimal.GetCameraMatrix()
}

// FocalLengths returns (fx, fy) of the optimal matrix.
func (params *PinholeCameraModel) FocalLengths() (float64, float64) {
	return params.optimal.Fx, params.optimal.Fy
}

// PrincipalPoint returns (cx, cy) of the optimal matrix.
func (params *PinholeCameraModel) PrincipalPoint() (float64, float64) {
	return params.optimal.Ppx, params.optimal.Ppy
}

// FieldOfView is the horizontal angle of view in radians, 2*atan(W / (2*fx')).
func (params *PinholeCameraModel) FieldOfView() float64 {
	return 2 * math.Atan(float64(params.Width)/(2*params.optimal.Fx))
}

// UndistortPoint maps a distorted pixel of the raw camera to the optimal camera.
func (params *PinholeCameraModel) UndistortPoint(pt r2.Point) r2.Point {
	x, y := params.PixelToNormalized(pt.X, pt.Y)
	x, y = params.undistortion.Transform(x, y)
	u, v := params.optimal.NormalizedToPixel(x, y)
	return r2.Point{X: u, Y: v}
}

// UndistortPoints maps distorted pixels of the raw camera to the optimal camera. The input is not modified.
func (params *PinholeCameraModel) UndistortPoints(pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = params.UndistortPoint(pt)
	}
	return out
}

// DistortionMap is a function that transforms the undistorted pixel (u,v) of the optimal camera to
// the distorted pixel (x,y) of the raw camera according to the model in PinholeCameraModel.Distortion.
func (params *PinholeCameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	return func(u, v float64) (float64, float64) {
		x, y := params.optimal.PixelToNormalized(u, v)
		if params.Distortion != nil {
			x, y = params.Distortion.Transform(x, y)
		}
		return params.NormalizedToPixel(x, y)
	}
}

// DistortPoints maps pixels of the optimal camera to distorted pixels of the raw camera.
func (params *PinholeCameraModel) DistortPoints(pts []r2.Point) []r2.Point {
	distortionMap := params.DistortionMap()
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		x, y := distortionMap(pt.X, pt.Y)
		out[i] = r2.Point{X: x, Y: y}
	}
	return out
}

// UndistortImage takes an input image and creates a new image the same size, channel count and
// value scale, as seen by the optimal camera. Every destination pixel is pushed through
// DistortionMap and the source is sampled bilinearly; samples outside the source are black.
// Values stay float64, so [0, 255] and [0, 1] images both come back unquantized.
func (params *PinholeCameraModel) UndistortImage(img *rimage.Image) (*rimage.Image, error) {
	if img == nil {
		return nil, errors.Wrap(ErrInvalidInput, "input image is nil")
	}
	// Check dimensions, they should be equal between the image and what the intrinsics expect
	if params.Width != img.Width() || params.Height != img.Height() {
		return nil, errors.Wrapf(ErrInvalidInput, "img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			img.Width(), img.Height(), params.Width, params.Height)
	}
	undistortedImg := rimage.NewImageLike(img)
	distortionMap := params.DistortionMap()
	err := utils.ParallelForEachRow(context.Background(), params.Height, func(v int) {
		for u := 0; u < params.Width; u++ {
			x, y := distortionMap(float64(u), float64(v))
			img.Bilinear(x, y, undistortedImg.Pixel(u, v))
		}
	})
	if err != nil {
		return nil, err
	}
	return undistortedImg, nil
}

// Cylindrical maps undistorted pixels onto a cylinder around the optical centre of the optimal camera:
//
//	u_c = f*atan((u-u0)/f) + u0
//	v_c = f*(v-v0)/sqrt((u-u0)² + f²) + v0
//
// with f = fx', u0 = cx' and v0 = cy'.
func (params *PinholeCameraModel) Cylindrical(pts []r2.Point) []r2.Point {
	f := params.optimal.Fx
	u0, v0 := params.optimal.Ppx, params.optimal.Ppy
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		du := pt.X - u0
		out[i] = r2.Point{
			X: f*math.Atan(du/f) + u0,
			Y: f*(pt.Y-v0)/math.Sqrt(du*du+f*f) + v0,
		}
	}
	return out
}

func (params *PinholeCameraModel) String() string {
	return fmt.Sprintf("pinhole %dx%d fx=%.3f fy=%.3f cx=%.3f cy=%.3f distortion=%v",
		params.Width, params.Height, params.optimal.Fx, params.optimal.Fy,
		params.optimal.Ppx, params.optimal.Ppy, distortionParameters(params.Distortion))
}

func distortionParameters(d Distorter) []float64 {
	if d == nil {
		return nil
	}
	return d.Parameters()
}
