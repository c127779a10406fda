package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/coastalimages/argus/utils"
)

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Skew   float64 `json:"skew,omitempty"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewConfigurationError("intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewConfigurationError(fmt.Sprintf("invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if !utils.IsFinite(params.Fx, params.Fy, params.Skew, params.Ppx, params.Ppy) {
		return NewConfigurationError(fmt.Sprintf("non-finite intrinsics %+v", *params))
	}
	if params.Fx <= 0 {
		return NewConfigurationError(fmt.Sprintf("invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewConfigurationError(fmt.Sprintf("invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, skew and the principal point from a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, width, height int) (*PinholeCameraIntrinsics, error) {
	if k == nil {
		return nil, NewConfigurationError("camera matrix is nil")
	}
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, NewConfigurationError(fmt.Sprintf("camera matrix must be 3x3, got %dx%d", r, c))
	}
	if k.At(1, 0) != 0 || k.At(2, 0) != 0 || k.At(2, 1) != 0 || k.At(2, 2) != 1 {
		return nil, NewConfigurationError("camera matrix must be upper triangular with K[2,2] = 1")
	}
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Skew:   k.At(0, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer jsonFile.Close() //nolint:errcheck
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return intrinsics, nil
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx skew ppx],
//
//	[0  fy   ppy],
//	[0  0    1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(0, 1, params.Skew)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PixelToNormalized applies K⁻¹ to a pixel, returning coordinates on the z=1 plane.
func (params *PinholeCameraIntrinsics) PixelToNormalized(u, v float64) (float64, float64) {
	y := (v - params.Ppy) / params.Fy
	x := (u - params.Ppx - params.Skew*y) / params.Fx
	return x, y
}

// NormalizedToPixel applies K to a point on the z=1 plane.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(x, y float64) (float64, float64) {
	return params.Fx*x + params.Skew*y + params.Ppx, params.Fy*y + params.Ppy
}

// PointToPixel projects a camera-frame 3D point to a pixel in the image plane. Points with z = 0
// come back as NaN.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z == 0 {
		return math.NaN(), math.NaN()
	}
	return params.NormalizedToPixel(x/z, y/z)
}

// InFrame reports whether a pixel lies in [0, Width) x [0, Height).
func (params *PinholeCameraIntrinsics) InFrame(pt r2.Point) bool {
	return pt.X >= 0 && pt.Y >= 0 && pt.X < float64(params.Width) && pt.Y < float64(params.Height)
}
