package transform

import (
	"fmt"
	"math"
)

// optimalMatrixGridSize is the number of samples per side of the frame grid that is undistorted
// to find the valid inner rectangle.
const optimalMatrixGridSize = 9

// optimalIntrinsics returns the distortion-free camera matrix whose undistorted image, at the same
// resolution, contains only valid pixels (zero crop loss, "alpha = 0"). A 9x9 grid spanning
// [0, W-1] x [0, H-1] is undistorted into normalized coordinates. The inner rectangle is bounded
// by the largest x of the left column, the smallest x of the right column, the largest y of the
// top row and the smallest y of the bottom row, and is stretched to fill the frame:
//
//	fx' = (W-1)/(x1-x0)   cx' = -fx'*x0
//	fy' = (H-1)/(y1-y0)   cy' = -fy'*y0
//
// The result has no skew. With zero distortion and zero skew it equals the input matrix.
func optimalIntrinsics(raw *PinholeCameraIntrinsics, undistort Distorter) (*PinholeCameraIntrinsics, error) {
	const n = optimalMatrixGridSize
	w, h := float64(raw.Width-1), float64(raw.Height-1)
	// 1 pixel wide or high frames have a degenerate grid; treat the single row/column as unit length
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}

	x0, x1 := math.Inf(-1), math.Inf(1)
	y0, y1 := math.Inf(-1), math.Inf(1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			u := float64(j) * w / (n - 1)
			v := float64(i) * h / (n - 1)
			x, y := raw.PixelToNormalized(u, v)
			x, y = undistort.Transform(x, y)
			if j == 0 {
				x0 = math.Max(x0, x)
			}
			if j == n-1 {
				x1 = math.Min(x1, x)
			}
			if i == 0 {
				y0 = math.Max(y0, y)
			}
			if i == n-1 {
				y1 = math.Min(y1, y)
			}
		}
	}
	if !(x1 > x0) || !(y1 > y0) || math.IsInf(x1-x0, 0) || math.IsInf(y1-y0, 0) {
		return nil, NewConfigurationError(
			fmt.Sprintf("distortion folds the frame, inner rectangle x[%v, %v] y[%v, %v]", x0, x1, y0, y1))
	}

	fx := w / (x1 - x0)
	fy := h / (y1 - y0)
	opt := &PinholeCameraIntrinsics{
		Width:  raw.Width,
		Height: raw.Height,
		Fx:     fx,
		Fy:     fy,
		Ppx:    -fx * x0,
		Ppy:    -fy * y0,
	}
	if err := opt.CheckValid(); err != nil {
		return nil, err
	}
	return opt, nil
}
