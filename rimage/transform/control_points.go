package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// ControlPoint pairs a surveyed world point with the pixel it was observed at.
type ControlPoint struct {
	Object r3.Vector `json:"object"`
	Image  r2.Point  `json:"image"`
}

// SplitControlPoints returns the object and image halves of cps, in order.
func SplitControlPoints(cps []ControlPoint) ([]r3.Vector, []r2.Point) {
	object := make([]r3.Vector, len(cps))
	image := make([]r2.Point, len(cps))
	for i, cp := range cps {
		object[i] = cp.Object
		image[i] = cp.Image
	}
	return object, image
}

// RectifyControlPoints is Rectify over paired control points.
func (c *Camera) RectifyControlPoints(cps []ControlPoint, alreadyUndistorted bool) error {
	object, image := SplitControlPoints(cps)
	return c.Rectify(object, image, alreadyUndistorted)
}

// UndistortControlPoints returns a copy of cps with the image points moved into the optimal
// camera. cps is not modified.
func (c *Camera) UndistortControlPoints(cps []ControlPoint) []ControlPoint {
	object, image := SplitControlPoints(cps)
	image = c.UndistortPoints(image)
	out := make([]ControlPoint, len(cps))
	for i := range cps {
		out[i] = ControlPoint{Object: object[i], Image: image[i]}
	}
	return out
}
