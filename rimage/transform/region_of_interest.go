package transform

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"

	"github.com/coastalimages/argus/rimage"
	"github.com/coastalimages/argus/utils"
)

// RegionOfInterest is a quadrilateral in pixel coordinates. Corners run around the quadrilateral,
// starting top left and going clockwise in image coordinates.
type RegionOfInterest struct {
	Corners [4]r2.Point `json:"corners"`
}

// NewRegionOfInterest rejects non-finite corners.
func NewRegionOfInterest(corners [4]r2.Point) (*RegionOfInterest, error) {
	for i, c := range corners {
		if !utils.IsFinite(c.X, c.Y) {
			return nil, newInvalidInputError("roi corner %d is not finite: %v", i, c)
		}
	}
	return &RegionOfInterest{Corners: corners}, nil
}

func (roi *RegionOfInterest) bounds() (r2.Point, r2.Point) {
	lo, hi := roi.Corners[0], roi.Corners[0]
	for _, c := range roi.Corners[1:] {
		lo = r2.Point{X: math.Min(lo.X, c.X), Y: math.Min(lo.Y, c.Y)}
		hi = r2.Point{X: math.Max(hi.X, c.X), Y: math.Max(hi.Y, c.Y)}
	}
	return lo, hi
}

// Widths is the extent of the bounding box along x and y.
func (roi *RegionOfInterest) Widths() r2.Point {
	lo, hi := roi.bounds()
	return hi.Sub(lo)
}

// MinWidth is the smaller of the two Widths.
func (roi *RegionOfInterest) MinWidth() float64 {
	w := roi.Widths()
	return math.Min(w.X, w.Y)
}

// Lengths returns the lengths of the diagonals 0-2 and 1-3.
func (roi *RegionOfInterest) Lengths() [2]float64 {
	return [2]float64{
		roi.Corners[0].Sub(roi.Corners[2]).Norm(),
		roi.Corners[1].Sub(roi.Corners[3]).Norm(),
	}
}

// PerspectiveTransform returns the homography taking the corners to the rectangle
// (0,0), (w,0), (w,h), (0,h).
func (roi *RegionOfInterest) PerspectiveTransform(width, height float64) (*Homography, error) {
	dst := []r2.Point{{X: 0, Y: 0}, {X: width, Y: 0}, {X: width, Y: height}, {X: 0, Y: height}}
	return EstimateHomography(roi.Corners[:], dst)
}

// WarpPerspective maps the quadrilateral onto a width x height image, sampling bilinearly with a
// black border. Non-positive sizes default to a MinWidth square. The forward homography is returned
// with the image.
func (roi *RegionOfInterest) WarpPerspective(img *rimage.Image, width, height int) (*rimage.Image, *Homography, error) {
	if img == nil {
		return nil, nil, errors.Wrap(ErrInvalidInput, "input image is nil")
	}
	if width <= 0 || height <= 0 {
		width = int(roi.MinWidth())
		height = width
	}
	if width <= 0 {
		return nil, nil, newInvalidInputError("roi %v is degenerate", roi.Corners)
	}
	h, err := roi.PerspectiveTransform(float64(width), float64(height))
	if err != nil {
		return nil, nil, err
	}
	inv, err := h.Inverse()
	if err != nil {
		return nil, nil, errors.Wrap(ErrInvalidInput, err.Error())
	}
	warped, err := rimage.NewImage(width, height, img.Channels(), img.Scale())
	if err != nil {
		return nil, nil, err
	}
	err = utils.ParallelForEachRow(context.Background(), height, func(v int) {
		for u := 0; u < width; u++ {
			src := inv.Apply(r2.Point{X: float64(u), Y: float64(v)})
			img.Bilinear(src.X, src.Y, warped.Pixel(u, v))
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return warped, h, nil
}

// ExtractedRegion is the bounding-box crop of a RegionOfInterest.
type ExtractedRegion struct {
	// Image is the crop; pixels of the box that fall outside the source frame are black.
	Image *rimage.Image
	// Mask is row major over the crop, true where the pixel lies inside the quadrilateral.
	Mask []bool
	// Corners are the integer corners relative to the crop origin.
	Corners [4]r2.Point
}

// Inside reports the mask value at (x, y) of the crop.
func (e *ExtractedRegion) Inside(x, y int) bool {
	return e.Mask[y*e.Image.Width()+x]
}

// Extract crops the integer bounding box of the region out of img. Corners are truncated to whole
// pixels first.
func (roi *RegionOfInterest) Extract(img *rimage.Image) (*ExtractedRegion, error) {
	if img == nil {
		return nil, errors.Wrap(ErrInvalidInput, "input image is nil")
	}
	var corners [4]r2.Point
	colMin, rowMin := math.MaxInt, math.MaxInt
	colMax, rowMax := math.MinInt, math.MinInt
	for i, c := range roi.Corners {
		x, y := int(c.X), int(c.Y)
		corners[i] = r2.Point{X: float64(x), Y: float64(y)}
		colMin, colMax = utils.MinInt(colMin, x), utils.MaxInt(colMax, x)
		rowMin, rowMax = utils.MinInt(rowMin, y), utils.MaxInt(rowMax, y)
	}
	crop, err := rimage.NewImage(colMax-colMin, rowMax-rowMin, img.Channels(), img.Scale())
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidInput, "roi %v is degenerate", roi.Corners)
	}

	ring := make(orb.Ring, 0, 5)
	for i := range corners {
		corners[i] = corners[i].Sub(r2.Point{X: float64(colMin), Y: float64(rowMin)})
		ring = append(ring, orb.Point{corners[i].X, corners[i].Y})
	}
	ring = append(ring, ring[0])
	polygon := orb.Polygon{ring}

	mask := make([]bool, crop.Width()*crop.Height())
	for y := 0; y < crop.Height(); y++ {
		for x := 0; x < crop.Width(); x++ {
			mask[y*crop.Width()+x] = planar.PolygonContains(polygon, orb.Point{float64(x), float64(y)})
			sx, sy := x+colMin, y+rowMin
			if img.In(sx, sy) {
				copy(crop.Pixel(x, y), img.Pixel(sx, sy))
			}
		}
	}
	return &ExtractedRegion{Image: crop, Mask: mask, Corners: corners}, nil
}
