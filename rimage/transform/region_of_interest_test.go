package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/coastalimages/argus/rimage"
)

func TestRegionOfInterestGeometry(t *testing.T) {
	roi, err := NewRegionOfInterest([4]r2.Point{{X: 10, Y: 20}, {X: 50, Y: 20}, {X: 50, Y: 50}, {X: 10, Y: 50}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, roi.Widths(), test.ShouldResemble, r2.Point{X: 40, Y: 30})
	test.That(t, roi.MinWidth(), test.ShouldEqual, 30.0)
	lengths := roi.Lengths()
	test.That(t, lengths[0], test.ShouldAlmostEqual, 50)
	test.That(t, lengths[1], test.ShouldAlmostEqual, 50)

	h, err := roi.PerspectiveTransform(40, 30)
	test.That(t, err, test.ShouldBeNil)
	p := h.Apply(r2.Point{X: 30, Y: 35})
	test.That(t, p.X, test.ShouldAlmostEqual, 20, 1e-9)
	test.That(t, p.Y, test.ShouldAlmostEqual, 15, 1e-9)

	_, err = NewRegionOfInterest([4]r2.Point{{X: math.NaN()}})
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
}

func gradientImage(t *testing.T, w, h int) *rimage.Image {
	t.Helper()
	img, err := rimage.NewImage(w, h, 1, rimage.ScaleUint8)
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, 0, float64(x+y))
		}
	}
	return img
}

func TestWarpPerspective(t *testing.T) {
	img := gradientImage(t, 100, 80)
	roi := &RegionOfInterest{Corners: [4]r2.Point{{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 50, Y: 40}, {X: 10, Y: 40}}}

	// an axis aligned rectangle is a pure translation at its own size
	warped, h, err := roi.WarpPerspective(img, 40, 30)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, warped.Width(), test.ShouldEqual, 40)
	test.That(t, warped.Height(), test.ShouldEqual, 30)
	test.That(t, warped.At(0, 0, 0), test.ShouldAlmostEqual, 20, 1e-9)
	test.That(t, warped.At(5, 7, 0), test.ShouldAlmostEqual, 32, 1e-9)
	test.That(t, h.Apply(r2.Point{X: 10, Y: 10}).X, test.ShouldAlmostEqual, 0, 1e-9)

	// the default output is a MinWidth square
	square, _, err := roi.WarpPerspective(img, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, square.Width(), test.ShouldEqual, 30)
	test.That(t, square.Height(), test.ShouldEqual, 30)

	// samples off the source are black
	off := &RegionOfInterest{Corners: [4]r2.Point{{X: 80, Y: 60}, {X: 120, Y: 60}, {X: 120, Y: 100}, {X: 80, Y: 100}}}
	warped, _, err = off.WarpPerspective(img, 40, 40)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, warped.At(5, 5, 0), test.ShouldAlmostEqual, 150, 1e-9)
	test.That(t, warped.At(35, 35, 0), test.ShouldEqual, 0.0)
	test.That(t, warped.Scale(), test.ShouldEqual, rimage.ScaleUint8)

	_, _, err = roi.WarpPerspective(nil, 10, 10)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
	flat := &RegionOfInterest{Corners: [4]r2.Point{{X: 1, Y: 1}, {X: 5, Y: 1}, {X: 5, Y: 1}, {X: 1, Y: 1}}}
	_, _, err = flat.WarpPerspective(img, 0, 0)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
}

func TestExtract(t *testing.T) {
	img := gradientImage(t, 100, 80)
	// a diamond, so the mask differs from the bounding box
	roi := &RegionOfInterest{Corners: [4]r2.Point{{X: 30, Y: 10}, {X: 50.7, Y: 30}, {X: 30, Y: 50}, {X: 10, Y: 30.2}}}
	region, err := roi.Extract(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, region.Image.Width(), test.ShouldEqual, 40)
	test.That(t, region.Image.Height(), test.ShouldEqual, 40)
	test.That(t, region.Corners[1], test.ShouldResemble, r2.Point{X: 40, Y: 20})
	test.That(t, region.Image.At(0, 0, 0), test.ShouldEqual, 20.0)
	test.That(t, region.Inside(20, 20), test.ShouldBeTrue)
	test.That(t, region.Inside(1, 1), test.ShouldBeFalse)
	test.That(t, region.Inside(39, 39), test.ShouldBeFalse)

	// the part of the box past the frame is black
	edge := &RegionOfInterest{Corners: [4]r2.Point{{X: 90, Y: 70}, {X: 110, Y: 70}, {X: 110, Y: 90}, {X: 90, Y: 90}}}
	region, err = edge.Extract(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, region.Image.At(5, 5, 0), test.ShouldEqual, 170.0)
	test.That(t, region.Image.At(15, 15, 0), test.ShouldEqual, 0.0)
	test.That(t, region.Inside(15, 15), test.ShouldBeTrue)

	_, err = (&RegionOfInterest{}).Extract(img)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
}
