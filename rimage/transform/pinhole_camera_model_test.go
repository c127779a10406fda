package transform

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/coastalimages/argus/rimage"
)

var barrel = []float64{-0.2, 0.05, 1e-3, -5e-4, -0.01}

func TestIntrinsicsCheckValid(t *testing.T) {
	var nilIntrinsics *PinholeCameraIntrinsics
	test.That(t, errors.Is(nilIntrinsics.CheckValid(), ErrConfiguration), test.ShouldBeTrue)

	bad := []PinholeCameraIntrinsics{
		{Width: 0, Height: 720, Fx: 1000, Fy: 1000},
		{Width: 1280, Height: -1, Fx: 1000, Fy: 1000},
		{Width: 1280, Height: 720, Fx: 0, Fy: 1000},
		{Width: 1280, Height: 720, Fx: 1000, Fy: -2},
		{Width: 1280, Height: 720, Fx: math.NaN(), Fy: 1000},
		{Width: 1280, Height: 720, Fx: 1000, Fy: 1000, Ppx: math.Inf(1)},
	}
	for _, intrinsics := range bad {
		err := intrinsics.CheckValid()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	}
	good := PinholeCameraIntrinsics{Width: 1280, Height: 720, Fx: 1000, Fy: 1000, Ppx: 640, Ppy: 360}
	test.That(t, good.CheckValid(), test.ShouldBeNil)
}

func TestIntrinsicsFromMatrix(t *testing.T) {
	_, err := NewPinholeCameraIntrinsicsFromMatrix(mat.NewDense(2, 3, nil), 10, 10)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)

	notUpper := mat.NewDense(3, 3, []float64{1000, 0, 640, 0, 1000, 360, 0, 0.1, 1})
	_, err = NewPinholeCameraIntrinsicsFromMatrix(notUpper, 1280, 720)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)

	k := mat.NewDense(3, 3, []float64{1000, 2, 640, 0, 990, 360, 0, 0, 1})
	intrinsics, err := NewPinholeCameraIntrinsicsFromMatrix(k, 1280, 720)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Skew, test.ShouldEqual, 2.0)
	test.That(t, mat.Equal(intrinsics.GetCameraMatrix(), k), test.ShouldBeTrue)

	// skew is honoured in both directions
	x, y := intrinsics.PixelToNormalized(100, 200)
	u, v := intrinsics.NormalizedToPixel(x, y)
	test.That(t, u, test.ShouldAlmostEqual, 100, 1e-9)
	test.That(t, v, test.ShouldAlmostEqual, 200, 1e-9)

	u, v = intrinsics.PointToPixel(1, 1, 0)
	test.That(t, math.IsNaN(u) && math.IsNaN(v), test.ShouldBeTrue)
}

func TestIntrinsicsFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "intrinsics.json")
	err := os.WriteFile(good, []byte(`{"width_px": 1280, "height_px": 720, "fx": 1000, "fy": 1001, "ppx": 640, "ppy": 360}`), 0o600)
	test.That(t, err, test.ShouldBeNil)
	intrinsics, err := NewPinholeCameraIntrinsicsFromJSONFile(good)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Fy, test.ShouldEqual, 1001.0)

	bad := filepath.Join(dir, "bad.json")
	err = os.WriteFile(bad, []byte(`{"width_px": 0, "height_px": 720, "fx": 1000, "fy": 1000}`), 0o600)
	test.That(t, err, test.ShouldBeNil)
	intrinsics, err = NewPinholeCameraIntrinsicsFromJSONFile(bad)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	test.That(t, intrinsics, test.ShouldBeNil)

	_, err = NewPinholeCameraIntrinsicsFromJSONFile(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBrownConradyConstruction(t *testing.T) {
	_, err := NewBrownConrady(make([]float64, 9))
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	_, err = NewBrownConrady([]float64{math.NaN()})
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)

	bc, err := NewBrownConrady([]float64{0.1, 0.2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{0.1, 0.2, 0, 0, 0, 0, 0, 0})
	test.That(t, bc.ModelType(), test.ShouldEqual, BrownConradyDistortionType)

	bc, err = NewBrownConradyFromRadialTangential([]float64{1, 2, 3, 4}, []float64{5, 6})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bc.Parameters(), test.ShouldResemble, []float64{1, 2, 5, 6, 3, 4, 0, 0})
	_, err = NewBrownConradyFromRadialTangential(make([]float64, 5), nil)
	test.That(t, err, test.ShouldNotBeNil)

	zero, err := NewBrownConrady(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, zero.IsZero(), test.ShouldBeTrue)
	x, y := zero.Transform(0.3, -0.2)
	test.That(t, x, test.ShouldEqual, 0.3)
	test.That(t, y, test.ShouldEqual, -0.2)

	d, err := NewDistorter(InverseBrownConradyDistortionType, barrel)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.ModelType(), test.ShouldEqual, InverseBrownConradyDistortionType)
	_, err = NewDistorter("fisheye", nil)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
}

func TestBrownConradyJacobian(t *testing.T) {
	bc, err := NewBrownConrady([]float64{-0.2, 0.05, 1e-3, -5e-4, -0.01, 0.02, 0.001, 0.0005})
	test.That(t, err, test.ShouldBeNil)
	const h = 1e-6
	for _, p := range []r2.Point{{X: 0.1, Y: 0.2}, {X: -0.4, Y: 0.3}, {X: 0.5, Y: -0.5}} {
		dxdx, dxdy, dydx, dydy := bc.jacobian(p.X, p.Y)
		xp, yp := bc.Transform(p.X+h, p.Y)
		xm, ym := bc.Transform(p.X-h, p.Y)
		test.That(t, dxdx, test.ShouldAlmostEqual, (xp-xm)/(2*h), 1e-6)
		test.That(t, dydx, test.ShouldAlmostEqual, (yp-ym)/(2*h), 1e-6)
		xp, yp = bc.Transform(p.X, p.Y+h)
		xm, ym = bc.Transform(p.X, p.Y-h)
		test.That(t, dxdy, test.ShouldAlmostEqual, (xp-xm)/(2*h), 1e-6)
		test.That(t, dydy, test.ShouldAlmostEqual, (yp-ym)/(2*h), 1e-6)
	}
}

func TestZeroDistortionIdentity(t *testing.T) {
	model := beachModel(t, nil)
	test.That(t, mat.EqualApprox(model.OptimalMatrix(), model.GetCameraMatrix(), 1e-9), test.ShouldBeTrue)
	fx, fy := model.FocalLengths()
	test.That(t, fx, test.ShouldAlmostEqual, 1000, 1e-9)
	test.That(t, fy, test.ShouldAlmostEqual, 1000, 1e-9)
	cx, cy := model.PrincipalPoint()
	test.That(t, cx, test.ShouldAlmostEqual, 640, 1e-9)
	test.That(t, cy, test.ShouldAlmostEqual, 360, 1e-9)
	test.That(t, model.FieldOfView(), test.ShouldAlmostEqual, 2*math.Atan(0.64), 1e-12)

	pts := []r2.Point{{X: 0, Y: 0}, {X: 1279, Y: 719}, {X: 321.5, Y: 17.25}}
	for i, p := range model.UndistortPoints(pts) {
		test.That(t, p.X, test.ShouldAlmostEqual, pts[i].X, 1e-9)
		test.That(t, p.Y, test.ShouldAlmostEqual, pts[i].Y, 1e-9)
	}

	// a nil distorter behaves like zero coefficients
	ideal, err := NewPinholeCameraModel(model.PinholeCameraIntrinsics, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.EqualApprox(ideal.OptimalMatrix(), model.OptimalMatrix(), 1e-12), test.ShouldBeTrue)
}

func TestZeroDistortionWithSkew(t *testing.T) {
	raw := &PinholeCameraIntrinsics{Width: 1280, Height: 720, Fx: 1000, Fy: 1000, Ppx: 640, Ppy: 360, Skew: 5}
	model, err := NewPinholeCameraModel(raw, nil)
	test.That(t, err, test.ShouldBeNil)

	// the optimal camera drops the skew, so it is the inner rectangle of the sheared frame
	opt := model.OptimalIntrinsics()
	test.That(t, opt.Skew, test.ShouldEqual, 0.0)
	left := (-640 + 5*0.36) / 1000
	right := (639 - 5*0.359) / 1000
	fx := 1279 / (right - left)
	test.That(t, opt.Fx, test.ShouldAlmostEqual, fx, 1e-9)
	test.That(t, opt.Ppx, test.ShouldAlmostEqual, -fx*left, 1e-9)
	test.That(t, opt.Fy, test.ShouldAlmostEqual, 1000, 1e-9)
	test.That(t, opt.Ppy, test.ShouldAlmostEqual, 360, 1e-9)

	// undistorting is therefore not the identity even without distortion
	got := model.UndistortPoint(r2.Point{X: 1000, Y: 700})
	test.That(t, got.X, test.ShouldAlmostEqual, fx*(1000-640-5*0.34)/1000-fx*left, 1e-9)
	test.That(t, got.X, test.ShouldAlmostEqual, 999.3088, 1e-4)
	test.That(t, got.Y, test.ShouldAlmostEqual, 700, 1e-9)
}

func TestOptimalMatrixWithDistortion(t *testing.T) {
	model := beachModel(t, barrel)
	fx, fy := model.FocalLengths()
	// undistorting barrel distortion stretches the frame edges outward, so the optimal camera
	// has shorter focal lengths and a wider view
	test.That(t, fx, test.ShouldBeLessThan, 1000)
	test.That(t, fy, test.ShouldBeLessThan, 1000)
	test.That(t, model.OptimalMatrix().At(0, 1), test.ShouldEqual, 0.0)
	test.That(t, model.FieldOfView(), test.ShouldBeGreaterThan, 2*math.Atan(0.64))

	// every optimal pixel maps to a raw pixel inside the frame
	distortionMap := model.DistortionMap()
	for _, p := range []r2.Point{{X: 0, Y: 0}, {X: 1279, Y: 0}, {X: 0, Y: 719}, {X: 1279, Y: 719}, {X: 640, Y: 0}} {
		x, y := distortionMap(p.X, p.Y)
		test.That(t, x, test.ShouldBeGreaterThan, -0.5)
		test.That(t, y, test.ShouldBeGreaterThan, -0.5)
		test.That(t, x, test.ShouldBeLessThan, 1279.5)
		test.That(t, y, test.ShouldBeLessThan, 719.5)
	}

	_, err := NewPinholeCameraModelFromMatrix(model.GetCameraMatrix(), make([]float64, 9), 1280, 720)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
}

func TestOnePixelFrame(t *testing.T) {
	intrinsics := &PinholeCameraIntrinsics{Width: 1, Height: 1, Fx: 10, Fy: 10}
	model, err := NewPinholeCameraModel(intrinsics, nil)
	test.That(t, err, test.ShouldBeNil)
	fx, fy := model.FocalLengths()
	test.That(t, fx, test.ShouldAlmostEqual, 10, 1e-9)
	test.That(t, fy, test.ShouldAlmostEqual, 10, 1e-9)
}

func TestDistortionRoundTrip(t *testing.T) {
	model := beachModel(t, barrel)
	rng := rand.New(rand.NewSource(7))
	pts := make([]r2.Point, 200)
	for i := range pts {
		pts[i] = r2.Point{X: rng.Float64() * 1279, Y: rng.Float64() * 719}
	}
	distorted := model.DistortPoints(pts)
	back := model.UndistortPoints(distorted)
	for i := range pts {
		test.That(t, back[i].X, test.ShouldAlmostEqual, pts[i].X, 1e-6)
		test.That(t, back[i].Y, test.ShouldAlmostEqual, pts[i].Y, 1e-6)
	}

	// the input slice is left alone
	before := append([]r2.Point(nil), distorted...)
	model.UndistortPoints(distorted)
	test.That(t, distorted, test.ShouldResemble, before)
}

func TestUndistortImage(t *testing.T) {
	model := beachModel(t, nil)
	img, err := rimage.NewImage(1280, 720, 3, rimage.ScaleUnit)
	test.That(t, err, test.ShouldBeNil)
	for y := 0; y < 720; y++ {
		for x := 0; x < 1280; x++ {
			img.Set(x, y, 0, float64(x)/1280)
			img.Set(x, y, 1, float64(y)/720)
			img.Set(x, y, 2, 0.123456)
		}
	}

	out, err := model.UndistortImage(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Width(), test.ShouldEqual, 1280)
	test.That(t, out.Height(), test.ShouldEqual, 720)
	test.That(t, out.Channels(), test.ShouldEqual, 3)
	test.That(t, out.Scale(), test.ShouldEqual, rimage.ScaleUnit)
	for _, p := range [][2]int{{0, 0}, {640, 360}, {1000, 500}, {1278, 718}} {
		for c := 0; c < 3; c++ {
			test.That(t, out.At(p[0], p[1], c), test.ShouldAlmostEqual, img.At(p[0], p[1], c), 1e-6)
		}
	}

	_, err = model.UndistortImage(nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
	small, err := rimage.NewImage(640, 360, 1, rimage.ScaleUint8)
	test.That(t, err, test.ShouldBeNil)
	_, err = model.UndistortImage(small)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
}

func TestUndistortImageIsDeterministic(t *testing.T) {
	model := beachModel(t, barrel)
	img, err := rimage.NewImage(1280, 720, 1, rimage.ScaleUint8)
	test.That(t, err, test.ShouldBeNil)
	rng := rand.New(rand.NewSource(3))
	for i := range img.Data() {
		img.Data()[i] = math.Floor(rng.Float64() * 256)
	}
	first, err := model.UndistortImage(img)
	test.That(t, err, test.ShouldBeNil)
	second, err := model.UndistortImage(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Data(), test.ShouldResemble, second.Data())
	test.That(t, first.Scale(), test.ShouldEqual, rimage.ScaleUint8)

	// the centre pixel sits on the optical axis and is left in place
	cx, cy := model.PrincipalPoint()
	distortionMap := model.DistortionMap()
	x, y := distortionMap(cx, cy)
	test.That(t, x, test.ShouldAlmostEqual, 640, 1e-9)
	test.That(t, y, test.ShouldAlmostEqual, 360, 1e-9)
}

func TestCylindrical(t *testing.T) {
	model := beachModel(t, nil)
	cx, cy := model.PrincipalPoint()
	f, _ := model.FocalLengths()
	out := model.Cylindrical([]r2.Point{{X: cx, Y: cy}, {X: cx + f, Y: cy + f}})
	test.That(t, out[0].X, test.ShouldAlmostEqual, cx, 1e-9)
	test.That(t, out[0].Y, test.ShouldAlmostEqual, cy, 1e-9)
	test.That(t, out[1].X, test.ShouldAlmostEqual, f*math.Pi/4+cx, 1e-9)
	test.That(t, out[1].Y, test.ShouldAlmostEqual, f/math.Sqrt2+cy, 1e-9)
}

func TestModelString(t *testing.T) {
	model := beachModel(t, []float64{-0.1})
	test.That(t, model.String(), test.ShouldContainSubstring, "1280x720")
	test.That(t, model.String(), test.ShouldContainSubstring, "-0.1")
}
