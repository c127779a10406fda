package transform

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/coastalimages/argus/logging"
)

func TestPnPOptionsCheckValid(t *testing.T) {
	test.That(t, DefaultPnPOptions().CheckValid(), test.ShouldBeNil)

	opts := DefaultPnPOptions()
	opts.MaxIterations = 0
	opts.CostTolerance = -1
	opts.MaxConditionNumber = 0.5
	err := opts.CheckValid()
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_iterations")
	test.That(t, err.Error(), test.ShouldContainSubstring, "cost_tolerance")
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_condition_number")
}

func assertPoseEqual(t *testing.T, got, want *CamPose, tol float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, got.Rotation.At(i, j), test.ShouldAlmostEqual, want.Rotation.At(i, j), tol)
		}
	}
	test.That(t, got.Translation.X, test.ShouldAlmostEqual, want.Translation.X, tol)
	test.That(t, got.Translation.Y, test.ShouldAlmostEqual, want.Translation.Y, tol)
	test.That(t, got.Translation.Z, test.ShouldAlmostEqual, want.Translation.Z, tol)
}

func TestSolvePnPNoiseFree(t *testing.T) {
	model := beachModel(t, nil)
	truth := beachPose(t)
	k := model.OptimalIntrinsics()
	logger := logging.NewTestLogger(t)

	for _, tc := range []struct {
		name   string
		n      int
		planar bool
	}{
		{"planar minimal", 4, true},
		{"planar", 12, true},
		{"general dlt", 10, false},
		{"general few points", 5, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sc := makeScene(rand.New(rand.NewSource(int64(tc.n))), model, truth, tc.n, tc.planar)
			pose, err := SolvePnP(sc.object, sc.pixels, &k, DefaultPnPOptions(), logger)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, pose.ProjectionError, test.ShouldBeLessThan, 1e-6)
			assertPoseEqual(t, pose, truth, 1e-6)
			test.That(t, pose.Rotation.IsOrthonormal(1e-9), test.ShouldBeTrue)
		})
	}
}

func TestSolvePnPNilLogger(t *testing.T) {
	model := beachModel(t, nil)
	truth := beachPose(t)
	k := model.OptimalIntrinsics()
	sc := makeScene(rand.New(rand.NewSource(2)), model, truth, 8, true)
	pose, err := SolvePnP(sc.object, sc.pixels, &k, DefaultPnPOptions(), nil)
	test.That(t, err, test.ShouldBeNil)
	assertPoseEqual(t, pose, truth, 1e-6)
}

func TestSolvePnPLogsIterations(t *testing.T) {
	model := beachModel(t, nil)
	truth := beachPose(t)
	k := model.OptimalIntrinsics()
	sc := makeScene(rand.New(rand.NewSource(5)), model, truth, 8, false)
	rng := rand.New(rand.NewSource(6))
	for i := range sc.pixels {
		sc.pixels[i] = sc.pixels[i].Add(r2.Point{X: rng.NormFloat64(), Y: rng.NormFloat64()})
	}
	logger, logs := logging.NewObservedTestLogger(t)
	_, err := SolvePnP(sc.object, sc.pixels, &k, DefaultPnPOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("pose solved").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("pnp step accepted").Len(), test.ShouldBeGreaterThan, 0)
}

func TestSolvePnPNoiseRaisesError(t *testing.T) {
	model := beachModel(t, nil)
	truth := beachPose(t)
	k := model.OptimalIntrinsics()
	rng := rand.New(rand.NewSource(42))

	const trials = 20
	var clean, noisy float64
	for trial := 0; trial < trials; trial++ {
		sc := makeScene(rng, model, truth, 15, trial%2 == 0)
		pose, err := SolvePnP(sc.object, sc.pixels, &k, DefaultPnPOptions(), nil)
		test.That(t, err, test.ShouldBeNil)
		clean += pose.ProjectionError

		for i := range sc.pixels {
			sc.pixels[i] = sc.pixels[i].Add(r2.Point{X: 2 * rng.NormFloat64(), Y: 2 * rng.NormFloat64()})
		}
		pose, err = SolvePnP(sc.object, sc.pixels, &k, DefaultPnPOptions(), nil)
		test.That(t, err, test.ShouldBeNil)
		noisy += pose.ProjectionError
	}
	test.That(t, clean/trials, test.ShouldBeLessThan, 1e-6)
	test.That(t, noisy/trials, test.ShouldBeGreaterThan, clean/trials)
	test.That(t, noisy/trials, test.ShouldBeGreaterThan, 0.5)
}

func TestSolvePnPInvalidInput(t *testing.T) {
	model := beachModel(t, nil)
	k := model.OptimalIntrinsics()
	opts := DefaultPnPOptions()
	pixels := func(n int) []r2.Point {
		out := make([]r2.Point, n)
		for i := range out {
			out[i] = r2.Point{X: 100 + 10*float64(i), Y: 200 + 5*float64(i*i)}
		}
		return out
	}

	// three points, collinear or not, are too few
	three := []r3.Vector{{X: 0}, {X: 1}, {X: 2}}
	_, err := SolvePnP(three, pixels(3), &k, opts, nil)
	test.That(t, errors.Is(err, ErrInsufficientPoints), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	collinear := []r3.Vector{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 5, Y: 5}, {X: 9, Y: 9}}
	_, err = SolvePnP(collinear, pixels(5), &k, opts, nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "collinear")

	same := []r3.Vector{{X: 3, Y: 3}, {X: 3, Y: 3}, {X: 3, Y: 3}, {X: 3, Y: 3}}
	_, err = SolvePnP(same, pixels(4), &k, opts, nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "zero spread")

	square := []r3.Vector{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	_, err = SolvePnP(square, pixels(5), &k, opts, nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	nan := append([]r3.Vector(nil), square...)
	nan[2] = r3.Vector{X: math.NaN()}
	_, err = SolvePnP(nan, pixels(4), &k, opts, nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	badPixels := pixels(4)
	badPixels[1].Y = math.Inf(-1)
	_, err = SolvePnP(square, badPixels, &k, opts, nil)
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	_, err = SolvePnP(square, pixels(4), &PinholeCameraIntrinsics{}, opts, nil)
	test.That(t, errors.Is(err, ErrConfiguration), test.ShouldBeTrue)
}

func TestValidateCorrespondencesFrame(t *testing.T) {
	square := []r3.Vector{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	image := []r2.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	test.That(t, ValidateCorrespondences(square, image, 20, 20, DefaultPnPOptions()), test.ShouldBeNil)

	image[2] = r2.Point{X: 20, Y: 10}
	err := ValidateCorrespondences(square, image, 20, 20, DefaultPnPOptions())
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "outside")
}

func TestSolvePnPIterationBound(t *testing.T) {
	model := beachModel(t, nil)
	truth := beachPose(t)
	k := model.OptimalIntrinsics()
	sc := makeScene(rand.New(rand.NewSource(11)), model, truth, 10, true)
	rng := rand.New(rand.NewSource(12))
	for i := range sc.pixels {
		sc.pixels[i] = sc.pixels[i].Add(r2.Point{X: 3 * rng.NormFloat64(), Y: 3 * rng.NormFloat64()})
	}
	opts := DefaultPnPOptions()
	opts.MaxIterations = 1
	_, err := SolvePnP(sc.object, sc.pixels, &k, opts, nil)
	test.That(t, errors.Is(err, ErrPoseNotFound), test.ShouldBeTrue)
}

func TestSolvePnPFewNonCoplanarPoints(t *testing.T) {
	model := beachModel(t, nil)
	truth := beachPose(t)
	want := truth.Position()
	k := model.OptimalIntrinsics()

	for _, tc := range []struct {
		name      string
		n         int
		maxHeight float64
		seed      int64
	}{
		{"four points up to 20 m", 4, 20, 101},
		{"four points up to half a metre", 4, 0.5, 102},
		{"five points up to 20 m", 5, 20, 103},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(tc.seed))
			const trials = 100
			solved := 0
			for trial := 0; trial < trials; trial++ {
				sc := makeSceneWithHeights(rng, model, truth, tc.n, tc.maxHeight)
				pose, err := SolvePnP(sc.object, sc.pixels, &k, DefaultPnPOptions(), nil)
				if err != nil {
					// a rejected scene is fine, a wrong pose is not
					test.That(t, errors.Is(err, ErrPoseNotFound) || errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)
					continue
				}
				solved++
				test.That(t, pose.ProjectionError, test.ShouldBeLessThan, 1e-6)
				test.That(t, pose.Position().Sub(want).Norm(), test.ShouldBeLessThan, 1e-4)
			}
			test.That(t, solved, test.ShouldBeGreaterThanOrEqualTo, trials*9/10)
		})
	}
}

func TestP3PPoses(t *testing.T) {
	truth := beachPose(t)
	object := [3]r3.Vector{{X: -10, Y: 40}, {X: 12, Y: 55, Z: 3}, {X: 0, Y: 70, Z: 1}}
	var normalized [3]r2.Point
	for i, obj := range object {
		pc := truth.ToCamera(obj)
		normalized[i] = r2.Point{X: pc.X / pc.Z, Y: pc.Y / pc.Z}
	}
	poses := p3pPoses(object, normalized)
	test.That(t, poses, test.ShouldNotBeEmpty)
	found := false
	for _, pose := range poses {
		test.That(t, pose.Rotation.IsOrthonormal(1e-9), test.ShouldBeTrue)
		for i, obj := range object {
			pc := pose.ToCamera(obj)
			test.That(t, pc.Z, test.ShouldBeGreaterThan, 0)
			test.That(t, pc.X/pc.Z, test.ShouldAlmostEqual, normalized[i].X, 1e-6)
			test.That(t, pc.Y/pc.Z, test.ShouldAlmostEqual, normalized[i].Y, 1e-6)
		}
		if pose.Position().Sub(truth.Position()).Norm() < 1e-6 {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)

	collinear := [3]r3.Vector{{X: 0}, {X: 1}, {X: 2}}
	test.That(t, p3pPoses(collinear, normalized), test.ShouldBeEmpty)
}

func TestSolvePnPIllConditioned(t *testing.T) {
	model := beachModel(t, nil)
	truth := beachPose(t)
	k := model.OptimalIntrinsics()
	project := func(object []r3.Vector) []r2.Point {
		pixels := make([]r2.Point, len(object))
		for i, obj := range object {
			pc := truth.ToCamera(obj)
			u, v := k.PointToPixel(pc.X, pc.Y, pc.Z)
			pixels[i] = r2.Point{X: u, Y: v}
		}
		return pixels
	}

	// points a hair off one line leave the pose free to turn about it
	var line []r3.Vector
	for i := 0; i < 6; i++ {
		line = append(line, r3.Vector{X: -15 + 6*float64(i), Y: 50, Z: 1e-4 * float64(i%2)})
	}
	pixels := project(line)
	test.That(t, ValidateCorrespondences(line, pixels, k.Width, k.Height, DefaultPnPOptions()), test.ShouldBeNil)
	_, err := SolvePnP(line, pixels, &k, DefaultPnPOptions(), nil)
	test.That(t, errors.Is(err, ErrPoseNotFound), test.ShouldBeTrue)

	// a well spread scene fails a condition limit no real normal matrix meets
	sc := makeScene(rand.New(rand.NewSource(21)), model, truth, 8, false)
	opts := DefaultPnPOptions()
	opts.MaxConditionNumber = 1.5
	_, err = SolvePnP(sc.object, sc.pixels, &k, opts, nil)
	test.That(t, errors.Is(err, ErrPoseNotFound), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ill-conditioned")
}

func TestSolvePnPPointBehindCamera(t *testing.T) {
	model := beachModel(t, nil)
	truth := beachPose(t)
	k := model.OptimalIntrinsics()

	inCamera := []r3.Vector{
		{X: -8, Y: -3, Z: 30},
		{X: 9, Y: -2, Z: 45},
		{X: 4, Y: 6, Z: 25},
		{X: -5, Y: 7, Z: 50},
		{X: 0, Y: 0, Z: 38},
		{X: -1, Y: -0.5, Z: -10},
	}
	object := make([]r3.Vector, len(inCamera))
	pixels := make([]r2.Point, len(inCamera))
	for i, pc := range inCamera {
		object[i] = truth.ToWorld(pc)
		u, v := k.PointToPixel(pc.X, pc.Y, pc.Z)
		pixels[i] = r2.Point{X: u, Y: v}
	}
	// the point behind the camera still lands inside the frame
	test.That(t, k.InFrame(pixels[5]), test.ShouldBeTrue)

	_, err := SolvePnP(object, pixels, &k, DefaultPnPOptions(), nil)
	test.That(t, errors.Is(err, ErrPoseNotFound), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "control point 5 is behind the camera")
}

func TestEstimateHomography(t *testing.T) {
	want := Homography{{1.2, 0.1, 30}, {-0.05, 0.9, -12}, {1e-4, 2e-4, 1}}
	src := []r2.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 80}, {X: 0, Y: 80}, {X: 40, Y: 30}}
	dst := make([]r2.Point, len(src))
	for i, p := range src {
		dst[i] = want.Apply(p)
	}
	h, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, want[i][j], 1e-8)
		}
	}

	inv, err := h.Inverse()
	test.That(t, err, test.ShouldBeNil)
	back := inv.Apply(dst[4])
	test.That(t, back.X, test.ShouldAlmostEqual, 40, 1e-8)
	test.That(t, back.Y, test.ShouldAlmostEqual, 30, 1e-8)

	_, err = EstimateHomography(src[:3], dst[:3])
	test.That(t, errors.Is(err, ErrInsufficientPoints), test.ShouldBeTrue)
	_, err = EstimateHomography(src, dst[:4])
	test.That(t, errors.Is(err, ErrInvalidInput), test.ShouldBeTrue)

	fromDense, err := NewHomographyFromDense(h.Dense())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *fromDense, test.ShouldResemble, *h)

	vanishing := Homography{{1, 0, 0}, {0, 1, 0}, {1, 0, 0}}
	p := vanishing.Apply(r2.Point{X: 0, Y: 5})
	test.That(t, math.IsNaN(p.X), test.ShouldBeTrue)
}
