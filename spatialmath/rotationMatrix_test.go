package spatialmath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRodriguesRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 200; i++ {
		axis := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Normalize()
		// stay inside (0, pi) so the Rodrigues vector is unique
		theta := 0.01 + rng.Float64()*(math.Pi-0.02)
		rvec := axis.Mul(theta)

		rm := RodriguesToRotationMatrix(rvec)
		test.That(t, rm.IsOrthonormal(1e-12), test.ShouldBeTrue)

		back := RotationMatrixToRodrigues(rm)
		test.That(t, back.X, test.ShouldAlmostEqual, rvec.X, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, rvec.Y, 1e-9)
		test.That(t, back.Z, test.ShouldAlmostEqual, rvec.Z, 1e-9)
	}
}

func TestZeroRotation(t *testing.T) {
	rm := RodriguesToRotationMatrix(r3.Vector{})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			test.That(t, rm.At(i, j), test.ShouldAlmostEqual, want)
		}
	}
	test.That(t, RotationMatrixToRodrigues(rm).Norm(), test.ShouldAlmostEqual, 0.0)
}

func TestRotationMatrixMul(t *testing.T) {
	// 90 degrees about z takes x to y
	rm := RodriguesToRotationMatrix(r3.Vector{Z: math.Pi / 2})
	v := rm.Mul(r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0.0)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1.0)
	test.That(t, v.Z, test.ShouldAlmostEqual, 0.0)

	back := rm.TransposeMul(v)
	test.That(t, back.X, test.ShouldAlmostEqual, 1.0)
	test.That(t, back.Y, test.ShouldAlmostEqual, 0.0)
	test.That(t, rm.Determinant(), test.ShouldAlmostEqual, 1.0)
}

func TestNewRotationMatrix(t *testing.T) {
	_, err := NewRotationMatrix([]float64{1, 0, 0, 0, 1, 0})
	test.That(t, err, test.ShouldNotBeNil)

	// reflection: orthogonal but det -1
	_, err = NewRotationMatrix([]float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewRotationMatrix([]float64{2, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldNotBeNil)

	rm, err := NewRotationMatrix([]float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, RotationMatrixToRodrigues(rm).Z, test.ShouldAlmostEqual, math.Pi/2)

	dense := rm.Dense()
	fromDense, err := RotationMatrixFromDense(dense)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fromDense.At(0, 1), test.ShouldEqual, -1.0)

	_, err = RotationMatrixFromDense(mat.NewDense(2, 2, nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestQuaternionBranches(t *testing.T) {
	// rotations of pi exercise the non-positive trace branches
	for _, axis := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}} {
		rm := RodriguesToRotationMatrix(axis.Mul(math.Pi))
		aa := rm.AxisAngles()
		test.That(t, aa.Theta, test.ShouldAlmostEqual, math.Pi, 1e-9)
		test.That(t, math.Abs(aa.RX), test.ShouldAlmostEqual, axis.X, 1e-9)
		test.That(t, math.Abs(aa.RY), test.ShouldAlmostEqual, axis.Y, 1e-9)
		test.That(t, math.Abs(aa.RZ), test.ShouldAlmostEqual, axis.Z, 1e-9)
	}
}
