// Package spatialmath converts between the rotation representations used by the pose solver:
// axis angles (Rodrigues vectors), unit quaternions and 3x3 rotation matrices.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// See here for a thorough explanation: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// Basic explanation: Imagine a 3d cartesian grid centered at 0,0,0, and a sphere of radius 1 centered at
// that same point. An orientation can be expressed by first specifying an axis, i.e. a line from the origin
// to a point on that sphere, represented by (rx, ry, rz), and a rotation around that axis, theta.
// These four numbers can be used as-is (R4), or they can be converted to R3, where theta is multiplied by each of
// the unit sphere components to give a vector whose length is theta and whose direction is the original axis.
// The R3 form is the Rodrigues vector the pose solver optimizes over.

// R4AA represents an R4 axis angle.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates the zero rotation about the z axis.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// Quaternion returns orientation in quaternion representation.
func (r4 *R4AA) Quaternion() quat.Number {
	return r4.ToQuat()
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (r4 *R4AA) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(r4.Quaternion())
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX * r4.Theta, Y: r4.RY * r4.Theta, Z: r4.RZ * r4.Theta}
}

// ToQuat converts an R4 axis angle to a unit quaternion
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/angleToQuaternion/index.htm
func (r4 *R4AA) ToQuat() quat.Number {
	if r4.Theta == 0 {
		return quat.Number{Real: 1}
	}
	sinA := math.Sin(r4.Theta / 2)
	// Ensure that point xyz is on the unit sphere
	r4.Normalize()

	// Get the unit-sphere components
	ax := r4.RX * sinA
	ay := r4.RY * sinA
	az := r4.RZ * sinA
	w := math.Cos(r4.Theta / 2)
	return quat.Number{Real: w, Imag: ax, Jmag: ay, Kmag: az}
}

// Normalize scales the x, y, and z components of a R4 axis angle to be on the unit sphere.
// A zero axis becomes the z axis.
func (r4 *R4AA) Normalize() {
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if norm == 0.0 {
		r4.RX, r4.RY, r4.RZ = 0, 0, 1
		return
	}
	r4.RX /= norm
	r4.RY /= norm
	r4.RZ /= norm
}

func (r4 *R4AA) fixOrientation() {
	if r4.Theta < 0.0 {
		r4.Theta *= -1.
		r4.RX *= -1.
		r4.RY *= -1.
		r4.RZ *= -1.
	}
}

// R3ToR4 converts an R3 angle axis (Rodrigues vector) to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{theta, aa.X / theta, aa.Y / theta, aa.Z / theta}
}

// QuatToR4AA converts a quaternion to an R4 axis angle with theta in [0, pi].
func QuatToR4AA(q quat.Number) *R4AA {
	norm := quat.Abs(q)
	if norm == 0 {
		return NewR4AA()
	}
	q = quat.Scale(1/norm, q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	sinHalf := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if sinHalf < 1e-12 {
		return NewR4AA()
	}
	r4 := &R4AA{
		Theta: 2 * math.Atan2(sinHalf, q.Real),
		RX:    q.Imag / sinHalf,
		RY:    q.Jmag / sinHalf,
		RZ:    q.Kmag / sinHalf,
	}
	r4.fixOrientation()
	return r4
}
