package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// OrthonormalTolerance bounds |RᵀR - I| and |det R - 1| for a matrix to count as a rotation.
const OrthonormalTolerance = 1e-6

// RotationMatrix is a 3x3 matrix in row major order.
// m[3*r + c] is the element in the r'th row and c'th column.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates a rotation matrix from 9 row-major values after checking that they
// form an orthonormal matrix with determinant +1.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, errors.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	var values [9]float64
	copy(values[:], m)
	rm := &RotationMatrix{values}
	if !rm.IsOrthonormal(OrthonormalTolerance) {
		return nil, errors.New("input matrix is not orthonormal with determinant +1")
	}
	return rm, nil
}

// RotationMatrixFromDense creates a rotation matrix from a 3x3 gonum matrix.
func RotationMatrixFromDense(m mat.Matrix) (*RotationMatrix, error) {
	rows, cols := m.Dims()
	if rows != 3 || cols != 3 {
		return nil, errors.Errorf("rotation matrix must be 3x3, got %dx%d", rows, cols)
	}
	values := make([]float64, 0, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			values = append(values, m.At(r, c))
		}
	}
	return NewRotationMatrix(values)
}

// At returns the element of the matrix at row, column.
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[row*3+col]
}

// Row returns the row of the matrix as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[3*row], Y: rm.mat[3*row+1], Z: rm.mat[3*row+2]}
}

// Col returns the column of the matrix as a vector.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[col+3], Z: rm.mat[col+6]}
}

// Mul rotates v.
func (rm *RotationMatrix) Mul(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(v), Y: rm.Row(1).Dot(v), Z: rm.Row(2).Dot(v)}
}

// TransposeMul applies the inverse rotation to v.
func (rm *RotationMatrix) TransposeMul(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Col(0).Dot(v), Y: rm.Col(1).Dot(v), Z: rm.Col(2).Dot(v)}
}

// Dense returns a copy of the matrix as a gonum Dense.
func (rm *RotationMatrix) Dense() *mat.Dense {
	values := rm.mat
	return mat.NewDense(3, 3, values[:])
}

// Determinant of the matrix.
func (rm *RotationMatrix) Determinant() float64 {
	return rm.Row(0).Dot(rm.Row(1).Cross(rm.Row(2)))
}

// IsOrthonormal reports whether RᵀR = I and det R = +1 within tol.
func (rm *RotationMatrix) IsOrthonormal(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(rm.Col(i).Dot(rm.Col(j))-want) > tol {
				return false
			}
		}
	}
	return math.Abs(rm.Determinant()-1) <= tol
}

// Quaternion converts the matrix to a unit quaternion.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/matrixToQuaternion/
func (rm *RotationMatrix) Quaternion() quat.Number {
	m00, m01, m02 := rm.At(0, 0), rm.At(0, 1), rm.At(0, 2)
	m10, m11, m12 := rm.At(1, 0), rm.At(1, 1), rm.At(1, 2)
	m20, m21, m22 := rm.At(2, 0), rm.At(2, 1), rm.At(2, 2)

	var q quat.Number
	tr := m00 + m11 + m22
	switch {
	case tr > 0:
		s := 0.5 / math.Sqrt(tr+1.0)
		q = quat.Number{Real: 0.25 / s, Imag: (m21 - m12) * s, Jmag: (m02 - m20) * s, Kmag: (m10 - m01) * s}
	case m00 > m11 && m00 > m22:
		s := 2.0 * math.Sqrt(1.0+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2.0 * math.Sqrt(1.0+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := 2.0 * math.Sqrt(1.0+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// AxisAngles returns the rotation as an R4 axis angle.
func (rm *RotationMatrix) AxisAngles() *R4AA {
	return QuatToR4AA(rm.Quaternion())
}

// QuatToRotationMatrix converts a unit quat to a Rotation Matrix
// reference: https://github.com/go-gl/mathgl/blob/592312d8590acb0686c14740dcf60e2f32d9c618/mgl64/quat.go#L168
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return &RotationMatrix{[9]float64{
		1 - 2*y*y - 2*z*z, 2*x*y - 2*w*z, 2*x*z + 2*w*y,
		2*x*y + 2*w*z, 1 - 2*x*x - 2*z*z, 2*y*z - 2*w*x,
		2*x*z - 2*w*y, 2*y*z + 2*w*x, 1 - 2*x*x - 2*y*y,
	}}
}

// RodriguesToRotationMatrix converts a Rodrigues vector (axis scaled by angle) to a rotation matrix.
func RodriguesToRotationMatrix(rvec r3.Vector) *RotationMatrix {
	return R3ToR4(rvec).RotationMatrix()
}

// RotationMatrixToRodrigues converts a rotation matrix to its Rodrigues vector.
func RotationMatrixToRodrigues(rm *RotationMatrix) r3.Vector {
	return rm.AxisAngles().ToR3()
}
