package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) used to transform one plane into
// another, e.g. a ground plane into the image or an image quadrilateral into a rectangle.
// Indices are [row][column].
type Homography [3][3]float64

// NewHomographyFromDense copies a 3x3 matrix into a Homography.
func NewHomographyFromDense(m mat.Matrix) (*Homography, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("homography must be 3x3, got %dx%d", r, c)
	}
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j)
		}
	}
	return &h, nil
}

// At returns the element at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Dense returns the homography as a gonum matrix.
func (h *Homography) Dense() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, h[i][j])
		}
	}
	return m
}

// Apply maps pt through the homography. Points sent to infinity come back as NaN.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	if z == 0 {
		return r2.Point{X: math.NaN(), Y: math.NaN()}
	}
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the inverse mapping.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return nil, errors.Wrap(err, "homography is singular")
	}
	return NewHomographyFromDense(&inv)
}

// EstimateHomography computes the homography taking src[i] to dst[i] with the normalized DLT of
// Multiple View Geometry, Alg 4.2. At least 4 correspondences are required; the result is scaled
// so that H[2][2] = 1 when possible.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, newInvalidInputError("homography needs paired points, got %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Wrapf(ErrInsufficientPoints, "homography needs at least 4 points, got %d", len(src))
	}
	srcN, t1, err := normalizePoints(src)
	if err != nil {
		return nil, err
	}
	dstN, t2, err := normalizePoints(dst)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h, err := nullVector(a)
	if err != nil {
		return nil, err
	}
	hn := mat.NewDense(3, 3, h)

	// H = T2^-1 * Hn * T1
	var t2Inv, hDen mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization")
	}
	hDen.Mul(&t2Inv, hn)
	hDen.Mul(&hDen, t1)
	if s := hDen.At(2, 2); math.Abs(s) > 1e-12 {
		hDen.Scale(1/s, &hDen)
	}
	return NewHomographyFromDense(&hDen)
}
