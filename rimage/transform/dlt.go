package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/coastalimages/argus/spatialmath"
)

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2: centroid to
// the origin and mean distance sqrt(2).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	nPoints := len(pts)
	// compute centroid of points
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	// compute scale factor
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d == 0 || math.IsNaN(d) {
		return nil, nil, newInvalidInputError("points have zero spread")
	}
	scale := math.Sqrt(2) / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	// apply transform to points
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T, nil
}

// normalizePoints3D is the 3D counterpart of normalizePoints: mean distance sqrt(3).
func normalizePoints3D(pts []r3.Vector) ([]r3.Vector, *mat.Dense, error) {
	mu := centroid(pts)
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(len(pts))
	}
	if d == 0 || math.IsNaN(d) {
		return nil, nil, newInvalidInputError("points have zero spread")
	}
	scale := math.Sqrt(3) / d
	T := mat.NewDense(4, 4, []float64{
		scale, 0, 0, -scale * mu.X,
		0, scale, 0, -scale * mu.Y,
		0, 0, scale, -scale * mu.Z,
		0, 0, 0, 1,
	})
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, T, nil
}

func centroid(pts []r3.Vector) r3.Vector {
	var mu r3.Vector
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	return mu.Mul(1 / float64(len(pts)))
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U      *mat.Dense
	V      *mat.Dense
	Values []float64
}

// performSVD performs SVD on inputMatrix and returns matrices U, V and the singular values from the decomposition.
func performSVD(inputMatrix mat.Matrix) (*matsSVD, error) {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	u, v := &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	return &matsSVD{u, v, svd.Values(nil)}, nil
}

// nullVector returns the right singular vector of the smallest singular value of a.
func nullVector(a *mat.Dense) ([]float64, error) {
	rows, cols := a.Dims()
	// SVD of a wide matrix does not give a full right basis; pad with zero rows
	if rows < cols {
		padded := mat.NewDense(cols, cols, nil)
		padded.Slice(0, rows, 0, cols).(*mat.Dense).Copy(a)
		a = padded
	}
	res, err := performSVD(a)
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, cols-1, res.V), nil
}

// nearestRotation projects a 3x3 matrix onto SO(3) (U*Vᵀ from its SVD), returning the rotation and
// the mean singular value, which is the scale of a similarity.
func nearestRotation(m mat.Matrix) (*spatialmath.RotationMatrix, float64, error) {
	res, err := performSVD(m)
	if err != nil {
		return nil, 0, err
	}
	var r mat.Dense
	r.Mul(res.U, res.V.T())
	if mat.Det(&r) < 0 {
		// flip the axis of the smallest singular value
		d := eye(3)
		d.Set(2, 2, -1)
		r.Mul(res.U, d)
		r.Mul(&r, res.V.T())
	}
	scale := (res.Values[0] + res.Values[1] + res.Values[2]) / 3
	rot, err := spatialmath.RotationMatrixFromDense(&r)
	if err != nil {
		return nil, 0, err
	}
	return rot, scale, nil
}

// principalAxes returns the centroid, the unit principal directions of a point set ordered by
// decreasing spread, and the standard deviation along each. The axes form a right-handed basis.
func principalAxes(pts []r3.Vector) (r3.Vector, [3]r3.Vector, [3]float64, error) {
	mu := centroid(pts)
	cov := mat.NewSymDense(3, nil)
	for _, pt := range pts {
		d := pt.Sub(mu)
		c := []float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+c[i]*c[j]/float64(len(pts)))
			}
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return r3.Vector{}, [3]r3.Vector{}, [3]float64{}, errors.New("failed to factorize covariance")
	}
	// EigenSym values are ascending
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	var axes [3]r3.Vector
	var spread [3]float64
	for k := 0; k < 3; k++ {
		col := 2 - k
		axes[k] = r3.Vector{X: vecs.At(0, col), Y: vecs.At(1, col), Z: vecs.At(2, col)}.Normalize()
		spread[k] = math.Sqrt(math.Max(values[col], 0))
	}
	if axes[0].Cross(axes[1]).Dot(axes[2]) < 0 {
		axes[2] = axes[2].Mul(-1)
	}
	return mu, axes, spread, nil
}

// estimateProjectionMatrix solves the 3x4 DLT projection matrix taking world points to normalized
// image points, Multiple View Geometry Alg 7.1. Needs at least 6 non-coplanar points.
func estimateProjectionMatrix(object []r3.Vector, normalized []r2.Point) (*mat.Dense, error) {
	objN, t3, err := normalizePoints3D(object)
	if err != nil {
		return nil, err
	}
	imgN, t2, err := normalizePoints(normalized)
	if err != nil {
		return nil, err
	}
	a := mat.NewDense(2*len(object), 12, nil)
	for i := range objN {
		X := []float64{objN[i].X, objN[i].Y, objN[i].Z, 1}
		u, v := imgN[i].X, imgN[i].Y
		row0 := make([]float64, 12)
		row1 := make([]float64, 12)
		for k := 0; k < 4; k++ {
			row0[k] = -X[k]
			row0[8+k] = u * X[k]
			row1[4+k] = -X[k]
			row1[8+k] = v * X[k]
		}
		a.SetRow(2*i, row0)
		a.SetRow(2*i+1, row1)
	}
	p, err := nullVector(a)
	if err != nil {
		return nil, err
	}
	pn := mat.NewDense(3, 4, p)

	// P = T2^-1 * Pn * T3
	var t2Inv, pDen mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization")
	}
	pDen.Mul(&t2Inv, pn)
	pDen.Mul(&pDen, t3)
	return &pDen, nil
}
