package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const (
	// p3pSamples is the number of depths sampled along the first ray when bracketing roots.
	p3pSamples = 4096
	// maxP3PTriples caps how many point triples seed candidate poses.
	maxP3PTriples = 20
)

// p3pPoses returns every pose that puts the three object points exactly on the rays through the
// three normalized image points.
//
// With depths s0, s1, s2 along unit rays j0, j1, j2 the law of cosines gives
//
//	s0² + s1² - 2 s0 s1 (j0·j1) = |P0-P1|²
//	s0² + s2² - 2 s0 s2 (j0·j2) = |P0-P2|²
//	s1² + s2² - 2 s1 s2 (j1·j2) = |P1-P2|²
//
// The first two equations fix s1 and s2 as functions of s0 up to a sign each. The third is then
// a function of s0 alone on every sign branch; its roots are bracketed by sampling and bisected.
func p3pPoses(object [3]r3.Vector, normalized [3]r2.Point) []*CamPose {
	var rays [3]r3.Vector
	for i, pt := range normalized {
		rays[i] = r3.Vector{X: pt.X, Y: pt.Y, Z: 1}.Normalize()
	}
	c01, c02, c12 := rays[0].Dot(rays[1]), rays[0].Dot(rays[2]), rays[1].Dot(rays[2])
	for _, c := range []float64{c01, c02, c12} {
		if c > 1-1e-12 {
			return nil
		}
	}
	d01 := object[0].Sub(object[1]).Norm2()
	d02 := object[0].Sub(object[2]).Norm2()
	d12 := object[1].Sub(object[2]).Norm2()
	area := object[1].Sub(object[0]).Cross(object[2].Sub(object[0])).Norm()
	if area <= 1e-9*math.Max(d01, d02) {
		return nil
	}

	sin01, sin02 := math.Sqrt(1-c01*c01), math.Sqrt(1-c02*c02)
	maxDepth := math.Min(math.Sqrt(d01)/sin01, math.Sqrt(d02)/sin02)
	depths := func(s0, sign1, sign2 float64) (float64, float64, float64) {
		s1 := s0*c01 + sign1*math.Sqrt(math.Max(0, d01-s0*s0*sin01*sin01))
		s2 := s0*c02 + sign2*math.Sqrt(math.Max(0, d02-s0*s0*sin02*sin02))
		return s1, s2, s1*s1 + s2*s2 - 2*s1*s2*c12 - d12
	}

	var poses []*CamPose
	for _, sign1 := range []float64{1, -1} {
		for _, sign2 := range []float64{1, -1} {
			f := func(s0 float64) float64 {
				_, _, v := depths(s0, sign1, sign2)
				return v
			}
			for _, s0 := range bracketRoots(f, 0, maxDepth, p3pSamples) {
				s1, s2, _ := depths(s0, sign1, sign2)
				if s0 <= 0 || s1 <= 0 || s2 <= 0 {
					continue
				}
				camera := [3]r3.Vector{rays[0].Mul(s0), rays[1].Mul(s1), rays[2].Mul(s2)}
				if pose, err := alignTriangles(object, camera); err == nil {
					poses = append(poses, pose)
				}
			}
		}
	}
	return poses
}

// bracketRoots samples f on [lo, hi] and bisects every sign change.
func bracketRoots(f func(float64) float64, lo, hi float64, samples int) []float64 {
	var roots []float64
	step := (hi - lo) / float64(samples)
	a, fa := lo, f(lo)
	for k := 1; k <= samples; k++ {
		b := lo + float64(k)*step
		fb := f(b)
		switch {
		case fa == 0:
			roots = append(roots, a)
		case fa*fb < 0:
			x0, x1, f0 := a, b, fa
			for iter := 0; iter < 100 && x1-x0 > 1e-15*math.Max(1, math.Abs(x1)); iter++ {
				mid := (x0 + x1) / 2
				fm := f(mid)
				if fm == 0 {
					x0, x1 = mid, mid
					break
				}
				if f0*fm < 0 {
					x1 = mid
				} else {
					x0, f0 = mid, fm
				}
			}
			roots = append(roots, (x0+x1)/2)
		}
		a, fa = b, fb
	}
	if fa == 0 {
		roots = append(roots, a)
	}
	return roots
}

// alignTriangles finds the rigid motion taking the world triangle onto the camera-frame one
// (Kabsch): R = U*Vᵀ from the SVD of the cross covariance, t = mean(cam) - R*mean(world).
func alignTriangles(world, camera [3]r3.Vector) (*CamPose, error) {
	pw := centroid(world[:])
	pc := centroid(camera[:])
	cov := mat.NewDense(3, 3, nil)
	for i := range world {
		q := camera[i].Sub(pc)
		p := world[i].Sub(pw)
		qs := []float64{q.X, q.Y, q.Z}
		ps := []float64{p.X, p.Y, p.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov.Set(r, c, cov.At(r, c)+qs[r]*ps[c])
			}
		}
	}
	rot, _, err := nearestRotation(cov)
	if err != nil {
		return nil, err
	}
	return &CamPose{Rotation: rot, Translation: pc.Sub(rot.Mul(pw))}, nil
}

// tripleIndices lists up to limit index triples of n points in lexicographic order.
func tripleIndices(n, limit int) [][3]int {
	var out [][3]int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				if len(out) == limit {
					return out
				}
				out = append(out, [3]int{i, j, k})
			}
		}
	}
	return out
}
