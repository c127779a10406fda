package transform

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/coastalimages/argus/logging"
	"github.com/coastalimages/argus/utils"
)

// MinControlPoints is the fewest correspondences the pose solver accepts.
const MinControlPoints = 4

// PnPOptions bound the Levenberg-Marquardt refinement of SolvePnP and the degeneracy checks
// around it.
type PnPOptions struct {
	// MaxIterations caps the number of Levenberg-Marquardt steps, accepted or rejected.
	MaxIterations int `json:"max_iterations,omitempty" mapstructure:"max_iterations"`
	// CostTolerance stops the solver when an accepted step lowers the cost by less than this fraction.
	CostTolerance float64 `json:"cost_tolerance,omitempty" mapstructure:"cost_tolerance"`
	// StepTolerance stops the solver when the step is this small relative to the parameters.
	StepTolerance float64 `json:"step_tolerance,omitempty" mapstructure:"step_tolerance"`
	// GradientTolerance stops the solver when the residual is this close to orthogonal to every
	// Jacobian column.
	GradientTolerance float64 `json:"gradient_tolerance,omitempty" mapstructure:"gradient_tolerance"`
	// MaxConditionNumber rejects solutions whose column-scaled normal matrix is worse conditioned.
	MaxConditionNumber float64 `json:"max_condition_number,omitempty" mapstructure:"max_condition_number"`
	// PlanarityTolerance is the ratio of smallest to largest principal spread below which the object
	// points are treated as coplanar.
	PlanarityTolerance float64 `json:"planarity_tolerance,omitempty" mapstructure:"planarity_tolerance"`
	// CollinearityTolerance is the ratio of the second to the largest principal spread below which
	// the object points are rejected as collinear.
	CollinearityTolerance float64 `json:"collinearity_tolerance,omitempty" mapstructure:"collinearity_tolerance"`
}

// DefaultPnPOptions returns the solver defaults.
func DefaultPnPOptions() PnPOptions {
	return PnPOptions{
		MaxIterations:         100,
		CostTolerance:         1e-10,
		StepTolerance:         1e-12,
		GradientTolerance:     1e-12,
		MaxConditionNumber:    1e10,
		PlanarityTolerance:    1e-3,
		CollinearityTolerance: 1e-6,
	}
}

// CheckValid reports every out of range option.
func (o PnPOptions) CheckValid() error {
	var errs error
	if o.MaxIterations <= 0 {
		errs = multierr.Append(errs, errors.Errorf("max_iterations must be positive, got %d", o.MaxIterations))
	}
	for name, v := range map[string]float64{
		"cost_tolerance":         o.CostTolerance,
		"step_tolerance":         o.StepTolerance,
		"gradient_tolerance":     o.GradientTolerance,
		"planarity_tolerance":    o.PlanarityTolerance,
		"collinearity_tolerance": o.CollinearityTolerance,
	} {
		if !(v >= 0) || math.IsInf(v, 0) {
			errs = multierr.Append(errs, errors.Errorf("%s must be finite and non-negative, got %v", name, v))
		}
	}
	if !(o.MaxConditionNumber > 1) {
		errs = multierr.Append(errs, errors.Errorf("max_condition_number must be greater than 1, got %v", o.MaxConditionNumber))
	}
	if errs != nil {
		return errors.Wrap(ErrConfiguration, errs.Error())
	}
	return nil
}

// objectGeometry describes the principal axes of a set of object points.
type objectGeometry struct {
	centroid r3.Vector
	axes     [3]r3.Vector
	spread   [3]float64
	planar   bool
}

// checkCorrespondences rejects inputs the solver cannot use: mismatched lengths, too few points,
// non-finite coordinates and object points that are all identical or all on one line.
func checkCorrespondences(object []r3.Vector, image []r2.Point, opts PnPOptions) (*objectGeometry, error) {
	if len(object) != len(image) {
		return nil, newInvalidInputError("got %d object points and %d image points", len(object), len(image))
	}
	if len(object) < MinControlPoints {
		return nil, errors.Wrapf(ErrInsufficientPoints, "got %d correspondences, need at least %d", len(object), MinControlPoints)
	}
	for i := range object {
		if !isFiniteVector(object[i]) {
			return nil, newInvalidInputError("object point %d %v is not finite", i, object[i])
		}
		if !utils.IsFinite(image[i].X, image[i].Y) {
			return nil, newInvalidInputError("image point %d %v is not finite", i, image[i])
		}
	}
	c, axes, spread, err := principalAxes(object)
	if err != nil {
		return nil, newInvalidInputError("cannot analyze object points: %v", err)
	}
	scale := math.Max(1, c.Norm())
	if spread[0] <= 1e-12*scale {
		return nil, newInvalidInputError("object points have zero spread")
	}
	if spread[1] <= opts.CollinearityTolerance*spread[0] {
		return nil, newInvalidInputError("object points are collinear")
	}
	return &objectGeometry{
		centroid: c,
		axes:     axes,
		spread:   spread,
		planar:   spread[2] <= opts.PlanarityTolerance*spread[0],
	}, nil
}

// ValidateCorrespondences runs the pre-solve checks, including that every image point lies in
// [0, width) x [0, height).
func ValidateCorrespondences(object []r3.Vector, image []r2.Point, width, height int, opts PnPOptions) error {
	if _, err := checkCorrespondences(object, image, opts); err != nil {
		return err
	}
	frame := PinholeCameraIntrinsics{Width: width, Height: height}
	for i, pt := range image {
		if !frame.InFrame(pt) {
			return newInvalidInputError("image point %d %v is outside the %dx%d frame", i, pt, width, height)
		}
	}
	return nil
}

// SolvePnP finds the pose that minimizes the summed squared pixel reprojection error of the
// correspondences through the distortion-free camera `intrinsics`. Closed form estimates (DLT
// projection matrix, plane homography, three-point solutions) are ranked by reprojection cost, the
// best maxStarts are refined with Levenberg-Marquardt over the Rodrigues vector and translation,
// and the refined pose with the lowest cost is checked and returned.
func SolvePnP(
	object []r3.Vector,
	image []r2.Point,
	intrinsics *PinholeCameraIntrinsics,
	opts PnPOptions,
	logger logging.Logger,
) (*CamPose, error) {
	if logger == nil {
		logger = logging.NewBlankLogger("pnp")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if err := opts.CheckValid(); err != nil {
		return nil, err
	}
	geom, err := checkCorrespondences(object, image, opts)
	if err != nil {
		return nil, err
	}
	prob := &pnpProblem{object: object, image: image, k: intrinsics}

	guesses, err := prob.initialPoses(geom)
	if err != nil {
		return nil, newPoseNotFoundError("no initial estimate: %v", err)
	}
	if len(guesses) > maxStarts {
		guesses = guesses[:maxStarts]
	}
	var x []float64
	bestCost := math.Inf(1)
	r := make([]float64, 2*len(object))
	for i, guess := range guesses {
		xi, lmErr := prob.levenbergMarquardt(poseParams(guess), opts, logger)
		if lmErr != nil {
			err = lmErr
			continue
		}
		cost := prob.residuals(xi, r)
		logger.Debugw("pnp start refined", "start", i, "cost", cost)
		if cost < bestCost {
			x, bestCost = xi, cost
		}
	}
	if x == nil {
		return nil, err
	}
	pose := paramsPose(x)

	cond := prob.conditionNumber(x)
	if cond > opts.MaxConditionNumber {
		return nil, newPoseNotFoundError("ill-conditioned solution, condition number %g", cond)
	}
	for i, obj := range object {
		if z := pose.ToCamera(obj).Z; z <= 0 {
			return nil, newPoseNotFoundError("control point %d is behind the camera (z=%g)", i, z)
		}
	}
	pose.ProjectionError = prob.meanError(x)
	logger.Debugw("pose solved", "projection_error", pose.ProjectionError, "condition", cond)
	return pose, nil
}

type pnpProblem struct {
	object []r3.Vector
	image  []r2.Point
	k      *PinholeCameraIntrinsics
}

func poseParams(pose *CamPose) []float64 {
	rvec := pose.Rodrigues()
	t := pose.Translation
	return []float64{rvec.X, rvec.Y, rvec.Z, t.X, t.Y, t.Z}
}

func paramsPose(x []float64) *CamPose {
	return NewCamPoseFromRodrigues(r3.Vector{X: x[0], Y: x[1], Z: x[2]}, r3.Vector{X: x[3], Y: x[4], Z: x[5]})
}

// residuals writes the pixel error of every correspondence into dst and returns half the squared sum.
func (p *pnpProblem) residuals(x, dst []float64) float64 {
	pose := paramsPose(x)
	for i, obj := range p.object {
		pc := pose.ToCamera(obj)
		u, v := p.k.PointToPixel(pc.X, pc.Y, pc.Z)
		dst[2*i] = u - p.image[i].X
		dst[2*i+1] = v - p.image[i].Y
	}
	return 0.5 * floats.Dot(dst, dst)
}

func (p *pnpProblem) meanError(x []float64) float64 {
	r := make([]float64, 2*len(p.object))
	p.residuals(x, r)
	sum := 0.0
	for i := 0; i < len(p.object); i++ {
		sum += math.Hypot(r[2*i], r[2*i+1])
	}
	return sum / float64(len(p.object))
}

// jacobian fills jac with central differences of the residuals.
func (p *pnpProblem) jacobian(x []float64, jac *mat.Dense) {
	m, n := jac.Dims()
	plus := make([]float64, m)
	minus := make([]float64, m)
	xp := make([]float64, n)
	for j := 0; j < n; j++ {
		h := 1e-6 * math.Max(1, math.Abs(x[j]))
		copy(xp, x)
		xp[j] = x[j] + h
		p.residuals(xp, plus)
		xp[j] = x[j] - h
		p.residuals(xp, minus)
		for i := 0; i < m; i++ {
			jac.Set(i, j, (plus[i]-minus[i])/(2*h))
		}
	}
}

// maxStarts is the number of initial estimates refined by Levenberg-Marquardt.
const maxStarts = 4

// initialPoses returns the closed form estimates ordered by reprojection cost, lowest first: the
// DLT projection matrix (6 or more non-coplanar points), the best-fit plane homography, and the
// three-point solutions of up to maxP3PTriples point triples.
func (p *pnpProblem) initialPoses(geom *objectGeometry) ([]*CamPose, error) {
	normalized := make([]r2.Point, len(p.image))
	for i, pt := range p.image {
		x, y := p.k.PixelToNormalized(pt.X, pt.Y)
		normalized[i] = r2.Point{X: x, Y: y}
	}

	var candidates []*CamPose
	var errs error
	if !geom.planar && len(p.object) >= 6 {
		pose, err := dltPose(p.object, normalized)
		if err == nil {
			candidates = append(candidates, pose)
		}
		errs = multierr.Append(errs, err)
	}
	pose, err := planarPose(p.object, normalized, geom)
	if err == nil {
		candidates = append(candidates, pose)
	}
	errs = multierr.Append(errs, err)
	for _, tri := range tripleIndices(len(p.object), maxP3PTriples) {
		candidates = append(candidates, p3pPoses(
			[3]r3.Vector{p.object[tri[0]], p.object[tri[1]], p.object[tri[2]]},
			[3]r2.Point{normalized[tri[0]], normalized[tri[1]], normalized[tri[2]]},
		)...)
	}

	r := make([]float64, 2*len(p.object))
	type scored struct {
		pose *CamPose
		cost float64
	}
	var ranked []scored
	for _, c := range candidates {
		cost := p.residuals(poseParams(c), r)
		if math.IsNaN(cost) || math.IsInf(cost, 0) {
			continue
		}
		ranked = append(ranked, scored{c, cost})
	}
	if len(ranked) == 0 {
		if errs == nil {
			errs = errors.New("initial estimates do not project")
		}
		return nil, errs
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].cost < ranked[j].cost })
	out := make([]*CamPose, len(ranked))
	for i, s := range ranked {
		out[i] = s.pose
	}
	return out, nil
}

// planarPose decomposes the homography from the best-fit plane of the object points to the
// normalized image: H ~ [r1 r2 t] in plane coordinates.
func planarPose(object []r3.Vector, normalized []r2.Point, geom *objectGeometry) (*CamPose, error) {
	planePts := make([]r2.Point, len(object))
	for i, obj := range object {
		d := obj.Sub(geom.centroid)
		planePts[i] = r2.Point{X: d.Dot(geom.axes[0]), Y: d.Dot(geom.axes[1])}
	}
	h, err := EstimateHomography(planePts, normalized)
	if err != nil {
		return nil, err
	}
	h1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vector{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}
	norm := (h1.Norm() + h2.Norm()) / 2
	if norm == 0 {
		return nil, errors.New("degenerate homography")
	}
	r1, r2, tp := h1.Mul(1/norm), h2.Mul(1/norm), h3.Mul(1/norm)
	// the plane origin must be in front of the camera
	if tp.Z < 0 {
		r1, r2, tp = r1.Mul(-1), r2.Mul(-1), tp.Mul(-1)
	}
	r3v := r1.Cross(r2)
	m := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	planeRot, _, err := nearestRotation(m)
	if err != nil {
		return nil, err
	}

	// world -> plane coordinates is Bᵀ(p - c), with B = [axes0 axes1 axes2]
	basis := mat.NewDense(3, 3, []float64{
		geom.axes[0].X, geom.axes[1].X, geom.axes[2].X,
		geom.axes[0].Y, geom.axes[1].Y, geom.axes[2].Y,
		geom.axes[0].Z, geom.axes[1].Z, geom.axes[2].Z,
	})
	var rot mat.Dense
	rot.Mul(planeRot.Dense(), basis.T())
	pose, err := NewCamPose(&rot, r3.Vector{})
	if err != nil {
		return nil, err
	}
	pose.Translation = tp.Sub(pose.Rotation.Mul(geom.centroid))
	return pose, nil
}

// dltPose decomposes the DLT projection matrix P ~ [R|t].
func dltPose(object []r3.Vector, normalized []r2.Point) (*CamPose, error) {
	p, err := estimateProjectionMatrix(object, normalized)
	if err != nil {
		return nil, err
	}
	m := p.Slice(0, 3, 0, 3)
	if mat.Det(m) < 0 {
		p.Scale(-1, p)
	}
	rot, scale, err := nearestRotation(p.Slice(0, 3, 0, 3))
	if err != nil {
		return nil, err
	}
	if scale == 0 {
		return nil, errors.New("degenerate projection matrix")
	}
	t := r3.Vector{X: p.At(0, 3), Y: p.At(1, 3), Z: p.At(2, 3)}.Mul(1 / scale)
	return &CamPose{Rotation: rot, Translation: t}, nil
}

// levenbergMarquardt minimizes the reprojection cost starting at x0, with Marquardt's diagonal
// damping. It fails with ErrPoseNotFound when no convergence test passes within MaxIterations.
func (p *pnpProblem) levenbergMarquardt(x0 []float64, opts PnPOptions, logger logging.Logger) ([]float64, error) {
	const nParams = 6
	m := 2 * len(p.object)
	x := append([]float64(nil), x0...)
	r := make([]float64, m)
	rNew := make([]float64, m)
	xNew := make([]float64, nParams)
	cost := p.residuals(x, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, newPoseNotFoundError("initial estimate does not project")
	}

	jac := mat.NewDense(m, nParams, nil)
	var normal mat.SymDense
	grad := mat.NewVecDense(nParams, nil)
	linearize := func() {
		p.jacobian(x, jac)
		normal.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, r))
	}
	linearize()

	lambda := 0.0
	for j := 0; j < nParams; j++ {
		lambda = math.Max(lambda, normal.At(j, j))
	}
	lambda *= 1e-3

	augmented := mat.NewSymDense(nParams, nil)
	step := mat.NewVecDense(nParams, nil)
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if cost == 0 || p.gradientCosine(jac, r) <= opts.GradientTolerance {
			return x, nil
		}

		augmented.CopySym(&normal)
		for j := 0; j < nParams; j++ {
			d := normal.At(j, j)
			if d == 0 {
				d = 1
			}
			augmented.SetSym(j, j, normal.At(j, j)+lambda*d)
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(augmented); !ok {
			lambda *= 10
			continue
		}
		if err := chol.SolveVecTo(step, grad); err != nil {
			lambda *= 10
			continue
		}
		for j := 0; j < nParams; j++ {
			xNew[j] = x[j] - step.AtVec(j)
		}
		stepSmall := mat.Norm(step, 2) <= opts.StepTolerance*(floats.Norm(x, 2)+opts.StepTolerance)
		costNew := p.residuals(xNew, rNew)

		if costNew < cost {
			relChange := (cost - costNew) / cost
			copy(x, xNew)
			copy(r, rNew)
			cost = costNew
			linearize()
			lambda = math.Max(lambda/10, 1e-15)
			logger.Debugw("pnp step accepted", "iteration", iter, "cost", cost, "lambda", lambda)
			if relChange <= opts.CostTolerance || stepSmall {
				return x, nil
			}
			continue
		}
		lambda *= 10
		logger.Debugw("pnp step rejected", "iteration", iter, "cost", cost, "lambda", lambda)
		if stepSmall {
			return x, nil
		}
	}
	return nil, newPoseNotFoundError("no convergence within %d iterations (cost %g)", opts.MaxIterations, cost)
}

// gradientCosine is the largest |cos| of the angle between the residual and a Jacobian column.
func (p *pnpProblem) gradientCosine(jac *mat.Dense, r []float64) float64 {
	rNorm := floats.Norm(r, 2)
	if rNorm == 0 {
		return 0
	}
	_, n := jac.Dims()
	worst := 0.0
	col := make([]float64, len(r))
	for j := 0; j < n; j++ {
		mat.Col(col, j, jac)
		cNorm := floats.Norm(col, 2)
		if cNorm == 0 {
			continue
		}
		worst = math.Max(worst, math.Abs(floats.Dot(col, r))/(cNorm*rNorm))
	}
	return worst
}

// conditionNumber is the 2-norm condition number of the Jacobi-scaled normal matrix at x, so that
// rotation and translation units do not inflate it.
func (p *pnpProblem) conditionNumber(x []float64) float64 {
	jac := mat.NewDense(2*len(p.object), 6, nil)
	p.jacobian(x, jac)
	var normal mat.SymDense
	normal.SymOuterK(1, jac.T())
	scaled := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		di := normal.At(i, i)
		if di <= 0 {
			return math.Inf(1)
		}
		for j := i; j < 6; j++ {
			scaled.SetSym(i, j, normal.At(i, j)/math.Sqrt(di*normal.At(j, j)))
		}
	}
	return mat.Cond(scaled, 2)
}
