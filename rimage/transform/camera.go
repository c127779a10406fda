package transform

import (
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"github.com/coastalimages/argus/logging"
	"github.com/coastalimages/argus/rimage"
	"github.com/coastalimages/argus/utils"
)

// Camera couples a PinholeCameraModel with an extrinsic pose. A Camera starts without a pose
// (IsRectified is false) and gets one from a successful Rectify or SetPose; a pose is only ever
// replaced as a whole, never cleared. Projection methods fail with ErrNotRectified until then.
//
// Camera is safe for concurrent use: read-only methods run in parallel, and a pose is solved
// outside the lock and swapped in atomically.
type Camera struct {
	model  *PinholeCameraModel
	opts   PnPOptions
	logger logging.Logger

	mu   sync.RWMutex
	pose *CamPose
}

// CameraOption configures a Camera.
type CameraOption func(*Camera)

// WithLogger sets the logger the pose solver reports to.
func WithLogger(logger logging.Logger) CameraOption {
	return func(c *Camera) {
		c.logger = logger
	}
}

// WithPnPOptions overrides DefaultPnPOptions.
func WithPnPOptions(opts PnPOptions) CameraOption {
	return func(c *Camera) {
		c.opts = opts
	}
}

// NewCamera returns an unrectified camera.
func NewCamera(model *PinholeCameraModel, opts ...CameraOption) (*Camera, error) {
	if model == nil {
		return nil, NewConfigurationError("camera model is nil")
	}
	c := &Camera{model: model, opts: DefaultPnPOptions()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewBlankLogger("camera")
	}
	if err := c.opts.CheckValid(); err != nil {
		return nil, err
	}
	return c, nil
}

// Model returns the camera model.
func (c *Camera) Model() *PinholeCameraModel {
	return c.model
}

// IsRectified reports whether the camera has a pose.
func (c *Camera) IsRectified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pose != nil
}

// Pose returns a copy of the current pose.
func (c *Camera) Pose() (CamPose, error) {
	pose, err := c.currentPose()
	if err != nil {
		return CamPose{}, err
	}
	return *pose, nil
}

func (c *Camera) currentPose() (*CamPose, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pose == nil {
		return nil, ErrNotRectified
	}
	return c.pose, nil
}

func (c *Camera) setPose(pose *CamPose) {
	c.mu.Lock()
	c.pose = pose
	c.mu.Unlock()
}

// Rectify solves the camera pose from control points. Image points must lie in the frame; unless
// alreadyUndistorted is set they are first mapped through UndistortPoints. On success the pose is
// replaced and its ProjectionError holds the mean pixel error over all correspondences. On failure
// the previous pose, if any, is kept.
func (c *Camera) Rectify(object []r3.Vector, image []r2.Point, alreadyUndistorted bool) error {
	if err := ValidateCorrespondences(object, image, c.model.Width, c.model.Height, c.opts); err != nil {
		return err
	}
	if !alreadyUndistorted {
		image = c.model.UndistortPoints(image)
	}
	optimal := c.model.OptimalIntrinsics()
	pose, err := SolvePnP(object, image, &optimal, c.opts, c.logger)
	if err != nil {
		c.logger.Warnw("rectify failed", "points", len(object), "error", err)
		return err
	}
	c.setPose(pose)
	c.logger.Infow("camera rectified",
		"points", len(object),
		"projection_error", pose.ProjectionError,
		"position", pose.Position())
	return nil
}

// SetPose installs a known pose, replacing any previous one. The rotation must be a 3x3
// orthonormal matrix with determinant +1.
func (c *Camera) SetPose(rotation mat.Matrix, translation r3.Vector) error {
	pose, err := NewCamPose(rotation, translation)
	if err != nil {
		return err
	}
	c.setPose(pose)
	return nil
}

// UndistortPoints maps distorted pixels to the optimal camera.
func (c *Camera) UndistortPoints(pts []r2.Point) []r2.Point {
	return c.model.UndistortPoints(pts)
}

// UndistortImage resamples a raw frame as seen by the optimal camera.
func (c *Camera) UndistortImage(img *rimage.Image) (*rimage.Image, error) {
	return c.model.UndistortImage(img)
}

// project maps world points to optimal-camera pixels. Invalid results are NaN, outside
// [0, W) x [0, H), or, when maskBehind is set, behind the camera.
func (c *Camera) project(pose *CamPose, object []r3.Vector, maskBehind bool) []MaskedPoint {
	k := c.model.optimal
	out := make([]MaskedPoint, len(object))
	for i, obj := range object {
		pc := pose.ToCamera(obj)
		u, v := k.PointToPixel(pc.X, pc.Y, pc.Z)
		pt := r2.Point{X: u, Y: v}
		valid := utils.IsFinite(u, v) && k.InFrame(pt)
		if maskBehind && !(pc.Z > 0) {
			valid = false
		}
		out[i] = MaskedPoint{Point: pt, Valid: valid}
	}
	return out
}

// WorldToImage projects world points into optimal-camera pixels,
// u = fx'*x/z + cx', v = fy'*y/z + cy' with (x, y, z) = R*p + t. Points that come out NaN or
// outside [0, W) x [0, H) are masked, not errors.
func (c *Camera) WorldToImage(object []r3.Vector) ([]MaskedPoint, error) {
	pose, err := c.currentPose()
	if err != nil {
		return nil, err
	}
	return c.project(pose, object, false), nil
}

// ProjectVisible is WorldToImage that also masks points behind the camera.
func (c *Camera) ProjectVisible(object []r3.Vector) ([]MaskedPoint, error) {
	pose, err := c.currentPose()
	if err != nil {
		return nil, err
	}
	return c.project(pose, object, true), nil
}

// ReprojectionErrors returns the pixel distance between each projected object point and its
// observation. Entries whose projection is masked by WorldToImage are invalid and carry NaN.
func (c *Camera) ReprojectionErrors(object []r3.Vector, observed []r2.Point) ([]float64, []bool, error) {
	if len(object) != len(observed) {
		return nil, nil, newInvalidInputError("got %d object points and %d observed points", len(object), len(observed))
	}
	projected, err := c.WorldToImage(object)
	if err != nil {
		return nil, nil, err
	}
	dists := make([]float64, len(object))
	valid := Mask(projected)
	for i, p := range projected {
		if !p.Valid {
			dists[i] = math.NaN()
			continue
		}
		dists[i] = p.Point.Sub(observed[i]).Norm()
	}
	return dists, valid, nil
}

// ReprojectionError is the mean pixel distance between projected object points and their
// observations. Points masked by WorldToImage are left out of the mean; when every point is
// masked the error is ErrInvalidInput.
func (c *Camera) ReprojectionError(object []r3.Vector, observed []r2.Point) (float64, error) {
	dists, err := c.validReprojectionErrors(object, observed)
	if err != nil {
		return 0, err
	}
	return stats.Mean(dists)
}

func (c *Camera) validReprojectionErrors(object []r3.Vector, observed []r2.Point) ([]float64, error) {
	dists, valid, err := c.ReprojectionErrors(object, observed)
	if err != nil {
		return nil, err
	}
	kept := make([]float64, 0, len(dists))
	for i, d := range dists {
		if valid[i] {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return nil, newInvalidInputError("all %d projections are masked", len(dists))
	}
	return kept, nil
}

// ReprojectionSummary describes the reprojection errors of the unmasked points.
type ReprojectionSummary struct {
	Count  int     `json:"count"`
	Masked int     `json:"masked"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	RMS    float64 `json:"rms"`
}

// SummarizeReprojection computes ReprojectionSummary over the points WorldToImage does not mask.
func (c *Camera) SummarizeReprojection(object []r3.Vector, observed []r2.Point) (ReprojectionSummary, error) {
	dists, err := c.validReprojectionErrors(object, observed)
	if err != nil {
		return ReprojectionSummary{}, err
	}
	data := stats.Float64Data(dists)
	summary := ReprojectionSummary{Count: len(dists), Masked: len(object) - len(dists)}
	if summary.Mean, err = data.Mean(); err != nil {
		return ReprojectionSummary{}, err
	}
	if summary.Median, err = data.Median(); err != nil {
		return ReprojectionSummary{}, err
	}
	if summary.Max, err = data.Max(); err != nil {
		return ReprojectionSummary{}, err
	}
	squares := make(stats.Float64Data, len(dists))
	for i, d := range dists {
		squares[i] = d * d
	}
	meanSquare, err := squares.Mean()
	if err != nil {
		return ReprojectionSummary{}, err
	}
	summary.RMS = math.Sqrt(meanSquare)
	return summary, nil
}

// InFieldOfView reports which ground points (z = 0) the camera sees: the camera-frame depth must be
// positive and the horizontal angle off the optical axis, |atan2(x, z)|, at most half the field of
// view. Points exactly on the boundary angle are visible.
func (c *Camera) InFieldOfView(ground []r2.Point) ([]bool, error) {
	pose, err := c.currentPose()
	if err != nil {
		return nil, err
	}
	halfFOV := c.model.FieldOfView() / 2
	visible := make([]bool, len(ground))
	for i, g := range ground {
		pc := pose.ToCamera(r3.Vector{X: g.X, Y: g.Y})
		visible[i] = pc.Z > 0 && math.Abs(math.Atan2(pc.X, pc.Z)) <= halfFOV
	}
	return visible, nil
}

// ImageToWorld back-projects undistorted pixels onto the horizontal plane Z = z. A point is invalid
// when its ray is parallel to the plane or meets it behind the camera.
func (c *Camera) ImageToWorld(pixels []r2.Point, z float64) ([]MaskedPoint3D, error) {
	pose, err := c.currentPose()
	if err != nil {
		return nil, err
	}
	k := c.model.optimal
	center := pose.Position()
	out := make([]MaskedPoint3D, len(pixels))
	for i, px := range pixels {
		x, y := k.PixelToNormalized(px.X, px.Y)
		ray := pose.Rotation.TransposeMul(r3.Vector{X: x, Y: y, Z: 1})
		if math.Abs(ray.Z) < 1e-12 || !isFiniteVector(ray) {
			out[i] = MaskedPoint3D{Point: r3.Vector{X: math.NaN(), Y: math.NaN(), Z: z}}
			continue
		}
		s := (z - center.Z) / ray.Z
		out[i] = MaskedPoint3D{Point: center.Add(ray.Mul(s)), Valid: s > 0}
	}
	return out, nil
}

// Position returns the camera centre in world coordinates.
func (c *Camera) Position() (r3.Vector, error) {
	pose, err := c.currentPose()
	if err != nil {
		return r3.Vector{}, err
	}
	return pose.Position(), nil
}

// GroundGrid lays arcs of constant horizontal range r around the camera across its field of view,
// spaced `spacing` apart along each arc, and returns their world XY coordinates. Each arc has
// N-1 points at angles (n - N/2)*spacing/r for n = 1..N-1, N = 2*floor(FOV*r/spacing/2).
func (c *Camera) GroundGrid(spacing float64, radii []float64) ([]r2.Point, error) {
	pose, err := c.currentPose()
	if err != nil {
		return nil, err
	}
	if !(spacing > 0) || math.IsInf(spacing, 0) {
		return nil, newInvalidInputError("grid spacing must be positive, got %v", spacing)
	}
	fov := c.model.FieldOfView()
	var out []r2.Point
	for _, r := range radii {
		if !(r > 0) || math.IsInf(r, 0) {
			return nil, newInvalidInputError("grid radius must be positive, got %v", r)
		}
		dTheta := spacing / r
		n := 2 * int(fov/dTheta/2)
		for k := 1; k < n; k++ {
			theta := (float64(k) - float64(n)/2) * dTheta
			world := pose.ToWorld(r3.Vector{X: r * math.Sin(theta), Z: r * math.Cos(theta)})
			out = append(out, r2.Point{X: world.X, Y: world.Y})
		}
	}
	return out, nil
}
