package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/coastalimages/argus/spatialmath"
	"github.com/coastalimages/argus/utils"
)

// CamPose is the extrinsic pose of a camera: p_cam = Rotation * p_world + Translation.
// ProjectionError is the mean reprojection error in pixels of the correspondences it was solved
// from, zero for poses set directly.
type CamPose struct {
	Rotation        *spatialmath.RotationMatrix
	Translation     r3.Vector
	ProjectionError float64
}

// NewCamPose checks that rotation is orthonormal with determinant +1.
func NewCamPose(rotation mat.Matrix, translation r3.Vector) (*CamPose, error) {
	if rotation == nil {
		return nil, errors.Wrap(ErrInvalidInput, "rotation is nil")
	}
	rot, err := spatialmath.RotationMatrixFromDense(rotation)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidInput, err.Error())
	}
	if !isFiniteVector(translation) {
		return nil, errors.Wrapf(ErrInvalidInput, "translation %v is not finite", translation)
	}
	return &CamPose{Rotation: rot, Translation: translation}, nil
}

// NewCamPoseFromMat creates a camera pose from a 3x4 [R|t] matrix.
func NewCamPoseFromMat(pose mat.Matrix) (*CamPose, error) {
	if r, c := pose.Dims(); r != 3 || c != 4 {
		return nil, errors.Wrapf(ErrInvalidInput, "pose matrix must be 3x4, got %dx%d", r, c)
	}
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, pose.At(i, j))
		}
	}
	return NewCamPose(rot, r3.Vector{X: pose.At(0, 3), Y: pose.At(1, 3), Z: pose.At(2, 3)})
}

// NewCamPoseFromRodrigues creates a camera pose from a Rodrigues rotation vector and a translation.
func NewCamPoseFromRodrigues(rvec, tvec r3.Vector) *CamPose {
	return &CamPose{Rotation: spatialmath.RodriguesToRotationMatrix(rvec), Translation: tvec}
}

// PoseMat returns the 3x4 [R|t] matrix.
func (cp *CamPose) PoseMat() *mat.Dense {
	pose := mat.NewDense(3, 4, nil)
	pose.Slice(0, 3, 0, 3).(*mat.Dense).Copy(cp.Rotation.Dense())
	pose.Set(0, 3, cp.Translation.X)
	pose.Set(1, 3, cp.Translation.Y)
	pose.Set(2, 3, cp.Translation.Z)
	return pose
}

// Rodrigues returns the rotation as an axis scaled by its angle.
func (cp *CamPose) Rodrigues() r3.Vector {
	return spatialmath.RotationMatrixToRodrigues(cp.Rotation)
}

// ToCamera transforms a world point into the camera frame.
func (cp *CamPose) ToCamera(p r3.Vector) r3.Vector {
	return cp.Rotation.Mul(p).Add(cp.Translation)
}

// ToWorld transforms a camera-frame point into the world frame.
func (cp *CamPose) ToWorld(p r3.Vector) r3.Vector {
	return cp.Rotation.TransposeMul(p.Sub(cp.Translation))
}

// Position is the camera centre in world coordinates, -Rᵀt.
func (cp *CamPose) Position() r3.Vector {
	return cp.Rotation.TransposeMul(cp.Translation).Mul(-1)
}

func isFiniteVector(v r3.Vector) bool {
	return utils.IsFinite(v.X, v.Y, v.Z)
}
