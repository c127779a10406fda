package transform

import "github.com/pkg/errors"

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// BrownConradyDistortionType is the rational radial plus tangential model of narrow field lenses.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// InverseBrownConradyDistortionType maps distorted normalized points back to undistorted ones.
	InverseBrownConradyDistortionType = DistortionType("inverse_brown_conrady")
)

// Distorter defines a Transform on normalized image coordinates according to the model.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType {
	case BrownConradyDistortionType, "":
		return NewBrownConrady(parameters)
	case InverseBrownConradyDistortionType:
		bc, err := NewBrownConrady(parameters)
		if err != nil {
			return nil, err
		}
		return bc.Inverse(), nil
	default:
		return nil, errors.Wrapf(ErrConfiguration, "do not know how to parse %q distortion model", distortionType)
	}
}

// undistorterFor returns the inverse model of a forward distorter. A nil distorter is the identity.
func undistorterFor(d Distorter) (Distorter, error) {
	switch dist := d.(type) {
	case nil:
		return (*InverseBrownConrady)(nil), nil
	case *BrownConrady:
		if dist == nil {
			return (*InverseBrownConrady)(nil), nil
		}
		return dist.Inverse(), nil
	default:
		return nil, errors.Wrapf(ErrConfiguration, "no inverse for %q distortion model", d.ModelType())
	}
}
