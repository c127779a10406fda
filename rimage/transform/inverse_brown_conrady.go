package transform

// InverseBrownConrady applies the inverse of the Brown-Conrady distortion model.
// Given distorted points, it computes the corresponding undistorted points using
// an iterative Newton-Raphson method. A nil InverseBrownConrady is the identity.
type InverseBrownConrady struct {
	forward *BrownConrady
}

// Newton-Raphson bounds for Transform.
const (
	inverseMaxIterations = 20
	inverseTolerance     = 1e-12
)

// CheckValid checks if the wrapped forward model is valid.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return nil
	}
	if ibc.forward == nil {
		return InvalidDistortionError("inverse of a nil BrownConrady")
	}
	return ibc.forward.CheckValid()
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the forward model being inverted.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return ibc.forward.Parameters()
}

// Transform solves BrownConrady.Transform(x_u, y_u) = (x_d, y_d) for (x_u, y_u), starting from the
// distorted point and stopping after a fixed number of Newton steps.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil || ibc.forward == nil || ibc.forward.IsZero() {
		return xd, yd
	}
	bc := ibc.forward

	// Start with the distorted point as initial guess
	xu, yu := xd, yd

	for i := 0; i < inverseMaxIterations; i++ {
		xdEst, ydEst := bc.Transform(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < inverseTolerance*inverseTolerance {
			break
		}

		dxdDxu, dxdDyu, dydDxu, dydDyu := bc.jacobian(xu, yu)
		det := dxdDxu*dydDyu - dxdDyu*dydDxu
		if det == 0 {
			break
		}

		// [xu, yu] -= J^-1 * [errX, errY]
		xu -= (dydDyu*errX - dxdDyu*errY) / det
		yu -= (-dydDxu*errX + dxdDxu*errY) / det
	}

	return xu, yu
}
