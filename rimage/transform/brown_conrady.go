package transform

import (
	"fmt"

	"github.com/coastalimages/argus/utils"
)

// BrownConrady is the rational Brown-Conrady model. Coefficients follow the usual eight term layout
// [k1 k2 p1 p2 k3 k4 k5 k6]: k1..k3 scale the numerator and k4..k6 the denominator of the radial
// factor, p1 and p2 are tangential.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
	RadialK3     float64 `json:"rk3"`
	RadialK4     float64 `json:"rk4"`
	RadialK5     float64 `json:"rk5"`
	RadialK6     float64 `json:"rk6"`
}

const brownConradyNumParams = 8

// NewBrownConrady takes in a slice of up to eight floats in [k1 k2 p1 p2 k3 k4 k5 k6] order.
// Missing trailing values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > brownConradyNumParams {
		return nil, InvalidDistortionError(
			fmt.Sprintf("list of parameters too long, expected max %d, got %d", brownConradyNumParams, len(inp)))
	}
	var p [brownConradyNumParams]float64
	copy(p[:], inp)
	bc := &BrownConrady{p[0], p[1], p[2], p[3], p[4], p[5], p[6], p[7]}
	if err := bc.CheckValid(); err != nil {
		return nil, err
	}
	return bc, nil
}

// NewBrownConradyFromRadialTangential lays out four radial and two tangential coefficients the way
// the metadata store does: [Drad0 Drad1 Dtan0 Dtan1 Drad2 Drad3 0 0].
func NewBrownConradyFromRadialTangential(radial, tangential []float64) (*BrownConrady, error) {
	if len(radial) > 4 {
		return nil, InvalidDistortionError(fmt.Sprintf("expected at most 4 radial coefficients, got %d", len(radial)))
	}
	if len(tangential) > 2 {
		return nil, InvalidDistortionError(fmt.Sprintf("expected at most 2 tangential coefficients, got %d", len(tangential)))
	}
	var rad [4]float64
	var tan [2]float64
	copy(rad[:], radial)
	copy(tan[:], tangential)
	return NewBrownConrady([]float64{rad[0], rad[1], tan[0], tan[1], rad[2], rad[3], 0, 0})
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	if !utils.IsFinite(bc.Parameters()...) {
		return InvalidDistortionError(fmt.Sprintf("non-finite coefficients %v", bc.Parameters()))
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{
		bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2,
		bc.RadialK3, bc.RadialK4, bc.RadialK5, bc.RadialK6,
	}
}

// IsZero is true when every coefficient is zero.
func (bc *BrownConrady) IsZero() bool {
	for _, p := range bc.Parameters() {
		if p != 0 {
			return false
		}
	}
	return true
}

// radial returns the radial factor and its derivative with respect to r².
func (bc *BrownConrady) radial(r2 float64) (float64, float64) {
	r4 := r2 * r2
	r6 := r4 * r2
	num := 1 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
	den := 1 + bc.RadialK4*r2 + bc.RadialK5*r4 + bc.RadialK6*r6
	dNum := bc.RadialK1 + 2*bc.RadialK2*r2 + 3*bc.RadialK3*r4
	dDen := bc.RadialK4 + 2*bc.RadialK5*r2 + 3*bc.RadialK6*r4
	return num / den, (dNum*den - num*dDen) / (den * den)
}

// Transform distorts the normalized point (x, y):
//
//	R   = (1 + k1*r² + k2*r⁴ + k3*r⁶) / (1 + k4*r² + k5*r⁴ + k6*r⁶)
//	x_d = x*R + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d = y*R + p1*(r² + 2*y²) + 2*p2*x*y
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radDist, _ := bc.radial(r2)
	xd := x*radDist + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radDist + bc.TangentialP1*(r2+2*y*y) + 2*bc.TangentialP2*x*y
	return xd, yd
}

// jacobian returns the partial derivatives of Transform at (x, y).
func (bc *BrownConrady) jacobian(x, y float64) (dxdx, dxdy, dydx, dydy float64) {
	r2 := x*x + y*y
	radDist, dRad := bc.radial(r2)
	dxdx = radDist + 2*x*x*dRad + 2*bc.TangentialP1*y + 6*bc.TangentialP2*x
	dxdy = 2*x*y*dRad + 2*bc.TangentialP1*x + 2*bc.TangentialP2*y
	dydx = 2*x*y*dRad + 2*bc.TangentialP1*x + 2*bc.TangentialP2*y
	dydy = radDist + 2*y*y*dRad + 6*bc.TangentialP1*y + 2*bc.TangentialP2*x
	return dxdx, dxdy, dydx, dydy
}

// Inverse returns the model that undoes this distortion.
func (bc *BrownConrady) Inverse() *InverseBrownConrady {
	return &InverseBrownConrady{forward: bc}
}
