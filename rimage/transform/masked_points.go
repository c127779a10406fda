package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// MaskedPoint is a pixel tagged valid or invalid. Invalid points keep the computed coordinates,
// which may be NaN, so callers can inspect them; they must not be used as measurements.
type MaskedPoint struct {
	Point r2.Point
	Valid bool
}

// MaskedPoint3D is a world point tagged valid or invalid.
type MaskedPoint3D struct {
	Point r3.Vector
	Valid bool
}

// ValidPoints returns the valid points and their indices in ms.
func ValidPoints(ms []MaskedPoint) ([]r2.Point, []int) {
	pts := make([]r2.Point, 0, len(ms))
	idx := make([]int, 0, len(ms))
	for i, m := range ms {
		if m.Valid {
			pts = append(pts, m.Point)
			idx = append(idx, i)
		}
	}
	return pts, idx
}

// CountValid returns the number of valid points.
func CountValid(ms []MaskedPoint) int {
	n := 0
	for _, m := range ms {
		if m.Valid {
			n++
		}
	}
	return n
}

// Mask returns the validity flags of ms.
func Mask(ms []MaskedPoint) []bool {
	mask := make([]bool, len(ms))
	for i, m := range ms {
		mask[i] = m.Valid
	}
	return mask
}
