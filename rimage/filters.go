package rimage

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Blur applies a Gaussian blur of standard deviation sigma pixels. sigma <= 0 returns a copy.
func (i *Image) Blur(sigma float64) *Image {
	return i.via8Bit(func(img image.Image) *image.NRGBA {
		return imaging.Blur(img, sigma)
	})
}

// TaperWindow names a radial window that fades an image towards its weighted mean at the edges.
type TaperWindow string

// Taper windows. Alpha is the fraction of the half size over which the window falls off and beta
// the fraction of the half size that is left untouched.
const (
	TaperTopHat          TaperWindow = "tophat"
	TaperCosineBell      TaperWindow = "cosinebell"
	TaperSplitCosineBell TaperWindow = "splitcosinebell"
	TaperTukey           TaperWindow = "tukey"
	TaperHanning         TaperWindow = "hanning"
)

// TaperWeights returns the width x height row-major weights of a window: 1 within beta of the
// centre, a raised cosine over the next alpha, 0 beyond.
func TaperWeights(window TaperWindow, width, height int, alpha, beta float64) ([]float64, error) {
	switch window {
	case TaperTopHat:
		alpha = 0
	case TaperCosineBell:
		beta = 0
	case TaperTukey:
		beta = 1 - alpha
	case TaperHanning:
		alpha, beta = 1, 0
	case TaperSplitCosineBell:
	default:
		return nil, errors.Errorf("unknown taper window %q", window)
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid window size (%d, %d)", width, height)
	}
	if alpha < 0 || beta < 0 || beta > 1 {
		return nil, errors.Errorf("taper needs alpha >= 0 and beta in [0, 1], got %v and %v", alpha, beta)
	}

	half := (float64(min(width, height)) - 1) / 2
	inner := beta * half
	taper := math.Floor(alpha * half)
	cx, cy := (float64(width)-1)/2, (float64(height)-1)/2
	weights := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			w := 1.0
			switch {
			case d < inner:
			case d > inner+taper:
				w = 0
			case taper > 0:
				w = 0.5 * (1 + math.Cos(math.Pi*(d-inner)/taper))
			}
			weights[y*width+x] = w
		}
	}
	return weights, nil
}

// Taper blends every channel towards its window-weighted mean where the window is below 1 and
// clips the result to the scale.
func (i *Image) Taper(window TaperWindow, alpha, beta float64) (*Image, error) {
	weights, err := TaperWeights(window, i.width, i.height, alpha, beta)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return nil, errors.Errorf("%s window is empty for a %dx%d image", window, i.width, i.height)
	}
	ret := i.Clone()
	for c := 0; c < i.channels; c++ {
		mean := 0.0
		for p, w := range weights {
			mean += w * i.data[p*i.channels+c]
		}
		mean /= total
		for p, w := range weights {
			k := p*i.channels + c
			ret.data[k] = w*i.data[k] + (1-w)*mean
		}
	}
	ret.clip()
	return ret, nil
}
