package rimage

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// go-colorful keeps L in [0, 1]; the Lab convention here is the CIE one, L in [0, 100].
const labFactor = 100

// rgbToLab converts a ScaleUnit image to ScaleLab. One channel images are gray, three or more use
// the first three channels as sRGB.
func (i *Image) rgbToLab() *Image {
	ret := &Image{width: i.width, height: i.height, channels: 3, scale: ScaleLab, data: make([]float64, i.width*i.height*3)}
	for p := 0; p < i.width*i.height; p++ {
		src := i.data[p*i.channels : (p+1)*i.channels]
		c := colorful.Color{R: src[0], G: src[0], B: src[0]}
		if i.channels >= 3 {
			c = colorful.Color{R: src[0], G: src[1], B: src[2]}
		}
		l, a, b := c.Lab()
		ret.data[3*p] = l * labFactor
		ret.data[3*p+1] = a * labFactor
		ret.data[3*p+2] = b * labFactor
	}
	return ret
}

// labToRGB converts a ScaleLab image to a three channel ScaleUnit sRGB image, clamped to the gamut.
func (i *Image) labToRGB() *Image {
	ret := &Image{width: i.width, height: i.height, channels: 3, scale: ScaleUnit, data: make([]float64, i.width*i.height*3)}
	for p := 0; p < i.width*i.height; p++ {
		k := p * i.channels
		c := colorful.Lab(i.data[k]/labFactor, i.data[k+1]/labFactor, i.data[k+2]/labFactor).Clamped()
		ret.data[3*p] = c.R
		ret.data[3*p+1] = c.G
		ret.data[3*p+2] = c.B
	}
	return ret
}

// channelLimits returns the valid range of channel c under the image's scale.
func (i *Image) channelLimits(c int) (float64, float64) {
	if i.scale == ScaleLab && c > 0 {
		return -128, 128
	}
	return 0, i.scale.Max()
}

func (i *Image) clip() {
	for k, v := range i.data {
		lo, hi := i.channelLimits(k % i.channels)
		i.data[k] = math.Max(lo, math.Min(hi, v))
	}
}

// channel returns a copy of the samples of channel c.
func (i *Image) channel(c int) stats.Float64Data {
	out := make(stats.Float64Data, 0, i.width*i.height)
	for k := c; k < len(i.data); k += i.channels {
		out = append(out, i.data[k])
	}
	return out
}

// Mean returns the mean of every channel.
func (i *Image) Mean() []float64 {
	means := make([]float64, i.channels)
	for c := range means {
		// a channel is never empty
		means[c], _ = i.channel(c).Mean()
	}
	return means
}

// ColorTransfer shifts every channel so its mean becomes the reference value for that channel, then
// clips to the scale. Applied to a ScaleLab image it matches the lighting of a reference frame.
func (i *Image) ColorTransfer(reference []float64) (*Image, error) {
	if len(reference) != i.channels {
		return nil, errors.Errorf("reference has %d values, image has %d channels", len(reference), i.channels)
	}
	means := i.Mean()
	ret := i.Clone()
	for k := range ret.data {
		c := k % ret.channels
		ret.data[k] += reference[c] - means[c]
	}
	ret.clip()
	return ret, nil
}
