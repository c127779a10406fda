// Package rimage holds the raster buffer the calibration engine resamples.
package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
)

// Scale is the value convention of an Image.
type Scale int

const (
	// ScaleUint8 images hold values in [0, 255].
	ScaleUint8 Scale = iota
	// ScaleUnit images hold values in [0, 1].
	ScaleUnit
	// ScaleLab images hold three CIE L*a*b* channels: L in [0, 100], a and b in [-128, 128].
	ScaleLab
)

// Max returns the largest representable value of the scale. For ScaleLab it is the top of L.
func (s Scale) Max() float64 {
	switch s {
	case ScaleUnit:
		return 1
	case ScaleLab:
		return 100
	default:
		return 255
	}
}

func (s Scale) String() string {
	switch s {
	case ScaleUint8:
		return "uint8"
	case ScaleUnit:
		return "unit"
	case ScaleLab:
		return "lab"
	default:
		return "unknown"
	}
}

// Image is a height x width x channels raster of float64 samples stored row major,
// channels interleaved. Values are never quantized by the resampling operations.
type Image struct {
	width, height, channels int
	scale                   Scale
	data                    []float64
}

// NewImage returns a black image.
func NewImage(width, height, channels int, scale Scale) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size (%d, %d)", width, height)
	}
	if channels <= 0 {
		return nil, errors.Errorf("invalid channel count %d", channels)
	}
	return &Image{
		width:    width,
		height:   height,
		channels: channels,
		scale:    scale,
		data:     make([]float64, width*height*channels),
	}, nil
}

// NewImageFromData wraps data without copying it. len(data) must be width*height*channels.
func NewImageFromData(width, height, channels int, scale Scale, data []float64) (*Image, error) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return nil, errors.Errorf("invalid image shape (%d, %d, %d)", width, height, channels)
	}
	if len(data) != width*height*channels {
		return nil, errors.Errorf("data has %d values, shape (%d, %d, %d) needs %d",
			len(data), width, height, channels, width*height*channels)
	}
	return &Image{width: width, height: height, channels: channels, scale: scale, data: data}, nil
}

// NewImageLike returns a black image with the shape and scale of img.
func NewImageLike(img *Image) *Image {
	return &Image{
		width:    img.width,
		height:   img.height,
		channels: img.channels,
		scale:    img.scale,
		data:     make([]float64, len(img.data)),
	}
}

// Width in pixels.
func (i *Image) Width() int {
	return i.width
}

// Height in pixels.
func (i *Image) Height() int {
	return i.height
}

// Channels per pixel.
func (i *Image) Channels() int {
	return i.channels
}

// Scale is the value convention of the samples.
func (i *Image) Scale() Scale {
	return i.scale
}

// Bounds returns the image rectangle.
func (i *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// In reports whether (x, y) is a pixel of the image.
func (i *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

func (i *Image) k(x, y int) int {
	return (y*i.width + x) * i.channels
}

// At returns the sample of channel c at (x, y).
func (i *Image) At(x, y, c int) float64 {
	return i.data[i.k(x, y)+c]
}

// Set sets the sample of channel c at (x, y).
func (i *Image) Set(x, y, c int, v float64) {
	i.data[i.k(x, y)+c] = v
}

// Pixel returns the channel samples at (x, y). The slice aliases the image.
func (i *Image) Pixel(x, y int) []float64 {
	k := i.k(x, y)
	return i.data[k : k+i.channels]
}

// Data returns the backing samples.
func (i *Image) Data() []float64 {
	return i.data
}

// Clone returns a deep copy.
func (i *Image) Clone() *Image {
	ret := NewImageLike(i)
	copy(ret.data, i.data)
	return ret
}

// Bilinear interpolates the image at the sub-pixel location (x, y) into dst, which must hold
// Channels() values. Neighbours outside the image count as black, so locations more than one
// pixel outside the frame come back all zero. It returns false when no neighbour is inside.
func (i *Image) Bilinear(x, y float64, dst []float64) bool {
	for c := range dst {
		dst[c] = 0
	}
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	x0f, y0f := math.Floor(x), math.Floor(y)
	if x0f < -1 || y0f < -1 || x0f >= float64(i.width) || y0f >= float64(i.height) {
		return false
	}
	x0, y0 := int(x0f), int(y0f)
	dx, dy := x-x0f, y-y0f

	inside := false
	corners := [4]struct {
		x, y int
		w    float64
	}{
		{x0, y0, (1 - dx) * (1 - dy)},
		{x0 + 1, y0, dx * (1 - dy)},
		{x0, y0 + 1, (1 - dx) * dy},
		{x0 + 1, y0 + 1, dx * dy},
	}
	for _, cn := range corners {
		if !i.In(cn.x, cn.y) {
			continue
		}
		inside = true
		if cn.w == 0 {
			continue
		}
		k := i.k(cn.x, cn.y)
		for c := 0; c < i.channels; c++ {
			dst[c] += cn.w * i.data[k+c]
		}
	}
	return inside
}

// Nearest copies the pixel nearest to (x, y) into dst. Out of frame locations are black and
// return false.
func (i *Image) Nearest(x, y float64, dst []float64) bool {
	xi, yi := int(math.Round(x)), int(math.Round(y))
	if math.IsNaN(x) || math.IsNaN(y) || !i.In(xi, yi) {
		for c := range dst {
			dst[c] = 0
		}
		return false
	}
	copy(dst, i.Pixel(xi, yi))
	return true
}

// ToScale returns a copy of the image rescaled to the given value convention. Converting to or
// from ScaleLab goes through sRGB; one channel images are taken as gray.
func (i *Image) ToScale(scale Scale) *Image {
	switch {
	case scale == i.scale:
		return i.Clone()
	case i.scale == ScaleLab:
		return i.labToRGB().ToScale(scale)
	case scale == ScaleLab:
		return i.ToScale(ScaleUnit).rgbToLab()
	}
	ret := i.Clone()
	factor := scale.Max() / i.scale.Max()
	for k := range ret.data {
		ret.data[k] *= factor
	}
	ret.scale = scale
	return ret
}

// ConvertImage converts a decoded image into a [0, 255] Image. Gray images get one channel,
// everything else three (RGB); alpha is dropped.
func ConvertImage(img image.Image) *Image {
	b := img.Bounds()
	channels := 3
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		channels = 1
	}
	ret := &Image{
		width:    b.Dx(),
		height:   b.Dy(),
		channels: channels,
		scale:    ScaleUint8,
		data:     make([]float64, b.Dx()*b.Dy()*channels),
	}
	for y := 0; y < ret.height; y++ {
		for x := 0; x < ret.width; x++ {
			k := ret.k(x, y)
			c := img.At(b.Min.X+x, b.Min.Y+y)
			if channels == 1 {
				g := color.Gray16Model.Convert(c).(color.Gray16)
				ret.data[k] = float64(g.Y) / 257
				continue
			}
			r, g, bl, _ := c.RGBA()
			ret.data[k] = float64(r) / 257
			ret.data[k+1] = float64(g) / 257
			ret.data[k+2] = float64(bl) / 257
		}
	}
	return ret
}

// ToImage quantizes the image into an 8 bit image.Image for display or encoding. One channel
// becomes *image.Gray, three or more become *image.NRGBA using the first three channels.
func (i *Image) ToImage() image.Image {
	if i.scale == ScaleLab {
		return i.ToScale(ScaleUint8).ToImage()
	}
	toByte := func(v float64) uint8 {
		v = v * 255 / i.scale.Max()
		return uint8(math.Round(math.Max(0, math.Min(255, v))))
	}
	if i.channels < 3 {
		gray := image.NewGray(i.Bounds())
		for y := 0; y < i.height; y++ {
			for x := 0; x < i.width; x++ {
				gray.SetGray(x, y, color.Gray{Y: toByte(i.data[i.k(x, y)])})
			}
		}
		return gray
	}
	rgba := image.NewNRGBA(i.Bounds())
	for y := 0; y < i.height; y++ {
		for x := 0; x < i.width; x++ {
			k := i.k(x, y)
			rgba.SetNRGBA(x, y, color.NRGBA{R: toByte(i.data[k]), G: toByte(i.data[k+1]), B: toByte(i.data[k+2]), A: 255})
		}
	}
	return rgba
}
