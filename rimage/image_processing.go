package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// via8Bit runs op on the 8 bit rendering of the image and brings the result back to the image's
// scale and channel count. Samples are quantized to 256 levels on the way.
func (i *Image) via8Bit(op func(image.Image) *image.NRGBA) *Image {
	out := ConvertImage(op(i.ToImage()))
	if i.channels == 1 {
		out = out.firstChannel()
	}
	return out.ToScale(i.scale)
}

func (i *Image) firstChannel() *Image {
	return &Image{width: i.width, height: i.height, channels: 1, scale: i.scale, data: i.channel(0)}
}

// Grayscale returns a one channel luminance image. ScaleLab images come back as ScaleUnit.
func (i *Image) Grayscale() *Image {
	if i.channels == 1 {
		return i.Clone()
	}
	gray := ConvertImage(imaging.Grayscale(i.ToImage())).firstChannel()
	if i.scale == ScaleLab {
		return gray.ToScale(ScaleUnit)
	}
	return gray.ToScale(i.scale)
}

// Resize resamples the image to width x height with a linear filter. One of the sizes may be 0 to
// keep the aspect ratio.
func (i *Image) Resize(width, height int) (*Image, error) {
	if width < 0 || height < 0 || (width == 0 && height == 0) {
		return nil, errors.Errorf("invalid resize to (%d, %d)", width, height)
	}
	return i.via8Bit(func(img image.Image) *image.NRGBA {
		return imaging.Resize(img, width, height, imaging.Linear)
	}), nil
}

// Rotate turns the image counter-clockwise by degrees about its centre, keeping the frame size.
// Uncovered pixels are black.
func (i *Image) Rotate(degrees float64) *Image {
	return i.via8Bit(func(img image.Image) *image.NRGBA {
		rotated := imaging.CropCenter(imaging.Rotate(img, degrees, color.Black), i.width, i.height)
		return imaging.PasteCenter(imaging.New(i.width, i.height, color.Black), rotated)
	})
}
