package rimage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ReadImageFromFile decodes a png, jpeg, gif, bmp or tiff file into a [0, 255] Image.
func ReadImageFromFile(path string) (*Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		//nolint:gosec
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close() //nolint:errcheck
		img, err := tiff.Decode(f)
		if err != nil {
			return nil, errors.Wrapf(err, "tiff loading %q", path)
		}
		return ConvertImage(img), nil
	default:
		img, err := imaging.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %q", path)
		}
		return ConvertImage(img), nil
	}
}

// WriteImageToFile quantizes img to 8 bits and encodes it according to the file extension.
func WriteImageToFile(path string, img *Image) error {
	out := img.ToImage()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".tif", ".tiff", ".bmp":
		//nolint:gosec
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		return encodeAndClose(f, func(w io.Writer) error {
			if ext == ".bmp" {
				return bmp.Encode(w, out)
			}
			return tiff.Encode(w, out, &tiff.Options{Compression: tiff.Deflate})
		})
	default:
		return imaging.Save(out, path)
	}
}

// encodeAndClose runs encode on w and closes it, reporting both errors.
func encodeAndClose(w io.WriteCloser, encode func(io.Writer) error) (err error) {
	defer func() {
		err = multierr.Combine(err, w.Close())
	}()
	return encode(w)
}
