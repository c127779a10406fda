package rimage

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

type closeRecorder struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.closeErr
}

func TestEncodeAndClose(t *testing.T) {
	w := &closeRecorder{}
	err := encodeAndClose(w, func(out io.Writer) error {
		_, err := out.Write([]byte("pixels"))
		return err
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.closed, test.ShouldBeTrue)
	test.That(t, w.String(), test.ShouldEqual, "pixels")

	// a failed flush on close is reported
	w = &closeRecorder{closeErr: errors.New("disk full")}
	err = encodeAndClose(w, func(io.Writer) error { return nil })
	test.That(t, err, test.ShouldBeError, errors.New("disk full"))

	// both the encode and the close failure are kept
	w = &closeRecorder{closeErr: errors.New("disk full")}
	err = encodeAndClose(w, func(io.Writer) error { return errors.New("bad pixel") })
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad pixel")
	test.That(t, err.Error(), test.ShouldContainSubstring, "disk full")
	test.That(t, w.closed, test.ShouldBeTrue)
}
