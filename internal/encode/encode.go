// Package encode implements the tile codecs from spec §4.6: RGB as
// baseline JPEG, alpha plane as ZSTD.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/klauspost/compress/zstd"

	"github.com/FreemapSlovakia/freemap-tiler/internal/source"
)

// Error is EncodeError from spec §7: a JPEG or ZSTD failure. It is
// always fatal — it indicates bad input or a bug, never a transient
// condition worth retrying.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("encode: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// RGBJPEG drops the alpha channel and compresses the RGB planes as
// baseline JPEG at the given quality (1-100).
func RGBJPEG(buf *source.RGBA, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, buf.Size, buf.Size))
	for y := 0; y < buf.Size; y++ {
		for x := 0; x < buf.Size; x++ {
			r, g, b, _ := buf.At(x, y)
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 255
		}
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &Error{Op: "jpeg", Err: err}
	}
	return out.Bytes(), nil
}

// AlphaZSTD extracts the alpha plane (S*S bytes) and compresses it with
// ZSTD at a fixed level.
func AlphaZSTD(buf *source.RGBA) ([]byte, error) {
	plane := make([]byte, buf.Size*buf.Size)
	for i := 0; i < buf.Size*buf.Size; i++ {
		plane[i] = buf.Pix[i*4+3]
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, &Error{Op: "zstd-new", Err: err}
	}
	defer enc.Close()

	return enc.EncodeAll(plane, make([]byte, 0, len(plane)/2)), nil
}

// DecodeAlphaZSTD reverses AlphaZSTD, used by tests to verify the
// round-trip invariant in spec §8 item 6.
func DecodeAlphaZSTD(data []byte, tileSize int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, &Error{Op: "zstd-new", Err: err}
	}
	defer dec.Close()

	plane, err := dec.DecodeAll(data, make([]byte, 0, tileSize*tileSize))
	if err != nil {
		return nil, &Error{Op: "zstd-decode", Err: err}
	}
	return plane, nil
}
