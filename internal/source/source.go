// Package source defines the boundary to the native raster/reprojection
// library. Reading and reprojecting pixels is explicitly out of scope for
// this repository (spec §1); this package only specifies the interface a
// concrete adapter must satisfy, plus a synthetic adapter for tests.
package source

import (
	"context"
	"errors"
	"fmt"
)

// RGBA is a square RGBA pixel buffer, row-major, 4 bytes per pixel,
// matching spec §3's tile buffer layout: S × S for a single tile, or
// S·2^k × S·2^k for a warped anchor region.
type RGBA struct {
	Size int // side length in pixels
	Pix  []byte
}

// NewRGBA allocates a zeroed buffer of the given side length.
func NewRGBA(size int) *RGBA {
	return &RGBA{Size: size, Pix: make([]byte, size*size*4)}
}

// At returns the pixel (r,g,b,a) at (x,y).
func (b *RGBA) At(x, y int) (r, g, ba, a uint8) {
	i := (y*b.Size + x) * 4
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]
}

// Set writes the pixel at (x,y).
func (b *RGBA) Set(x, y int, r, g, ba, a uint8) {
	i := (y*b.Size + x) * 4
	b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3] = r, g, ba, a
}

// SubTile copies out a size×size square from the buffer at pixel offset
// (ox, oy), used to slice a warped anchor region into its 4^k leaf
// tiles (spec §4.2, §4.3).
func (b *RGBA) SubTile(ox, oy, size int) *RGBA {
	out := NewRGBA(size)
	for y := 0; y < size; y++ {
		srcStart := ((oy+y)*b.Size + ox) * 4
		dstStart := y * size * 4
		copy(out.Pix[dstStart:dstStart+size*4], b.Pix[srcStart:srcStart+size*4])
	}
	return out
}

// FullyTransparent reports whether every pixel in the buffer has alpha 0.
func (b *RGBA) FullyTransparent() bool {
	for i := 3; i < len(b.Pix); i += 4 {
		if b.Pix[i] != 0 {
			return false
		}
	}
	return true
}

// ReadError is SourceReadError from spec §7: an I/O or reprojection
// failure while warping a region. The scheduler retries once before
// treating it as fatal.
type ReadError struct {
	AnchorZ, AnchorX, AnchorY int
	Err                       error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("source: warp anchor z=%d x=%d y=%d: %v", e.AnchorZ, e.AnchorX, e.AnchorY, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ErrOutOfFootprint is returned by Adapter implementations (or simply
// never returned — an out-of-footprint warp is valid and alpha=0, not an
// error) to document the contract in spec §4.2: pixels outside the
// source footprint or outside a bounding polygon must have alpha 0, never
// an error.
var ErrOutOfFootprint = errors.New("source: anchor outside footprint")

// Adapter is the contract a native raster/reprojection library binding
// must satisfy. One Warp call amortises the native library's per-call
// setup cost by returning an entire anchor's worth of pixels at once
// (spec §4.2): a square region of (tileSize * 2^k) pixels on a side,
// where k is the configured warp-zoom-offset and anchorZ = maxZoom - k.
type Adapter interface {
	// Warp reprojects and reads the pixel region covered by the tile
	// (anchorZ, anchorX, anchorY) at warp-zoom-offset k, returning a
	// buffer of side tileSize*2^k pixels. Pixels outside the source
	// footprint or bounding polygon have alpha 0; their RGB is
	// unspecified.
	Warp(ctx context.Context, anchorZ, anchorX, anchorY, k int) (*RGBA, error)

	// FootprintLonLat returns the WGS84 bounding box of the source
	// raster, computed once from its geotransform and SRS, for the
	// bounds planner.
	FootprintLonLat() (west, south, east, north float64, err error)
}
