package source

import "context"

// Synthetic is an in-memory Adapter used by tests and by tools that
// exercise the pipeline without a native raster library. It answers
// every Warp call from a sparse map of leaf-tile colours set with
// SetLeaf; any leaf not present is fully transparent.
type Synthetic struct {
	TileSize int
	MaxZoom  int
	// Leaves maps a leaf tile (z == MaxZoom) "x,y" key to an RGBA colour.
	// Tiles absent from the map are fully transparent.
	Leaves map[[2]int][4]uint8

	West, South, East, North float64
}

// NewSynthetic returns a Synthetic adapter covering the whole world by
// default; override West/South/East/North for a tighter footprint.
func NewSynthetic(tileSize, maxZoom int) *Synthetic {
	return &Synthetic{
		TileSize: tileSize,
		MaxZoom:  maxZoom,
		Leaves:   make(map[[2]int][4]uint8),
		West:     -180, South: -85.0511287798066, East: 180, North: 85.0511287798066,
	}
}

// SetLeaf assigns a solid colour to a leaf tile.
func (s *Synthetic) SetLeaf(x, y int, r, g, b, a uint8) {
	s.Leaves[[2]int{x, y}] = [4]uint8{r, g, b, a}
}

func (s *Synthetic) FootprintLonLat() (west, south, east, north float64, err error) {
	return s.West, s.South, s.East, s.North, nil
}

// Warp synthesises a (tileSize*2^k) square by tiling in the colour of
// each covered leaf, matching the real adapter's contract: out-of-
// footprint (here, unset) leaves are fully transparent.
func (s *Synthetic) Warp(ctx context.Context, anchorZ, anchorX, anchorY, k int) (*RGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	side := 1 << uint(k)
	buf := NewRGBA(s.TileSize * side)

	for ty := 0; ty < side; ty++ {
		for tx := 0; tx < side; tx++ {
			leafX := anchorX*side + tx
			leafY := anchorY*side + ty
			colour, ok := s.Leaves[[2]int{leafX, leafY}]
			if !ok {
				continue // fully transparent by default
			}
			ox, oy := tx*s.TileSize, ty*s.TileSize
			for y := 0; y < s.TileSize; y++ {
				for x := 0; x < s.TileSize; x++ {
					buf.Set(ox+x, oy+y, colour[0], colour[1], colour[2], colour[3])
				}
			}
		}
	}

	return buf, nil
}
