// Package downsample implements the alpha-weighted 2x2 box average that
// turns four child tiles into one parent tile (spec §4.4).
package downsample

import "github.com/FreemapSlovakia/freemap-tiler/internal/source"

// Children are the four child buffers in NW, NE, SW, SE order, matching
// geo.Tile.ChildIndex. A nil entry means that child is out of bounds or
// was fully transparent; it is treated as fully transparent (alpha 0).
type Children [4]*source.RGBA

// Combine produces one parent RGBA tile of side tileSize. Each parent
// pixel falls in exactly one child's quadrant (NW covers the parent's
// top-left quarter, and so on); within that quadrant it averages the 2x2
// block of child pixels at (2u,2v),(2u+1,2v),(2u,2v+1),(2u+1,2v+1),
// weighting colour by alpha so transparent neighbours don't tint the
// result (spec §4.4).
func Combine(children Children, tileSize int) *source.RGBA {
	parent := source.NewRGBA(tileSize)
	half := tileSize / 2

	for v := 0; v < tileSize; v++ {
		qy, lv := 0, v
		if v >= half {
			qy, lv = 1, v-half
		}
		for u := 0; u < tileSize; u++ {
			qx, lu := 0, u
			if u >= half {
				qx, lu = 1, u-half
			}

			child := children[qx+qy*2]
			if child == nil {
				parent.Set(u, v, 0, 0, 0, 0)
				continue
			}

			cx, cy := 2*lu, 2*lv
			var sumA, sumR, sumG, sumB uint32
			for _, off := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
				r, g, b, a := child.At(cx+off[0], cy+off[1])
				sumA += uint32(a)
				sumR += uint32(r) * uint32(a)
				sumG += uint32(g) * uint32(a)
				sumB += uint32(b) * uint32(a)
			}

			if sumA == 0 {
				parent.Set(u, v, 0, 0, 0, 0)
				continue
			}
			parent.Set(u, v, uint8(round(sumR, sumA)), uint8(round(sumG, sumA)), uint8(round(sumB, sumA)), uint8(round(sumA, 4)))
		}
	}

	return parent
}

func round(sum, denom uint32) uint32 {
	if denom == 0 {
		return 0
	}
	return (sum + denom/2) / denom
}
