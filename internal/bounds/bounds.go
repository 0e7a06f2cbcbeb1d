// Package bounds computes, for every zoom level up to the configured
// maximum, the rectangle of tiles that intersect a source footprint,
// optionally tightened by a bounding polygon.
package bounds

import (
	"github.com/FreemapSlovakia/freemap-tiler/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Rect is the rectangular (min_col, max_col, min_row, max_row) of tiles
// in bounds at a single zoom level, inclusive on both ends.
type Rect struct {
	MinCol, MaxCol int
	MinRow, MaxRow int
}

// Empty reports whether the rectangle contains no tiles.
func (r Rect) Empty() bool {
	return r.MinCol > r.MaxCol || r.MinRow > r.MaxRow
}

// Contains reports whether (x, y) falls inside the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.MinCol && x <= r.MaxCol && y >= r.MinRow && y <= r.MaxRow
}

// Footprint is the WGS84 bounding box of the source raster, as reported
// by the source adapter after its own SRS-to-WGS84 transform.
type Footprint struct {
	West, South, East, North float64
}

// Planner holds the per-zoom rectangles for a run, plus the optional
// clipping polygon used to refine leaf-tile inclusion within a rectangle.
type Planner struct {
	maxZoom int
	rects   map[int]Rect
	polygon orb.MultiPolygon
}

// New builds a Planner for zoom levels 0..maxZoom from the given source
// footprint, optionally clipped by a GeoJSON polygon/multipolygon/feature
// collection in the same (WGS84) coordinates.
func New(footprint Footprint, maxZoom int, polygon orb.MultiPolygon) *Planner {
	p := &Planner{
		maxZoom: maxZoom,
		rects:   make(map[int]Rect, maxZoom+1),
		polygon: polygon,
	}

	nw := geo.LonLatToTile(footprint.West, footprint.North, maxZoom)
	se := geo.LonLatToTile(footprint.East, footprint.South, maxZoom)

	top := Rect{
		MinCol: min(nw.X, se.X), MaxCol: max(nw.X, se.X),
		MinRow: min(nw.Y, se.Y), MaxRow: max(nw.Y, se.Y),
	}
	p.rects[maxZoom] = top

	for z := maxZoom - 1; z >= 0; z-- {
		prev := p.rects[z+1]
		p.rects[z] = Rect{
			MinCol: prev.MinCol / 2, MaxCol: prev.MaxCol / 2,
			MinRow: prev.MinRow / 2, MaxRow: prev.MaxRow / 2,
		}
	}

	return p
}

// LoadPolygon parses a GeoJSON file's contents (a Polygon, MultiPolygon,
// Feature, or FeatureCollection) into the MultiPolygon that New expects.
func LoadPolygon(data []byte) (orb.MultiPolygon, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil && len(fc.Features) > 0 {
		return collectPolygons(fc)
	}

	if f, ferr := geojson.UnmarshalFeature(data); ferr == nil && f.Geometry != nil {
		return asMultiPolygon(f.Geometry), nil
	}

	geom, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	return asMultiPolygon(geom.Geometry()), nil
}

func collectPolygons(fc *geojson.FeatureCollection) (orb.MultiPolygon, error) {
	var mp orb.MultiPolygon
	for _, f := range fc.Features {
		mp = append(mp, asMultiPolygon(f.Geometry)...)
	}
	return mp, nil
}

func asMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch t := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{t}
	case orb.MultiPolygon:
		return t
	case orb.Collection:
		var mp orb.MultiPolygon
		for _, sub := range t {
			mp = append(mp, asMultiPolygon(sub)...)
		}
		return mp
	default:
		return nil
	}
}

// MaxZoom returns the highest zoom level the planner covers.
func (p *Planner) MaxZoom() int {
	return p.maxZoom
}

// Rect returns the tile rectangle in bounds at zoom z.
func (p *Planner) Rect(z int) Rect {
	return p.rects[z]
}

// AllRects returns the full z -> Rect mapping, for emission as MBTiles
// `limits` metadata.
func (p *Planner) AllRects() map[int]Rect {
	return p.rects
}

// Includes reports whether tile t should be produced: it must fall
// inside its zoom's rectangle and, if a clipping polygon was given,
// its geographic extent must intersect the bounding box of at least one
// of the polygons. The polygon rings themselves are not tested, so a tile
// that touches a polygon's bounding box but not the polygon is included.
func (p *Planner) Includes(t geo.Tile) bool {
	r := p.rects[t.Z]
	if !r.Contains(t.X, t.Y) {
		return false
	}
	if len(p.polygon) == 0 {
		return true
	}
	west, south, east, north := geo.TileLonLatBounds(t)
	tileBound := orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
	for _, poly := range p.polygon {
		if poly.Bound().Intersects(tileBound) {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
