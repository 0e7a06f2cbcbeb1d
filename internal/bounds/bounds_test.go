package bounds

import (
	"testing"

	"github.com/FreemapSlovakia/freemap-tiler/internal/geo"
	"github.com/paulmach/orb"
)

func TestRectsHalveGoingUpTheTree(t *testing.T) {
	fp := Footprint{West: -10, South: -10, East: 10, North: 10}
	p := New(fp, 4, nil)

	top := p.Rect(4)
	if top.Empty() {
		t.Fatal("top rect should not be empty")
	}

	for z := 3; z >= 0; z-- {
		r := p.Rect(z)
		above := p.Rect(z + 1)
		if r.MinCol != above.MinCol/2 || r.MaxCol != above.MaxCol/2 {
			t.Errorf("z=%d: column range %v not derived from z=%d %v", z, r, z+1, above)
		}
	}

	root := p.Rect(0)
	if root.MinCol != 0 || root.MaxCol != 0 || root.MinRow != 0 || root.MaxRow != 0 {
		t.Fatalf("expected the whole footprint to collapse to the single root tile, got %+v", root)
	}
}

func TestIncludesRespectsRectangleWithNoPolygon(t *testing.T) {
	fp := Footprint{West: -10, South: -10, East: 10, North: 10}
	p := New(fp, 4, nil)

	r := p.Rect(4)
	in := geo.Tile{Z: 4, X: r.MinCol, Y: r.MinRow}
	if !p.Includes(in) {
		t.Errorf("expected %+v to be included", in)
	}

	out := geo.Tile{Z: 4, X: r.MaxCol + 1, Y: r.MinRow}
	if p.Includes(out) {
		t.Errorf("expected %+v (outside the rectangle) to be excluded", out)
	}
}

func TestIncludesNarrowsByPolygonBounds(t *testing.T) {
	fp := Footprint{West: -170, South: -80, East: 170, North: 80}
	// A small polygon confined to the eastern hemisphere only.
	poly := orb.Polygon{orb.Ring{
		{100, 10}, {110, 10}, {110, 20}, {100, 20}, {100, 10},
	}}
	p := New(fp, 6, orb.MultiPolygon{poly})

	west := geo.LonLatToTile(-150, 15, 6)
	if p.Includes(west) {
		t.Errorf("tile over the western hemisphere %+v should be excluded by the polygon", west)
	}

	east := geo.LonLatToTile(105, 15, 6)
	if !p.Includes(east) {
		t.Errorf("tile inside the polygon's bounds %+v should be included", east)
	}
}

func TestLoadPolygonAcceptsBarePolygonAndFeatureCollection(t *testing.T) {
	bare := []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`)
	mp, err := LoadPolygon(bare)
	if err != nil {
		t.Fatalf("LoadPolygon(bare polygon): %v", err)
	}
	if len(mp) != 1 {
		t.Fatalf("expected one polygon, got %d", len(mp))
	}

	fc := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[5,5],[6,5],[6,6],[5,6],[5,5]]]}}
	]}`)
	mp, err = LoadPolygon(fc)
	if err != nil {
		t.Fatalf("LoadPolygon(feature collection): %v", err)
	}
	if len(mp) != 2 {
		t.Fatalf("expected two polygons from the feature collection, got %d", len(mp))
	}
}
