package cache

import (
	"testing"

	"github.com/FreemapSlovakia/freemap-tiler/internal/geo"
	"github.com/FreemapSlovakia/freemap-tiler/internal/source"
)

func allIn(geo.Tile) bool { return true }

func TestCompletesOnFourthSibling(t *testing.T) {
	c := New(4, allIn)
	parent := geo.Tile{Z: 1, X: 0, Y: 0}
	children := parent.Children()

	for i := 0; i < 3; i++ {
		ready, _, ok, err := c.Insert(children[i], source.NewRGBA(4))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if ok {
			t.Fatalf("unexpected completion after %d siblings", i+1)
		}
		if ready != nil {
			t.Fatalf("unexpected ready tile")
		}
	}

	ready, kids, ok, err := c.Insert(children[3], source.NewRGBA(4))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !ok || ready == nil {
		t.Fatalf("expected completion on fourth sibling")
	}
	if ready.Tile != parent {
		t.Fatalf("ready tile = %v, want %v", ready.Tile, parent)
	}
	for i, k := range kids {
		if k == nil {
			t.Fatalf("child %d missing from completed set", i)
		}
	}

	if c.Len() != 0 {
		t.Fatalf("cache should have released the parent entry, Len() = %d", c.Len())
	}
}

func TestDuplicateInsertIsInvariantViolation(t *testing.T) {
	c := New(4, allIn)
	parent := geo.Tile{Z: 1, X: 0, Y: 0}
	child := parent.Children()[0]

	if _, _, _, err := c.Insert(child, source.NewRGBA(4)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, _, _, err := c.Insert(child, source.NewRGBA(4))
	if err == nil {
		t.Fatalf("expected InvariantViolation on duplicate insert")
	}
	var iv *InvariantViolation
	if !asInvariantViolation(err, &iv) {
		t.Fatalf("expected *InvariantViolation, got %T: %v", err, err)
	}
}

func asInvariantViolation(err error, target **InvariantViolation) bool {
	if iv, ok := err.(*InvariantViolation); ok {
		*target = iv
		return true
	}
	return false
}

// TestOutOfBoundsSiblingsCountTowardCompletion matches spec §9: a pyramid
// edge where only one of four children is in bounds still closes with a
// single real Insert.
func TestOutOfBoundsSiblingsCountTowardCompletion(t *testing.T) {
	parent := geo.Tile{Z: 1, X: 0, Y: 0}
	children := parent.Children()
	onlyFirst := func(t geo.Tile) bool { return t == children[0] }

	c := New(4, onlyFirst)
	ready, kids, ok, err := c.Insert(children[0], source.NewRGBA(4))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !ok || ready == nil {
		t.Fatalf("expected immediate completion with three out-of-bounds siblings")
	}
	if kids[0] == nil {
		t.Fatalf("the one real child should be present")
	}
	for i := 1; i < 4; i++ {
		if kids[i] != nil {
			t.Fatalf("out-of-bounds sibling %d should be nil, not a buffer", i)
		}
	}
}

func TestMarkEmptyCountsTowardCompletion(t *testing.T) {
	c := New(4, allIn)
	parent := geo.Tile{Z: 1, X: 0, Y: 0}
	children := parent.Children()

	for i := 0; i < 3; i++ {
		if _, _, ok, err := c.MarkEmpty(children[i]); err != nil || ok {
			t.Fatalf("MarkEmpty(%d): ok=%v err=%v", i, ok, err)
		}
	}
	ready, kids, ok, err := c.Insert(children[3], source.NewRGBA(4))
	if err != nil || !ok || ready == nil {
		t.Fatalf("expected completion: ok=%v err=%v ready=%v", ok, err, ready)
	}
	for i := 0; i < 3; i++ {
		if kids[i] != nil {
			t.Fatalf("child %d marked empty should stay nil", i)
		}
	}
	if kids[3] == nil {
		t.Fatalf("child 3 should be the real buffer")
	}
}
