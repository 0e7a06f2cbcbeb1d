// Package cache implements the in-memory tile cache from spec §4.5: a
// fingerprint-keyed map of decoded RGBA buffers awaiting their three
// Z-order siblings, closing a parent the moment all four (or fewer, at
// pyramid edges) children are accounted for.
package cache

import (
	"fmt"
	"sync"

	"github.com/FreemapSlovakia/freemap-tiler/internal/downsample"
	"github.com/FreemapSlovakia/freemap-tiler/internal/geo"
	"github.com/FreemapSlovakia/freemap-tiler/internal/source"
)

// InBoundsFunc reports whether a tile should ever be produced; tiles for
// which it returns false are treated as permanently, definitively empty
// (spec §4.5, §9 "Parent closure with missing siblings").
type InBoundsFunc func(geo.Tile) bool

// Ready is a parent tile whose four children have all been accounted
// for (present or definitively absent), handed to the caller alongside
// the children so it can schedule the downsample+encode+sink work.
type Ready struct {
	Tile geo.Tile
}

type entry struct {
	rgba     *source.RGBA // nil once released or if tile was never materialised (empty)
	present  [4]bool      // whether slot i has been resolved (present or out-of-bounds/transparent)
	children [4]*source.RGBA
}

// Cache is the shared, mutex-guarded sibling tracker. Its only job is
// bookkeeping: critical sections are short map operations, never pixel
// work or I/O (spec §5).
type Cache struct {
	mu        sync.Mutex
	inBounds  InBoundsFunc
	entries   map[geo.Tile]*entry
	tileSize  int
}

// New creates a Cache. inBounds must be consulted synchronously and
// cheaply; it is typically bounds.Planner.Includes.
func New(tileSize int, inBounds InBoundsFunc) *Cache {
	return &Cache{
		inBounds: inBounds,
		entries:  make(map[geo.Tile]*entry),
		tileSize: tileSize,
	}
}

// Insert delivers a freshly produced leaf (or any non-aggregate) tile
// into the cache. It is an InvariantViolation to insert the same
// fingerprint twice. If this completes the tile's parent's sibling set,
// the parent is returned ready for downsample+encode+sink and the four
// child buffers are released from the cache; Insert transfers ownership
// of rgba to the returned children (the caller must not reuse it).
func (c *Cache) Insert(tile geo.Tile, rgba *source.RGBA) (ready *Ready, children downsample.Children, ok bool, err error) {
	return c.accept(tile, rgba)
}

// AcceptParent delivers an aggregated (downsampled) tile into the cache
// at its own level, so that its own parent's completion can be tracked
// in turn. Semantically identical to Insert.
func (c *Cache) AcceptParent(tile geo.Tile, rgba *source.RGBA) (ready *Ready, children downsample.Children, ok bool, err error) {
	return c.accept(tile, rgba)
}

func (c *Cache) accept(tile geo.Tile, rgba *source.RGBA) (*Ready, downsample.Children, bool, error) {
	parent := tile.Parent()
	if tile.Z == 0 {
		// The root tile has no parent to bubble up to; the caller is
		// responsible for recognising Z==0 and sinking it directly.
		return nil, downsample.Children{}, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryFor(parent)
	idx := tile.ChildIndex()
	if e.present[idx] {
		return nil, downsample.Children{}, false, &InvariantViolation{
			Tile: tile, Reason: "duplicate delivery of child into parent's sibling set",
		}
	}
	e.present[idx] = true
	e.children[idx] = rgba

	c.markOutOfBoundsSiblings(parent, e)

	if !allPresent(e.present) {
		return nil, downsample.Children{}, false, nil
	}

	children := e.children
	delete(c.entries, parent)

	return &Ready{Tile: parent}, children, true, nil
}

// MarkEmpty tells the cache that a child tile is fully transparent (and
// so was never materialised as a buffer); it still counts toward its
// parent's sibling-completion set (spec §4.5).
func (c *Cache) MarkEmpty(tile geo.Tile) (*Ready, downsample.Children, bool, error) {
	return c.accept(tile, nil)
}

func (c *Cache) entryFor(parent geo.Tile) *entry {
	e, ok := c.entries[parent]
	if !ok {
		e = &entry{}
		c.entries[parent] = e
		c.markOutOfBoundsSiblings(parent, e)
	}
	return e
}

// markOutOfBoundsSiblings marks as "present, empty" any of the parent's
// four children that the bounds planner says can never exist (pyramid
// edges), without allocating a buffer for them.
func (c *Cache) markOutOfBoundsSiblings(parent geo.Tile, e *entry) {
	if c.inBounds == nil {
		return
	}
	for _, child := range parent.Children() {
		idx := child.ChildIndex()
		if e.present[idx] {
			continue
		}
		if !c.inBounds(child) {
			e.present[idx] = true
			e.children[idx] = nil
		}
	}
}

func allPresent(present [4]bool) bool {
	for _, p := range present {
		if !p {
			return false
		}
	}
	return true
}

// Len reports the number of parent entries currently awaiting
// completion, for the memory-bound invariant in spec §8 item 3.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// InvariantViolation signals a bug: unexpected cache state such as a
// duplicate fingerprint delivery (spec §7).
type InvariantViolation struct {
	Tile   geo.Tile
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("cache: invariant violation at %v: %s", e.Tile, e.Reason)
}
