// Package scheduler implements spec §4.3: a Z-order (Morton) traversal
// of warp anchors driving a bounded worker pool, with backpressure, error
// propagation, shutdown, and resume, grounded on the teacher's task.go
// worker-pool-over-channels pattern and bodgit-megasd's context-
// cancelled fan-out.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/FreemapSlovakia/freemap-tiler/internal/bounds"
	"github.com/FreemapSlovakia/freemap-tiler/internal/cache"
	"github.com/FreemapSlovakia/freemap-tiler/internal/downsample"
	"github.com/FreemapSlovakia/freemap-tiler/internal/encode"
	"github.com/FreemapSlovakia/freemap-tiler/internal/geo"
	"github.com/FreemapSlovakia/freemap-tiler/internal/progress"
	"github.com/FreemapSlovakia/freemap-tiler/internal/resume"
	"github.com/FreemapSlovakia/freemap-tiler/internal/sink"
	"github.com/FreemapSlovakia/freemap-tiler/internal/source"
)

// Options configures a run.
type Options struct {
	MaxZoom        int
	WarpZoomOffset int
	TileSize       int
	JPEGQuality    int
	NumWorkers     int
	SinkBatchSize  int
	ShowProgress   bool
	// Resume, when set, also writes an empty sink record for every
	// elided (fully-transparent) tile, so a later --resume run's
	// anchor-completeness scan sees every leaf as already decided and
	// never has to redo an anchor just because some of its leaves were
	// transparent.
	Resume bool
}

// Scheduler owns the anchor traversal, worker pool, cache, and sink
// wiring for one run.
type Scheduler struct {
	opts     Options
	src      source.Adapter
	planner  *bounds.Planner
	cache    *cache.Cache
	sink     *sink.Sink
	resumeC  *resume.Cache
	progress *progress.Reporter

	anchorZ int
	k       int

	sinkCh chan sink.Record

	mu        sync.Mutex
	firstErr  error
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// New builds a Scheduler. planner and cache must already be wired to
// the same bounds.Planner.Includes predicate.
func New(opts Options, src source.Adapter, planner *bounds.Planner, c *cache.Cache, sk *sink.Sink, resumeC *resume.Cache) *Scheduler {
	return &Scheduler{
		opts:    opts,
		src:     src,
		planner: planner,
		cache:   c,
		sink:    sk,
		resumeC: resumeC,
		anchorZ: opts.MaxZoom - opts.WarpZoomOffset,
		k:       opts.WarpZoomOffset,
		sinkCh:  make(chan sink.Record, opts.SinkBatchSize*2),
	}
}

// anchors returns every in-bounds anchor tile, Morton-ordered, so that
// the four anchor children of any ancestor are contiguous in the
// sequence (spec §4.3 step 1).
func (s *Scheduler) anchors() []geo.Tile {
	rect := s.planner.Rect(s.anchorZ)
	var list []geo.Tile
	for x := rect.MinCol; x <= rect.MaxCol; x++ {
		for y := rect.MinRow; y <= rect.MaxRow; y++ {
			t := geo.Tile{Z: s.anchorZ, X: x, Y: y}
			if s.planner.Includes(t) {
				list = append(list, t)
			}
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return geo.MortonOf(list[i]) < geo.MortonOf(list[j])
	})
	return list
}

// Run drives the whole pipeline to completion or the first fatal error.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel

	anchorList := s.anchors()
	if s.opts.ShowProgress {
		s.progress = progress.New(len(anchorList))
	}

	anchorCh := make(chan geo.Tile, 2*s.opts.NumWorkers)

	var sinkWG sync.WaitGroup
	sinkWG.Add(1)
	go s.runSink(ctx, &sinkWG)

	var workerWG sync.WaitGroup
	for i := 0; i < s.opts.NumWorkers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for anchor := range anchorCh {
				if s.failed() {
					continue
				}
				if err := s.processAnchor(ctx, anchor); err != nil {
					s.fail(err)
				}
				if s.progress != nil {
					s.progress.AnchorDone()
				}
			}
		}()
	}

	// Single dedicated producer, emitting anchors in Morton order
	// (spec §5: "a single dedicated scheduler thread produces anchor
	// tasks in Morton order").
	for _, anchor := range anchorList {
		if s.failed() {
			break
		}
		if s.skipResumed(anchor) {
			if s.progress != nil {
				s.progress.AnchorDone()
			}
			continue
		}
		select {
		case anchorCh <- anchor:
		case <-ctx.Done():
		}
	}
	close(anchorCh)
	workerWG.Wait()

	close(s.sinkCh)
	sinkWG.Wait()

	if s.progress != nil {
		s.progress.Finish()
	}

	return s.err()
}

func (s *Scheduler) skipResumed(anchor geo.Tile) bool {
	if complete, known := s.resumeC.IsComplete(anchor.Z, anchor.X, anchor.Y); known {
		return complete
	}
	complete, err := s.sink.AnchorComplete(anchor.Z, anchor.X, anchor.Y, s.k)
	if err != nil {
		log.WithError(err).Warn("scheduler: resume scan failed, anchor will be redone")
		return false
	}
	return complete
}

func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	s.cancelled.Store(true)
	s.cancel()
}

func (s *Scheduler) failed() bool { return s.cancelled.Load() }

func (s *Scheduler) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// processAnchor warps one anchor region, slices it into 4^k leaf tiles,
// and delivers each non-fully-transparent leaf into the cache, handling
// any completions that bubble up (spec §4.3 step 2-4).
func (s *Scheduler) processAnchor(ctx context.Context, anchor geo.Tile) error {
	buf, err := s.warpWithRetry(ctx, anchor)
	if err != nil {
		return err
	}

	side := 1 << uint(s.k)
	for ty := 0; ty < side; ty++ {
		for tx := 0; tx < side; tx++ {
			leaf := geo.Tile{Z: s.opts.MaxZoom, X: anchor.X*side + tx, Y: anchor.Y*side + ty}
			if !s.planner.Includes(leaf) {
				continue // out-of-bounds leaves are tracked by the cache itself
			}

			sub := buf.SubTile(tx*s.opts.TileSize, ty*s.opts.TileSize, s.opts.TileSize)

			if sub.FullyTransparent() {
				if err := s.markEmptyAndBubble(ctx, leaf); err != nil {
					return err
				}
				continue
			}

			// Unlike an aggregate parent, a leaf is itself a final
			// product of this run (spec §1: every zoom up to and
			// including maxZoom is emitted) — sink it in addition to
			// handing it to the cache for downsampling, mirroring
			// processor.rs's data_tx.send + buffer_cache.insert pair.
			if err := s.encodeAndSink(ctx, leaf, sub); err != nil {
				return err
			}
			ready, children, ok, cerr := s.cache.Insert(leaf, sub)
			if cerr != nil {
				return cerr
			}
			if ok {
				if err := s.handleReady(ctx, ready, children); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Scheduler) warpWithRetry(ctx context.Context, anchor geo.Tile) (*source.RGBA, error) {
	buf, err := s.src.Warp(ctx, anchor.Z, anchor.X, anchor.Y, s.k)
	if err == nil {
		return buf, nil
	}
	log.WithError(err).WithField("anchor", anchor).Warn("scheduler: warp failed, retrying once")
	buf, err = s.src.Warp(ctx, anchor.Z, anchor.X, anchor.Y, s.k)
	if err != nil {
		return nil, &source.ReadError{AnchorZ: anchor.Z, AnchorX: anchor.X, AnchorY: anchor.Y, Err: err}
	}
	return buf, nil
}

// handleReady downsamples a completed set of four (or fewer) children
// into their parent, encodes and sinks it unless fully transparent (a
// transparent parent is marked empty instead), and recurses up the pyramid
// for as long as each delivery completes its parent's sibling set, up to
// the root (spec §4.3 step 3-5, §4.4).
func (s *Scheduler) handleReady(ctx context.Context, ready *cache.Ready, children downsample.Children) error {
	parent := downsample.Combine(children, s.opts.TileSize)

	if parent.FullyTransparent() {
		return s.markEmptyAndBubble(ctx, ready.Tile)
	}

	if err := s.encodeAndSink(ctx, ready.Tile, parent); err != nil {
		return err
	}

	if ready.Tile.Z == 0 {
		return nil
	}

	nextReady, nextChildren, ok, err := s.cache.AcceptParent(ready.Tile, parent)
	if err != nil {
		return err
	}
	if ok {
		return s.handleReady(ctx, nextReady, nextChildren)
	}
	return nil
}

// markEmptyAndBubble records tile as elided (transparent), optionally
// sinking an empty record for it so --resume can see it as already
// decided (processor.rs's insert_empty, gated the same way: on the
// resume flag, not on whether the Redis accelerator is reachable), then
// marks it empty in the cache and bubbles any resulting completion.
func (s *Scheduler) markEmptyAndBubble(ctx context.Context, tile geo.Tile) error {
	if s.opts.Resume {
		if err := s.sinkEmpty(ctx, tile); err != nil {
			return err
		}
	}
	if tile.Z == 0 {
		return nil
	}
	ready, children, ok, err := s.cache.MarkEmpty(tile)
	if err != nil {
		return err
	}
	if ok {
		return s.handleReady(ctx, ready, children)
	}
	return nil
}

// sinkEmpty writes a tombstone record (no JPEG/alpha payload) for an
// elided tile so a future resume scan counts it as already persisted.
func (s *Scheduler) sinkEmpty(ctx context.Context, tile geo.Tile) error {
	rec := sink.Record{Tile: tile}
	select {
	case s.sinkCh <- rec:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: shutdown while enqueueing empty marker for tile %v to sink: %w", tile, ctx.Err())
	}
}

func (s *Scheduler) encodeAndSink(ctx context.Context, tile geo.Tile, rgba *source.RGBA) error {
	jpegBytes, err := encode.RGBJPEG(rgba, s.opts.JPEGQuality)
	if err != nil {
		return err
	}
	alphaBytes, err := encode.AlphaZSTD(rgba)
	if err != nil {
		return err
	}

	rec := sink.Record{Tile: tile, JPEG: jpegBytes, ZSTDAlpha: alphaBytes}
	select {
	case s.sinkCh <- rec:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: shutdown while enqueueing tile %v to sink: %w", tile, ctx.Err())
	}
}

// runSink drains the sink channel, batching commits of opts.SinkBatchSize
// as the teacher's savePipe does, and marking anchor completion hints
// for the resume cache (spec §5: "the sink runs on its own thread").
func (s *Scheduler) runSink(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	batch := make([]sink.Record, 0, s.opts.SinkBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.sink.PutBatch(batch); err != nil {
			s.fail(err)
		} else {
			if s.progress != nil {
				s.progress.TilesCommitted(len(batch))
			}
			for _, rec := range batch {
				s.markAnchorIfComplete(rec.Tile)
			}
		}
		batch = batch[:0]
	}

	for rec := range s.sinkCh {
		batch = append(batch, rec)
		if len(batch) >= s.opts.SinkBatchSize {
			flush()
		}
	}
	flush()
}

// markAnchorIfComplete updates the resume-cache hint once a leaf (max-zoom)
// tile is persisted and its whole anchor turns out complete.
func (s *Scheduler) markAnchorIfComplete(tile geo.Tile) {
	if s.resumeC == nil || tile.Z != s.opts.MaxZoom {
		return
	}
	side := 1 << uint(s.k)
	anchorX, anchorY := tile.X/side, tile.Y/side
	anchor := geo.Tile{Z: s.anchorZ, X: anchorX, Y: anchorY}
	complete, err := s.sink.AnchorComplete(anchor.Z, anchor.X, anchor.Y, s.k)
	if err == nil && complete {
		s.resumeC.MarkComplete(anchor.Z, anchor.X, anchor.Y)
	}
}
