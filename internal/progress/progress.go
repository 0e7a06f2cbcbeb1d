// Package progress reports processed-anchor and sink-commit counts via
// cheggaaa/pb, the same progress-bar library the teacher uses.
package progress

import (
	"github.com/cheggaaa/pb/v3"
)

// Reporter drives two bars: one for anchors processed by workers (or
// skipped on resume), one for tiles committed to the sink (spec §7 "User-visible behaviour").
type Reporter struct {
	anchors *pb.ProgressBar
	commits *pb.ProgressBar
}

// New creates a Reporter for a run with the given total anchor count.
// The commit bar is indeterminate (total unknown ahead of time, since
// transparent tiles are elided) and simply counts up.
func New(totalAnchors int) *Reporter {
	anchors := pb.New(totalAnchors)
	anchors.Set(pb.SIBytesPrefix, false)
	anchors.SetTemplateString(`{{ string . "prefix" }}{{ counters . }} anchors {{ bar . }} {{ percent . }}`)
	anchors.Set("prefix", "warp  ")
	anchors.Start()

	commits := pb.New(0)
	commits.SetTemplateString(`{{ string . "prefix" }}{{ counters . }} tiles committed`)
	commits.Set("prefix", "sink  ")
	commits.Start()

	return &Reporter{anchors: anchors, commits: commits}
}

// AnchorDone increments the processed-anchor counter.
func (r *Reporter) AnchorDone() {
	if r == nil {
		return
	}
	r.anchors.Increment()
}

// TilesCommitted increments the sink-commit counter by n.
func (r *Reporter) TilesCommitted(n int) {
	if r == nil {
		return
	}
	r.commits.Add(n)
}

// Finish stops both bars.
func (r *Reporter) Finish() {
	if r == nil {
		return
	}
	r.anchors.Finish()
	r.commits.Finish()
}
