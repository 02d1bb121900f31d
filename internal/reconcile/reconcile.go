// Package reconcile turns per-section detections into one page-level result:
// global boxes, the pool of unclaimed candidates and an annotated page image.
package reconcile

import (
	"image"
	"image/color"
	"slices"

	"github.com/pkg/errors"

	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
	"github.com/ironsheep/plan-symbols-mcp/internal/tiling"
)

// Options controls reconciliation.
type Options struct {
	// DedupeIoU suppresses duplicates found by overlapping sections. Zero
	// disables it, which is correct for non-overlapping tiling.
	DedupeIoU float64

	// LineWidth is the stroke width for drawn boxes.
	LineWidth float64
}

// Reconciler holds the page-level view of a detection pass.
type Reconciler struct {
	width, height int
	annotated     image.Image
	boxes         []Box
	pool          *Pool
	lineWidth     float64
}

// New translates perSection into page coordinates, builds the candidate pool
// and reassembles the page with every detection drawn on its section.
//
// perSection must be index-aligned with sections.
func New(sections []tiling.Section, width, height int, perSection [][]detection.Detection, opts Options) (*Reconciler, error) {
	global, err := tiling.Translate(perSection, sections)
	if err != nil {
		return nil, errors.Wrap(err, "translating detections")
	}

	owner := make([]int, 0, len(global))
	annotated := make([]tiling.Section, len(sections))
	for i, s := range sections {
		overlays := make([]imaging.Overlay, 0, len(perSection[i]))
		for _, d := range perSection[i] {
			owner = append(owner, s.Index)
			overlays = append(overlays, imaging.Overlay{Bounds: d.Bounds.Rect(), Color: imaging.DetectionColor})
		}
		annotated[i] = s
		if len(overlays) > 0 {
			annotated[i].Image = imaging.DrawBoxes(s.Image, overlays, 2)
		}
	}

	keep := make([]int, len(global))
	for i := range keep {
		keep[i] = i
	}
	if opts.DedupeIoU > 0 {
		keep = detection.NMSIndices(global, opts.DedupeIoU)
		slices.Sort(keep)
	}

	boxes := make([]Box, 0, len(keep))
	for _, k := range keep {
		boxes = append(boxes, Box{
			ID:      len(boxes),
			Bounds:  global[k].Bounds,
			Score:   global[k].Score,
			Section: owner[k],
		})
	}

	lineWidth := opts.LineWidth
	if lineWidth <= 0 {
		lineWidth = 3
	}

	return &Reconciler{
		width:     width,
		height:    height,
		annotated: tiling.Reassemble(annotated, width, height),
		boxes:     boxes,
		pool:      NewPool(boxes),
		lineWidth: lineWidth,
	}, nil
}

// Pool returns the working pool of unclaimed boxes.
func (r *Reconciler) Pool() *Pool { return r.pool }

// Boxes returns every reconciled box, claimed or not.
func (r *Reconciler) Boxes() []Box {
	out := make([]Box, len(r.boxes))
	copy(out, r.boxes)
	return out
}

// Image returns the reassembled page with raw detections drawn on it.
func (r *Reconciler) Image() image.Image { return r.annotated }

// Draw returns a copy of the annotated page with one extra rectangle.
func (r *Reconciler) Draw(c color.Color, b detection.Bounds) image.Image {
	return imaging.DrawBoxes(r.annotated, []imaging.Overlay{{Bounds: b.Rect(), Color: c}}, r.lineWidth)
}
