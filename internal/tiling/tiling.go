// Package tiling splits drawing pages into sections a detector can handle and
// maps section-local results back onto the page.
package tiling

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
)

// Section is one tile of a page.
type Section struct {
	// Index is the position of the section in row-major order.
	Index int `json:"index"`

	// Offset is the page position of the section's top-left pixel:
	// X is the column offset, Y the row offset.
	Offset image.Point `json:"offset"`

	// Rect is the section's extent in page coordinates.
	Rect image.Rectangle `json:"rect"`

	// Image holds the section pixels with a (0,0) origin.
	Image image.Image `json:"-"`
}

// Split partitions page into a row-major grid of non-overlapping sections of
// at most tileWidth x tileHeight pixels. Sections in the last row and column
// may be smaller. A tile size larger than the page is clamped to the page.
func Split(page image.Image, tileWidth, tileHeight int) ([]Section, error) {
	return SplitOverlapping(page, tileWidth, tileHeight, 0)
}

// SplitOverlapping lays out the same grid as Split but extends every section
// by margin pixels to the right and bottom, clipped to the page, so symbols on
// a grid line appear whole in at least one section.
func SplitOverlapping(page image.Image, tileWidth, tileHeight, margin int) ([]Section, error) {
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, errors.Errorf("invalid tile size %dx%d", tileWidth, tileHeight)
	}
	if margin < 0 {
		return nil, errors.Errorf("invalid overlap margin %d", margin)
	}

	bounds := page.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("page is empty")
	}
	tileWidth = min(tileWidth, width)
	tileHeight = min(tileHeight, height)

	cols := (width + tileWidth - 1) / tileWidth
	rows := (height + tileHeight - 1) / tileHeight
	sections := make([]Section, 0, rows*cols)

	for row := 0; row < rows; row++ {
		y := row * tileHeight
		for col := 0; col < cols; col++ {
			x := col * tileWidth
			rect := image.Rect(x, y, min(x+tileWidth+margin, width), min(y+tileHeight+margin, height))
			sections = append(sections, Section{
				Index:  len(sections),
				Offset: rect.Min,
				Rect:   rect,
				Image:  imaging.Crop(page, rect.Add(bounds.Min)),
			})
		}
	}
	return sections, nil
}

// Images returns the section images in section order.
func Images(sections []Section) []image.Image {
	out := make([]image.Image, len(sections))
	for i, s := range sections {
		out[i] = s.Image
	}
	return out
}

// Reassemble copies every section onto a white width x height canvas at its
// recorded offset.
func Reassemble(sections []Section, width, height int) *image.NRGBA {
	canvas := imaging.New(width, height, color.White)
	for _, s := range sections {
		b := s.Image.Bounds()
		dst := image.Rectangle{Min: s.Offset, Max: s.Offset.Add(b.Size())}
		draw.Draw(canvas, dst, s.Image, b.Min, draw.Src)
	}
	return canvas
}

// Translate moves every section-local detection into page coordinates by
// adding its section's offset to both corners. Results are flattened in
// section order; nothing is merged or deduplicated.
func Translate(perSection [][]detection.Detection, sections []Section) ([]detection.Detection, error) {
	if len(perSection) != len(sections) {
		return nil, errors.Errorf("got detections for %d sections, want %d", len(perSection), len(sections))
	}

	total := 0
	for _, dets := range perSection {
		total += len(dets)
	}

	global := make([]detection.Detection, 0, total)
	for i, dets := range perSection {
		off := sections[i].Offset
		for _, d := range dets {
			d.Bounds = d.Bounds.Translate(off.X, off.Y)
			global = append(global, d)
		}
	}
	return global, nil
}

// Locate returns the index of the first section whose extent fully contains
// b, or -1.
func Locate(sections []Section, b detection.Bounds) int {
	r := b.Rect()
	for i, s := range sections {
		if r.In(s.Rect) {
			return i
		}
	}
	return -1
}
