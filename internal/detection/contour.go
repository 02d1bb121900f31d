package detection

import (
	"context"
	"image"
	"sort"
)

// ContourOptions tunes the ContourDetector.
type ContourOptions struct {
	// InkThreshold is the grayscale level below which a pixel counts as ink.
	InkThreshold uint8

	// MinArea discards components whose bounding box is smaller.
	MinArea int

	// MaxSideFraction discards components spanning more than this fraction of
	// the image width or height (sheet borders, long walls, title blocks).
	MaxSideFraction float64

	// MergeGap joins components whose boxes are within this many pixels, so a
	// symbol drawn with separate strokes is reported once.
	MergeGap int
}

// DefaultContourOptions returns settings suited to 200 dpi drawings.
func DefaultContourOptions() ContourOptions {
	return ContourOptions{
		InkThreshold:    128,
		MinArea:         16,
		MaxSideFraction: 0.5,
		MergeGap:        2,
	}
}

// ContourDetector is an offline detector that reports connected ink
// components as candidate symbols.
//
// It has no notion of symbol classes and gives every box a score of 1. It is
// meant for legends (isolated symbols on a clean background) and for running
// the pipeline without a model service.
type ContourDetector struct {
	opts ContourOptions
}

// NewContourDetector creates a ContourDetector. Zero-valued options fall back
// to DefaultContourOptions.
func NewContourDetector(opts ContourOptions) *ContourDetector {
	def := DefaultContourOptions()
	if opts.InkThreshold == 0 {
		opts.InkThreshold = def.InkThreshold
	}
	if opts.MaxSideFraction <= 0 {
		opts.MaxSideFraction = def.MaxSideFraction
	}
	return &ContourDetector{opts: opts}
}

// Detect implements Detector.
func (d *ContourDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	ink := make([][]bool, height)
	for y := 0; y < height; y++ {
		if y%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ink[y] = make([]bool, width)
		for x := 0; x < width; x++ {
			ink[y][x] = grayValue(img, x+bounds.Min.X, y+bounds.Min.Y) < d.opts.InkThreshold
		}
	}

	components := findComponents(ink, width, height)
	components = mergeNearby(components, d.opts.MergeGap)

	maxW := int(float64(width) * d.opts.MaxSideFraction)
	maxH := int(float64(height) * d.opts.MaxSideFraction)

	dets := make([]Detection, 0, len(components))
	for _, c := range components {
		if c.Area() < d.opts.MinArea {
			continue
		}
		if c.Width() > maxW || c.Height() > maxH {
			continue
		}
		dets = append(dets, Detection{Bounds: c, Score: 1})
	}

	// Reading order keeps output deterministic.
	sort.SliceStable(dets, func(i, j int) bool {
		a, b := dets[i].Bounds, dets[j].Bounds
		if a.Y1 != b.Y1 {
			return a.Y1 < b.Y1
		}
		return a.X1 < b.X1
	})
	return dets, nil
}

// findComponents labels 8-connected ink regions and returns their bounding
// boxes (X2/Y2 exclusive).
func findComponents(ink [][]bool, width, height int) []Bounds {
	visited := make([][]bool, height)
	for y := 0; y < height; y++ {
		visited[y] = make([]bool, width)
	}

	components := make([]Bounds, 0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if ink[y][x] && !visited[y][x] {
				components = append(components, floodFill(ink, visited, x, y, width, height))
			}
		}
	}
	return components
}

// floodFill walks one component with an explicit stack and returns its
// bounding box.
func floodFill(ink, visited [][]bool, startX, startY, width, height int) Bounds {
	box := Bounds{X1: startX, Y1: startY, X2: startX + 1, Y2: startY + 1}
	stack := []Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if visited[p.Y][p.X] || !ink[p.Y][p.X] {
			continue
		}
		visited[p.Y][p.X] = true

		box.X1 = min(box.X1, p.X)
		box.Y1 = min(box.Y1, p.Y)
		box.X2 = max(box.X2, p.X+1)
		box.Y2 = max(box.Y2, p.Y+1)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				stack = append(stack, Point{X: p.X + dx, Y: p.Y + dy})
			}
		}
	}
	return box
}

// mergeNearby repeatedly unions boxes that lie within gap pixels of each
// other until no pair qualifies.
func mergeNearby(boxes []Bounds, gap int) []Bounds {
	if gap < 0 || len(boxes) < 2 {
		return boxes
	}

	merged := make([]Bounds, len(boxes))
	copy(merged, boxes)

	for changed := true; changed; {
		changed = false
		for i := 0; i < len(merged); i++ {
			for j := i + 1; j < len(merged); j++ {
				if !near(merged[i], merged[j], gap) {
					continue
				}
				merged[i] = mergeBounds(merged[i], merged[j])
				merged = append(merged[:j], merged[j+1:]...)
				changed = true
				j = i
			}
		}
	}
	return merged
}

func near(a, b Bounds, gap int) bool {
	return a.X1-gap < b.X2 && b.X1-gap < a.X2 && a.Y1-gap < b.Y2 && b.Y1-gap < a.Y2
}

func mergeBounds(a, b Bounds) Bounds {
	return Bounds{
		X1: min(a.X1, b.X1),
		Y1: min(a.Y1, b.Y1),
		X2: max(a.X2, b.X2),
		Y2: max(a.Y2, b.Y2),
	}
}

// grayValue converts a pixel to grayscale using ITU-R BT.601 luminance weights.
func grayValue(img image.Image, x, y int) uint8 {
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8(float64(r>>8)*0.299 + float64(g>>8)*0.587 + float64(b>>8)*0.114)
}
