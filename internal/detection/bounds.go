package detection

import (
	"image"
	"math"
	"sort"
)

// Bounds represents an axis-aligned bounding box in pixel coordinates.
//
// (X1, Y1) is the top-left corner and (X2, Y2) the bottom-right corner. A box
// is only meaningful when X2 > X1 and Y2 > Y1; anything else is degenerate.
type Bounds struct {
	X1 int `json:"x1"` // Left edge (inclusive)
	Y1 int `json:"y1"` // Top edge (inclusive)
	X2 int `json:"x2"` // Right edge
	Y2 int `json:"y2"` // Bottom edge
}

// Point represents a 2D coordinate in pixel space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Detection is a scored box produced by a Detector.
type Detection struct {
	Bounds Bounds  `json:"bounds"`
	Score  float64 `json:"score"`
	Class  int     `json:"class,omitempty"`
}

// Width returns X2 - X1.
func (b Bounds) Width() int { return b.X2 - b.X1 }

// Height returns Y2 - Y1.
func (b Bounds) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area, or 0 for degenerate boxes.
func (b Bounds) Area() int {
	if b.Empty() {
		return 0
	}
	return b.Width() * b.Height()
}

// Empty reports whether the box has zero or negative area.
func (b Bounds) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Translate shifts both corners by (dx, dy).
func (b Bounds) Translate(dx, dy int) Bounds {
	return Bounds{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Rect converts the box to an image.Rectangle.
func (b Bounds) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// FromRect converts an image.Rectangle to Bounds.
func FromRect(r image.Rectangle) Bounds {
	return Bounds{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// ClipTo returns the intersection of the box with r. The result may be empty.
func (b Bounds) ClipTo(r image.Rectangle) Bounds {
	return Bounds{
		X1: max(b.X1, r.Min.X),
		Y1: max(b.Y1, r.Min.Y),
		X2: min(b.X2, r.Max.X),
		Y2: min(b.Y2, r.Max.Y),
	}
}

// Pad grows the box by n pixels on every side and clips it to r.
func (b Bounds) Pad(n int, r image.Rectangle) Bounds {
	return Bounds{X1: b.X1 - n, Y1: b.Y1 - n, X2: b.X2 + n, Y2: b.Y2 + n}.ClipTo(r)
}

// IoU returns the intersection-over-union of two boxes.
//
// The union is floored at 1e-9 so two degenerate boxes yield 0 instead of NaN.
func (b Bounds) IoU(o Bounds) float64 {
	iw := min(b.X2, o.X2) - max(b.X1, o.X1)
	ih := min(b.Y2, o.Y2) - max(b.Y1, o.Y1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(b.Area()+o.Area()) - inter
	return inter / math.Max(union, 1e-9)
}

// NMS applies greedy non-maximum suppression.
//
// Detections are ordered by score (highest first, ties keep input order); the
// top detection is kept and every remaining detection whose IoU with it
// exceeds iouThreshold is discarded. This repeats until nothing is left. The
// result is ordered by descending score, so NMS(NMS(x)) == NMS(x).
func NMS(dets []Detection, iouThreshold float64) []Detection {
	keep := NMSIndices(dets, iouThreshold)
	kept := make([]Detection, len(keep))
	for i, k := range keep {
		kept[i] = dets[k]
	}
	return kept
}

// NMSIndices runs the same suppression as NMS and returns the indices of the
// surviving detections in dets, ordered by descending score.
func NMSIndices(dets []Detection, iouThreshold float64) []int {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return dets[order[i]].Score > dets[order[j]].Score
	})

	keep := make([]int, 0, len(order))
	suppressed := make([]bool, len(order))
	for i, oi := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, oi)
		for j := i + 1; j < len(order); j++ {
			if !suppressed[j] && dets[oi].Bounds.IoU(dets[order[j]].Bounds) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// FilterScore drops detections scoring below minScore.
func FilterScore(dets []Detection, minScore float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Score >= minScore {
			out = append(out, d)
		}
	}
	return out
}

// ClipDegenerate clips every detection to r and drops the ones left with no area.
func ClipDegenerate(dets []Detection, r image.Rectangle) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		d.Bounds = d.Bounds.ClipTo(r)
		if d.Bounds.Empty() {
			continue
		}
		out = append(out, d)
	}
	return out
}
