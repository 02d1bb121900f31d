package reconcile

import (
	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
)

// Box is a detection in page coordinates with a stable identity.
type Box struct {
	// ID identifies the box within one pool. Two boxes with identical
	// coordinates still have different IDs.
	ID int `json:"id"`

	Bounds  detection.Bounds `json:"bounds"`
	Score   float64          `json:"score"`
	Section int              `json:"section"`
}

// Pool is the shrinking set of unclaimed boxes for one page.
//
// A Pool is owned by a single pipeline run and is not safe for concurrent
// mutation.
type Pool struct {
	boxes []Box
	index map[int]int // ID -> position in boxes
}

// NewPool creates a pool from boxes. IDs must be unique.
func NewPool(boxes []Box) *Pool {
	p := &Pool{
		boxes: make([]Box, len(boxes)),
		index: make(map[int]int, len(boxes)),
	}
	copy(p.boxes, boxes)
	p.reindex()
	return p
}

// Len returns the number of unclaimed boxes.
func (p *Pool) Len() int { return len(p.boxes) }

// Boxes returns a snapshot of the unclaimed boxes in insertion order.
func (p *Pool) Boxes() []Box {
	out := make([]Box, len(p.boxes))
	copy(out, p.boxes)
	return out
}

// Contains reports whether the box with id is still unclaimed.
func (p *Pool) Contains(id int) bool {
	_, ok := p.index[id]
	return ok
}

// Get returns the unclaimed box with id.
func (p *Pool) Get(id int) (Box, bool) {
	i, ok := p.index[id]
	if !ok {
		return Box{}, false
	}
	return p.boxes[i], true
}

// Remove drops the boxes with the given IDs and returns how many were
// actually removed. Unknown or repeated IDs are ignored.
func (p *Pool) Remove(ids ...int) int {
	drop := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := p.index[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	kept := p.boxes[:0]
	for _, b := range p.boxes {
		if _, ok := drop[b.ID]; !ok {
			kept = append(kept, b)
		}
	}
	p.boxes = kept
	p.reindex()
	return len(drop)
}

func (p *Pool) reindex() {
	clear(p.index)
	for i, b := range p.boxes {
		p.index[b.ID] = i
	}
}
