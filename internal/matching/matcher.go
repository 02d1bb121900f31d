// Package matching partitions reconciled detections among legend exemplars.
//
// Exemplars are processed strictly in order. Each round embeds the boxes still
// in the pool, queries the index with the exemplar, widens the result with the
// closest hits as secondary seeds and then claims everything found. Claims are
// irreversible, so earlier exemplars win ambiguous boxes.
package matching

import (
	"context"
	"image"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/embedding"
	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
	"github.com/ironsheep/plan-symbols-mcp/internal/reconcile"
)

// Options tunes the matcher.
type Options struct {
	// SimilarityThreshold is the exclusive upper bound on the distance of a
	// claimed box.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// SeedCount is how many of the closest primary hits are re-queried as
	// secondary exemplars.
	SeedCount int `json:"seed_count"`

	// MaxNeighbors caps k for every index query.
	MaxNeighbors int `json:"max_neighbors"`

	// A pool box is embedded only if its crop area exceeds MinArea and both
	// sides exceed MinSide.
	MinArea int `json:"min_area"`
	MinSide int `json:"min_side"`

	// Rotations lists extra exemplar orientations, in degrees, used as
	// additional primary queries.
	Rotations []int `json:"rotations,omitempty"`

	// Components enables PCA reduction of each round's index. Zero keeps raw
	// vectors.
	Components int `json:"components,omitempty"`

	// VerifyAbove sends claims with a distance at or above it to the
	// Verifier. Zero disables verification.
	VerifyAbove float64 `json:"verify_above,omitempty"`
}

// DefaultOptions returns the settings used for scanned drawings.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.3,
		SeedCount:           2,
		MaxNeighbors:        100,
		MinArea:             5,
		MinSide:             5,
	}
}

// Template is one legend exemplar.
type Template struct {
	ID     int              `json:"id"`
	Name   string           `json:"name,omitempty"`
	Bounds detection.Bounds `json:"bounds"`
	Image  image.Image      `json:"-"`
}

// Source tells how a box was reached.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceSeed    Source = "seed"
)

// Match is one claimed box.
type Match struct {
	Box      reconcile.Box `json:"box"`
	Distance float64       `json:"distance"`
	Source   Source        `json:"source"`
}

// Assignment holds the boxes claimed by one template, ordered by box ID.
type Assignment struct {
	Template Template `json:"template"`
	Matches  []Match  `json:"matches"`
}

// Result is the outcome of one matching pass.
type Result struct {
	Assignments []Assignment    `json:"assignments"`
	Unassigned  []reconcile.Box `json:"unassigned"`
}

// Verifier confirms that a candidate crop shows the same symbol as an
// exemplar.
type Verifier interface {
	SameSymbol(ctx context.Context, exemplar, candidate image.Image) (bool, error)
}

// Matcher runs the greedy cross-template assignment.
type Matcher struct {
	extractor embedding.Extractor
	verifier  Verifier
	opts      Options
	logger    *zap.SugaredLogger
}

// New creates a Matcher. verifier may be nil.
func New(extractor embedding.Extractor, verifier Verifier, opts Options, logger *zap.SugaredLogger) (*Matcher, error) {
	if extractor == nil {
		return nil, errors.New("matcher needs an extractor")
	}
	if opts.SimilarityThreshold <= 0 {
		return nil, errors.Errorf("similarity threshold must be positive, got %v", opts.SimilarityThreshold)
	}
	if opts.MaxNeighbors <= 0 {
		opts.MaxNeighbors = 100
	}
	if opts.SeedCount < 0 {
		opts.SeedCount = 0
	}
	for _, deg := range opts.Rotations {
		if deg%90 != 0 {
			return nil, errors.Errorf("rotation %d is not a multiple of 90", deg)
		}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Matcher{extractor: extractor, verifier: verifier, opts: opts, logger: logger}, nil
}

// Options returns the effective settings.
func (m *Matcher) Options() Options { return m.opts }

// Match assigns boxes from pool to templates in order. Claimed boxes are
// removed from pool; whatever remains afterwards is reported unassigned.
func (m *Matcher) Match(ctx context.Context, page image.Image, pool *reconcile.Pool, templates []Template) (*Result, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}

	res := &Result{Assignments: make([]Assignment, 0, len(templates))}
	for i, t := range templates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.Image == nil {
			return nil, errors.Errorf("template %d has no image", i)
		}

		start := time.Now()
		before := pool.Len()
		matches, err := m.round(ctx, page, pool, t)
		if err != nil {
			return nil, errors.Wrapf(err, "matching template %d", t.ID)
		}
		pool.Remove(lo.Map(matches, func(mt Match, _ int) int { return mt.Box.ID })...)

		m.logger.Debugw("template matched",
			"template", t.ID,
			"claimed", len(matches),
			"pool_before", before,
			"pool_after", pool.Len(),
			"elapsed", time.Since(start))
		res.Assignments = append(res.Assignments, Assignment{Template: t, Matches: matches})
	}

	res.Unassigned = pool.Boxes()
	return res, nil
}

type candidate struct {
	box  reconcile.Box
	crop image.Image
}

// round claims boxes for one template without touching the pool.
func (m *Matcher) round(ctx context.Context, page image.Image, pool *reconcile.Pool, t Template) ([]Match, error) {
	cands := m.candidates(page, pool.Boxes())
	if len(cands) == 0 {
		return []Match{}, nil
	}

	crops := lo.Map(cands, func(c candidate, _ int) image.Image { return c.crop })
	ix, err := embedding.Build(ctx, m.extractor, crops, m.opts.Components)
	if err != nil {
		return nil, err
	}
	k := min(m.opts.MaxNeighbors, ix.Len())

	queries, err := m.queries(t.Image)
	if err != nil {
		return nil, err
	}

	claimed := make(map[int]Match)
	var primary []embedding.Neighbor
	for _, q := range queries {
		hits, err := ix.Query(ctx, q, k)
		if err != nil {
			return nil, err
		}
		for _, h := range m.below(hits) {
			if prev, ok := claimed[h.Index]; ok && prev.Distance <= h.Distance {
				continue
			}
			claimed[h.Index] = Match{Box: cands[h.Index].box, Distance: h.Distance, Source: SourcePrimary}
			primary = append(primary, h)
		}
	}

	for _, seed := range seeds(primary, m.opts.SeedCount) {
		hits, err := ix.Query(ctx, cands[seed].crop, k)
		if err != nil {
			return nil, err
		}
		for _, h := range m.below(hits) {
			if _, ok := claimed[h.Index]; ok {
				continue
			}
			claimed[h.Index] = Match{Box: cands[h.Index].box, Distance: h.Distance, Source: SourceSeed}
		}
	}

	order := lo.Keys(claimed)
	slices.Sort(order)

	matches := make([]Match, 0, len(order))
	for _, idx := range order {
		mt := claimed[idx]
		ok, err := m.verify(ctx, t, cands[idx].crop, mt)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, mt)
		}
	}
	return matches, nil
}

// candidates crops every pool box and drops those too small to embed.
func (m *Matcher) candidates(page image.Image, boxes []reconcile.Box) []candidate {
	out := make([]candidate, 0, len(boxes))
	for _, b := range boxes {
		crop, err := imaging.Crop(page, b.Bounds.Rect())
		if err != nil {
			continue
		}
		w, h := crop.Bounds().Dx(), crop.Bounds().Dy()
		if w*h <= m.opts.MinArea || w <= m.opts.MinSide || h <= m.opts.MinSide {
			continue
		}
		out = append(out, candidate{box: b, crop: crop})
	}
	return out
}

func (m *Matcher) queries(exemplar image.Image) ([]image.Image, error) {
	out := []image.Image{exemplar}
	for _, deg := range lo.Uniq(m.opts.Rotations) {
		if deg%360 == 0 {
			continue
		}
		r, err := imaging.Rotate(exemplar, deg)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Matcher) below(hits []embedding.Neighbor) []embedding.Neighbor {
	return lo.Filter(hits, func(h embedding.Neighbor, _ int) bool {
		return h.Distance < m.opts.SimilarityThreshold
	})
}

// seeds returns the candidate indices of the n closest primary hits.
func seeds(primary []embedding.Neighbor, n int) []int {
	sorted := slices.Clone(primary)
	slices.SortStableFunc(sorted, func(a, b embedding.Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return a.Index - b.Index
	})
	idx := lo.Uniq(lo.Map(sorted, func(h embedding.Neighbor, _ int) int { return h.Index }))
	return idx[:min(n, len(idx))]
}

// verify asks the verifier about borderline claims. Verifier failures keep
// the claim.
func (m *Matcher) verify(ctx context.Context, t Template, crop image.Image, mt Match) (bool, error) {
	if m.verifier == nil || m.opts.VerifyAbove <= 0 || mt.Distance < m.opts.VerifyAbove {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	same, err := m.verifier.SameSymbol(ctx, t.Image, crop)
	if err != nil {
		m.logger.Warnw("verification failed, keeping match",
			"template", t.ID, "box", mt.Box.ID, "distance", mt.Distance, "error", err)
		return true, nil
	}
	if !same {
		m.logger.Debugw("verifier rejected match", "template", t.ID, "box", mt.Box.ID, "distance", mt.Distance)
	}
	return same, nil
}
