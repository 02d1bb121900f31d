package embedding

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrVectorLengthMismatch is returned when an extractor produces vectors of
// different lengths within one index.
var ErrVectorLengthMismatch = errors.New("embedding vector length mismatch")

// Neighbor is one search hit.
type Neighbor struct {
	// Index is the position of the hit in the crops passed to Build.
	Index int `json:"index"`

	// Distance is the squared Euclidean distance between normalized
	// vectors, 2 - 2*cos for unit vectors.
	Distance float64 `json:"distance"`
}

// Index is an exhaustive nearest-neighbour index over crop embeddings,
// ranked by squared L2 distance.
//
// An Index is immutable after Build; rebuild it when the candidate set
// changes.
type Index struct {
	extractor Extractor
	vectors   [][]float64
	dim       int
	proj      *projection
}

// Build embeds every crop with ex and indexes the results.
//
// When components > 0 a PCA projection with that many components is fitted on
// this batch and applied to both indexed and query vectors. The component
// count is clamped to what the batch supports; batches of fewer than two
// crops are indexed unreduced. All vectors are L2-normalized.
func Build(ctx context.Context, ex Extractor, crops []image.Image, components int) (*Index, error) {
	if ex == nil {
		return nil, errors.New("extractor is nil")
	}

	ix := &Index{extractor: ex}
	if len(crops) == 0 {
		return ix, nil
	}

	raw := make([][]float64, len(crops))
	for i, crop := range crops {
		v, err := ex.Embed(ctx, crop)
		if err != nil {
			return nil, errors.Wrapf(err, "embedding crop %d", i)
		}
		if i > 0 && len(v) != len(raw[0]) {
			return nil, errors.Wrapf(ErrVectorLengthMismatch, "crop %d has %d values, want %d", i, len(v), len(raw[0]))
		}
		raw[i] = v
	}
	ix.dim = len(raw[0])

	if components > 0 && len(raw) > 1 {
		p, err := fitPCA(raw, components)
		if err != nil {
			return nil, err
		}
		ix.proj = p
	}

	ix.vectors = make([][]float64, len(raw))
	for i, v := range raw {
		ix.vectors[i] = ix.prepare(v)
	}
	return ix, nil
}

// Len returns the number of indexed crops.
func (ix *Index) Len() int { return len(ix.vectors) }

// Dim returns the length of the indexed vectors after reduction.
func (ix *Index) Dim() int {
	if ix.proj != nil {
		return ix.proj.components
	}
	return ix.dim
}

// Query embeds crop and returns up to k nearest indexed crops by ascending
// distance. An empty index yields an empty result without calling the
// extractor.
func (ix *Index) Query(ctx context.Context, crop image.Image, k int) ([]Neighbor, error) {
	if ix.Len() == 0 || k <= 0 {
		return []Neighbor{}, nil
	}

	v, err := ix.extractor.Embed(ctx, crop)
	if err != nil {
		return nil, errors.Wrap(err, "embedding query")
	}
	if len(v) != ix.dim {
		return nil, errors.Wrapf(ErrVectorLengthMismatch, "query has %d values, index has %d", len(v), ix.dim)
	}
	return ix.Search(ix.prepare(v), k), nil
}

// Search returns up to k nearest neighbours of an already prepared vector.
// Ties are broken by index.
func (ix *Index) Search(q []float64, k int) []Neighbor {
	k = min(k, ix.Len())
	if k <= 0 {
		return []Neighbor{}
	}

	hits := make([]Neighbor, len(ix.vectors))
	for i, v := range ix.vectors {
		d := floats.Distance(q, v, 2)
		hits[i] = Neighbor{Index: i, Distance: d * d}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})
	return hits[:k]
}

// prepare applies the fitted projection, if any, and normalizes.
func (ix *Index) prepare(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	if ix.proj != nil {
		out = ix.proj.apply(out)
	}
	NormalizeL2(out)
	return out
}

// NormalizeL2 scales v in place to unit length. Zero vectors are left as is.
func NormalizeL2(v []float64) {
	n := floats.Norm(v, 2)
	if n == 0 || math.IsNaN(n) {
		return
	}
	floats.Scale(1/n, v)
}

type projection struct {
	mean       []float64
	basis      *mat.Dense // d x components
	components int
}

func fitPCA(raw [][]float64, components int) (*projection, error) {
	n, d := len(raw), len(raw[0])
	components = min(components, n, d)

	data := mat.NewDense(n, d, nil)
	for i, v := range raw {
		data.SetRow(i, v)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, errors.New("principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	mean := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, data)
		mean[j] = stat.Mean(col, nil)
	}

	basis := mat.DenseCopyOf(vecs.Slice(0, d, 0, components))
	return &projection{mean: mean, basis: basis, components: components}, nil
}

func (p *projection) apply(v []float64) []float64 {
	centered := make([]float64, len(v))
	floats.SubTo(centered, v, p.mean)

	var out mat.VecDense
	out.MulVec(p.basis.T(), mat.NewVecDense(len(centered), centered))
	return out.RawVector().Data
}
