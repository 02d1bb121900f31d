// Package embedding turns symbol crops into feature vectors and searches them.
//
// The Extractor is the model boundary. Index wraps any Extractor with the
// normalization, optional PCA reduction and exhaustive squared-L2 search used
// by the matcher.
package embedding

import (
	"context"
	"image"
)

// Extractor embeds an image crop into a fixed-length vector.
//
// Implementations must return vectors of the same length for every crop and
// be deterministic for the same input.
type Extractor interface {
	Embed(ctx context.Context, img image.Image) ([]float64, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, img image.Image) ([]float64, error)

// Embed calls f(ctx, img).
func (f ExtractorFunc) Embed(ctx context.Context, img image.Image) ([]float64, error) {
	return f(ctx, img)
}
