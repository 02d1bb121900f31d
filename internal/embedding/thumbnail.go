package embedding

import (
	"context"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/transform"
	"github.com/disintegration/imaging"
)

// edgeWeight scales the Sobel half of the vector relative to the ink half.
const edgeWeight = 0.5

// ThumbnailExtractor is an offline extractor built from image statistics
// rather than a learned model.
//
// The crop is padded to a square on white, converted to grayscale and shrunk
// to Size x Size. The vector holds the ink density of every thumbnail pixel
// followed by its Sobel edge magnitude, so it reacts to both filled areas and
// outlines. It works well for clean line drawings with consistent scale.
type ThumbnailExtractor struct {
	Size int
}

// NewThumbnailExtractor creates an extractor producing 2*size*size values.
func NewThumbnailExtractor(size int) *ThumbnailExtractor {
	if size <= 0 {
		size = 32
	}
	return &ThumbnailExtractor{Size: size}
}

// Embed implements Extractor.
func (e *ThumbnailExtractor) Embed(ctx context.Context, img image.Image) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	side := max(b.Dx(), b.Dy(), 1)
	square := imaging.PasteCenter(imaging.New(side, side, color.White), img)

	gray := effect.Grayscale(square)
	small := transform.Resize(gray, e.Size, e.Size, transform.Linear)
	edges := effect.Sobel(small)

	n := e.Size * e.Size
	vec := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		vec[i] = 1 - float64(small.Pix[i*4])/255
		vec[n+i] = edgeWeight * float64(edges.Pix[i*4]) / 255
	}
	return vec, nil
}
