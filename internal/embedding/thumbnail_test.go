package embedding

import (
	"context"
	"image"
	"image/color"
	"testing"

	"gonum.org/v1/gonum/floats"
)

// createGlyph draws a black shape on white using the supplied predicate
func createGlyph(w, h int, ink func(x, y int) bool) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ink(x, y) {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestThumbnailExtractor_Length(t *testing.T) {
	ex := NewThumbnailExtractor(16)
	for _, size := range []image.Point{{40, 40}, {10, 60}, {3, 3}} {
		v, err := ex.Embed(context.Background(), createGlyph(size.X, size.Y, func(x, y int) bool { return x == y }))
		if err != nil {
			t.Fatalf("Embed(%v) failed: %v", size, err)
		}
		if len(v) != 2*16*16 {
			t.Errorf("Embed(%v): got %d values, want %d", size, len(v), 2*16*16)
		}
	}
}

func TestThumbnailExtractor_Similarity(t *testing.T) {
	ex := NewThumbnailExtractor(0)

	ring := func(w int) func(x, y int) bool {
		return func(x, y int) bool {
			return x < 3 || y < 3 || x >= w-3 || y >= w-3
		}
	}
	cross := func(w int) func(x, y int) bool {
		return func(x, y int) bool {
			return (x >= w/2-2 && x < w/2+2) || (y >= w/2-2 && y < w/2+2)
		}
	}

	embed := func(img image.Image) []float64 {
		v, err := ex.Embed(context.Background(), img)
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		NormalizeL2(v)
		return v
	}

	a := embed(createGlyph(48, 48, ring(48)))
	b := embed(createGlyph(50, 50, ring(50)))
	c := embed(createGlyph(48, 48, cross(48)))

	same := floats.Distance(a, b, 2)
	different := floats.Distance(a, c, 2)
	if same >= different {
		t.Errorf("two rings at %.3f should be closer than ring and cross at %.3f", same, different)
	}
}

func TestThumbnailExtractor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewThumbnailExtractor(8).Embed(ctx, createGlyph(4, 4, func(int, int) bool { return true })); err == nil {
		t.Error("expected error for cancelled context")
	}
}
