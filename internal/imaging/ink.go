package imaging

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/anthonynsimon/bild/segment"
)

// InkPixels counts pixels darker than threshold.
func InkPixels(img image.Image, threshold uint8) int {
	bin := segment.Threshold(img, threshold)
	count := 0
	for _, v := range bin.Pix {
		if v == 0 {
			count++
		}
	}
	return count
}

// EraseRegions returns a copy of img with every rectangle painted white.
// Rectangles are in img's coordinate space.
func EraseRegions(img image.Image, rects []image.Rectangle) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)

	white := image.NewUniform(color.White)
	for _, r := range rects {
		r = r.Intersect(bounds).Sub(bounds.Min)
		if r.Empty() {
			continue
		}
		draw.Draw(out, r, white, image.Point{}, draw.Src)
	}
	return out
}
