package imaging

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// Overlay is one rectangle to draw.
type Overlay struct {
	Bounds image.Rectangle
	Color  color.Color
}

// DrawBoxes strokes every overlay onto a copy of img and returns the copy.
// The source image is never modified.
func DrawBoxes(img image.Image, overlays []Overlay, thickness float64) image.Image {
	dc := gg.NewContextForImage(img)
	if thickness <= 0 {
		thickness = 1
	}
	dc.SetLineWidth(thickness)

	origin := img.Bounds().Min
	for _, o := range overlays {
		r := o.Bounds.Sub(origin)
		if r.Empty() {
			continue
		}
		dc.SetColor(o.Color)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
	}
	return dc.Image()
}
