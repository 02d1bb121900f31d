package imaging

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

var (
	// DetectionColor marks raw detections on section images.
	DetectionColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}

	// UnassignedColor marks symbols no legend class claimed.
	UnassignedColor = color.RGBA{R: 125, G: 125, B: 125, A: 255}
)

var classColors = []color.RGBA{
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 128, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 128, A: 255},
	{R: 0, G: 128, B: 128, A: 255},
	{R: 160, G: 82, B: 45, A: 255},
}

// goldenAngle spreads generated hues so consecutive classes stay distinct.
const goldenAngle = 137.508

// ClassColor returns the drawing color for the i-th legend class.
func ClassColor(i int) color.RGBA {
	if i < 0 {
		return UnassignedColor
	}
	if i < len(classColors) {
		return classColors[i]
	}
	hue := math.Mod(float64(i-len(classColors))*goldenAngle, 360)
	r, g, b := colorful.Hsv(hue, 0.85, 0.9).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Hex formats c as "#rrggbb".
func Hex(c color.Color) string {
	cf, _ := colorful.MakeColor(c)
	return cf.Hex()
}
