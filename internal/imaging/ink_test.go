package imaging

import (
	"image"
	"image/color"
	"testing"
)

func TestInkPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.White)
		}
	}
	for y := 5; y < 10; y++ {
		for x := 5; x < 11; x++ {
			img.Set(x, y, color.Black)
		}
	}

	if got := InkPixels(img, 128); got != 30 {
		t.Errorf("InkPixels: got %d, want 30", got)
	}
	if got := InkPixels(createInMemoryImage(8, 8, color.White), 128); got != 0 {
		t.Errorf("InkPixels on blank: got %d, want 0", got)
	}
}

func TestEraseRegions(t *testing.T) {
	img := createInMemoryImage(20, 20, color.Black)

	out := EraseRegions(img, []image.Rectangle{
		image.Rect(0, 0, 10, 20),
		image.Rect(15, 15, 40, 40),
	})

	if got := InkPixels(out, 128); got != 20*20-10*20-5*5 {
		t.Errorf("remaining ink: got %d, want %d", got, 20*20-10*20-5*5)
	}
	if InkPixels(img, 128) != 400 {
		t.Error("EraseRegions modified the source image")
	}
}
