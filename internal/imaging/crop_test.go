package imaging

import (
	"encoding/base64"
	"image"
	"image/color"
	"testing"
)

// createInMemoryImage creates a solid color image
func createInMemoryImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// createPatternImage creates an image with red, green, blue and white quadrants
func createPatternImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var c color.RGBA
			switch {
			case x < width/2 && y < height/2:
				c = color.RGBA{255, 0, 0, 255}
			case x >= width/2 && y < height/2:
				c = color.RGBA{0, 255, 0, 255}
			case x < width/2:
				c = color.RGBA{0, 0, 255, 255}
			default:
				c = color.RGBA{255, 255, 255, 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestCrop(t *testing.T) {
	img := createPatternImage(100, 100)

	got, err := Crop(img, image.Rect(50, 0, 80, 20))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if got.Bounds() != image.Rect(0, 0, 30, 20) {
		t.Errorf("bounds: got %v, want (0,0)-(30,20)", got.Bounds())
	}
	if c := got.NRGBAAt(0, 0); c != (color.NRGBA{0, 255, 0, 255}) {
		t.Errorf("pixel: got %v, want green", c)
	}
}

func TestCrop_ClipsToImage(t *testing.T) {
	img := createInMemoryImage(100, 100, color.White)

	got, err := Crop(img, image.Rect(90, 95, 120, 130))
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if got.Bounds().Dx() != 10 || got.Bounds().Dy() != 5 {
		t.Errorf("dimensions: got %dx%d, want 10x5", got.Bounds().Dx(), got.Bounds().Dy())
	}
}

func TestCrop_Empty(t *testing.T) {
	img := createInMemoryImage(100, 100, color.White)

	tests := []struct {
		name string
		r    image.Rectangle
	}{
		{"outside", image.Rect(200, 200, 210, 210)},
		{"zero width", image.Rect(10, 10, 10, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Crop(img, tt.r); err == nil {
				t.Error("Crop should fail for an empty region")
			}
		})
	}
}

func TestCropScaled(t *testing.T) {
	img := createPatternImage(100, 100)

	result, err := CropScaled(img, 0, 0, 50, 50, 2.0)
	if err != nil {
		t.Fatalf("CropScaled failed: %v", err)
	}
	if result.Width != 100 || result.Height != 100 {
		t.Errorf("scaled dimensions: got %dx%d, want 100x100", result.Width, result.Height)
	}
	if result.MimeType != "image/png" {
		t.Errorf("MimeType: got %s, want image/png", result.MimeType)
	}
	if _, err := base64.StdEncoding.DecodeString(result.ImageBase64); err != nil {
		t.Errorf("failed to decode base64: %v", err)
	}
}

func TestCropScaled_InvalidRegion(t *testing.T) {
	img := createInMemoryImage(100, 100, color.White)

	tests := []struct {
		name           string
		x1, y1, x2, y2 int
	}{
		{"x1 negative", -1, 0, 50, 50},
		{"x2 too large", 0, 0, 101, 50},
		{"x1 >= x2", 50, 0, 50, 50},
		{"y1 > y2", 0, 60, 50, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CropScaled(img, tt.x1, tt.y1, tt.x2, tt.y2, 1.0); err == nil {
				t.Error("CropScaled should fail")
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	img := createPatternImage(20, 10)

	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("bounds: got %v, want %v", decoded.Bounds(), img.Bounds())
	}
}

func TestRotate(t *testing.T) {
	img := createInMemoryImage(30, 10, color.White)

	tests := []struct {
		degrees int
		w, h    int
	}{
		{0, 30, 10},
		{90, 10, 30},
		{180, 30, 10},
		{270, 10, 30},
		{-90, 10, 30},
		{450, 10, 30},
	}
	for _, tt := range tests {
		got, err := Rotate(img, tt.degrees)
		if err != nil {
			t.Fatalf("Rotate(%d) failed: %v", tt.degrees, err)
		}
		if got.Bounds().Dx() != tt.w || got.Bounds().Dy() != tt.h {
			t.Errorf("Rotate(%d): got %dx%d, want %dx%d", tt.degrees, got.Bounds().Dx(), got.Bounds().Dy(), tt.w, tt.h)
		}
	}

	if _, err := Rotate(img, 45); err == nil {
		t.Error("Rotate(45) should fail")
	}
}
