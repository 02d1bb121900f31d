package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// CropResult contains an encoded crop, as returned to MCP clients and stored
// in match reports.
type CropResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Crop extracts region r of img into a new image with a (0,0) origin.
//
// Regions partly outside the image are clipped. A region that is empty after
// clipping is an error.
func Crop(img image.Image, r image.Rectangle) (*image.NRGBA, error) {
	clipped := r.Intersect(img.Bounds())
	if clipped.Empty() {
		return nil, fmt.Errorf("crop region %v is empty within image bounds %v", r, img.Bounds())
	}
	return imaging.Crop(img, clipped), nil
}

// CropScaled crops region (x1,y1)-(x2,y2), optionally rescales it and returns
// it PNG encoded. Unlike Crop it rejects out-of-bounds regions, since callers
// asked for exact pixels.
func CropScaled(img image.Image, x1, y1, x2, y2 int, scale float64) (*CropResult, error) {
	bounds := img.Bounds()
	if x1 < bounds.Min.X || y1 < bounds.Min.Y || x2 > bounds.Max.X || y2 > bounds.Max.Y {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			x1, y1, x2, y2, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if x1 >= x2 || y1 >= y2 {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	cropped := imaging.Crop(img, image.Rect(x1, y1, x2, y2))
	if scale != 1.0 && scale > 0 {
		w := max(1, int(float64(cropped.Bounds().Dx())*scale))
		h := max(1, int(float64(cropped.Bounds().Dy())*scale))
		cropped = imaging.Resize(cropped, w, h, imaging.Lanczos)
	}
	return Encode(cropped)
}

// Encode PNG-encodes img into a CropResult.
func Encode(img image.Image) (*CropResult, error) {
	s, err := EncodeBase64PNG(img)
	if err != nil {
		return nil, err
	}
	return &CropResult{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: s,
		MimeType:    "image/png",
	}, nil
}

// EncodeBase64PNG returns img as a base64 PNG string.
func EncodeBase64PNG(img image.Image) (string, error) {
	b, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Rotate returns img rotated counter-clockwise by degrees, which must be a
// multiple of 90.
func Rotate(img image.Image, degrees int) (*image.NRGBA, error) {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return imaging.Clone(img), nil
	case 90:
		return imaging.Rotate90(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate270(img), nil
	default:
		return nil, fmt.Errorf("unsupported rotation %d: must be a multiple of 90", degrees)
	}
}
