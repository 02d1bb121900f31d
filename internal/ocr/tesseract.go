package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	localimaging "github.com/ironsheep/plan-symbols-mcp/internal/imaging"
)

// Defaults for the text-only heuristic.
const (
	DefaultMinSymbolPixels = 50
	DefaultInkThreshold    = 125

	// Crops narrower or shorter than this are upscaled for a second OCR try.
	smallCropSide = 20
	upscale       = 4
)

// TextRegion represents a word with its location and OCR confidence.
type TextRegion struct {
	// Text is the recognized text content.
	Text string `json:"text"`

	// Confidence is the OCR confidence score (0.0 to 1.0).
	Confidence float64 `json:"confidence"`

	// Bounds is the bounding box around this word in the image.
	Bounds detection.Bounds `json:"bounds"`
}

// Engine runs Tesseract with a fixed language.
type Engine struct {
	language       string
	tessdataPrefix string
}

// NewEngine creates an Engine. An empty language means "eng"; an empty
// tessdataPrefix uses Tesseract's default search path.
func NewEngine(language, tessdataPrefix string) *Engine {
	if language == "" {
		language = "eng"
	}
	return &Engine{language: language, tessdataPrefix: tessdataPrefix}
}

// Words performs word-level OCR on an in-memory image.
//
// Bounds are relative to img's top-left corner. Empty words are dropped.
func (e *Engine) Words(img image.Image) ([]TextRegion, error) {
	data, err := localimaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if e.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			return nil, fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(e.language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get word boxes: %w", err)
	}

	regions := make([]TextRegion, 0, len(boxes))
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		regions = append(regions, TextRegion{
			Text:       box.Word,
			Confidence: float64(box.Confidence) / 100.0,
			Bounds:     detection.FromRect(box.Box),
		})
	}
	return regions, nil
}

// Version returns the Tesseract version, or an error when the engine cannot
// be initialised.
func Version() (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	v := client.Version()
	if v == "" {
		return "", fmt.Errorf("tesseract is not available")
	}
	return v, nil
}

// TextOnlyFilter decides whether a crop holds only text.
type TextOnlyFilter struct {
	engine          *Engine
	minSymbolPixels int
	inkThreshold    uint8
}

// NewTextOnlyFilter creates a filter. minSymbolPixels <= 0 selects
// DefaultMinSymbolPixels.
func NewTextOnlyFilter(engine *Engine, minSymbolPixels int) *TextOnlyFilter {
	if minSymbolPixels <= 0 {
		minSymbolPixels = DefaultMinSymbolPixels
	}
	return &TextOnlyFilter{
		engine:          engine,
		minSymbolPixels: minSymbolPixels,
		inkThreshold:    DefaultInkThreshold,
	}
}

// IsTextOnly reports whether img is a caption rather than a symbol.
//
// A crop in which Tesseract finds no words is never text only. Otherwise the
// word boxes are erased and img counts as text only when fewer than
// minSymbolPixels dark pixels survive.
func (f *TextOnlyFilter) IsTextOnly(ctx context.Context, img image.Image) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	words, err := f.engine.Words(img)
	if err != nil {
		return false, err
	}

	b := img.Bounds()
	if len(words) == 0 && (b.Dx() < smallCropSide || b.Dy() < smallCropSide) {
		big := imaging.Resize(img, b.Dx()*upscale, b.Dy()*upscale, imaging.Lanczos)
		words, err = f.engine.Words(big)
		if err != nil {
			return false, err
		}
		for i := range words {
			words[i].Bounds = scaleDown(words[i].Bounds, upscale)
		}
	}
	if len(words) == 0 {
		return false, nil
	}

	rects := make([]image.Rectangle, len(words))
	for i, w := range words {
		rects[i] = w.Bounds.Rect().Add(b.Min)
	}
	erased := localimaging.EraseRegions(img, rects)
	return localimaging.InkPixels(erased, f.inkThreshold) < f.minSymbolPixels, nil
}

// scaleDown maps a box found on an upscaled image back, rounding outward.
func scaleDown(b detection.Bounds, factor int) detection.Bounds {
	return detection.Bounds{
		X1: b.X1 / factor,
		Y1: b.Y1 / factor,
		X2: (b.X2 + factor - 1) / factor,
		Y2: (b.Y2 + factor - 1) / factor,
	}
}
