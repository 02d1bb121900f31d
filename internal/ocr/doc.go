// Package ocr wraps the Tesseract OCR engine (via gosseract/v2) for legend
// cleanup.
//
// Legend images mix symbols with their captions, and a symbol detector run on
// a legend often returns boxes that hold nothing but a caption. The
// TextOnlyFilter recognises those boxes so they never become exemplars.
//
// # Prerequisites
//
// Tesseract and its language data must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// A custom tessdata directory can be passed to NewEngine when the language
// files live elsewhere.
//
// # Text-only Heuristic
//
// Word boxes found by Tesseract are painted white and the remaining dark
// pixels are counted. A crop whose residual ink falls below the configured
// minimum is treated as a caption. Crops too small for Tesseract are upscaled
// four times and tried again before being declared text free.
package ocr
