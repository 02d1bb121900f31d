// Package detection finds candidate symbols in drawing sections.
//
// The package defines the Detector contract used by the rest of the pipeline
// and the geometry every later stage relies on.
//
// # Detectors
//
// A Detector takes an image and returns scored axis-aligned boxes in that
// image's own coordinate frame. Two implementations ship here:
//
//   - HTTPDetector: uploads the image to a model inference service
//   - ContourDetector: labels connected ink components, no model required
//
// Postprocess wraps any Detector with a score filter, clipping of degenerate
// boxes and greedy non-maximum suppression.
//
// # Running Over Sections
//
// DetectAll fans one Detect call per section out over a bounded worker pool.
// Results are index-aligned with the input and the first failure aborts the
// batch.
//
// # Coordinate System
//
// All coordinates use the standard image convention:
//   - Origin (0, 0) at top-left corner
//   - X increases rightward
//   - Y increases downward
//   - Bounding boxes use inclusive top-left and exclusive bottom-right
//
// # Suppression
//
// NMS orders boxes by score, keeps the best one and discards every remaining
// box whose IoU with it exceeds the threshold, then repeats. Applying it twice
// gives the same result as applying it once.
package detection
