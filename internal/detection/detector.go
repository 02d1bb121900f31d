package detection

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"
)

// Detector finds symbols in an image and returns scored boxes in the image's
// local coordinate frame. Implementations must be safe for concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image) ([]Detection, error)

// Detect calls f(ctx, img).
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return f(ctx, img)
}

// PostprocessOptions controls the filtering applied by Postprocess.
type PostprocessOptions struct {
	// MinScore drops detections with a lower confidence.
	MinScore float64

	// IoUThreshold is the suppression threshold for greedy NMS. Values <= 0
	// disable suppression.
	IoUThreshold float64
}

// Postprocess wraps a detector so its output is score-filtered, clipped to the
// image, stripped of degenerate boxes and non-max-suppressed.
func Postprocess(det Detector, opts PostprocessOptions) Detector {
	return DetectorFunc(func(ctx context.Context, img image.Image) ([]Detection, error) {
		dets, err := det.Detect(ctx, img)
		if err != nil {
			return nil, err
		}
		dets = FilterScore(dets, opts.MinScore)
		dets = ClipDegenerate(dets, localRect(img))
		if opts.IoUThreshold > 0 {
			dets = NMS(dets, opts.IoUThreshold)
		}
		return dets, nil
	})
}

// DetectAll runs det once per image using at most maxWorkers concurrent calls.
//
// The returned slice is index-aligned with images regardless of completion
// order. Boxes are clipped to their image and degenerate ones dropped. Any
// failing call cancels the remaining work and the whole batch returns an
// error; no partial results are returned.
func DetectAll(ctx context.Context, det Detector, images []image.Image, maxWorkers int) ([][]Detection, error) {
	if det == nil {
		return nil, fmt.Errorf("detector is nil")
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	results := make([][]Detection, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dets, err := det.Detect(gctx, img)
			if err != nil {
				return fmt.Errorf("failed to detect section %d: %w", i, err)
			}
			results[i] = ClipDegenerate(dets, localRect(img))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// localRect returns the image bounds shifted to a (0,0) origin, the frame
// detectors report boxes in.
func localRect(img image.Image) image.Rectangle {
	b := img.Bounds()
	return image.Rect(0, 0, b.Dx(), b.Dy())
}
