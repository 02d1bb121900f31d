// Package legend turns a legend image into ordered matching templates.
package legend

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
	"github.com/ironsheep/plan-symbols-mcp/internal/matching"
)

// TextFilter reports crops that hold only caption text.
type TextFilter interface {
	IsTextOnly(ctx context.Context, img image.Image) (bool, error)
}

// Options controls exemplar extraction.
type Options struct {
	// Padding grows every detected box on each side, clamped to the image.
	Padding int
}

// Segmenter cuts exemplars out of legend images.
type Segmenter struct {
	detector detection.Detector
	filter   TextFilter
	opts     Options
	logger   *zap.SugaredLogger
}

// NewSegmenter creates a Segmenter. filter may be nil.
func NewSegmenter(detector detection.Detector, filter TextFilter, opts Options, logger *zap.SugaredLogger) (*Segmenter, error) {
	if detector == nil {
		return nil, errors.New("legend segmenter needs a detector")
	}
	if opts.Padding < 0 {
		return nil, errors.Errorf("padding must not be negative, got %d", opts.Padding)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Segmenter{detector: detector, filter: filter, opts: opts, logger: logger}, nil
}

// Extract detects symbols on legend and returns one template per kept box, in
// detector order. Template IDs are dense and follow that order, which is also
// the priority order for matching.
func (s *Segmenter) Extract(ctx context.Context, legend image.Image) ([]matching.Template, error) {
	bounds := legend.Bounds()
	dets, err := s.detector.Detect(ctx, legend)
	if err != nil {
		return nil, errors.Wrap(err, "detecting legend symbols")
	}

	boxes := lo.FilterMap(dets, func(d detection.Detection, _ int) (detection.Bounds, bool) {
		b := d.Bounds.Translate(bounds.Min.X, bounds.Min.Y).ClipTo(bounds)
		return b, !b.Empty()
	})

	templates := make([]matching.Template, 0, len(boxes))
	for i, b := range boxes {
		b = b.Pad(s.opts.Padding, bounds)
		crop, err := imaging.Crop(legend, b.Rect())
		if err != nil {
			continue
		}

		if s.filter != nil {
			only, err := s.filter.IsTextOnly(ctx, crop)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warnw("text check failed, keeping legend box", "box", i, "error", err)
			case only:
				s.logger.Debugw("dropping text-only legend box", "box", i, "bounds", b)
				continue
			}
		}

		templates = append(templates, matching.Template{
			ID:     len(templates),
			Name:   fmt.Sprintf("symbol-%d", len(templates)),
			Bounds: b.Translate(-bounds.Min.X, -bounds.Min.Y),
			Image:  crop,
		})
	}

	s.logger.Infow("legend segmented", "detected", len(dets), "templates", len(templates))
	return templates, nil
}
