// Package pipeline wires tiling, detection, reconciliation, legend extraction
// and matching into one page-processing run.
package pipeline

import (
	"context"
	"database/sql"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ironsheep/plan-symbols-mcp/internal/config"
	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/embedding"
	"github.com/ironsheep/plan-symbols-mcp/internal/legend"
	"github.com/ironsheep/plan-symbols-mcp/internal/matching"
	"github.com/ironsheep/plan-symbols-mcp/internal/ocr"
	"github.com/ironsheep/plan-symbols-mcp/internal/store"
	"github.com/ironsheep/plan-symbols-mcp/internal/tiling"
	"github.com/ironsheep/plan-symbols-mcp/internal/vision"
)

// healthTimeout bounds the startup probe of a remote detector.
const healthTimeout = 10 * time.Second

// Components are the external collaborators of a Pipeline.
type Components struct {
	// Detector finds symbols on page sections. Required.
	Detector detection.Detector

	// LegendDetector finds exemplars on legend images. Nil reuses Detector.
	LegendDetector detection.Detector

	// Extractor embeds crops for matching. Required.
	Extractor embedding.Extractor

	// Optional collaborators.
	Verifier   matching.Verifier
	TextFilter legend.TextFilter
	Reports    *store.ReportRepo
}

// Pipeline processes drawing pages. It holds no per-run state and may serve
// concurrent runs.
type Pipeline struct {
	cfg      *config.Config
	detector detection.Detector
	segment  *legend.Segmenter
	matcher  *matching.Matcher
	reports  *store.ReportRepo
	logger   *zap.SugaredLogger
	closers  []func() error
}

// New builds every collaborator named by cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	comp := Components{
		Detector:  newDetector(cfg.Detector),
		Extractor: newExtractor(cfg.Embedding),
	}
	if cfg.Legend.Detector.Kind != "" {
		comp.LegendDetector = newDetector(cfg.Legend.Detector)
	}
	for _, det := range []detection.Detector{comp.Detector, comp.LegendDetector} {
		if err := checkHealth(ctx, det); err != nil {
			return nil, err
		}
	}
	if cfg.Vision.Enabled {
		comp.Verifier = vision.NewGeminiVerifier(cfg.Vision.APIKey, cfg.Vision.Model)
	}
	if cfg.OCR.Enabled {
		comp.TextFilter = ocr.NewTextOnlyFilter(ocr.NewEngine(cfg.OCR.Language, cfg.OCR.TessdataPrefix), cfg.OCR.MinSymbolPixels)
	}

	var db *sql.DB
	if cfg.Store.DSN != "" {
		var err error
		db, err = store.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "opening report store")
		}
		comp.Reports = store.NewReportRepo(db)
		if err := comp.Reports.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Infow("report cache enabled")
	}

	p, err := NewWithComponents(cfg, comp, logger)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	if db != nil {
		p.closers = append(p.closers, db.Close)
	}
	return p, nil
}

// NewWithComponents builds a Pipeline around caller-supplied collaborators.
func NewWithComponents(cfg *config.Config, comp Components, logger *zap.SugaredLogger) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if comp.Detector == nil {
		return nil, errors.New("pipeline needs a detector")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	post := detection.PostprocessOptions{MinScore: cfg.Detector.MinScore, IoUThreshold: cfg.Detector.NMSIoU}
	det := detection.Postprocess(comp.Detector, post)

	legendDet := det
	if comp.LegendDetector != nil {
		lp := post
		if cfg.Legend.Detector.Kind != "" {
			lp = detection.PostprocessOptions{MinScore: cfg.Legend.Detector.MinScore, IoUThreshold: cfg.Legend.Detector.NMSIoU}
		}
		legendDet = detection.Postprocess(comp.LegendDetector, lp)
	}

	seg, err := legend.NewSegmenter(legendDet, comp.TextFilter, legend.Options{Padding: cfg.Legend.Padding}, logger.Named("legend"))
	if err != nil {
		return nil, err
	}

	m, err := matching.New(comp.Extractor, comp.Verifier, matcherOptions(cfg), logger.Named("matching"))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		detector: det,
		segment:  seg,
		matcher:  m,
		reports:  comp.Reports,
		logger:   logger,
	}, nil
}

// Config returns the settings the pipeline was built with.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Close releases the report store connection.
func (p *Pipeline) Close() error {
	var err error
	for _, c := range p.closers {
		err = multierr.Append(err, c())
	}
	p.closers = nil
	return err
}

// Split tiles page with the configured section size and overlap.
func (p *Pipeline) Split(page image.Image) ([]tiling.Section, error) {
	t := p.cfg.Tiling
	return tiling.SplitOverlapping(page, t.TileWidth, t.TileHeight, t.Overlap)
}

// ExtractLegend returns the exemplars found on a legend image, in priority
// order.
func (p *Pipeline) ExtractLegend(ctx context.Context, legendImg image.Image) ([]matching.Template, error) {
	return p.segment.Extract(ctx, legendImg)
}

func matcherOptions(cfg *config.Config) matching.Options {
	m := cfg.Matching
	opts := matching.Options{
		SimilarityThreshold: m.SimilarityThreshold,
		SeedCount:           m.SeedCount,
		MaxNeighbors:        m.MaxNeighbors,
		MinArea:             m.MinArea,
		MinSide:             m.MinSide,
		Rotations:           m.Rotations,
		Components:          cfg.Embedding.Components,
	}
	if cfg.Vision.Enabled {
		opts.VerifyAbove = cfg.Vision.VerifyAbove
	}
	return opts
}

func newDetector(c config.DetectorConfig) detection.Detector {
	if c.Kind == config.DetectorHTTP {
		return detection.NewHTTPDetector(c.URL, c.Timeout)
	}
	return detection.NewContourDetector(detection.DefaultContourOptions())
}

// checkHealth fails fast when a remote detector's service is down.
func checkHealth(ctx context.Context, det detection.Detector) error {
	remote, ok := det.(*detection.HTTPDetector)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return errors.Wrap(remote.CheckHealth(ctx), "checking detector service")
}

func newExtractor(c config.EmbeddingConfig) embedding.Extractor {
	if c.Kind == config.EmbeddingHTTP {
		return embedding.NewHTTPExtractor(embedding.HTTPConfig{
			BaseURL: c.URL,
			Model:   c.Model,
			APIKey:  c.APIKey,
			Timeout: c.Timeout,
		})
	}
	return embedding.NewThumbnailExtractor(c.Size)
}
