package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/diagnostics"
	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
	"github.com/ironsheep/plan-symbols-mcp/internal/matching"
	"github.com/ironsheep/plan-symbols-mcp/internal/reconcile"
	"github.com/ironsheep/plan-symbols-mcp/internal/store"
	"github.com/ironsheep/plan-symbols-mcp/internal/tiling"
)

// RunOptions describes one run.
type RunOptions struct {
	// PageName and LegendName label the run in logs and the diagnostics index.
	PageName   string
	LegendName string

	// AnnotatedPath, when set, receives the annotated page as PNG.
	AnnotatedPath string

	// NoCache skips the report cache for this run.
	NoCache bool
}

// PageDetections is the page-level outcome of tiling and detection.
type PageDetections struct {
	Sections   []tiling.Section
	PerSection [][]detection.Detection
	Reconciler *reconcile.Reconciler
}

// Detect tiles page, runs the detector on every section and reconciles the
// results into page coordinates. Any section failure fails the page.
func (p *Pipeline) Detect(ctx context.Context, page image.Image) (*PageDetections, error) {
	return p.detect(ctx, page, nil)
}

func (p *Pipeline) detect(ctx context.Context, page image.Image, diag *diagnostics.Writer) (*PageDetections, error) {
	sections, err := p.Split(page)
	if err != nil {
		return nil, errors.Wrap(err, "splitting page")
	}

	start := time.Now()
	perSection, err := detection.DetectAll(ctx, p.detector, tiling.Images(sections), p.cfg.Detector.MaxWorkers)
	if err != nil {
		return nil, err
	}
	for i, dets := range perSection {
		diag.SectionBoxes(i, dets)
		diag.PNG(fmt.Sprintf("sections/%d", i), sections[i].Image)
	}

	b := page.Bounds()
	rec, err := reconcile.New(sections, b.Dx(), b.Dy(), perSection, reconcile.Options{
		DedupeIoU: dedupeIoU(p.cfg.Tiling.Overlap, p.cfg.Tiling.DedupeIoU),
		LineWidth: p.cfg.Output.LineThickness,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Infow("page detected",
		"sections", len(sections),
		"boxes", len(rec.Boxes()),
		"workers", p.cfg.Detector.MaxWorkers,
		"elapsed", time.Since(start))
	return &PageDetections{Sections: sections, PerSection: perSection, Reconciler: rec}, nil
}

// dedupeIoU only applies cross-section suppression when sections overlap.
func dedupeIoU(overlap int, iou float64) float64 {
	if overlap <= 0 {
		return 0
	}
	return iou
}

// Run extracts exemplars from legendImg and matches them against page.
func (p *Pipeline) Run(ctx context.Context, page, legendImg image.Image, opts RunOptions) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	diag := p.diagnostics(runID)
	log := p.logger.With("run", runID)

	report, err := p.run(ctx, runID, page, legendImg, opts, diag)

	entry := diagnostics.RunEntry{
		RunID:     runID,
		StartedAt: start,
		Page:      opts.PageName,
		Legend:    opts.LegendName,
		Elapsed:   time.Since(start).String(),
	}
	if err != nil {
		entry.Error = err.Error()
		diag.AppendIndex(entry)
		log.Errorw("run failed", "error", err)
		return nil, err
	}
	entry.Boxes = report.Claimed() + len(report.Unassigned)
	entry.Claimed = report.Claimed()
	diag.AppendIndex(entry)

	log.Infow("run finished",
		"templates", len(report.Templates),
		"claimed", report.Claimed(),
		"unassigned", len(report.Unassigned),
		"cached", report.Cached,
		"elapsed", time.Since(start))
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, page, legendImg image.Image, opts RunOptions, diag *diagnostics.Writer) (*Report, error) {
	start := time.Now()

	key, cacheable := p.cacheKey(page, legendImg, opts)
	if cacheable {
		if cached, ok := p.lookup(ctx, key); ok {
			cached.Cached = true
			if err := p.finish(cached, page, opts, diag); err != nil {
				return nil, err
			}
			return cached, nil
		}
	}

	templates, err := p.ExtractLegend(ctx, legendImg)
	if err != nil {
		return nil, errors.Wrap(err, "extracting legend")
	}
	for i, t := range templates {
		diag.PNG(fmt.Sprintf("legend/%d", i), t.Image)
	}

	report, err := p.runTemplates(ctx, runID, page, templates, diag)
	if err != nil {
		return nil, err
	}
	report.ProcessingSeconds = time.Since(start).Seconds()

	if cacheable {
		if err := p.reports.Upsert(ctx, key, report); err != nil {
			p.logger.Warnw("cannot cache report", "run", runID, "error", err)
		}
	}
	if err := p.finish(report, page, opts, diag); err != nil {
		return nil, err
	}
	return report, nil
}

// RunTemplates matches already extracted templates against page.
func (p *Pipeline) RunTemplates(ctx context.Context, page image.Image, templates []matching.Template, opts RunOptions) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	diag := p.diagnostics(runID)

	report, err := p.runTemplates(ctx, runID, page, templates, diag)
	if err != nil {
		return nil, err
	}
	report.ProcessingSeconds = time.Since(start).Seconds()
	if err := p.finish(report, page, opts, diag); err != nil {
		return nil, err
	}
	return report, nil
}

func (p *Pipeline) runTemplates(ctx context.Context, runID string, page image.Image, templates []matching.Template, diag *diagnostics.Writer) (*Report, error) {
	det, err := p.detect(ctx, page, diag)
	if err != nil {
		return nil, errors.Wrap(err, "detecting symbols")
	}
	rec := det.Reconciler
	diag.PageBoxes(0, rec.Boxes())
	diag.PNG("annotated", rec.Image())

	res, err := p.matcher.Match(ctx, page, rec.Pool(), templates)
	if err != nil {
		return nil, errors.Wrap(err, "matching templates")
	}
	for i, a := range res.Assignments {
		diag.Template(i, a.Matches)
	}
	diag.JSON("unassigned", res.Unassigned)

	b := page.Bounds()
	report := &Report{
		RunID:      runID,
		Page:       PageInfo{Width: b.Dx(), Height: b.Dy()},
		Sections:   len(det.Sections),
		Detections: len(rec.Boxes()),
	}
	if err := buildReport(report, page, res, p.cfg.Output.IncludeCrops); err != nil {
		return nil, err
	}
	return report, nil
}

// finish writes the annotated page and records where artifacts went.
func (p *Pipeline) finish(r *Report, page image.Image, opts RunOptions, diag *diagnostics.Writer) error {
	r.DiagnosticsDir = diag.Dir()
	if opts.AnnotatedPath == "" && diag == nil {
		return nil
	}

	annotated := Annotate(page, r, p.cfg.Output)
	diag.PNG("matches", annotated)
	if opts.AnnotatedPath != "" {
		if err := imaging.SavePNG(opts.AnnotatedPath, annotated); err != nil {
			return errors.Wrap(err, "writing annotated page")
		}
		r.AnnotatedPath = opts.AnnotatedPath
	}
	return nil
}

func (p *Pipeline) diagnostics(runID string) *diagnostics.Writer {
	if !p.cfg.Diagnostics.Enabled {
		return nil
	}
	return diagnostics.New(p.cfg.Diagnostics.Dir, runID, p.logger.Named("diagnostics"))
}

type cacheSettings struct {
	Tiling    any  `json:"tiling"`
	Detector  any  `json:"detector"`
	Legend    any  `json:"legend"`
	Embedding any  `json:"embedding"`
	Matching  any  `json:"matching"`
	OCR       any  `json:"ocr"`
	Crops     bool `json:"crops"`
}

func (p *Pipeline) cacheKey(page, legendImg image.Image, opts RunOptions) (store.Key, bool) {
	if p.reports == nil || opts.NoCache {
		return store.Key{}, false
	}
	emb := p.cfg.Embedding
	emb.APIKey = ""
	settings, err := store.SettingsHash(cacheSettings{
		Tiling:    p.cfg.Tiling,
		Detector:  p.cfg.Detector,
		Legend:    p.cfg.Legend,
		Embedding: emb,
		Matching:  p.matcher.Options(),
		OCR:       p.cfg.OCR,
		Crops:     p.cfg.Output.IncludeCrops,
	})
	if err != nil {
		p.logger.Warnw("cannot hash settings, cache disabled for run", "error", err)
		return store.Key{}, false
	}
	return store.Key{
		PageHash:   imaging.Fingerprint(page),
		LegendHash: imaging.Fingerprint(legendImg),
		Settings:   settings,
	}, true
}

func (p *Pipeline) lookup(ctx context.Context, key store.Key) (*Report, bool) {
	var cached Report
	err := p.reports.Find(ctx, key, 0, &cached)
	switch {
	case err == nil:
		return &cached, true
	case errors.Is(err, sql.ErrNoRows):
	default:
		p.logger.Warnw("report cache lookup failed", "error", err)
	}
	return nil, false
}

// Report describes the reconciled boxes in page coordinates.
func (d *PageDetections) Report() []BoxReport {
	boxes := d.Reconciler.Boxes()
	out := make([]BoxReport, len(boxes))
	for i, b := range boxes {
		out[i] = boxReport(b)
	}
	return out
}
