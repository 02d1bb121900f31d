package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ironsheep/plan-symbols-mcp/internal/config"
	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/embedding"
	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
	"github.com/ironsheep/plan-symbols-mcp/internal/matching"
	"github.com/ironsheep/plan-symbols-mcp/internal/reconcile"
)

const side = 20

// angleExtractor embeds a crop as the unit vector at the angle, in degrees,
// held in the red channel of its centre pixel.
var angleExtractor = embedding.ExtractorFunc(func(_ context.Context, img image.Image) ([]float64, error) {
	b := img.Bounds()
	r, _, _, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()
	theta := float64(r>>8) * math.Pi / 180
	return []float64{math.Cos(theta), math.Sin(theta)}, nil
})

func createWhite(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func fillSquare(img *image.RGBA, x, y, deg int) {
	c := color.RGBA{uint8(deg), 40, 40, 255}
	for yy := y; yy < y+side; yy++ {
		for xx := x; xx < x+side; xx++ {
			img.Set(xx, yy, c)
		}
	}
}

// createDrawing returns a 200x100 page holding squares at 0, 10, 44, 55 and 160
// degrees and a legend with exemplars at 0 and 35 degrees.
func createDrawing() (page, legend *image.RGBA) {
	page = createWhite(200, 100)
	for _, sq := range [][2]int{{10, 0}, {40, 10}, {70, 44}, {110, 55}, {140, 160}} {
		fillSquare(page, sq[0], 10, sq[1])
	}
	legend = createWhite(100, 60)
	fillSquare(legend, 10, 10, 0)
	fillSquare(legend, 50, 10, 35)
	return page, legend
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Tiling.TileWidth = 100
	cfg.Tiling.TileHeight = 100
	cfg.Diagnostics.Dir = t.TempDir()
	return cfg
}

func newPipeline(t *testing.T, cfg *config.Config, det detection.Detector) *Pipeline {
	t.Helper()
	if det == nil {
		det = detection.NewContourDetector(detection.DefaultContourOptions())
	}
	p, err := NewWithComponents(cfg, Components{Detector: det, Extractor: angleExtractor}, nil)
	if err != nil {
		t.Fatalf("NewWithComponents failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func matchedIDs(r *Report, symbol int) []int {
	ids := []int{}
	for _, m := range r.Matches {
		if m.SymbolType == symbol {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func TestRun(t *testing.T) {
	page, legend := createDrawing()
	p := newPipeline(t, testConfig(t), nil)

	report, err := p.Run(context.Background(), page, legend, RunOptions{PageName: "page.png", LegendName: "legend.png"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Sections != 2 {
		t.Errorf("sections: got %d, want 2", report.Sections)
	}
	if report.Detections != 5 {
		t.Errorf("detections: got %d, want 5", report.Detections)
	}
	if len(report.Templates) != 2 {
		t.Fatalf("templates: got %d, want 2", len(report.Templates))
	}
	if diff := cmp.Diff([]int{0, 1}, matchedIDs(report, 0)); diff != "" {
		t.Errorf("symbol 0 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2, 3}, matchedIDs(report, 1)); diff != "" {
		t.Errorf("symbol 1 mismatch (-want +got):\n%s", diff)
	}
	if len(report.Unassigned) != 1 || report.Unassigned[0].BBox != [4]int{140, 10, side, side} {
		t.Errorf("unassigned: got %+v, want one box at 140,10", report.Unassigned)
	}

	for _, tr := range report.Templates {
		if tr.Count != 2 {
			t.Errorf("template %d count: got %d, want 2", tr.ID, tr.Count)
		}
	}
	for _, m := range report.Matches {
		if m.CropBase64 == "" {
			t.Errorf("match %d has no crop", m.ID)
		}
		if m.Color != report.Templates[m.SymbolType].Color {
			t.Errorf("match %d color %s differs from its template", m.ID, m.Color)
		}
	}
	if report.DiagnosticsDir != "" {
		t.Errorf("diagnostics dir set while disabled: %s", report.DiagnosticsDir)
	}
}

func TestRun_Deterministic(t *testing.T) {
	page, legend := createDrawing()
	p := newPipeline(t, testConfig(t), nil)

	first, err := p.Run(context.Background(), page, legend, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := p.Run(context.Background(), page, legend, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if diff := cmp.Diff(first.Matches, second.Matches); diff != "" {
		t.Errorf("matches differ between runs (-first +second):\n%s", diff)
	}
}

func TestRun_Diagnostics(t *testing.T) {
	page, legend := createDrawing()
	cfg := testConfig(t)
	cfg.Diagnostics.Enabled = true
	p := newPipeline(t, cfg, nil)

	out := filepath.Join(t.TempDir(), "annotated.png")
	report, err := p.Run(context.Background(), page, legend, RunOptions{PageName: "page.png", AnnotatedPath: out})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.AnnotatedPath != out {
		t.Errorf("annotated path: got %q, want %q", report.AnnotatedPath, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("annotated page not written: %v", err)
	}

	dir := report.DiagnosticsDir
	if dir != filepath.Join(cfg.Diagnostics.Dir, report.RunID) {
		t.Fatalf("diagnostics dir: got %q", dir)
	}
	for _, name := range []string{
		"section_bbox-0.json", "section_bbox-1.json", "bbox-0.json",
		"template-0.json", "template-1.json", "unassigned.json",
		"annotated.png", "matches.png", "legend/0.png", "sections/1.png",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(cfg.Diagnostics.Dir, "runs.jsonl"))
	if err != nil {
		t.Fatalf("reading run index: %v", err)
	}
	var entry struct {
		RunID   string `json:"run_id"`
		Page    string `json:"page"`
		Claimed int    `json:"claimed"`
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("decoding run index: %v", err)
	}
	if entry.RunID != report.RunID || entry.Page != "page.png" || entry.Claimed != 4 {
		t.Errorf("run index entry: got %+v", entry)
	}
}

func TestRun_DetectorFailure(t *testing.T) {
	page, legend := createDrawing()
	calls := 0
	legendDet := detection.NewContourDetector(detection.DefaultContourOptions())
	det := detection.DetectorFunc(func(ctx context.Context, img image.Image) ([]detection.Detection, error) {
		calls++
		if calls == 1 {
			return legendDet.Detect(ctx, img)
		}
		return nil, errors.New("model offline")
	})
	p := newPipeline(t, testConfig(t), det)

	if _, err := p.Run(context.Background(), page, legend, RunOptions{}); err == nil {
		t.Fatal("expected a section failure to fail the run")
	}
}

func TestRun_NoTemplates(t *testing.T) {
	page, _ := createDrawing()
	p := newPipeline(t, testConfig(t), nil)

	report, err := p.Run(context.Background(), page, createWhite(50, 50), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Matches) != 0 || len(report.Unassigned) != 5 {
		t.Errorf("got %d matches and %d unassigned, want 0 and 5", len(report.Matches), len(report.Unassigned))
	}
}

func TestRunTemplates(t *testing.T) {
	page, legend := createDrawing()
	p := newPipeline(t, testConfig(t), nil)

	templates, err := p.ExtractLegend(context.Background(), legend)
	if err != nil {
		t.Fatalf("ExtractLegend failed: %v", err)
	}
	// Without the 0 degree exemplar, the 10 degree square falls to the 35
	// degree one.
	report, err := p.RunTemplates(context.Background(), page, templates[1:], RunOptions{})
	if err != nil {
		t.Fatalf("RunTemplates failed: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, matchedIDs(report, 0)); diff != "" {
		t.Errorf("matches mismatch (-want +got):\n%s", diff)
	}
}

func TestDetect(t *testing.T) {
	page, _ := createDrawing()
	p := newPipeline(t, testConfig(t), nil)

	det, err := p.Detect(context.Background(), page)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(det.Sections) != 2 || len(det.PerSection) != 2 {
		t.Fatalf("got %d sections, want 2", len(det.Sections))
	}
	if len(det.PerSection[0]) != 3 || len(det.PerSection[1]) != 2 {
		t.Errorf("per section: got %d and %d boxes, want 3 and 2", len(det.PerSection[0]), len(det.PerSection[1]))
	}

	// Section 1 boxes are local to the section.
	if got := det.PerSection[1][0].Bounds.X1; got != 10 {
		t.Errorf("local x: got %d, want 10", got)
	}
	if got := det.Reconciler.Boxes()[3].Bounds.X1; got != 110 {
		t.Errorf("page x: got %d, want 110", got)
	}
}

func TestNewWithComponents_Validation(t *testing.T) {
	cfg := config.Default()
	if _, err := NewWithComponents(nil, Components{}, nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewWithComponents(cfg, Components{Extractor: angleExtractor}, nil); err == nil {
		t.Error("expected error for missing detector")
	}
	det := detection.NewContourDetector(detection.DefaultContourOptions())
	if _, err := NewWithComponents(cfg, Components{Detector: det}, nil); err == nil {
		t.Error("expected error for missing extractor")
	}
}

func boxAt(id, x, y, w, h int) reconcile.Box {
	return reconcile.Box{ID: id, Bounds: detection.Bounds{X1: x, Y1: y, X2: x + w, Y2: y + h}, Score: 1}
}

func closeTo(c color.Color, want color.RGBA) bool {
	r, g, b, _ := c.RGBA()
	near := func(a uint32, w uint8) bool {
		d := int(a>>8) - int(w)
		return d >= -2 && d <= 2
	}
	return near(r, want.R) && near(g, want.G) && near(b, want.B)
}

func TestAnnotate(t *testing.T) {
	page := createWhite(200, 100)
	r := &Report{
		Matches: []MatchReport{{
			BoxReport:  BoxReport{ID: 0, BBox: [4]int{60, 20, 20, 20}, Area: 400},
			SymbolType: 1,
		}},
		Unassigned: []BoxReport{
			{ID: 1, BBox: [4]int{20, 20, 30, 30}, Area: 900},
			{ID: 2, BBox: [4]int{120, 20, 10, 10}, Area: 100},
		},
	}
	out := Annotate(page, r, config.Default().Output)

	if !closeTo(out.At(60, 30), imaging.ClassColor(1)) {
		t.Errorf("match edge: got %v, want class color", out.At(60, 30))
	}
	if !closeTo(out.At(20, 35), imaging.UnassignedColor) {
		t.Errorf("large unassigned edge: got %v, want grey", out.At(20, 35))
	}
	if !closeTo(out.At(120, 25), color.RGBA{255, 255, 255, 255}) {
		t.Errorf("small unassigned box was drawn: %v", out.At(120, 25))
	}
	if !closeTo(page.At(60, 30), color.RGBA{255, 255, 255, 255}) {
		t.Error("Annotate modified the page")
	}
}

func TestBuildReport_CropThreshold(t *testing.T) {
	page := createWhite(100, 100)
	res := &matching.Result{
		Assignments: []matching.Assignment{{
			Template: matching.Template{ID: 0, Name: "symbol-0"},
			Matches: []matching.Match{
				{Box: boxAt(0, 10, 10, 20, 20)},
				{Box: boxAt(1, 50, 50, 3, 3)},
			},
		}},
	}

	var r Report
	if err := buildReport(&r, page, res, true); err != nil {
		t.Fatalf("buildReport failed: %v", err)
	}
	if r.Matches[0].CropBase64 == "" {
		t.Error("large match should carry a crop")
	}
	if r.Matches[1].CropBase64 != "" {
		t.Error("tiny match should not carry a crop")
	}
	if r.Templates[0].Count != 2 || r.Unassigned == nil {
		t.Errorf("templates: got %+v", r.Templates)
	}
	if got, want := r.Matches[0].Center, [2]float64{20, 20}; got != want {
		t.Errorf("center: got %v, want %v", got, want)
	}
}

func TestNew_RemoteDetectorHealth(t *testing.T) {
	var healthPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthPath = r.URL.Path
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Detector.Kind = config.DetectorHTTP
	cfg.Detector.URL = srv.URL + "/predict"

	p, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = p.Close()
	if healthPath != "/health" {
		t.Errorf("health probe path: got %q, want /health", healthPath)
	}

	srv.Close()
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Error("expected New to fail when the detector service is down")
	}
}
