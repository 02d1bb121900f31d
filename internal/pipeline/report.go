package pipeline

import (
	"image"

	"github.com/ironsheep/plan-symbols-mcp/internal/config"
	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
	"github.com/ironsheep/plan-symbols-mcp/internal/matching"
	"github.com/ironsheep/plan-symbols-mcp/internal/reconcile"
)

// minCropArea is the smallest match that carries an encoded crop.
const minCropArea = 10

// BoxReport describes one reconciled box in page coordinates.
type BoxReport struct {
	ID int `json:"id"`

	// BBox is [x, y, width, height].
	BBox    [4]int     `json:"bbox"`
	Center  [2]float64 `json:"center"`
	Area    int        `json:"area"`
	Score   float64    `json:"score"`
	Section int        `json:"section"`
}

// MatchReport is a box claimed by a legend symbol.
type MatchReport struct {
	BoxReport
	SymbolType int             `json:"symbol_type"`
	SymbolName string          `json:"symbol_name,omitempty"`
	Color      string          `json:"color"`
	Distance   float64         `json:"distance"`
	Source     matching.Source `json:"source"`
	CropBase64 string          `json:"crop_base64,omitempty"`
}

// TemplateReport summarises one legend symbol.
type TemplateReport struct {
	ID     int              `json:"id"`
	Name   string           `json:"name,omitempty"`
	Bounds detection.Bounds `json:"bounds"`
	Color  string           `json:"color"`
	Count  int              `json:"count"`
}

// PageInfo holds page dimensions.
type PageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Report is the result of one run.
type Report struct {
	RunID             string           `json:"run_id"`
	Page              PageInfo         `json:"page"`
	Sections          int              `json:"sections"`
	Detections        int              `json:"detections"`
	Templates         []TemplateReport `json:"templates"`
	Matches           []MatchReport    `json:"matches"`
	Unassigned        []BoxReport      `json:"unassigned"`
	ProcessingSeconds float64          `json:"processing_seconds"`
	AnnotatedPath     string           `json:"annotated_path,omitempty"`
	DiagnosticsDir    string           `json:"diagnostics_dir,omitempty"`
	Cached            bool             `json:"cached,omitempty"`
}

// Claimed returns the number of matched boxes.
func (r *Report) Claimed() int { return len(r.Matches) }

func boxReport(b reconcile.Box) BoxReport {
	w, h := b.Bounds.Width(), b.Bounds.Height()
	return BoxReport{
		ID:      b.ID,
		BBox:    [4]int{b.Bounds.X1, b.Bounds.Y1, w, h},
		Center:  [2]float64{float64(b.Bounds.X1) + float64(w)/2, float64(b.Bounds.Y1) + float64(h)/2},
		Area:    b.Bounds.Area(),
		Score:   b.Score,
		Section: b.Section,
	}
}

func (br BoxReport) bounds() detection.Bounds {
	return detection.Bounds{X1: br.BBox[0], Y1: br.BBox[1], X2: br.BBox[0] + br.BBox[2], Y2: br.BBox[1] + br.BBox[3]}
}

// buildReport fills the matching part of a report. Crops come from the
// clean page.
func buildReport(r *Report, page image.Image, res *matching.Result, includeCrops bool) error {
	r.Templates = make([]TemplateReport, 0, len(res.Assignments))
	r.Matches = []MatchReport{}
	for i, a := range res.Assignments {
		color := imaging.Hex(imaging.ClassColor(i))
		r.Templates = append(r.Templates, TemplateReport{
			ID:     a.Template.ID,
			Name:   a.Template.Name,
			Bounds: a.Template.Bounds,
			Color:  color,
			Count:  len(a.Matches),
		})

		for _, m := range a.Matches {
			mr := MatchReport{
				BoxReport:  boxReport(m.Box),
				SymbolType: i,
				SymbolName: a.Template.Name,
				Color:      color,
				Distance:   m.Distance,
				Source:     m.Source,
			}
			if includeCrops && mr.Area > minCropArea {
				crop, err := imaging.Crop(page, m.Box.Bounds.Rect())
				if err == nil {
					if mr.CropBase64, err = imaging.EncodeBase64PNG(crop); err != nil {
						return err
					}
				}
			}
			r.Matches = append(r.Matches, mr)
		}
	}

	r.Unassigned = make([]BoxReport, len(res.Unassigned))
	for i, b := range res.Unassigned {
		r.Unassigned[i] = boxReport(b)
	}
	return nil
}

// Annotate draws a report onto a copy of page: matches in their class
// colours, then unassigned boxes in grey when they are large enough to be
// real symbols.
func Annotate(page image.Image, r *Report, out config.OutputConfig) image.Image {
	matched := make([]imaging.Overlay, 0, len(r.Matches))
	for _, m := range r.Matches {
		matched = append(matched, imaging.Overlay{
			Bounds: m.bounds().Rect(),
			Color:  imaging.ClassColor(m.SymbolType),
		})
	}
	img := imaging.DrawBoxes(page, matched, out.LineThickness)

	var grey []imaging.Overlay
	for _, u := range r.Unassigned {
		if u.Area > out.UnassignedMinArea && u.BBox[2] > out.UnassignedMinSide && u.BBox[3] > out.UnassignedMinSide {
			grey = append(grey, imaging.Overlay{Bounds: u.bounds().Rect(), Color: imaging.UnassignedColor})
		}
	}
	if len(grey) == 0 {
		return img
	}
	return imaging.DrawBoxes(img, grey, out.UnassignedThickness)
}
