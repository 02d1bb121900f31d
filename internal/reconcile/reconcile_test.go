package reconcile

import (
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/tiling"
)

// createBlankPage creates a white NRGBA page
func createBlankPage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 250 && g>>8 < 5 && b>>8 < 5
}

func TestPool_RemoveByIdentity(t *testing.T) {
	same := detection.Bounds{X1: 10, Y1: 10, X2: 20, Y2: 20}
	pool := NewPool([]Box{
		{ID: 0, Bounds: same},
		{ID: 1, Bounds: same},
		{ID: 2, Bounds: detection.Bounds{X1: 0, Y1: 0, X2: 5, Y2: 5}},
	})

	if n := pool.Remove(1); n != 1 {
		t.Fatalf("Remove: got %d, want 1", n)
	}
	if pool.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", pool.Len())
	}
	if !pool.Contains(0) {
		t.Error("box 0 has the same coordinates as box 1 but must stay in the pool")
	}
	if pool.Contains(1) {
		t.Error("box 1 should be gone")
	}

	if n := pool.Remove(1, 7, 2, 2); n != 1 {
		t.Errorf("Remove with unknown and repeated ids: got %d, want 1", n)
	}
	got := pool.Boxes()
	if len(got) != 1 || got[0].ID != 0 {
		t.Errorf("remaining: got %+v, want only box 0", got)
	}

	if b, ok := pool.Get(0); !ok || b.Bounds != same {
		t.Errorf("Get(0): got %+v, %v", b, ok)
	}
	if _, ok := pool.Get(2); ok {
		t.Error("Get(2) should fail after removal")
	}
}

func TestPool_SnapshotIsolation(t *testing.T) {
	pool := NewPool([]Box{{ID: 0}, {ID: 1}, {ID: 2}})
	snapshot := pool.Boxes()

	pool.Remove(0)

	if len(snapshot) != 3 || snapshot[0].ID != 0 {
		t.Errorf("snapshot changed after Remove: %+v", snapshot)
	}
}

func TestNew(t *testing.T) {
	page := createBlankPage(100, 60)
	sections, err := tiling.Split(page, 50, 30)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	perSection := [][]detection.Detection{
		{{Bounds: detection.Bounds{X1: 5, Y1: 5, X2: 15, Y2: 15}, Score: 0.9}},
		{{Bounds: detection.Bounds{X1: 0, Y1: 0, X2: 10, Y2: 10}, Score: 0.8}},
		{},
		{
			{Bounds: detection.Bounds{X1: 20, Y1: 10, X2: 30, Y2: 20}, Score: 0.95},
			{Bounds: detection.Bounds{X1: 20, Y1: 10, X2: 30, Y2: 20}, Score: 0.85},
		},
	}

	r, err := New(sections, 100, 60, perSection, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := []Box{
		{ID: 0, Bounds: detection.Bounds{X1: 5, Y1: 5, X2: 15, Y2: 15}, Score: 0.9, Section: 0},
		{ID: 1, Bounds: detection.Bounds{X1: 50, Y1: 0, X2: 60, Y2: 10}, Score: 0.8, Section: 1},
		{ID: 2, Bounds: detection.Bounds{X1: 70, Y1: 40, X2: 80, Y2: 50}, Score: 0.95, Section: 3},
		{ID: 3, Bounds: detection.Bounds{X1: 70, Y1: 40, X2: 80, Y2: 50}, Score: 0.85, Section: 3},
	}
	if diff := cmp.Diff(want, r.Boxes()); diff != "" {
		t.Errorf("boxes mismatch (-want +got):\n%s", diff)
	}
	if r.Pool().Len() != 4 {
		t.Errorf("pool size: got %d, want 4", r.Pool().Len())
	}

	annotated := r.Image()
	if annotated.Bounds() != page.Bounds() {
		t.Fatalf("annotated bounds: got %v", annotated.Bounds())
	}
	if !isRed(annotated.At(50, 5)) {
		t.Error("detection from section 1 should be drawn at its page position")
	}
	if isRed(annotated.At(30, 50)) {
		t.Error("empty section should stay blank")
	}
}

func TestNew_MismatchedSections(t *testing.T) {
	sections, _ := tiling.Split(createBlankPage(20, 20), 10, 10)
	if _, err := New(sections, 20, 20, make([][]detection.Detection, 3), Options{}); err == nil {
		t.Error("New should fail when detections do not match sections")
	}
}

func TestNew_DedupesOverlappingSections(t *testing.T) {
	page := createBlankPage(100, 40)
	sections, err := tiling.SplitOverlapping(page, 50, 40, 10)
	if err != nil {
		t.Fatalf("SplitOverlapping failed: %v", err)
	}

	// Section 0 spans x 0..60 and sees the symbol at x 45..55 whole;
	// section 1 starts at x 50 and only sees its right half.
	perSection := [][]detection.Detection{
		{{Bounds: detection.Bounds{X1: 45, Y1: 5, X2: 55, Y2: 15}, Score: 0.9}},
		{
			{Bounds: detection.Bounds{X1: 0, Y1: 5, X2: 5, Y2: 15}, Score: 0.6},
			{Bounds: detection.Bounds{X1: 30, Y1: 20, X2: 40, Y2: 30}, Score: 0.9},
		},
	}

	r, err := New(sections, 100, 40, perSection, Options{DedupeIoU: 0.4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got := r.Boxes()
	if len(got) != 2 {
		t.Fatalf("boxes: got %d, want 2: %+v", len(got), got)
	}
	for i, b := range got {
		if b.ID != i {
			t.Errorf("box %d has ID %d; IDs must be dense", i, b.ID)
		}
	}
	if got[0].Bounds != (detection.Bounds{X1: 45, Y1: 5, X2: 55, Y2: 15}) {
		t.Errorf("kept duplicate: got %+v", got[0].Bounds)
	}
	if got[1].Bounds != (detection.Bounds{X1: 80, Y1: 20, X2: 90, Y2: 30}) || got[1].Section != 1 {
		t.Errorf("second box: got %+v", got[1])
	}
}

func TestDraw_DoesNotMutate(t *testing.T) {
	page := createBlankPage(40, 40)
	sections, _ := tiling.Split(page, 40, 40)
	r, err := New(sections, 40, 40, [][]detection.Detection{{}}, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	drawn := r.Draw(color.RGBA{255, 0, 0, 255}, detection.Bounds{X1: 10, Y1: 10, X2: 30, Y2: 30})
	if !isRed(drawn.At(10, 20)) {
		t.Error("Draw should stroke the rectangle")
	}
	if isRed(r.Image().At(10, 20)) {
		t.Error("Draw must not modify the stored page")
	}
}
