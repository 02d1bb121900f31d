// Package diagnostics dumps intermediate images and box lists for one run.
//
// Nothing here may fail a run: write errors are logged and dropped. A nil
// *Writer is valid and writes nothing.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
)

// IndexFile is the run index kept in the diagnostics root.
const IndexFile = "runs.jsonl"

// RunEntry is one line of the run index.
type RunEntry struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Page      string    `json:"page,omitempty"`
	Legend    string    `json:"legend,omitempty"`
	Boxes     int       `json:"boxes"`
	Claimed   int       `json:"claimed"`
	Elapsed   string    `json:"elapsed"`
	Error     string    `json:"error,omitempty"`
}

// Writer stores artifacts under <root>/<runID>.
type Writer struct {
	root   string
	dir    string
	logger *zap.SugaredLogger
}

// New creates a Writer for runID. The run directory is created lazily.
func New(root, runID string, logger *zap.SugaredLogger) *Writer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Writer{root: root, dir: filepath.Join(root, runID), logger: logger}
}

// Dir returns the run directory, or "" for a nil Writer.
func (w *Writer) Dir() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// JSON writes v to <name>.json.
func (w *Writer) JSON(name string, v any) {
	if w == nil {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		w.logger.Warnw("diagnostics encode failed", "name", name, "error", err)
		return
	}
	path := filepath.Join(w.dir, name+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.logger.Warnw("diagnostics mkdir failed", "path", path, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		w.logger.Warnw("diagnostics write failed", "path", path, "error", err)
	}
}

// PNG writes img to <name>.png.
func (w *Writer) PNG(name string, img image.Image) {
	if w == nil || img == nil {
		return
	}
	path := filepath.Join(w.dir, name+".png")
	if err := imaging.SavePNG(path, img); err != nil {
		w.logger.Warnw("diagnostics image failed", "path", path, "error", err)
	}
}

// SectionBoxes writes the local boxes of section i.
func (w *Writer) SectionBoxes(i int, v any) { w.JSON(fmt.Sprintf("section_bbox-%d", i), v) }

// PageBoxes writes the global boxes known after step i.
func (w *Writer) PageBoxes(i int, v any) { w.JSON(fmt.Sprintf("bbox-%d", i), v) }

// Template writes the claims of template i.
func (w *Writer) Template(i int, v any) { w.JSON(fmt.Sprintf("template-%d", i), v) }

// AppendIndex adds e to the run index. Concurrent processes are serialised
// with a lock file next to the index.
func (w *Writer) AppendIndex(e RunEntry) {
	if w == nil {
		return
	}
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		w.logger.Warnw("diagnostics mkdir failed", "path", w.root, "error", err)
		return
	}

	lock := flock.New(filepath.Join(w.root, IndexFile+".lock"))
	if err := lock.Lock(); err != nil {
		w.logger.Warnw("cannot lock run index", "error", err)
		return
	}
	defer func() { _ = lock.Unlock() }()

	line, err := json.Marshal(e)
	if err != nil {
		w.logger.Warnw("run index encode failed", "error", err)
		return
	}
	f, err := os.OpenFile(filepath.Join(w.root, IndexFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		w.logger.Warnw("cannot open run index", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		w.logger.Warnw("run index write failed", "error", err)
	}
}
