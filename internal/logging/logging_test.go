package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger("warn", "", zapcore.AddSync(&buf))
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}

	l.Infow("hidden", "k", 1)
	l.Warnw("shown", "k", 2)
	_ = l.Close()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "plan-symbols") {
		t.Errorf("warn entry missing or unnamed: %q", out)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("loud", ""); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan-symbols.log")
	var console bytes.Buffer
	l, err := newLogger("debug", path, zapcore.AddSync(&console))
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}

	l.Debugw("to file", "section", 3)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"section":3`) {
		t.Errorf("log file should hold JSON fields, got %q", data)
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Infow("discarded")
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
