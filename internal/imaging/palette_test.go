package imaging

import (
	"image/color"
	"testing"
)

func TestClassColor_Fixed(t *testing.T) {
	tests := []struct {
		i    int
		want color.RGBA
	}{
		{0, color.RGBA{255, 0, 0, 255}},
		{2, color.RGBA{0, 0, 255, 255}},
		{9, color.RGBA{160, 82, 45, 255}},
		{-1, UnassignedColor},
	}
	for _, tt := range tests {
		if got := ClassColor(tt.i); got != tt.want {
			t.Errorf("ClassColor(%d): got %v, want %v", tt.i, got, tt.want)
		}
	}
}

func TestClassColor_GeneratedAreDistinct(t *testing.T) {
	seen := make(map[color.RGBA]int)
	for i := 0; i < 40; i++ {
		c := ClassColor(i)
		if c.A != 255 {
			t.Errorf("ClassColor(%d) not opaque: %v", i, c)
		}
		if prev, ok := seen[c]; ok {
			t.Errorf("ClassColor(%d) repeats ClassColor(%d): %v", i, prev, c)
		}
		seen[c] = i
	}
	if ClassColor(15) != ClassColor(15) {
		t.Error("ClassColor must be deterministic")
	}
}

func TestHex(t *testing.T) {
	tests := []struct {
		c    color.Color
		want string
	}{
		{color.RGBA{255, 0, 0, 255}, "#ff0000"},
		{UnassignedColor, "#7d7d7d"},
		{color.White, "#ffffff"},
	}
	for _, tt := range tests {
		if got := Hex(tt.c); got != tt.want {
			t.Errorf("Hex(%v): got %s, want %s", tt.c, got, tt.want)
		}
	}
}
