// Package config loads plan-symbols.yaml, applies PLAN_SYMBOLS_* environment
// overrides and validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLAN_SYMBOLS_"

// Detector kinds.
const (
	DetectorContour = "contour"
	DetectorHTTP    = "http"
)

// Embedding kinds.
const (
	EmbeddingThumbnail = "thumbnail"
	EmbeddingHTTP      = "http"
)

// TilingConfig controls page sectioning.
type TilingConfig struct {
	TileWidth  int `yaml:"tile_width"`
	TileHeight int `yaml:"tile_height"`

	// Overlap extends every section by this many pixels on each side. Boxes
	// found twice are then merged with DedupeIoU.
	Overlap   int     `yaml:"overlap"`
	DedupeIoU float64 `yaml:"dedupe_iou"`
}

// DetectorConfig selects and tunes a symbol detector.
type DetectorConfig struct {
	Kind       string        `yaml:"kind"`
	URL        string        `yaml:"url,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
	MinScore   float64       `yaml:"min_score"`
	NMSIoU     float64       `yaml:"nms_iou"`
	MaxWorkers int           `yaml:"max_workers"`
}

// LegendConfig controls exemplar extraction.
type LegendConfig struct {
	// Detector overrides the page detector for legend images. An empty Kind
	// reuses the page detector.
	Detector DetectorConfig `yaml:"detector"`
	Padding  int            `yaml:"padding"`
}

// EmbeddingConfig selects the feature extractor.
type EmbeddingConfig struct {
	Kind       string        `yaml:"kind"`
	Size       int           `yaml:"size"`
	URL        string        `yaml:"url,omitempty"`
	Model      string        `yaml:"model,omitempty"`
	APIKey     string        `yaml:"api_key,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
	Components int           `yaml:"components"`
}

// MatchingConfig tunes the greedy matcher.
type MatchingConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SeedCount           int     `yaml:"seed_count"`
	MaxNeighbors        int     `yaml:"max_neighbors"`
	MinArea             int     `yaml:"min_area"`
	MinSide             int     `yaml:"min_side"`
	Rotations           []int   `yaml:"rotations,omitempty"`
}

// VisionConfig enables model verification of borderline matches.
type VisionConfig struct {
	Enabled     bool    `yaml:"enabled"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Model       string  `yaml:"model"`
	VerifyAbove float64 `yaml:"verify_above"`
}

// OCRConfig enables the text-only legend filter.
type OCRConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Language        string `yaml:"language"`
	TessdataPrefix  string `yaml:"tessdata_prefix,omitempty"`
	MinSymbolPixels int    `yaml:"min_symbol_pixels"`
}

// OutputConfig controls the annotated image and report.
type OutputConfig struct {
	LineThickness float64 `yaml:"line_thickness"`

	// Unassigned boxes are drawn only when larger than these limits.
	UnassignedThickness float64 `yaml:"unassigned_thickness"`
	UnassignedMinArea   int     `yaml:"unassigned_min_area"`
	UnassignedMinSide   int     `yaml:"unassigned_min_side"`

	IncludeCrops bool `yaml:"include_crops"`
}

// DiagnosticsConfig enables intermediate dumps.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// StoreConfig points at the Postgres report cache. An empty DSN disables it.
type StoreConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Config is the in-memory representation of plan-symbols.yaml.
type Config struct {
	Tiling      TilingConfig      `yaml:"tiling"`
	Detector    DetectorConfig    `yaml:"detector"`
	Legend      LegendConfig      `yaml:"legend"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Matching    MatchingConfig    `yaml:"matching"`
	Vision      VisionConfig      `yaml:"vision"`
	OCR         OCRConfig         `yaml:"ocr"`
	Output      OutputConfig      `yaml:"output"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Store       StoreConfig       `yaml:"store"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the settings tuned for scanned plans.
func Default() *Config {
	return &Config{
		Tiling: TilingConfig{TileWidth: 1900, TileHeight: 1500, DedupeIoU: 0.5},
		Detector: DetectorConfig{
			Kind:       DetectorContour,
			Timeout:    60 * time.Second,
			MinScore:   0.80,
			NMSIoU:     0.5,
			MaxWorkers: 1,
		},
		Embedding: EmbeddingConfig{
			Kind:    EmbeddingThumbnail,
			Size:    32,
			Timeout: 30 * time.Second,
		},
		Matching: MatchingConfig{
			SimilarityThreshold: 0.3,
			SeedCount:           2,
			MaxNeighbors:        100,
			MinArea:             5,
			MinSide:             5,
		},
		Vision: VisionConfig{Model: "gemini-1.5-flash", VerifyAbove: 0.2},
		OCR:    OCRConfig{Language: "eng", MinSymbolPixels: 50},
		Output: OutputConfig{
			LineThickness:       3,
			UnassignedThickness: 5,
			UnassignedMinArea:   40,
			UnassignedMinSide:   16,
			IncludeCrops:        true,
		},
		Diagnostics: DiagnosticsConfig{Dir: filepath.Join(os.TempDir(), "plan-symbols")},
		Log:         LogConfig{Level: "info"},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any) and
// the process environment, validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PLAN_SYMBOLS_* variables found by lookup.
// GEMINI_API_KEY is honoured when the prefixed key is unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *float64) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
			}
			return
		}
		*dst = f
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
			}
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
			}
			return
		}
		*dst = b
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	str("DETECTOR_KIND", &c.Detector.Kind)
	str("DETECTOR_URL", &c.Detector.URL)
	integer("MAX_WORKERS", &c.Detector.MaxWorkers)
	num("MIN_SCORE", &c.Detector.MinScore)
	str("LEGEND_DETECTOR_KIND", &c.Legend.Detector.Kind)
	str("LEGEND_DETECTOR_URL", &c.Legend.Detector.URL)
	str("EMBEDDING_KIND", &c.Embedding.Kind)
	str("EMBEDDING_URL", &c.Embedding.URL)
	str("EMBEDDING_MODEL", &c.Embedding.Model)
	str("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	num("SIMILARITY_THRESHOLD", &c.Matching.SimilarityThreshold)
	boolean("VISION_ENABLED", &c.Vision.Enabled)
	str("GEMINI_MODEL", &c.Vision.Model)
	str("GEMINI_API_KEY", &c.Vision.APIKey)
	if c.Vision.APIKey == "" {
		if v, ok := lookup("GEMINI_API_KEY"); ok {
			c.Vision.APIKey = strings.TrimSpace(v)
		}
	}
	boolean("OCR_ENABLED", &c.OCR.Enabled)
	str("TESSDATA_PREFIX", &c.OCR.TessdataPrefix)
	boolean("DIAGNOSTICS", &c.Diagnostics.Enabled)
	str("DIAGNOSTICS_DIR", &c.Diagnostics.Dir)
	str("STORE_DSN", &c.Store.DSN)

	return firstErr
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Tiling.TileWidth <= 0 || c.Tiling.TileHeight <= 0 {
		add("tiling: tile size must be positive, got %dx%d", c.Tiling.TileWidth, c.Tiling.TileHeight)
	}
	if c.Tiling.Overlap < 0 {
		add("tiling: overlap must not be negative")
	}
	if c.Tiling.DedupeIoU < 0 || c.Tiling.DedupeIoU > 1 {
		add("tiling: dedupe_iou must be within [0,1]")
	}

	validateDetector := func(name string, d DetectorConfig) {
		switch d.Kind {
		case DetectorContour:
		case DetectorHTTP:
			if d.URL == "" {
				add("%s: url is required for the http detector", name)
			}
		default:
			add("%s: unknown kind %q", name, d.Kind)
		}
		if d.MinScore < 0 || d.MinScore > 1 {
			add("%s: min_score must be within [0,1]", name)
		}
		if d.NMSIoU < 0 || d.NMSIoU > 1 {
			add("%s: nms_iou must be within [0,1]", name)
		}
	}
	validateDetector("detector", c.Detector)
	if c.Detector.MaxWorkers < 1 {
		add("detector: max_workers must be at least 1")
	}
	if c.Legend.Detector.Kind != "" {
		validateDetector("legend.detector", c.Legend.Detector)
	}
	if c.Legend.Padding < 0 {
		add("legend: padding must not be negative")
	}

	switch c.Embedding.Kind {
	case EmbeddingThumbnail:
		if c.Embedding.Size <= 0 {
			add("embedding: size must be positive")
		}
	case EmbeddingHTTP:
		if c.Embedding.URL == "" || c.Embedding.Model == "" {
			add("embedding: url and model are required for the http extractor")
		}
	default:
		add("embedding: unknown kind %q", c.Embedding.Kind)
	}
	if c.Embedding.Components < 0 {
		add("embedding: components must not be negative")
	}

	m := c.Matching
	if m.SimilarityThreshold <= 0 {
		add("matching: similarity_threshold must be positive")
	}
	if m.SeedCount < 0 || m.MaxNeighbors <= 0 || m.MinArea < 0 || m.MinSide < 0 {
		add("matching: seed_count, max_neighbors, min_area and min_side must not be negative, max_neighbors must be positive")
	}
	for _, r := range m.Rotations {
		if r%90 != 0 {
			add("matching: rotation %d is not a multiple of 90", r)
		}
	}

	if c.Vision.Enabled && c.Vision.APIKey == "" {
		add("vision: api_key (or GEMINI_API_KEY) is required when enabled")
	}
	if c.Output.LineThickness <= 0 || c.Output.UnassignedThickness <= 0 {
		add("output: line thicknesses must be positive")
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Dir == "" {
		add("diagnostics: dir is required when enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// Save marshals cfg to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
