package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ironsheep/plan-symbols-mcp/internal/detection"
	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
	"github.com/ironsheep/plan-symbols-mcp/internal/pipeline"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "symbols_match").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Warnw("tool failed", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "image_load":
		return s.handleImageLoad(args)
	case "image_crop":
		return s.handleImageCrop(args)

	case "symbols_split":
		return s.handleSymbolsSplit(args)
	case "symbols_detect":
		return s.handleSymbolsDetect(ctx, args)
	case "symbols_extract_legend":
		return s.handleSymbolsExtractLegend(ctx, args)
	case "symbols_match":
		return s.handleSymbolsMatch(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func (s *Server) requirePipeline() error {
	if s.pipeline == nil {
		return fmt.Errorf("symbol pipeline is not configured")
	}
	return nil
}

// === Inspection Handlers ===

type imageLoadArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageLoad(args json.RawMessage) (interface{}, error) {
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	info, err := imaging.LoadImageInfo(s.cache, a.Path)
	if err != nil {
		return nil, err
	}
	if s.pipeline != nil {
		img, err := s.cache.Load(a.Path)
		if err != nil {
			return nil, err
		}
		sections, err := s.pipeline.Split(img)
		if err != nil {
			return nil, err
		}
		info.Sections = len(sections)
	}
	return info, nil
}

type imageCropArgs struct {
	Path  string  `json:"path"`
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	X2    int     `json:"x2"`
	Y2    int     `json:"y2"`
	Scale float64 `json:"scale"`
}

func (s *Server) handleImageCrop(args json.RawMessage) (interface{}, error) {
	var a imageCropArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return imaging.CropScaled(img, a.X1, a.Y1, a.X2, a.Y2, a.Scale)
}

// === Symbol Pipeline Handlers ===

type sectionInfo struct {
	Index  int `json:"index"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type splitResult struct {
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Sections []sectionInfo `json:"sections"`
}

func (s *Server) handleSymbolsSplit(args json.RawMessage) (interface{}, error) {
	if err := s.requirePipeline(); err != nil {
		return nil, err
	}
	var a imageLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	sections, err := s.pipeline.Split(img)
	if err != nil {
		return nil, fmt.Errorf("failed to split page: %w", err)
	}

	b := img.Bounds()
	out := splitResult{Width: b.Dx(), Height: b.Dy(), Sections: make([]sectionInfo, len(sections))}
	for i, sec := range sections {
		out.Sections[i] = sectionInfo{
			Index:  sec.Index,
			X:      sec.Rect.Min.X,
			Y:      sec.Rect.Min.Y,
			Width:  sec.Rect.Dx(),
			Height: sec.Rect.Dy(),
		}
	}
	return out, nil
}

type symbolsDetectArgs struct {
	Path       string `json:"path"`
	OutputPath string `json:"output_path"`
}

type detectResult struct {
	Sections   int                  `json:"sections"`
	Boxes      []pipeline.BoxReport `json:"boxes"`
	PerSection []int                `json:"per_section"`
	OutputPath string               `json:"output_path,omitempty"`
}

func (s *Server) handleSymbolsDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if err := s.requirePipeline(); err != nil {
		return nil, err
	}
	var a symbolsDetectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	det, err := s.pipeline.Detect(ctx, img)
	if err != nil {
		return nil, err
	}

	out := detectResult{
		Sections:   len(det.Sections),
		Boxes:      det.Report(),
		PerSection: make([]int, len(det.PerSection)),
	}
	for i, dets := range det.PerSection {
		out.PerSection[i] = len(dets)
	}
	if a.OutputPath != "" {
		if err := imaging.SavePNG(a.OutputPath, det.Reconciler.Image()); err != nil {
			return nil, err
		}
		out.OutputPath = a.OutputPath
	}
	return out, nil
}

type symbolsExtractLegendArgs struct {
	Path         string `json:"path"`
	IncludeCrops bool   `json:"include_crops"`
}

type legendSymbol struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Bounds      detection.Bounds `json:"bounds"`
	Color       string           `json:"color"`
	ImageBase64 string           `json:"image_base64,omitempty"`
}

func (s *Server) handleSymbolsExtractLegend(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if err := s.requirePipeline(); err != nil {
		return nil, err
	}
	var a symbolsExtractLegendArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	templates, err := s.pipeline.ExtractLegend(ctx, img)
	if err != nil {
		return nil, err
	}
	out := make([]legendSymbol, len(templates))
	for i, t := range templates {
		out[i] = legendSymbol{
			ID:     t.ID,
			Name:   t.Name,
			Bounds: t.Bounds,
			Color:  imaging.Hex(imaging.ClassColor(i)),
		}
		if a.IncludeCrops {
			if out[i].ImageBase64, err = imaging.EncodeBase64PNG(t.Image); err != nil {
				return nil, err
			}
		}
	}
	return map[string]interface{}{"symbols": out}, nil
}

type symbolsMatchArgs struct {
	PagePath   string `json:"page_path"`
	LegendPath string `json:"legend_path"`
	OutputPath string `json:"output_path"`
	NoCache    bool   `json:"no_cache"`
}

func (s *Server) handleSymbolsMatch(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if err := s.requirePipeline(); err != nil {
		return nil, err
	}
	var a symbolsMatchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.PagePath == "" || a.LegendPath == "" {
		return nil, fmt.Errorf("page_path and legend_path are required")
	}
	page, err := s.cache.Load(a.PagePath)
	if err != nil {
		return nil, err
	}
	legend, err := s.cache.Load(a.LegendPath)
	if err != nil {
		return nil, err
	}

	return s.pipeline.Run(ctx, page, legend, pipeline.RunOptions{
		PageName:      a.PagePath,
		LegendName:    a.LegendPath,
		AnnotatedPath: a.OutputPath,
		NoCache:       a.NoCache,
	})
}
