package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func pathProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Inspection
		{
			Name:        "image_load",
			Description: "Load a drawing page and return its dimensions, format and the number of sections it splits into.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the image file"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_crop",
			Description: "Crop a rectangular region from an image and return it as base64-encoded PNG. Use this to look closely at a detected symbol.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the image file"),
					"x1": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge X coordinate (0-based)",
					},
					"y1": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge Y coordinate (0-based)",
					},
					"x2": map[string]interface{}{
						"type":        "integer",
						"description": "Right edge X coordinate (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "integer",
						"description": "Bottom edge Y coordinate (exclusive)",
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Optional scale factor (e.g., 2.0 to double size). Default 1.0",
						"default":     1.0,
					},
				},
				"required": []string{"path", "x1", "y1", "x2", "y2"},
			},
		},

		// Symbol pipeline
		{
			Name:        "symbols_split",
			Description: "Split a page into fixed-size sections and return each section's offset and extent in page coordinates.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the page image"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "symbols_detect",
			Description: "Detect symbols on every section of a page and return the reconciled boxes in page coordinates.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":        pathProperty("Absolute path to the page image"),
					"output_path": pathProperty("Optional path for a PNG of the page with every detection outlined"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "symbols_extract_legend",
			Description: "Extract the exemplar symbols from a legend image, in the priority order used for matching.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the legend image"),
					"include_crops": map[string]interface{}{
						"type":        "boolean",
						"description": "Return each exemplar as base64-encoded PNG. Default false",
						"default":     false,
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "symbols_match",
			Description: "Run the full pipeline: detect symbols on the page, extract exemplars from the legend and assign every detected box to at most one legend symbol.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"page_path":   pathProperty("Absolute path to the page image"),
					"legend_path": pathProperty("Absolute path to the legend image"),
					"output_path": pathProperty("Optional path for the annotated page PNG"),
					"no_cache": map[string]interface{}{
						"type":        "boolean",
						"description": "Skip the report cache for this call",
						"default":     false,
					},
				},
				"required": []string{"page_path", "legend_path"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
