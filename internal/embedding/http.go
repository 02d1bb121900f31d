package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HTTPConfig configures an HTTPExtractor.
type HTTPConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// HTTPExtractor calls an OpenAI-compatible embeddings endpoint that accepts
// images as data URLs:
//
//	POST {BaseURL}/embeddings
//	{"model": "...", "input": ["data:image/png;base64,..."]}
type HTTPExtractor struct {
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewHTTPExtractor creates an HTTPExtractor.
func NewHTTPExtractor(cfg HTTPConfig) *HTTPExtractor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Embed implements Extractor.
func (e *HTTPExtractor) Embed(ctx context.Context, img image.Image) ([]float64, error) {
	if e.model == "" {
		return nil, errors.New("embeddings model is not configured")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "encoding crop")
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	b, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": []string{dataURL},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "embeddings request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("embeddings request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "cannot parse embeddings response")
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, errors.New("embeddings response missing embedding")
	}
	return parsed.Data[0].Embedding, nil
}
