package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDetector sends images to a remote inference service.
//
// The image is uploaded as a multipart "file" field containing a PNG. The
// service must answer with:
//
//	{"detections": [{"box": [x1, y1, x2, y2], "score": 0.93, "class": 0}]}
//
// where box coordinates are pixels in the uploaded image. Fractional
// coordinates are truncated toward zero.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector creates a detector that posts to inferenceURL.
func NewHTTPDetector(inferenceURL string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPDetector{
		url:    strings.TrimRight(inferenceURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type wireDetection struct {
	Box   []float64 `json:"box"`
	Score float64   `json:"score"`
	Class int       `json:"class"`
}

// Detect implements Detector.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "section.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("failed to encode section: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Detections []wireDetection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	dets := make([]Detection, 0, len(result.Detections))
	for _, w := range result.Detections {
		if len(w.Box) != 4 {
			continue
		}
		dets = append(dets, Detection{
			Bounds: Bounds{
				X1: int(w.Box[0]),
				Y1: int(w.Box[1]),
				X2: int(w.Box[2]),
				Y2: int(w.Box[3]),
			},
			Score: w.Score,
			Class: w.Class,
		})
	}
	return dets, nil
}

// HealthURL returns the /health endpoint on the inference service's host.
func (d *HTTPDetector) HealthURL() (string, error) {
	base, err := url.Parse(d.url)
	if err != nil {
		return "", fmt.Errorf("failed to parse inference URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("inference URL %q has no scheme or host", d.url)
	}
	return base.ResolveReference(&url.URL{Path: "/health"}).String(), nil
}

// CheckHealth probes the service's /health endpoint.
func (d *HTTPDetector) CheckHealth(ctx context.Context) error {
	health, err := d.HealthURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, health, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
