// Package vision asks a vision-language model whether two crops show the same
// drawing symbol.
package vision

import (
	"context"
	"encoding/json"
	"image"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/ironsheep/plan-symbols-mcp/internal/imaging"
)

const systemPrompt = `You compare symbols cut from scanned engineering and architectural drawings.
The first image is a legend exemplar. The second image is a candidate found on the drawing.
Decide whether the candidate is the same symbol as the exemplar. Ignore differences in scale,
line weight, scan noise and small rotations. Different symbols with a similar outline are not the same.
Answer only with JSON: {"same": true|false, "reason": "<short reason>"}.`

const maxAttempts = 3

// Verdict is the model's answer.
type Verdict struct {
	Same   bool   `json:"same"`
	Reason string `json:"reason"`
}

// GeminiVerifier implements the matcher's verification hook with Gemini.
type GeminiVerifier struct {
	APIKey string
	Model  string
}

// NewGeminiVerifier creates a verifier.
func NewGeminiVerifier(apiKey, model string) *GeminiVerifier {
	return &GeminiVerifier{
		APIKey: strings.TrimSpace(apiKey),
		Model:  strings.TrimSpace(model),
	}
}

// SameSymbol reports whether candidate depicts the exemplar's symbol.
func (v *GeminiVerifier) SameSymbol(ctx context.Context, exemplar, candidate image.Image) (bool, error) {
	verdict, err := v.Compare(ctx, exemplar, candidate)
	if err != nil {
		return false, err
	}
	return verdict.Same, nil
}

// Compare returns the full verdict for two crops.
func (v *GeminiVerifier) Compare(ctx context.Context, exemplar, candidate image.Image) (Verdict, error) {
	if v.APIKey == "" {
		return Verdict{}, errors.New("gemini API key is empty")
	}

	a, err := imaging.EncodePNG(exemplar)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "encoding exemplar")
	}
	b, err := imaging.EncodePNG(candidate)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "encoding candidate")
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(v.APIKey))
	if err != nil {
		return Verdict{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(v.Model)
	if m == nil {
		return Verdict{}, errors.New("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	parts := []genai.Part{
		genai.Text("Exemplar:"),
		&genai.Blob{MIMEType: "image/png", Data: a},
		genai.Text("Candidate:"),
		&genai.Blob{MIMEType: "image/png", Data: b},
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return Verdict{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			return Verdict{}, errors.New("gemini compare: empty response")
		}
		return ParseVerdict(txt)
	}
	return Verdict{}, errors.Wrap(lastErr, "gemini compare")
}

// ParseVerdict reads a model reply. JSON is preferred; a bare yes/no or
// true/false reply is accepted as well.
func ParseVerdict(txt string) (Verdict, error) {
	txt = stripCodeFences(txt)

	var out Verdict
	if err := json.Unmarshal([]byte(txt), &out); err == nil {
		return out, nil
	}

	fields := strings.Fields(txt)
	if len(fields) == 0 {
		return Verdict{}, errors.New("gemini compare: empty verdict")
	}
	switch strings.ToLower(strings.Trim(fields[0], ".,!:;\"'")) {
	case "yes", "true", "same":
		return Verdict{Same: true, Reason: txt}, nil
	case "no", "false", "different":
		return Verdict{Same: false, Reason: txt}, nil
	}
	return Verdict{}, errors.Errorf("gemini compare: cannot read verdict %q", txt)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
