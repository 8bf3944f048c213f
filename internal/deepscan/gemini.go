package deepscan

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the generateContent REST endpoint for frame
// forensics.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Logger  zerolog.Logger
}

func NewGeminiClient(config *GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini client requires an API key")
	}
	model := config.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = geminiAPIBase
	}
	return &GeminiClient{
		apiKey:     config.APIKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     config.Logger,
	}, nil
}

// Model reports the configured model name for result records.
func (g *GeminiClient) Model() string { return g.model }

// Scan sends the frames to Gemini and parses the structured verdict. A
// response that fails to parse is fed back once through a repair prompt
// before giving up.
func (g *GeminiClient) Scan(ctx context.Context, frames [][]byte) (*geminiPayload, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames provided")
	}

	parts := []geminiPart{{Text: buildPrompt(len(frames))}}
	for _, frame := range frames {
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MimeType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(frame),
			},
		})
	}

	raw, err := g.generate(ctx, parts)
	if err != nil {
		return nil, err
	}

	payload, err := parsePayload(raw)
	if err == nil {
		return payload, nil
	}
	g.logger.Warn().Err(err).Msg("gemini parse failed, attempting repair retry")

	repairRaw, repairErr := g.generate(ctx, []geminiPart{{Text: buildRepairPrompt(raw)}})
	if repairErr != nil {
		return nil, fmt.Errorf("gemini repair call failed: %w", repairErr)
	}
	payload, err = parsePayload(repairRaw)
	if err != nil {
		return nil, fmt.Errorf("gemini repair response unparseable: %w", err)
	}
	return payload, nil
}

func (g *GeminiClient) generate(ctx context.Context, parts []geminiPart) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0,
			MaxOutputTokens:  1400,
			ResponseMimeType: "application/json",
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}

	var texts []string
	for _, candidate := range apiResp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		break
	}
	raw := strings.TrimSpace(strings.Join(texts, "\n"))
	if raw == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return raw, nil
}

func buildPrompt(frameCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a forensic visual analyst. You will be given video frames (in order).\n")
	fmt.Fprintf(&b, "There are %d frames.\n", frameCount)
	b.WriteString("Task: for EACH frame, output (1) a verdict and (2) a confidence score.\n")
	b.WriteString("Then output ONE short overall summary that synthesizes the evidence across all frames.\n\n")
	b.WriteString(`Verdict must be exactly one of: "ai-detected", "real", "suspicious".` + "\n")
	b.WriteString("Confidence must be a number from 0.0 to 1.0.\n\n")
	b.WriteString("Be conservative and filter-aware:\n")
	b.WriteString(`- Do NOT classify as "ai-detected" based only on smooth skin, beauty filters, denoise, compression artifacts, bokeh, cinematic color grading, motion blur, or shallow depth of field.` + "\n")
	b.WriteString(`- Use "ai-detected" only when there are clear structural/semantic clues such as impossible anatomy, warped or unstable text, object merging, identity drift, impossible causality, or scene-logic contradictions.` + "\n")
	b.WriteString("- Evaluate temporal consistency AND semantic/context plausibility together. A video can be temporally consistent but still synthetic due to implausible context/physics.\n")
	b.WriteString(`- If evidence is weak or explainable by filters/compression, prefer "suspicious" over "ai-detected".` + "\n")
	b.WriteString("- If cues are mostly soft visual style cues, cap confidence at 0.7.\n\n")
	b.WriteString("Return a structured response matching this shape (JSON-like is acceptable):\n")
	b.WriteString("{\n  \"frames\": [\n    {\"frame\": 1, \"verdict\": \"...\", \"confidence\": 0.0, \"reason\": \"max 16 words\"},\n    ...\n")
	fmt.Fprintf(&b, "    {\"frame\": %d, \"verdict\": \"...\", \"confidence\": 0.0, \"reason\": \"max 16 words\"}\n  ],\n", frameCount)
	b.WriteString("  \"summary\": {\"overall\": \"max 140 words\"}\n}\n")
	return b.String()
}

func buildRepairPrompt(raw string) string {
	return "Convert the following content into valid JSON with this schema only: " +
		`{"frames":[{"frame":1,"verdict":"ai-detected|real|suspicious","confidence":0.0,"reason":"..."}],` +
		`"summary":{"overall":"..."}}. Return JSON only.` + "\n\nCONTENT:\n" + raw
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
