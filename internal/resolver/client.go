package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scrollsafe/doomscroller/internal/models"
)

// Client calls a remote resolver service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a resolver client. The HTTP timeout gets a buffer on
// top of the extraction timeout so slow downloads fail in the resolver,
// not in transit.
func NewClient(baseURL string, extractTimeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: extractTimeout + 30*time.Second,
		},
	}
}

// Analyze runs extraction and inference remotely. A success=false
// response comes back as an error carrying the resolver's message.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*models.InferenceResponse, int, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal resolver request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create resolver request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("resolver service unavailable: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read resolver response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("resolver returned status %d: %s", httpResp.StatusCode, truncate(body))
	}

	var resp AnalyzeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("failed to decode resolver response: %w", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unknown resolver error"
		}
		return nil, 0, fmt.Errorf("resolver failed: %s", msg)
	}
	if resp.Inference == nil {
		return nil, 0, fmt.Errorf("resolver returned success without inference data")
	}
	return resp.Inference, resp.FramesCount, nil
}

// Health checks the resolver's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resolver health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolver unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
