package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/models"
)

// Retry policy for classifier calls. The service scales to zero, so the
// first attempt after idle often times out while it warms up.
const (
	maxAttempts    = 3
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// StatusError reports a non-2xx classifier response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference API returned status %d: %s", e.Code, e.Body)
}

// Client talks to the frame-classification service.
type Client struct {
	baseURL    string
	apiKey     string
	hfToken    string
	httpClient *http.Client
	backoff    time.Duration
	logger     zerolog.Logger
}

// ClientConfig holds classifier client configuration.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	HFToken        string
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// NewClient creates a classifier client.
func NewClient(config *ClientConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		hfToken: config.HFToken,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		backoff: initialBackoff,
		logger:  config.Logger,
	}
}

// Infer posts JPEG frames as one multipart batch and returns per-frame
// label scores. Transient failures are retried with exponential backoff
// and jitter.
func (c *Client) Infer(ctx context.Context, frames [][]byte) (*models.InferenceResponse, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to classify")
	}

	var lastErr error
	backoff := c.backoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			if jittered > maxBackoff {
				jittered = maxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jittered):
			}
			backoff *= 2
		}

		resp, err := c.doInfer(ctx, frames)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("inference attempt failed")
	}

	return nil, fmt.Errorf("inference failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doInfer(ctx context.Context, frames [][]byte) (*models.InferenceResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for idx, blob := range frames {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files"; filename="frame_%03d.jpg"`, idx))
		header.Set("Content-Type", "image/jpeg")
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart section: %w", err)
		}
		if _, err := part.Write(blob); err != nil {
			return nil, fmt.Errorf("failed to write frame %d: %w", idx, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/infer", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.hfToken)
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var parsed models.InferenceResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse inference response: %w", err)
	}
	return &parsed, nil
}

// HealthCheck pings /healthz. It doubles as the wake call for the
// scale-to-zero deployment.
func (c *Client) HealthCheck(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.hfToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference API unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset")
}
