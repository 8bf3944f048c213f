package deepscan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	})
	return string(b)
}

func newGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g, err := NewGeminiClient(&GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
		BaseURL: server.URL,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return g
}

func TestScanRequestShape(t *testing.T) {
	g := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		parts := req.Contents[0].Parts
		// one prompt part plus two image parts
		require.Len(t, parts, 3)
		assert.Contains(t, parts[0].Text, "There are 2 frames")
		require.NotNil(t, parts[1].InlineData)
		assert.Equal(t, "image/jpeg", parts[1].InlineData.MimeType)
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		assert.Equal(t, 1400, req.GenerationConfig.MaxOutputTokens)

		w.Write([]byte(geminiBody(validJSON)))
	})

	payload, err := g.Scan(context.Background(), [][]byte{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Len(t, payload.Frames, 2)
}

func TestScanRepairRetry(t *testing.T) {
	var calls int32
	g := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(geminiBody("sorry, here is prose with no structure")))
			return
		}
		// the repair call must carry the first response back as content
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Contents[0].Parts[0].Text, "Return JSON only")
		assert.Contains(t, req.Contents[0].Parts[0].Text, "prose with no structure")

		w.Write([]byte(geminiBody(validJSON)))
	})

	payload, err := g.Scan(context.Background(), [][]byte{{1}})
	require.NoError(t, err)
	assert.Len(t, payload.Frames, 2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestScanServerError(t *testing.T) {
	g := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := g.Scan(context.Background(), [][]byte{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestScanEmptyFrames(t *testing.T) {
	g := newGemini(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := g.Scan(context.Background(), nil)
	assert.Error(t, err)
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(&GeminiConfig{})
	assert.Error(t, err)
}
