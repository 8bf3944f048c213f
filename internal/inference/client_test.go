package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	c := NewClient(&ClientConfig{
		BaseURL:        url,
		APIKey:         "test-key",
		HFToken:        "hf_test",
		RequestTimeout: 5 * time.Second,
		Logger:         zerolog.Nop(),
	})
	c.backoff = time.Millisecond
	return c
}

func TestInferPostsMultipartBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/infer", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		assert.Equal(t, "frame_000.jpg", files[0].Filename)
		assert.Equal(t, "frame_001.jpg", files[1].Filename)
		assert.Equal(t, "image/jpeg", files[0].Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": {"id": "doom_v1"},
			"batch_time_ms": 118.4,
			"results": [
				{"label_scores": {"real": 0.9, "artificial": 0.1}, "inference_time_ms": 50},
				{"label_scores": {"real": 0.2, "artificial": 0.8}, "inference_time_ms": 55}
			]
		}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Infer(context.Background(), [][]byte{{0xFF, 0xD8}, {0xFF, 0xD8}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.InDelta(t, 118.4, resp.BatchTimeMS, 1e-9)
	assert.InDelta(t, 0.8, resp.Results[1].LabelScores["artificial"], 1e-9)
}

func TestInferRetriesOn503(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"model": {}, "batch_time_ms": 10, "results": [{"label_scores": {"real": 1, "artificial": 0}, "inference_time_ms": 5}]}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Infer(context.Background(), [][]byte{{0xFF}})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestInferDoesNotRetryOn401(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Infer(context.Background(), [][]byte{{0xFF}})
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInferEmptyBatchRejected(t *testing.T) {
	_, err := newTestClient("http://localhost:1").Infer(context.Background(), nil)
	require.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).HealthCheck(context.Background(), 5*time.Second)
	assert.NoError(t, err)
}

func TestHealthCheckUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := newTestClient(server.URL).HealthCheck(context.Background(), 5*time.Second)
	assert.Error(t, err)
}
