package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrollsafe/doomscroller/internal/models"
)

func TestQueueForPriority(t *testing.T) {
	cases := []struct {
		priority int
		queue    string
	}{
		{9, QueueAnalyzeCritical},
		{7, QueueAnalyzeCritical},
		{6, QueueAnalyzeDefault},
		{5, QueueAnalyzeDefault},
		{4, QueueAnalyzeDefault},
		{3, QueueAnalyzeLow},
		{0, QueueAnalyzeLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.queue, QueueForPriority(tc.priority), "priority %d", tc.priority)
	}
}

func newTestEnqueuer(t *testing.T) (*Enqueuer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	e, err := NewEnqueuer(&EnqueuerConfig{
		BrokerURL: "redis://" + mr.Addr(),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, mr
}

func TestEnqueueAnalyzeRoutesByPriority(t *testing.T) {
	e, mr := newTestEnqueuer(t)

	task := models.AnalyzeTask{
		Platform: "youtube",
		VideoID:  "dQw4w9WgXcQ",
		URL:      "https://www.youtube.com/shorts/dQw4w9WgXcQ",
		Title:    "some short",
	}
	require.NoError(t, e.EnqueueAnalyze(context.Background(), task, 8))
	require.NoError(t, e.EnqueueAnalyze(context.Background(), models.AnalyzeTask{
		Platform: "youtube", VideoID: "other_vid_id", URL: "u",
	}, 2))

	// asynq keeps pending task IDs in a per-queue list
	assert.True(t, mr.Exists("asynq:{analyze:critical}:pending"))
	assert.True(t, mr.Exists("asynq:{analyze:low}:pending"))
	assert.False(t, mr.Exists("asynq:{analyze:default}:pending"))
}

func TestEnqueueDeepScanUsesDedicatedQueue(t *testing.T) {
	e, mr := newTestEnqueuer(t)

	require.NoError(t, e.EnqueueDeepScan(context.Background(), models.DeepScanTask{
		JobID:    "job-1",
		Platform: "youtube",
		VideoID:  "dQw4w9WgXcQ",
	}))

	assert.True(t, mr.Exists("asynq:{deep_scan}:pending"))
}

func TestAnalyzePayloadRoundTrip(t *testing.T) {
	vph := 123.4
	task := models.AnalyzeTask{
		Platform:     "youtube",
		VideoID:      "dQw4w9WgXcQ",
		URL:          "https://www.youtube.com/shorts/dQw4w9WgXcQ",
		Title:        "title",
		Channel:      "channel",
		PublishedAt:  "2026-08-01T10:00:00Z",
		Region:       "US",
		ViewsPerHour: &vph,
	}
	payload, err := json.Marshal(task)
	require.NoError(t, err)

	var decoded models.AnalyzeTask
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, task, decoded)
}

func TestConsumerRegistersHandlers(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewConsumer(&ConsumerConfig{
		BrokerURL: "redis://" + mr.Addr(),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	c.Handle(TypeAnalyzeVideo, func(ctx context.Context, task *asynq.Task) error { return nil })
	c.Handle(TypeDiscoverySweep, func(ctx context.Context, task *asynq.Task) error { return nil })
	c.Shutdown()
}

func TestRetryDelayDiscoveryUsesConfiguredDelay(t *testing.T) {
	delay := retryDelay(45 * time.Second)

	sweep := asynq.NewTask(TypeDiscoverySweep, nil)
	assert.Equal(t, 45*time.Second, delay(0, errors.New("unhealthy"), sweep))
	assert.Equal(t, 45*time.Second, delay(3, errors.New("unhealthy"), sweep))

	analyze := asynq.NewTask(TypeAnalyzeVideo, nil)
	assert.Equal(t, 1*time.Minute, delay(0, errors.New("boom"), analyze))
	assert.Equal(t, 2*time.Minute, delay(1, errors.New("boom"), analyze))
	assert.Equal(t, 4*time.Minute, delay(2, errors.New("boom"), analyze))
}
