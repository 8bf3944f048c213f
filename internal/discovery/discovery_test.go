package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrollsafe/doomscroller/internal/cache"
	"github.com/scrollsafe/doomscroller/internal/models"
	"github.com/scrollsafe/doomscroller/internal/provider"
)

type fakeProvider struct {
	name   string
	videos []models.DiscoveredVideo
	err    error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, since time.Time, limit int) ([]models.DiscoveredVideo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.videos) > limit {
		return f.videos[:limit], nil
	}
	return f.videos, nil
}

type captureEnqueuer struct {
	tasks    []models.AnalyzeTask
	priority []int
	err      error
}

func (c *captureEnqueuer) EnqueueAnalyze(ctx context.Context, task models.AnalyzeTask, priority int) error {
	if c.err != nil {
		return c.err
	}
	c.tasks = append(c.tasks, task)
	c.priority = append(c.priority, priority)
	return nil
}

func video(platform, id string, vph float64) models.DiscoveredVideo {
	return models.DiscoveredVideo{
		Platform:     platform,
		VideoID:      id,
		URL:          "https://example.com/" + id,
		ViewsPerHour: vph,
	}
}

func newSweeper(t *testing.T, providers []provider.Provider, enq Enqueuer, totalLimit int) (*Sweeper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	registry := provider.NewRegistry()
	for _, p := range providers {
		require.NoError(t, registry.Register(p))
	}

	return NewSweeper(&SweeperConfig{
		Registry:         registry,
		Cache:            cache.NewFromClient(client, zerolog.Nop()),
		Enqueuer:         enq,
		LimitPerProvider: 100,
		TotalLimit:       totalLimit,
		Priority:         5,
		DedupeTTL:        24 * time.Hour,
		Logger:           zerolog.Nop(),
	}), mr
}

func TestRunRanksAndEnqueues(t *testing.T) {
	enq := &captureEnqueuer{}
	s, _ := newSweeper(t, []provider.Provider{
		&fakeProvider{name: "youtube", videos: []models.DiscoveredVideo{
			video("youtube", "low", 10),
			video("youtube", "high", 500),
			video("youtube", "mid", 100),
		}},
	}, enq, 100)

	stats, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 3, stats.Enqueued)

	require.Len(t, enq.tasks, 3)
	assert.Equal(t, "high", enq.tasks[0].VideoID)
	assert.Equal(t, "mid", enq.tasks[1].VideoID)
	assert.Equal(t, "low", enq.tasks[2].VideoID)
	assert.Equal(t, 5, enq.priority[0])
}

func TestRunDedupesAcrossProviders(t *testing.T) {
	enq := &captureEnqueuer{}
	s, _ := newSweeper(t, []provider.Provider{
		&fakeProvider{name: "sweep-a", videos: []models.DiscoveredVideo{
			video("youtube", "dup", 50),
			video("youtube", "only-a", 20),
		}},
		&fakeProvider{name: "sweep-b", videos: []models.DiscoveredVideo{
			video("youtube", "dup", 300),
		}},
	}, enq, 100)

	stats, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 1, stats.Deduped)
	assert.Equal(t, 2, stats.Enqueued)

	// the higher views-per-hour copy wins the dedupe
	require.Len(t, enq.tasks, 2)
	assert.Equal(t, "dup", enq.tasks[0].VideoID)
	require.NotNil(t, enq.tasks[0].ViewsPerHour)
	assert.InDelta(t, 300, *enq.tasks[0].ViewsPerHour, 1e-9)
}

func TestRunTotalLimitCut(t *testing.T) {
	enq := &captureEnqueuer{}
	s, _ := newSweeper(t, []provider.Provider{
		&fakeProvider{name: "youtube", videos: []models.DiscoveredVideo{
			video("youtube", "a", 1),
			video("youtube", "b", 3),
			video("youtube", "c", 2),
		}},
	}, enq, 2)

	stats, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Enqueued)
	assert.Equal(t, "b", enq.tasks[0].VideoID)
	assert.Equal(t, "c", enq.tasks[1].VideoID)
}

func TestRunSkipsRecentlyDiscovered(t *testing.T) {
	enq := &captureEnqueuer{}
	s, mr := newSweeper(t, []provider.Provider{
		&fakeProvider{name: "youtube", videos: []models.DiscoveredVideo{
			video("youtube", "seen", 10),
			video("youtube", "new", 5),
		}},
	}, enq, 100)

	require.NoError(t, mr.Set("discovered:youtube:seen", "1"))

	stats, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Enqueued)
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, "new", enq.tasks[0].VideoID)
}

func TestRunToleratesOneFailingProvider(t *testing.T) {
	enq := &captureEnqueuer{}
	s, _ := newSweeper(t, []provider.Provider{
		&fakeProvider{name: "broken", err: errors.New("quota exceeded")},
		&fakeProvider{name: "youtube", videos: []models.DiscoveredVideo{
			video("youtube", "ok", 10),
		}},
	}, enq, 100)

	stats, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
}

func TestRunAllProvidersFailing(t *testing.T) {
	enq := &captureEnqueuer{}
	s, _ := newSweeper(t, []provider.Provider{
		&fakeProvider{name: "a", err: errors.New("down")},
		&fakeProvider{name: "b", err: errors.New("down too")},
	}, enq, 100)

	_, err := s.Run(context.Background(), time.Time{})
	assert.Error(t, err)
}

func TestRunEmptyRegistry(t *testing.T) {
	enq := &captureEnqueuer{}
	s, _ := newSweeper(t, nil, enq, 100)

	stats, err := s.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, stats.Fetched)
}
