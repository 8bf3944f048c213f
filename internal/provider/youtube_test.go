package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestYouTube(t *testing.T, handler http.Handler) *YouTube {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	y, err := NewYouTube(&YouTubeConfig{
		APIKey:  "test-key",
		Regions: []string{"US"},
		BaseURL: server.URL,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return y
}

func searchBody(ids ...string) string {
	items := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]interface{}{"id": map[string]string{"videoId": id}})
	}
	b, _ := json.Marshal(map[string]interface{}{"items": items})
	return string(b)
}

func videoItem(id, title, channel string, views int64, age time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"id": id,
		"snippet": map[string]interface{}{
			"title":        title,
			"channelTitle": channel,
			"publishedAt":  time.Now().UTC().Add(-age).Format(time.RFC3339),
		},
		"statistics": map[string]interface{}{"viewCount": fmt.Sprintf("%d", views)},
	}
}

func TestFetchRanksByViewsPerHour(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "viewCount", r.URL.Query().Get("order"))
		assert.Equal(t, "short", r.URL.Query().Get("videoDuration"))
		assert.Equal(t, "#shorts", r.URL.Query().Get("q"))
		assert.Equal(t, "US", r.URL.Query().Get("regionCode"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		fmt.Fprint(w, searchBody("aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"))
	})
	handler.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snippet,contentDetails,statistics", r.URL.Query().Get("part"))
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		assert.Len(t, ids, 3)
		body, _ := json.Marshal(map[string]interface{}{"items": []map[string]interface{}{
			// 1000 views in 10h = 100/h
			videoItem("aaaaaaaaaaa", "slow burner", "chan a", 1000, 10*time.Hour),
			// 5000 views in 2h = 2500/h
			videoItem("bbbbbbbbbbb", "viral one", "chan b", 5000, 2*time.Hour),
			// 300 views in 30m, hours floored to 1 = 300/h
			videoItem("ccccccccccc", "fresh", "chan c", 300, 30*time.Minute),
		}})
		w.Write(body)
	})

	y := newTestYouTube(t, handler)
	videos, err := y.Fetch(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, videos, 3)

	assert.Equal(t, "bbbbbbbbbbb", videos[0].VideoID)
	assert.Equal(t, "ccccccccccc", videos[1].VideoID)
	assert.Equal(t, "aaaaaaaaaaa", videos[2].VideoID)

	first := videos[0]
	assert.Equal(t, "youtube", first.Platform)
	assert.Equal(t, "https://www.youtube.com/shorts/bbbbbbbbbbb", first.URL)
	assert.Equal(t, "viral one", first.Title)
	assert.Equal(t, "chan b", first.Channel)
	assert.Equal(t, "US", first.Region)
	require.NotNil(t, first.PublishedAt)
	assert.EqualValues(t, 5000, first.ViewCount)
	assert.InDelta(t, 2500, first.ViewsPerHour, 5)
}

func TestFetchHonorsTunables(t *testing.T) {
	var searchCalls int32
	handler := http.NewServeMux()
	handler.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		page := atomic.AddInt32(&searchCalls, 1)
		assert.Equal(t, "#ai", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("maxResults"))

		after, err := time.Parse(time.RFC3339, r.URL.Query().Get("publishedAfter"))
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC().Add(-6*time.Hour), after, time.Minute)

		body := map[string]interface{}{"items": []map[string]interface{}{
			{"id": map[string]string{"videoId": fmt.Sprintf("page%dvid%02d", page, 1)}},
		}}
		if page < 3 {
			body["nextPageToken"] = fmt.Sprintf("token-%d", page)
		}
		b, _ := json.Marshal(body)
		w.Write(b)
	})
	handler.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	y, err := NewYouTube(&YouTubeConfig{
		APIKey:      "test-key",
		Regions:     []string{"US"},
		HoursBack:   6,
		MaxResults:  5,
		MaxPages:    3,
		SearchQuery: "#ai",
		PoliteDelay: time.Millisecond,
		BaseURL:     server.URL,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = y.Fetch(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&searchCalls))
}

func TestFetchLimitCut(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchBody("aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"))
	})
	handler.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]interface{}{"items": []map[string]interface{}{
			videoItem("aaaaaaaaaaa", "a", "c", 100, time.Hour),
			videoItem("bbbbbbbbbbb", "b", "c", 9000, time.Hour),
			videoItem("ccccccccccc", "c", "c", 500, time.Hour),
		}})
		w.Write(body)
	})

	y := newTestYouTube(t, handler)
	videos, err := y.Fetch(context.Background(), time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "bbbbbbbbbbb", videos[0].VideoID)
	assert.Equal(t, "ccccccccccc", videos[1].VideoID)
}

func TestFetchRetriesOn503(t *testing.T) {
	var searchCalls int32
	handler := http.NewServeMux()
	handler.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&searchCalls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, searchBody("aaaaaaaaaaa"))
	})
	handler.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]interface{}{"items": []map[string]interface{}{
			videoItem("aaaaaaaaaaa", "a", "c", 100, time.Hour),
		}})
		w.Write(body)
	})

	y := newTestYouTube(t, handler)
	videos, err := y.Fetch(context.Background(), time.Time{}, 5)
	require.NoError(t, err)
	assert.Len(t, videos, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&searchCalls))
}

func TestFetchForbiddenRegionSkipped(t *testing.T) {
	var searchCalls int32
	handler := http.NewServeMux()
	handler.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&searchCalls, 1)
		w.WriteHeader(http.StatusForbidden)
	})

	y := newTestYouTube(t, handler)
	videos, err := y.Fetch(context.Background(), time.Time{}, 5)
	require.NoError(t, err)
	assert.Empty(t, videos)
	// forbidden keys are not retried
	assert.EqualValues(t, 1, atomic.LoadInt32(&searchCalls))
}

func TestNewYouTubeRequiresKey(t *testing.T) {
	_, err := NewYouTube(&YouTubeConfig{})
	assert.Error(t, err)
}

func TestExtractVideoID(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/v/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ"},
	}
	for _, tc := range cases {
		id, err := ExtractVideoID(tc.url)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.want, id, tc.url)
	}

	_, err := ExtractVideoID("https://example.com/nothing-here")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	y, err := NewYouTube(&YouTubeConfig{APIKey: "k", Logger: zerolog.Nop()})
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, r.Register(y))
	assert.Error(t, r.Register(y))
	assert.Equal(t, y, r.Get("youtube"))
	assert.Nil(t, r.Get("tiktok"))
	assert.Len(t, r.All(), 1)
}

func TestVideoInfo(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ddddddddddd", r.URL.Query().Get("id"))
		body, _ := json.Marshal(map[string]interface{}{"items": []map[string]interface{}{
			videoItem("ddddddddddd", "ai generated short", "synth lab", 4000, 4*time.Hour),
		}})
		w.Write(body)
	})

	y := newTestYouTube(t, handler)
	info, err := y.VideoInfo(context.Background(), "ddddddddddd")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "ai generated short", info.Title)
	assert.Equal(t, "synth lab", info.Channel)
}

func TestVideoInfoUnknownID(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	})

	y := newTestYouTube(t, handler)
	info, err := y.VideoInfo(context.Background(), "eeeeeeeeeee")
	require.NoError(t, err)
	assert.Nil(t, info)
}
