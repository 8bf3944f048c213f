package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/models"
)

const (
	youtubeAPIBase = "https://www.googleapis.com/youtube/v3"

	// apiMaxResults is the Data API's hard per-call ceiling for both
	// search.list and videos.list batches.
	apiMaxResults = 50

	maxAPIRetries = 3
)

// YouTube discovers trending Shorts through the Data API v3. One
// search.list sweep per region, then batched videos.list calls for
// snippet and statistics.
type YouTube struct {
	apiKey       string
	regions      []string
	hoursBack    int
	maxResults   int
	maxPages     int
	topPerRegion int
	searchQuery  string
	politeDelay  time.Duration
	baseURL      string
	httpClient   *http.Client
	logger       zerolog.Logger
}

// YouTubeConfig configures the YouTube discovery provider. Zero values
// take the provider defaults; MaxResults is clamped to the API ceiling.
type YouTubeConfig struct {
	APIKey         string
	Regions        []string
	HoursBack      int
	MaxResults     int
	MaxPages       int
	TopPerRegion   int
	SearchQuery    string
	PoliteDelay    time.Duration
	RequestTimeout time.Duration
	BaseURL        string
	Logger         zerolog.Logger
}

func NewYouTube(config *YouTubeConfig) (*YouTube, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("youtube provider requires an API key")
	}
	regions := config.Regions
	if len(regions) == 0 {
		regions = []string{"US"}
	}
	hoursBack := config.HoursBack
	if hoursBack <= 0 {
		hoursBack = 48
	}
	maxResults := config.MaxResults
	if maxResults <= 0 || maxResults > apiMaxResults {
		maxResults = apiMaxResults
	}
	maxPages := config.MaxPages
	if maxPages <= 0 {
		maxPages = 2
	}
	topPerRegion := config.TopPerRegion
	if topPerRegion <= 0 {
		topPerRegion = 75
	}
	searchQuery := config.SearchQuery
	if searchQuery == "" {
		searchQuery = "#shorts"
	}
	politeDelay := config.PoliteDelay
	if politeDelay <= 0 {
		politeDelay = 200 * time.Millisecond
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = youtubeAPIBase
	}

	return &YouTube{
		apiKey:       config.APIKey,
		regions:      regions,
		hoursBack:    hoursBack,
		maxResults:   maxResults,
		maxPages:     maxPages,
		topPerRegion: topPerRegion,
		searchQuery:  searchQuery,
		politeDelay:  politeDelay,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: requestTimeout},
		logger:       config.Logger,
	}, nil
}

func (y *YouTube) Name() string { return "youtube" }

// Fetch sweeps every configured region and returns the discovered Shorts
// ranked by views per hour, capped at limit. A failing region is logged
// and skipped so one revoked key cannot blank the whole sweep.
func (y *YouTube) Fetch(ctx context.Context, since time.Time, limit int) ([]models.DiscoveredVideo, error) {
	if limit <= 0 {
		return nil, nil
	}

	floor := time.Now().UTC().Add(-time.Duration(y.hoursBack) * time.Hour)
	if since.After(floor) {
		floor = since
	}

	var all []models.DiscoveredVideo
	for _, region := range y.regions {
		videos, err := y.fetchRegion(ctx, region, floor, limit)
		if err != nil {
			y.logger.Warn().Err(err).Str("region", region).Msg("region sweep failed")
			continue
		}
		all = append(all, videos...)
	}

	sortByViewsPerHour(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (y *YouTube) fetchRegion(ctx context.Context, region string, since time.Time, limit int) ([]models.DiscoveredVideo, error) {
	perPage := limit
	if perPage > y.maxResults {
		perPage = y.maxResults
	}

	var ids []string
	pageToken := ""
	for page := 0; page < y.maxPages; page++ {
		params := url.Values{}
		params.Set("part", "id")
		params.Set("type", "video")
		params.Set("videoDuration", "short")
		params.Set("order", "viewCount")
		params.Set("q", y.searchQuery)
		params.Set("publishedAfter", since.UTC().Format(time.RFC3339))
		params.Set("regionCode", region)
		params.Set("maxResults", strconv.Itoa(perPage))
		params.Set("key", y.apiKey)
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp searchResponse
		if err := y.getJSON(ctx, "/search", params, &resp); err != nil {
			return nil, fmt.Errorf("search.list failed for region %s: %w", region, err)
		}
		for _, item := range resp.Items {
			if item.ID.VideoID != "" {
				ids = append(ids, item.ID.VideoID)
			}
		}
		pageToken = resp.NextPageToken
		if pageToken == "" || len(ids) >= y.topPerRegion {
			break
		}
		sleepCtx(ctx, y.politeDelay)
	}

	if len(ids) > y.topPerRegion {
		ids = ids[:y.topPerRegion]
	}
	if len(ids) == 0 {
		return nil, nil
	}

	videos, err := y.lookupVideos(ctx, ids, region)
	if err != nil {
		return nil, err
	}
	return videos, nil
}

// lookupVideos resolves snippet and statistics for the given IDs in
// batches of 50, the API's per-call maximum.
func (y *YouTube) lookupVideos(ctx context.Context, ids []string, region string) ([]models.DiscoveredVideo, error) {
	now := time.Now().UTC()
	var out []models.DiscoveredVideo

	for start := 0; start < len(ids); start += apiMaxResults {
		end := start + apiMaxResults
		if end > len(ids) {
			end = len(ids)
		}

		params := url.Values{}
		params.Set("part", "snippet,contentDetails,statistics")
		params.Set("id", strings.Join(ids[start:end], ","))
		params.Set("key", y.apiKey)

		var resp videosResponse
		if err := y.getJSON(ctx, "/videos", params, &resp); err != nil {
			return nil, fmt.Errorf("videos.list failed: %w", err)
		}

		for _, item := range resp.Items {
			views, _ := strconv.ParseInt(item.Statistics.ViewCount, 10, 64)
			hours := now.Sub(item.Snippet.PublishedAt).Hours()
			if hours < 1 {
				hours = 1
			}
			publishedAt := item.Snippet.PublishedAt

			out = append(out, models.DiscoveredVideo{
				Platform:     "youtube",
				VideoID:      item.ID,
				URL:          "https://www.youtube.com/shorts/" + item.ID,
				Title:        item.Snippet.Title,
				Channel:      item.Snippet.ChannelTitle,
				PublishedAt:  &publishedAt,
				Region:       region,
				ViewCount:    views,
				ViewsPerHour: float64(views) / hours,
			})
		}

		if end < len(ids) {
			sleepCtx(ctx, y.politeDelay)
		}
	}
	return out, nil
}

// VideoInfo resolves metadata for a single video. Returns nil when the
// ID does not exist or is not visible to the API key.
func (y *YouTube) VideoInfo(ctx context.Context, videoID string) (*models.DiscoveredVideo, error) {
	videos, err := y.lookupVideos(ctx, []string{videoID}, "")
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, nil
	}
	return &videos[0], nil
}

// getJSON performs a GET with retries on 429 and 5xx. 401/403 abort
// immediately since retrying a rejected key only burns quota.
func (y *YouTube) getJSON(ctx context.Context, path string, params url.Values, target interface{}) error {
	endpoint := y.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < maxAPIRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*math.Pow(2, float64(attempt-1))) * time.Millisecond
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := y.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, target); err != nil {
				return fmt.Errorf("failed to parse API response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("API rejected key with status %d: %s", resp.StatusCode, truncateBody(body))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateBody(body))
			continue
		default:
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateBody(body))
		}
	}
	return fmt.Errorf("API request failed after %d attempts: %w", maxAPIRetries, lastErr)
}

type searchResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string    `json:"title"`
			ChannelTitle string    `json:"channelTitle"`
			PublishedAt  time.Time `json:"publishedAt"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

func sortByViewsPerHour(videos []models.DiscoveredVideo) {
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].ViewsPerHour > videos[j].ViewsPerHour
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

var videoIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// ExtractVideoID pulls the 11-character video ID out of the YouTube URL
// shapes we accept: watch, shorts, youtu.be and embed links, or a bare
// ID.
func ExtractVideoID(rawURL string) (string, error) {
	if videoIDPattern.MatchString(rawURL) {
		return rawURL, nil
	}

	if strings.Contains(rawURL, "youtu.be/") {
		rest := strings.SplitN(rawURL, "youtu.be/", 2)[1]
		id := strings.FieldsFunc(rest, func(r rune) bool { return r == '?' || r == '&' || r == '/' })
		if len(id) > 0 && videoIDPattern.MatchString(id[0]) {
			return id[0], nil
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		if id := u.Query().Get("v"); videoIDPattern.MatchString(id) {
			return id, nil
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/v/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.SplitN(strings.TrimPrefix(u.Path, prefix), "/", 2)[0]
				if videoIDPattern.MatchString(id) {
					return id, nil
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract video ID from URL: %s", rawURL)
}
