package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scrollsafe/doomscroller/internal/cache"
	"github.com/scrollsafe/doomscroller/internal/models"
	"github.com/scrollsafe/doomscroller/internal/provider"
)

// Enqueuer hands discovered videos to the analysis queue.
type Enqueuer interface {
	EnqueueAnalyze(ctx context.Context, task models.AnalyzeTask, priority int) error
}

// Sweeper runs one discovery pass: fan out to every provider, merge and
// rank the candidates, then enqueue the winners.
type Sweeper struct {
	registry         *provider.Registry
	cache            *cache.Cache
	enqueuer         Enqueuer
	limitPerProvider int
	totalLimit       int
	priority         int
	dedupeTTL        time.Duration
	logger           zerolog.Logger
}

// SweeperConfig configures a discovery sweeper.
type SweeperConfig struct {
	Registry         *provider.Registry
	Cache            *cache.Cache
	Enqueuer         Enqueuer
	LimitPerProvider int
	TotalLimit       int
	Priority         int
	DedupeTTL        time.Duration
	Logger           zerolog.Logger
}

// Stats summarizes one sweep for logging and metrics.
type Stats struct {
	Fetched   int
	Deduped   int
	Enqueued  int
	Skipped   int
	Providers int
}

func NewSweeper(config *SweeperConfig) *Sweeper {
	return &Sweeper{
		registry:         config.Registry,
		cache:            config.Cache,
		enqueuer:         config.Enqueuer,
		limitPerProvider: config.LimitPerProvider,
		totalLimit:       config.TotalLimit,
		priority:         config.Priority,
		dedupeTTL:        config.DedupeTTL,
		logger:           config.Logger,
	}
}

// Run executes one sweep. Provider failures are logged and absorbed so a
// single broken provider cannot cancel the whole pass; the returned
// error is non-nil only when every provider failed.
func (s *Sweeper) Run(ctx context.Context, since time.Time) (Stats, error) {
	providers := s.registry.All()
	stats := Stats{Providers: len(providers)}
	if len(providers) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	var all []models.DiscoveredVideo
	var lastErr error
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			videos, err := p.Fetch(gctx, since, s.limitPerProvider)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn().Err(err).Str("provider", p.Name()).Msg("provider fetch failed")
				failures++
				lastErr = err
				return nil
			}
			all = append(all, videos...)
			return nil
		})
	}
	g.Wait()

	if failures == len(providers) && lastErr != nil {
		return stats, lastErr
	}
	stats.Fetched = len(all)

	candidates := dedupe(all)
	stats.Deduped = stats.Fetched - len(candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ViewsPerHour > candidates[j].ViewsPerHour
	})
	if s.totalLimit > 0 && len(candidates) > s.totalLimit {
		candidates = candidates[:s.totalLimit]
	}

	for _, video := range candidates {
		fresh, err := s.cache.MarkDiscovered(ctx, video.Platform, video.VideoID, s.dedupeTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("video_id", video.VideoID).Msg("discovery mark failed, enqueueing anyway")
		} else if !fresh {
			stats.Skipped++
			continue
		}

		if err := s.enqueuer.EnqueueAnalyze(ctx, models.AnalyzeTaskFrom(video), s.priority); err != nil {
			s.logger.Error().Err(err).Str("video_id", video.VideoID).Msg("enqueue failed")
			continue
		}
		stats.Enqueued++
	}

	s.logger.Info().
		Int("fetched", stats.Fetched).
		Int("deduped", stats.Deduped).
		Int("skipped", stats.Skipped).
		Int("enqueued", stats.Enqueued).
		Msg("discovery sweep completed")
	return stats, nil
}

// dedupe keeps one entry per (platform, video_id), preferring the copy
// with the higher views-per-hour reading.
func dedupe(videos []models.DiscoveredVideo) []models.DiscoveredVideo {
	type key struct{ platform, videoID string }
	best := make(map[key]models.DiscoveredVideo, len(videos))
	order := make([]key, 0, len(videos))

	for _, v := range videos {
		k := key{v.Platform, v.VideoID}
		existing, seen := best[k]
		if !seen {
			order = append(order, k)
			best[k] = v
			continue
		}
		if v.ViewsPerHour > existing.ViewsPerHour {
			best[k] = v
		}
	}

	out := make([]models.DiscoveredVideo, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}
