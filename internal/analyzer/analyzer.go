package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/aggregate"
	"github.com/scrollsafe/doomscroller/internal/cache"
	"github.com/scrollsafe/doomscroller/internal/heuristics"
	"github.com/scrollsafe/doomscroller/internal/metrics"
	"github.com/scrollsafe/doomscroller/internal/models"
	"github.com/scrollsafe/doomscroller/internal/resolver"
)

// FrameExtractor pulls frames out of a video URL.
type FrameExtractor interface {
	Extract(ctx context.Context, url string, targetFrames int) ([][]byte, error)
}

// Inferrer classifies a batch of frames.
type Inferrer interface {
	Infer(ctx context.Context, frames [][]byte) (*models.InferenceResponse, error)
}

// Persister stores finished analyses.
type Persister interface {
	SaveAnalysis(ctx context.Context, task models.AnalyzeTask, record models.AnalysisRecord) error
}

// ResolverClient delegates extraction plus inference to a remote
// resolver service.
type ResolverClient interface {
	Analyze(ctx context.Context, req resolver.AnalyzeRequest) (*models.InferenceResponse, int, error)
}

// Analyzer processes one analyze task end to end: claim, classify,
// decide, persist, snapshot, stamp.
type Analyzer struct {
	cache     *cache.Cache
	store     Persister
	extractor FrameExtractor
	inference Inferrer
	resolver  ResolverClient

	targetFrames   int
	claimTTL       time.Duration
	stampTTL       time.Duration
	extractTimeout time.Duration
	logger         zerolog.Logger
}

// Config wires an analyzer. Either Resolver or the Extractor+Inference
// pair must be set; Resolver wins when both are present.
type Config struct {
	Cache     *cache.Cache
	Store     Persister
	Extractor FrameExtractor
	Inference Inferrer
	Resolver  ResolverClient

	TargetFrames   int
	ClaimTTL       time.Duration
	StampTTL       time.Duration
	ExtractTimeout time.Duration
	Logger         zerolog.Logger
}

func New(config *Config) (*Analyzer, error) {
	if config.Cache == nil || config.Store == nil {
		return nil, fmt.Errorf("analyzer requires cache and store")
	}
	if config.Resolver == nil && (config.Extractor == nil || config.Inference == nil) {
		return nil, fmt.Errorf("analyzer requires a resolver client or an extractor and inference client")
	}
	targetFrames := config.TargetFrames
	if targetFrames <= 0 {
		targetFrames = 16
	}
	return &Analyzer{
		cache:          config.Cache,
		store:          config.Store,
		extractor:      config.Extractor,
		inference:      config.Inference,
		resolver:       config.Resolver,
		targetFrames:   targetFrames,
		claimTTL:       config.ClaimTTL,
		stampTTL:       config.StampTTL,
		extractTimeout: config.ExtractTimeout,
		logger:         config.Logger,
	}, nil
}

func (a *Analyzer) framePolicy() string {
	return fmt.Sprintf("even_%d", a.targetFrames)
}

// Process handles one analyze task. A task that loses the idempotency
// claim is dropped silently; any later failure releases the claim so the
// broker's retry can run the video again.
func (a *Analyzer) Process(ctx context.Context, task models.AnalyzeTask) error {
	log := a.logger.With().
		Str("platform", task.Platform).
		Str("video_id", task.VideoID).
		Logger()

	claimed, err := a.cache.Claim(ctx, task.Platform, task.VideoID, a.framePolicy(), a.claimTTL)
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	if !claimed {
		log.Info().Msg("skipping, already processing or analyzed recently")
		metrics.AnalyzeJobs.WithLabelValues("skipped").Inc()
		return nil
	}

	started := time.Now()
	if err := a.process(ctx, task, log); err != nil {
		if releaseErr := a.cache.Release(ctx, task.Platform, task.VideoID, a.framePolicy()); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("failed to release claim")
		}
		metrics.AnalyzeJobs.WithLabelValues("failed").Inc()
		log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("analysis failed")
		return err
	}

	if err := a.cache.Stamp(ctx, task.Platform, task.VideoID, a.framePolicy(), a.stampTTL); err != nil {
		log.Warn().Err(err).Msg("failed to stamp claim")
	}
	metrics.AnalyzeJobs.WithLabelValues("analyzed").Inc()
	log.Info().Dur("elapsed", time.Since(started)).Msg("analysis completed")
	return nil
}

func (a *Analyzer) process(ctx context.Context, task models.AnalyzeTask, log zerolog.Logger) error {
	inference, framesCount, err := a.classify(ctx, task)
	if err != nil {
		return err
	}

	decision := aggregate.Decide(inference, heuristics.Check(task.Title, task.Channel))
	log.Info().
		Str("label", string(decision.Label)).
		Float64("confidence", decision.Confidence).
		Str("reason", decision.Reason).
		Int("frames", framesCount).
		Msg("verdict decided")
	metrics.AnalyzeVerdicts.WithLabelValues(string(decision.Label)).Inc()

	now := time.Now().UTC()
	record := models.AnalysisRecord{
		Platform:    task.Platform,
		VideoID:     task.VideoID,
		AnalyzedAt:  now,
		Label:       decision.Label,
		Confidence:  decision.Confidence,
		Reason:      decision.Reason,
		VoteShare:   decision.VoteShare,
		Features:    decision.Features,
		FramePolicy: a.framePolicy(),
		FramesCount: framesCount,
		SourceURL:   task.URL,
	}
	if inference.BatchTimeMS > 0 {
		ms := int64(inference.BatchTimeMS)
		record.BatchTimeMS = &ms
	}

	if err := a.store.SaveAnalysis(ctx, task, record); err != nil {
		return fmt.Errorf("failed to persist analysis: %w", err)
	}

	snapshot := models.CachedResult{
		Platform:     task.Platform,
		VideoID:      task.VideoID,
		Label:        decision.Label,
		Confidence:   decision.Confidence,
		VoteShare:    decision.VoteShare,
		AnalyzedAt:   now.Format(time.RFC3339),
		ModelVersion: models.ModelVersion,
		Reason:       decision.Reason,
		ViewsPerHour: task.ViewsPerHour,
		Title:        task.Title,
		Channel:      task.Channel,
		PublishedAt:  task.PublishedAt,
		Region:       task.Region,
		SourceURL:    task.URL,
	}
	if err := a.cache.StoreSnapshot(ctx, snapshot); err != nil {
		// Datastore write above is authoritative; the snapshot is best-effort.
		log.Warn().Err(err).Msg("snapshot cache write failed")
	}
	return nil
}

// classify produces the per-frame scores, remotely when a resolver is
// configured and in-process otherwise.
func (a *Analyzer) classify(ctx context.Context, task models.AnalyzeTask) (*models.InferenceResponse, int, error) {
	if a.resolver != nil {
		return a.resolver.Analyze(ctx, resolver.AnalyzeRequest{
			URL:          task.URL,
			Title:        task.Title,
			Channel:      task.Channel,
			TargetFrames: a.targetFrames,
			Timeout:      int(a.extractTimeout.Seconds()),
		})
	}

	frames, err := a.extractor.Extract(ctx, task.URL, a.targetFrames)
	if err != nil {
		return nil, 0, fmt.Errorf("frame extraction failed: %w", err)
	}
	if len(frames) == 0 {
		return nil, 0, fmt.Errorf("no frames extracted")
	}

	inference, err := a.inference.Infer(ctx, frames)
	if err != nil {
		return nil, 0, fmt.Errorf("inference failed: %w", err)
	}
	return inference, len(frames), nil
}
