package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/analyzer"
	"github.com/scrollsafe/doomscroller/internal/cache"
	"github.com/scrollsafe/doomscroller/internal/config"
	"github.com/scrollsafe/doomscroller/internal/deepscan"
	"github.com/scrollsafe/doomscroller/internal/discovery"
	"github.com/scrollsafe/doomscroller/internal/extractor"
	"github.com/scrollsafe/doomscroller/internal/inference"
	"github.com/scrollsafe/doomscroller/internal/metrics"
	"github.com/scrollsafe/doomscroller/internal/models"
	"github.com/scrollsafe/doomscroller/internal/provider"
	"github.com/scrollsafe/doomscroller/internal/queue"
	"github.com/scrollsafe/doomscroller/internal/resolver"
	"github.com/scrollsafe/doomscroller/internal/scheduler"
	"github.com/scrollsafe/doomscroller/internal/storage"
)

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}
	logger = newLogger(cfg.LogLevel)
	logger.Info().Msg("starting doomscroller worker")

	appCache, err := cache.New(cfg.CacheURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer appCache.Close()
	logger.Info().Msg("connected to Redis")

	store, err := storage.New(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer store.Close()
	logger.Info().Msg("connected to PostgreSQL, schema ready")

	inferClient := inference.NewClient(&inference.ClientConfig{
		BaseURL:        cfg.InferAPIURL,
		APIKey:         cfg.InferAPIKey,
		HFToken:        cfg.HFToken,
		RequestTimeout: cfg.InferRequestTimeout,
		Logger:         logger,
	})

	analyzerCfg := &analyzer.Config{
		Cache:          appCache,
		Store:          store,
		TargetFrames:   cfg.TargetFrames,
		ClaimTTL:       cfg.IdempotencyTTL,
		StampTTL:       cfg.IdempotencyStampTTL,
		ExtractTimeout: cfg.FrameExtractTimeout,
		Logger:         logger,
	}
	if cfg.ResolverURL != "" {
		analyzerCfg.Resolver = resolver.NewClient(cfg.ResolverURL, cfg.FrameExtractTimeout)
		logger.Info().Str("url", cfg.ResolverURL).Msg("using remote resolver for extraction")
	} else {
		frameExtractor, err := extractor.New(&extractor.Config{
			CookiesFile:    cfg.CookiesFile,
			CookiesBrowser: cfg.CookiesBrowser,
			Timeout:        cfg.FrameExtractTimeout,
			Logger:         logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize frame extractor")
		}
		analyzerCfg.Extractor = frameExtractor
		analyzerCfg.Inference = inferClient
		logger.Info().Msg("using in-process frame extraction")
	}

	videoAnalyzer, err := analyzer.New(analyzerCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize analyzer")
	}

	enqueuer, err := queue.NewEnqueuer(&queue.EnqueuerConfig{
		BrokerURL:   cfg.BrokerURL,
		TaskTimeout: cfg.FrameExtractTimeout + cfg.InferRequestTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize enqueuer")
	}
	defer enqueuer.Close()

	registry := provider.NewRegistry()
	var youtube *provider.YouTube
	if cfg.YouTubeAPIKey != "" {
		youtube, err = provider.NewYouTube(&provider.YouTubeConfig{
			APIKey:         cfg.YouTubeAPIKey,
			Regions:        cfg.YouTubeRegions,
			HoursBack:      cfg.YouTubeHoursBack,
			MaxResults:     cfg.YouTubeMaxResults,
			MaxPages:       cfg.YouTubeMaxPages,
			TopPerRegion:   cfg.YouTubeTopPerRegion,
			SearchQuery:    cfg.YouTubeSearchQuery,
			PoliteDelay:    cfg.YouTubePoliteDelay,
			RequestTimeout: cfg.YouTubeRequestTimeout,
			Logger:         logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize YouTube provider")
		}
		if err := registry.Register(youtube); err != nil {
			logger.Fatal().Err(err).Msg("failed to register YouTube provider")
		}
		logger.Info().Strs("regions", cfg.YouTubeRegions).Msg("registered YouTube discovery provider")
	} else {
		logger.Warn().Msg("YOUTUBE_API_KEY not set, discovery sweeps will find nothing")
	}

	sweeper := discovery.NewSweeper(&discovery.SweeperConfig{
		Registry:         registry,
		Cache:            appCache,
		Enqueuer:         enqueuer,
		LimitPerProvider: cfg.LimitPerProvider,
		TotalLimit:       cfg.TotalLimit,
		Priority:         cfg.Priority,
		DedupeTTL:        cfg.DiscoveryDedupeTTL,
		Logger:           logger,
	})

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		BrokerURL:           cfg.BrokerURL,
		Concurrency:         cfg.WorkerConcurrency,
		DiscoveryRetryDelay: cfg.DiscoveryRetryDelay,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize queue consumer")
	}

	consumer.Handle(queue.TypeAnalyzeVideo, func(ctx context.Context, task *asynq.Task) error {
		var analyzeTask models.AnalyzeTask
		if err := json.Unmarshal(task.Payload(), &analyzeTask); err != nil {
			logger.Error().Err(err).Msg("malformed analyze payload, dropping task")
			return nil
		}
		return videoAnalyzer.Process(ctx, analyzeTask)
	})
	consumer.Handle(scheduler.TypeWakeInference,
		scheduler.WakeInferenceHandler(inferClient, cfg.HealthCheckTimeout, logger))
	consumer.Handle(queue.TypeDiscoverySweep,
		scheduler.DiscoverySweepHandler(inferClient, sweeper, cfg.HealthCheckTimeout, cfg.SinceHours, logger))

	if cfg.GeminiAPIKey != "" {
		gemini, err := deepscan.NewGeminiClient(&deepscan.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize Gemini client")
		}
		deepCfg := &deepscan.ProcessorConfig{
			Cache:   appCache,
			Scanner: gemini,
			Logger:  logger,
		}
		if youtube != nil {
			deepCfg.Metadata = youtube
		}
		deepProcessor, err := deepscan.NewProcessor(deepCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize deep-scan processor")
		}
		consumer.Handle(queue.TypeDeepScan, func(ctx context.Context, task *asynq.Task) error {
			var deepTask models.DeepScanTask
			if err := json.Unmarshal(task.Payload(), &deepTask); err != nil {
				logger.Error().Err(err).Msg("malformed deep-scan payload, dropping task")
				return nil
			}
			return deepProcessor.Process(ctx, deepTask)
		})
		logger.Info().Str("model", cfg.GeminiModel).Msg("deep-scan enabled")
	} else {
		logger.Info().Msg("GEMINI_API_KEY not set, deep-scan disabled")
	}

	periodic, err := scheduler.New(&scheduler.Config{
		BrokerURL:           cfg.BrokerURL,
		WakeInterval:        cfg.HealthCheckInterval,
		DiscoveryInterval:   cfg.DiscoveryInterval,
		DiscoveryMaxRetries: cfg.DiscoveryMaxRetries,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize scheduler")
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	errChan := make(chan error, 2)
	go func() {
		if err := periodic.Run(); err != nil {
			errChan <- err
		}
	}()
	go func() {
		if err := consumer.Run(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker running")
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	periodic.Shutdown()
	consumer.Shutdown()
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(ctx)
	}
	logger.Info().Msg("worker stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("service", "doomscroller-worker").Logger()
}
