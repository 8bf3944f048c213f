package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scrollsafe/doomscroller/internal/cache"
	"github.com/scrollsafe/doomscroller/internal/discovery"
	"github.com/scrollsafe/doomscroller/internal/models"
	"github.com/scrollsafe/doomscroller/internal/provider"
	"github.com/scrollsafe/doomscroller/internal/queue"
	"github.com/scrollsafe/doomscroller/internal/storage"
)

func newEnqueueCmd() *cobra.Command {
	var (
		platform     string
		videoID      string
		title        string
		channel      string
		publishedAt  string
		region       string
		viewsPerHour float64
		priority     int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <url>",
		Short: "Submit one video for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brokerURL, err := requireEnv("CELERY_BROKER_URL")
			if err != nil {
				return err
			}
			url := args[0]
			if videoID == "" {
				videoID, err = provider.ExtractVideoID(url)
				if err != nil {
					return fmt.Errorf("could not derive video ID, pass --video-id: %w", err)
				}
			}

			task := models.AnalyzeTask{
				Platform:    platform,
				VideoID:     videoID,
				URL:         url,
				Title:       title,
				Channel:     channel,
				PublishedAt: publishedAt,
				Region:      region,
			}
			if viewsPerHour >= 0 {
				task.ViewsPerHour = &viewsPerHour
			}

			enqueuer, err := queue.NewEnqueuer(&queue.EnqueuerConfig{
				BrokerURL: brokerURL,
				Logger:    cliLogger(),
			})
			if err != nil {
				return err
			}
			defer enqueuer.Close()

			if err := enqueuer.EnqueueAnalyze(cmd.Context(), task, priority); err != nil {
				return err
			}
			fmt.Printf("enqueued %s:%s on %s\n", task.Platform, task.VideoID, queue.QueueForPriority(priority))
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "youtube", "source platform")
	cmd.Flags().StringVar(&videoID, "video-id", "", "platform video ID (derived from the URL when omitted)")
	cmd.Flags().StringVar(&title, "title", "", "video title for keyword heuristics")
	cmd.Flags().StringVar(&channel, "channel", "", "channel name for keyword heuristics")
	cmd.Flags().StringVar(&publishedAt, "published-at", "", "publish timestamp, RFC 3339")
	cmd.Flags().StringVar(&region, "region", "", "region code the video was discovered in")
	cmd.Flags().Float64Var(&viewsPerHour, "views-per-hour", -1, "view velocity, omitted when negative")
	cmd.Flags().IntVar(&priority, "priority", 5, "queue priority 0-9")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var (
		limit      int
		priority   int
		sinceHours int
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery sweep immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			brokerURL, err := requireEnv("CELERY_BROKER_URL")
			if err != nil {
				return err
			}
			cacheURL, err := requireEnv("REDIS_APP_URL")
			if err != nil {
				return err
			}
			apiKey, err := requireEnv("YOUTUBE_API_KEY")
			if err != nil {
				return err
			}
			logger := cliLogger()

			appCache, err := cache.New(cacheURL, logger)
			if err != nil {
				return err
			}
			defer appCache.Close()

			enqueuer, err := queue.NewEnqueuer(&queue.EnqueuerConfig{
				BrokerURL: brokerURL,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer enqueuer.Close()

			youtube, err := provider.NewYouTube(&provider.YouTubeConfig{
				APIKey:    apiKey,
				Regions:   splitRegions(os.Getenv("YOUTUBE_REGIONS")),
				HoursBack: sinceHours,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			registry := provider.NewRegistry()
			if err := registry.Register(youtube); err != nil {
				return err
			}

			sweeper := discovery.NewSweeper(&discovery.SweeperConfig{
				Registry:         registry,
				Cache:            appCache,
				Enqueuer:         enqueuer,
				LimitPerProvider: limit,
				TotalLimit:       limit,
				Priority:         priority,
				DedupeTTL:        24 * time.Hour,
				Logger:           logger,
			})

			stats, err := sweeper.Run(cmd.Context(), time.Time{})
			if err != nil {
				return err
			}
			fmt.Printf("fetched=%d deduped=%d enqueued=%d skipped=%d\n",
				stats.Fetched, stats.Deduped, stats.Enqueued, stats.Skipped)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum videos to enqueue")
	cmd.Flags().IntVar(&priority, "priority", 5, "queue priority 0-9")
	cmd.Flags().IntVar(&sinceHours, "since-hours", 0, "discovery window in hours, provider default when 0")
	return cmd
}

func newDeepScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deepscan",
		Short: "Submit and inspect deep-scan jobs",
	}
	cmd.AddCommand(newDeepScanSubmitCmd(), newDeepScanStatusCmd())
	return cmd
}

func newDeepScanSubmitCmd() *cobra.Command {
	var (
		platform string
		videoID  string
		title    string
		channel  string
	)

	cmd := &cobra.Command{
		Use:   "submit <frames-dir>",
		Short: "Queue a Gemini deep scan over extracted frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brokerURL, err := requireEnv("CELERY_BROKER_URL")
			if err != nil {
				return err
			}
			framesDir := args[0]
			if _, err := os.Stat(framesDir); err != nil {
				return fmt.Errorf("frames directory not readable: %w", err)
			}
			if videoID == "" {
				return fmt.Errorf("--video-id is required")
			}

			enqueuer, err := queue.NewEnqueuer(&queue.EnqueuerConfig{
				BrokerURL: brokerURL,
				Logger:    cliLogger(),
			})
			if err != nil {
				return err
			}
			defer enqueuer.Close()

			task := models.DeepScanTask{
				JobID:     uuid.NewString(),
				Platform:  platform,
				VideoID:   videoID,
				FramesDir: framesDir,
				Title:     title,
				Channel:   channel,
			}
			if err := enqueuer.EnqueueDeepScan(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Println(task.JobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "youtube", "source platform")
	cmd.Flags().StringVar(&videoID, "video-id", "", "platform video ID")
	cmd.Flags().StringVar(&title, "title", "", "video title for keyword heuristics")
	cmd.Flags().StringVar(&channel, "channel", "", "channel name for keyword heuristics")
	return cmd
}

func newDeepScanStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a deep-scan job's status document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheURL, err := requireEnv("REDIS_APP_URL")
			if err != nil {
				return err
			}
			appCache, err := cache.New(cacheURL, cliLogger())
			if err != nil {
				return err
			}
			defer appCache.Close()

			status, err := appCache.DeepScanStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if status == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			return printJSON(status)
		},
	}
}

func newResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <platform> <video-id>",
		Short: "Print the cached verdict for a video",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cacheURL, err := requireEnv("REDIS_APP_URL")
			if err != nil {
				return err
			}
			appCache, err := cache.New(cacheURL, cliLogger())
			if err != nil {
				return err
			}
			defer appCache.Close()

			snapshot, err := appCache.Snapshot(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if snapshot == nil {
				return fmt.Errorf("no cached result for %s:%s", args[0], args[1])
			}
			return printJSON(snapshot)
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			databaseURL, err := requireEnv("DATABASE_URL")
			if err != nil {
				return err
			}
			store, err := storage.New(databaseURL, cliLogger())
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Println("schema ready")
			return nil
		},
	}
}

func splitRegions(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
