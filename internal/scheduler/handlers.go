package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/discovery"
	"github.com/scrollsafe/doomscroller/internal/metrics"
)

// HealthChecker probes the inference service's liveness endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// SweepRunner executes one discovery pass.
type SweepRunner interface {
	Run(ctx context.Context, since time.Time) (discovery.Stats, error)
}

// WakeInferenceHandler probes the classifier. The returned error makes
// the failure visible in the broker's dead-task view.
func WakeInferenceHandler(checker HealthChecker, timeout time.Duration, logger zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		if err := checker.HealthCheck(ctx, timeout); err != nil {
			logger.Warn().Err(err).Msg("inference health check failed")
			return fmt.Errorf("inference service unhealthy: %w", err)
		}
		logger.Debug().Msg("inference service healthy")
		return nil
	}
}

// DiscoverySweepHandler gates the sweep on classifier health so we never
// enqueue work a dead classifier cannot drain, then runs one pass.
// sinceHours > 0 narrows the sweep window; zero leaves it to each
// provider's own lookback.
func DiscoverySweepHandler(checker HealthChecker, runner SweepRunner, healthTimeout time.Duration, sinceHours int, logger zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		if err := checker.HealthCheck(ctx, healthTimeout); err != nil {
			logger.Warn().Err(err).Msg("skipping discovery, inference service unhealthy")
			return fmt.Errorf("inference service unhealthy, retrying sweep later: %w", err)
		}

		var since time.Time
		if sinceHours > 0 {
			since = time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour)
		}
		stats, err := runner.Run(ctx, since)
		if err != nil {
			return fmt.Errorf("discovery sweep failed: %w", err)
		}
		metrics.DiscoveryEnqueued.Add(float64(stats.Enqueued))
		return nil
	}
}
