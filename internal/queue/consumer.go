package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Consumer runs the asynq worker server over the weighted queues.
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger zerolog.Logger
}

// ConsumerConfig configures the worker server.
type ConsumerConfig struct {
	BrokerURL           string
	Concurrency         int
	DiscoveryRetryDelay time.Duration
	Logger              zerolog.Logger
}

func NewConsumer(config *ConsumerConfig) (*Consumer, error) {
	opts, err := asynq.ParseRedisURI(config.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker URL: %w", err)
	}

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	discoveryRetryDelay := config.DiscoveryRetryDelay
	if discoveryRetryDelay <= 0 {
		discoveryRetryDelay = 90 * time.Second
	}
	logger := config.Logger

	server := asynq.NewServer(opts, asynq.Config{
		Concurrency:    concurrency,
		Queues:         QueueWeights,
		RetryDelayFunc: retryDelay(discoveryRetryDelay),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().
				Err(err).
				Str("type", task.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
	})

	return &Consumer{
		server: server,
		mux:    asynq.NewServeMux(),
		logger: logger,
	}, nil
}

// retryDelay reschedules failed discovery sweeps after the configured
// delay; everything else backs off 1m, 2m, 4m.
func retryDelay(discoveryRetryDelay time.Duration) func(n int, err error, task *asynq.Task) time.Duration {
	return func(n int, err error, task *asynq.Task) time.Duration {
		if task.Type() == TypeDiscoverySweep {
			return discoveryRetryDelay
		}
		return time.Duration(1<<uint(n)) * time.Minute
	}
}

// Handle registers a handler for a task type. Must be called before Run.
func (c *Consumer) Handle(taskType string, handler asynq.HandlerFunc) {
	c.mux.HandleFunc(taskType, handler)
}

// Run blocks processing tasks until Shutdown is called.
func (c *Consumer) Run() error {
	c.logger.Info().Msg("starting task consumer")
	if err := c.server.Run(c.mux); err != nil {
		return fmt.Errorf("task consumer stopped: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight tasks and stops the server.
func (c *Consumer) Shutdown() {
	c.logger.Info().Msg("shutting down task consumer")
	c.server.Shutdown()
}
