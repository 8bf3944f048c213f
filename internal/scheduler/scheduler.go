package scheduler

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/queue"
)

// TypeWakeInference is the periodic classifier health probe. It keeps
// serverless inference backends warm and surfaces outages early.
const TypeWakeInference = "pipeline:wake_inference"

// Scheduler registers the periodic pipeline tasks with the broker.
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    zerolog.Logger
}

// Config configures the periodic task schedule. DiscoveryMaxRetries
// bounds how often a failed sweep is rescheduled; zero keeps the
// default of 3.
type Config struct {
	BrokerURL           string
	WakeInterval        time.Duration
	DiscoveryInterval   time.Duration
	DiscoveryMaxRetries int
	Logger              zerolog.Logger
}

func New(config *Config) (*Scheduler, error) {
	opts, err := asynq.ParseRedisURI(config.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker URL: %w", err)
	}

	wakeInterval := config.WakeInterval
	if wakeInterval <= 0 {
		wakeInterval = 30 * time.Second
	}
	discoveryInterval := config.DiscoveryInterval
	if discoveryInterval <= 0 {
		discoveryInterval = 120 * time.Second
	}
	discoveryMaxRetries := config.DiscoveryMaxRetries
	if discoveryMaxRetries <= 0 {
		discoveryMaxRetries = 3
	}

	s := &Scheduler{
		scheduler: asynq.NewScheduler(opts, nil),
		logger:    config.Logger,
	}

	_, err = s.scheduler.Register(
		fmt.Sprintf("@every %s", wakeInterval),
		asynq.NewTask(TypeWakeInference, nil),
		asynq.Queue(queue.QueueAnalyzeDefault),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register wake task: %w", err)
	}

	_, err = s.scheduler.Register(
		fmt.Sprintf("@every %s", discoveryInterval),
		asynq.NewTask(queue.TypeDiscoverySweep, nil),
		asynq.Queue(queue.QueueAnalyzeDefault),
		asynq.MaxRetry(discoveryMaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register discovery task: %w", err)
	}

	return s, nil
}

// Run blocks publishing scheduled tasks until Shutdown.
func (s *Scheduler) Run() error {
	s.logger.Info().Msg("starting periodic scheduler")
	if err := s.scheduler.Run(); err != nil {
		return fmt.Errorf("scheduler stopped: %w", err)
	}
	return nil
}

// Shutdown stops publishing scheduled tasks.
func (s *Scheduler) Shutdown() {
	s.logger.Info().Msg("shutting down scheduler")
	s.scheduler.Shutdown()
}
