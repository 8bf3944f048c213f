package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/models"
)

// Task type names carried on the wire.
const (
	TypeAnalyzeVideo   = "analyze:video"
	TypeDiscoverySweep = "discovery:sweep"
	TypeDeepScan       = "deepscan:process_job"
)

// Queue names. Analyze queues are weighted so critical work drains first
// without starving the low queue.
const (
	QueueAnalyzeCritical = "analyze:critical"
	QueueAnalyzeDefault  = "analyze:default"
	QueueAnalyzeLow      = "analyze:low"
	QueueDeepScan        = "deep_scan"
)

// QueueWeights is the consumer's dequeue ratio across queues.
var QueueWeights = map[string]int{
	QueueAnalyzeCritical: 6,
	QueueAnalyzeDefault:  3,
	QueueAnalyzeLow:      1,
	QueueDeepScan:        2,
}

// QueueForPriority maps a 0-9 task priority onto a weighted queue.
func QueueForPriority(priority int) string {
	switch {
	case priority >= 7:
		return QueueAnalyzeCritical
	case priority >= 4:
		return QueueAnalyzeDefault
	default:
		return QueueAnalyzeLow
	}
}

// Enqueuer submits tasks to the broker.
type Enqueuer struct {
	client  *asynq.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// EnqueuerConfig configures task submission.
type EnqueuerConfig struct {
	BrokerURL   string
	TaskTimeout time.Duration
	Logger      zerolog.Logger
}

func NewEnqueuer(config *EnqueuerConfig) (*Enqueuer, error) {
	opts, err := asynq.ParseRedisURI(config.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker URL: %w", err)
	}
	timeout := config.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Enqueuer{
		client:  asynq.NewClient(opts),
		timeout: timeout,
		logger:  config.Logger,
	}, nil
}

// EnqueueAnalyze submits one video for analysis on the queue matching its
// priority.
func (e *Enqueuer) EnqueueAnalyze(ctx context.Context, task models.AnalyzeTask, priority int) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal analyze task: %w", err)
	}

	info, err := e.client.EnqueueContext(ctx, asynq.NewTask(TypeAnalyzeVideo, payload),
		asynq.Queue(QueueForPriority(priority)),
		asynq.MaxRetry(3),
		asynq.Timeout(e.timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue analyze task: %w", err)
	}

	e.logger.Info().
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Str("platform", task.Platform).
		Str("video_id", task.VideoID).
		Msg("analyze task enqueued")
	return nil
}

// EnqueueDeepScan submits a deep-scan job on its dedicated queue. A job
// ID is assigned when the caller did not provide one, since the status
// record is keyed on it.
func (e *Enqueuer) EnqueueDeepScan(ctx context.Context, task models.DeepScanTask) error {
	if task.JobID == "" {
		task.JobID = uuid.NewString()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal deep-scan task: %w", err)
	}

	info, err := e.client.EnqueueContext(ctx, asynq.NewTask(TypeDeepScan, payload),
		asynq.Queue(QueueDeepScan),
		asynq.MaxRetry(2),
		asynq.Timeout(e.timeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue deep-scan task: %w", err)
	}

	e.logger.Info().
		Str("task_id", info.ID).
		Str("job_id", task.JobID).
		Msg("deep-scan task enqueued")
	return nil
}

// Close releases the broker connection.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
