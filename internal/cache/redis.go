package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/models"
)

const snapshotTTL = time.Hour

// Cache wraps the application Redis instance: idempotency claims,
// discovery dedupe marks and result snapshots.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
}

// New connects to Redis and verifies the connection.
func New(url string, logger zerolog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, logger: logger}, nil
}

// NewFromClient wraps an existing client. Used by tests.
func NewFromClient(client *redis.Client, logger zerolog.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

// ClaimKey builds the idempotency key for one video under a frame policy.
// The model version and policy are part of the key so changing either
// forces re-analysis.
func ClaimKey(platform, videoID, framePolicy string) string {
	return fmt.Sprintf("analyzed:%s:%s@%s@%s", platform, videoID, models.ModelVersion, framePolicy)
}

// Claim atomically takes the idempotency slot for a video. Returns false
// when another worker holds it or the video was analyzed recently.
func (c *Cache) Claim(ctx context.Context, platform, videoID, framePolicy string, ttl time.Duration) (bool, error) {
	key := ClaimKey(platform, videoID, framePolicy)
	acquired, err := c.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return acquired, nil
}

// Release drops the claim so a failed video can be retried immediately.
func (c *Cache) Release(ctx context.Context, platform, videoID, framePolicy string) error {
	key := ClaimKey(platform, videoID, framePolicy)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// Stamp extends the claim to the completion TTL after a successful run,
// suppressing re-analysis for the stamp window.
func (c *Cache) Stamp(ctx context.Context, platform, videoID, framePolicy string, ttl time.Duration) error {
	key := ClaimKey(platform, videoID, framePolicy)
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to stamp %s: %w", key, err)
	}
	return nil
}

// StoreSnapshot writes the latest verdict for fast lookups by consumers.
func (c *Cache) StoreSnapshot(ctx context.Context, result models.CachedResult) error {
	key := fmt.Sprintf("video:%s:%s", result.Platform, result.VideoID)
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}
	c.logger.Debug().Str("key", key).Str("label", string(result.Label)).Msg("snapshot written")
	return nil
}

// Snapshot returns the cached verdict, or nil when absent or expired.
func (c *Cache) Snapshot(ctx context.Context, platform, videoID string) (*models.CachedResult, error) {
	key := fmt.Sprintf("video:%s:%s", platform, videoID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	var result models.CachedResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return &result, nil
}

// MarkDiscovered records that a sweep already enqueued this video. Returns
// false when the mark already exists.
func (c *Cache) MarkDiscovered(ctx context.Context, platform, videoID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("discovered:%s:%s", platform, videoID)
	fresh, err := c.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark discovered %s: %w", key, err)
	}
	return fresh, nil
}

// Deep-scan job bookkeeping.

// SetDeepScanStatus stores the job status record under deep:job:{id}.
func (c *Cache) SetDeepScanStatus(ctx context.Context, jobID string, status map[string]any, ttl time.Duration) error {
	key := fmt.Sprintf("deep:job:%s", jobID)
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal deep-scan status: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write deep-scan status %s: %w", key, err)
	}
	return nil
}

// DeepScanStatus reads a job status record, or nil when absent.
func (c *Cache) DeepScanStatus(ctx context.Context, jobID string) (map[string]any, error) {
	key := fmt.Sprintf("deep:job:%s", jobID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deep-scan status %s: %w", key, err)
	}
	var status map[string]any
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("failed to decode deep-scan status %s: %w", key, err)
	}
	return status, nil
}

// LockDeepScan takes the per-video deep-scan lock. Returns false when a
// scan for the video is already running.
func (c *Cache) LockDeepScan(ctx context.Context, platform, videoID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("deep:lock:%s:%s", platform, videoID)
	acquired, err := c.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lock deep scan %s: %w", key, err)
	}
	return acquired, nil
}

// UnlockDeepScan releases the per-video deep-scan lock.
func (c *Cache) UnlockDeepScan(ctx context.Context, platform, videoID string) error {
	key := fmt.Sprintf("deep:lock:%s:%s", platform, videoID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to unlock deep scan %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
