package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/models"
)

// Store handles PostgreSQL persistence for videos and analyses.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New connects to PostgreSQL, configures the pool and ensures the schema
// exists.
func New(postgresURL string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, logger: logger}
	if err := s.InitSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewFromDB wraps an existing handle without touching the schema. Used by
// tests.
func NewFromDB(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// InitSchema creates tables and indexes if they don't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	tableSchema := `
	CREATE TABLE IF NOT EXISTS videos (
		platform VARCHAR(50) NOT NULL,
		video_id VARCHAR(255) NOT NULL,
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		title TEXT,
		channel TEXT,
		published_at TIMESTAMPTZ,
		region VARCHAR(10),
		source_url TEXT,
		views_per_hour DOUBLE PRECISION,
		PRIMARY KEY (platform, video_id)
	);

	CREATE TABLE IF NOT EXISTS analyses (
		platform VARCHAR(50) NOT NULL,
		video_id VARCHAR(255) NOT NULL,
		analyzed_at TIMESTAMPTZ NOT NULL,
		label VARCHAR(50) NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		reason TEXT,
		features JSONB,
		model_version VARCHAR(50) NOT NULL,
		frame_policy VARCHAR(50) NOT NULL,
		batch_time_ms BIGINT,
		frames_count INT NOT NULL,
		source_url TEXT,
		PRIMARY KEY (platform, video_id)
	);
	`

	if _, err := s.db.ExecContext(ctx, tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_videos_last_seen_at ON videos(last_seen_at)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_views_per_hour ON videos(views_per_hour)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_label ON analyses(label)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_analyzed_at ON analyses(analyzed_at)`,
	}
	for _, stmt := range indexStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}
	return nil
}

// SaveAnalysis upserts the video row and its analysis in one transaction.
// The video row keeps existing metadata when the incoming task carried
// none; the analysis row is fully replaced except for source_url.
func (s *Store) SaveAnalysis(ctx context.Context, task models.AnalyzeTask, record models.AnalysisRecord) error {
	features, err := json.Marshal(map[string]interface{}{
		"vote_share":         record.VoteShare,
		"aggregate_features": record.Features,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := record.AnalyzedAt.UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO videos (
			platform, video_id, first_seen_at, last_seen_at,
			title, channel, published_at, region, source_url, views_per_hour
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (platform, video_id)
		DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			title = COALESCE(EXCLUDED.title, videos.title),
			channel = COALESCE(EXCLUDED.channel, videos.channel),
			published_at = COALESCE(EXCLUDED.published_at, videos.published_at),
			region = COALESCE(EXCLUDED.region, videos.region),
			source_url = COALESCE(EXCLUDED.source_url, videos.source_url),
			views_per_hour = COALESCE(EXCLUDED.views_per_hour, videos.views_per_hour)`,
		record.Platform,
		record.VideoID,
		now,
		now,
		nullString(task.Title),
		nullString(task.Channel),
		nullTime(models.ParsePublishedAt(task.PublishedAt)),
		nullString(task.Region),
		nullString(record.SourceURL),
		nullFloat(task.ViewsPerHour),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert video: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (
			platform, video_id, analyzed_at, label, confidence,
			reason, features, model_version, frame_policy, batch_time_ms, frames_count, source_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12)
		ON CONFLICT (platform, video_id)
		DO UPDATE SET
			analyzed_at = EXCLUDED.analyzed_at,
			label = EXCLUDED.label,
			confidence = EXCLUDED.confidence,
			reason = EXCLUDED.reason,
			features = EXCLUDED.features,
			model_version = EXCLUDED.model_version,
			frame_policy = EXCLUDED.frame_policy,
			batch_time_ms = EXCLUDED.batch_time_ms,
			frames_count = EXCLUDED.frames_count,
			source_url = COALESCE(EXCLUDED.source_url, analyses.source_url)`,
		record.Platform,
		record.VideoID,
		now,
		string(record.Label),
		record.Confidence,
		record.Reason,
		features,
		models.ModelVersion,
		record.FramePolicy,
		nullInt(record.BatchTimeMS),
		record.FramesCount,
		nullString(record.SourceURL),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}

	s.logger.Debug().
		Str("platform", record.Platform).
		Str("video_id", record.VideoID).
		Str("label", string(record.Label)).
		Msg("analysis persisted")
	return nil
}

// GetAnalysis loads the persisted analysis for a video, or nil when the
// video was never analyzed.
func (s *Store) GetAnalysis(ctx context.Context, platform, videoID string) (*models.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT platform, video_id, analyzed_at, label, confidence, reason,
		       features, frame_policy, batch_time_ms, frames_count, source_url
		FROM analyses
		WHERE platform = $1 AND video_id = $2`,
		platform, videoID,
	)

	var record models.AnalysisRecord
	var label string
	var reason, sourceURL sql.NullString
	var featuresRaw []byte
	var batchTimeMS sql.NullInt64
	err := row.Scan(
		&record.Platform, &record.VideoID, &record.AnalyzedAt, &label,
		&record.Confidence, &reason, &featuresRaw, &record.FramePolicy,
		&batchTimeMS, &record.FramesCount, &sourceURL,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}

	record.Label = models.Verdict(label)
	record.Reason = reason.String
	record.SourceURL = sourceURL.String
	if batchTimeMS.Valid {
		record.BatchTimeMS = &batchTimeMS.Int64
	}
	if len(featuresRaw) > 0 {
		var features struct {
			VoteShare         map[string]float64       `json:"vote_share"`
			AggregateFeatures models.AggregateFeatures `json:"aggregate_features"`
		}
		if err := json.Unmarshal(featuresRaw, &features); err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
		record.VoteShare = features.VoteShare
		record.Features = features.AggregateFeatures
	}
	return &record, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
