package models

import (
	"strings"
	"time"
)

// Verdict is the externally visible label attached to an analyzed video.
type Verdict string

const (
	VerdictVerified   Verdict = "verified"
	VerdictSuspicious Verdict = "suspicious"
	VerdictAIDetected Verdict = "ai-detected"
)

// Internal labels used by the frame-score decision logic before mapping
// to external verdicts.
const (
	LabelReal       = "real"
	LabelArtificial = "artificial"
	LabelSuspicious = "suspicious"
)

// ModelVersion tags every persisted analysis and is part of the
// idempotency key, so bumping it forces re-analysis of old videos.
const ModelVersion = "doom_v1"

// FrameScores holds per-frame classifier probabilities.
type FrameScores struct {
	Real       float64 `json:"real"`
	Artificial float64 `json:"artificial"`
}

// InferenceResult is one entry of the classifier's batch response.
type InferenceResult struct {
	LabelScores     map[string]float64 `json:"label_scores"`
	InferenceTimeMS float64            `json:"inference_time_ms"`
}

// InferenceResponse is the classifier service's batch response for a set
// of frames posted to /v1/infer.
type InferenceResponse struct {
	Model       map[string]string `json:"model"`
	BatchTimeMS float64           `json:"batch_time_ms"`
	Results     []InferenceResult `json:"results"`
}

// AggregateFeatures summarizes per-frame scores for auditability. It is
// persisted verbatim inside the analyses features column.
type AggregateFeatures struct {
	MajorityLabel      string  `json:"majority_label"`
	RealVotes          int     `json:"real_votes"`
	ArtificialVotes    int     `json:"artificial_votes"`
	TotalFrames        int     `json:"total_frames"`
	MaxArtificial      float64 `json:"max_artificial"`
	Top3MeanArtificial float64 `json:"top3_mean_artificial"`
	CountA95           int     `json:"count_a95"`
	CountA90           int     `json:"count_a90"`
	CountA80           int     `json:"count_a80"`
	FracA95            float64 `json:"frac_a95"`
	FracA90            float64 `json:"frac_a90"`
	FracA80            float64 `json:"frac_a80"`
}

// Decision is the outcome of fusing frame scores with metadata heuristics.
type Decision struct {
	Label      Verdict
	Confidence float64
	Reason     string
	VoteShare  map[string]float64
	Features   AggregateFeatures
}

// HeuristicsResult is the metadata-keyword check outcome.
type HeuristicsResult struct {
	Result     Verdict `json:"result"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// AnalyzeTask is the payload of an analyze:video queue message.
type AnalyzeTask struct {
	Platform     string   `json:"platform"`
	VideoID      string   `json:"video_id"`
	URL          string   `json:"url"`
	Title        string   `json:"title,omitempty"`
	Channel      string   `json:"channel,omitempty"`
	PublishedAt  string   `json:"published_at,omitempty"`
	Region       string   `json:"region,omitempty"`
	ViewsPerHour *float64 `json:"views_per_hour,omitempty"`
}

// DiscoveredVideo is a candidate produced by a discovery provider sweep.
type DiscoveredVideo struct {
	Platform     string     `json:"platform"`
	VideoID      string     `json:"video_id"`
	URL          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	Channel      string     `json:"channel,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Region       string     `json:"region,omitempty"`
	ViewCount    int64      `json:"view_count,omitempty"`
	ViewsPerHour float64    `json:"views_per_hour,omitempty"`
}

// AnalyzeTaskFrom converts a discovered video to a queue payload.
func AnalyzeTaskFrom(v DiscoveredVideo) AnalyzeTask {
	task := AnalyzeTask{
		Platform: v.Platform,
		VideoID:  v.VideoID,
		URL:      v.URL,
		Title:    v.Title,
		Channel:  v.Channel,
		Region:   v.Region,
	}
	if v.PublishedAt != nil {
		task.PublishedAt = v.PublishedAt.UTC().Format(time.RFC3339)
	}
	if v.ViewsPerHour > 0 {
		vph := v.ViewsPerHour
		task.ViewsPerHour = &vph
	}
	return task
}

// CachedResult is the snapshot written to Redis under video:{platform}:{id}.
type CachedResult struct {
	Platform     string             `json:"platform"`
	VideoID      string             `json:"video_id"`
	Label        Verdict            `json:"label"`
	Confidence   float64            `json:"confidence"`
	VoteShare    map[string]float64 `json:"vote_share"`
	AnalyzedAt   string             `json:"analyzed_at"`
	ModelVersion string             `json:"model_version"`
	Reason       string             `json:"reason"`
	ViewsPerHour *float64           `json:"views_per_hour,omitempty"`
	Title        string             `json:"title,omitempty"`
	Channel      string             `json:"channel,omitempty"`
	PublishedAt  string             `json:"published_at,omitempty"`
	Region       string             `json:"region,omitempty"`
	SourceURL    string             `json:"source_url,omitempty"`
}

// AnalysisRecord is the row shape persisted into the analyses table.
type AnalysisRecord struct {
	Platform    string
	VideoID     string
	AnalyzedAt  time.Time
	Label       Verdict
	Confidence  float64
	Reason      string
	VoteShare   map[string]float64
	Features    AggregateFeatures
	FramePolicy string
	BatchTimeMS *int64
	FramesCount int
	SourceURL   string
}

// DeepScanTask is the payload of a deepscan:process_job queue message.
type DeepScanTask struct {
	JobID       string            `json:"job_id"`
	Platform    string            `json:"platform"`
	VideoID     string            `json:"video_id"`
	FramesDir   string            `json:"frames_dir"`
	Title       string            `json:"title,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	ClientHints map[string]string `json:"client_hints,omitempty"`
}

// DeepScanResult is the verdict produced by the deep-scan subsystem.
type DeepScanResult struct {
	Verdict     string             `json:"verdict"`
	Confidence  float64            `json:"confidence"`
	Reason      string             `json:"reason"`
	VoteShare   map[string]float64 `json:"vote_share"`
	FrameCount  int                `json:"frame_count"`
	PerFrame    []DeepScanFrame    `json:"per_frame,omitempty"`
	CompletedAt string             `json:"completed_at,omitempty"`
}

// DeepScanFrame is a single frame's forensic assessment.
type DeepScanFrame struct {
	Index      int     `json:"index"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
}

// ParsePublishedAt parses an RFC 3339 timestamp, tolerating a trailing Z.
// Returns nil for empty or unparseable input.
func ParsePublishedAt(value string) *time.Time {
	if value == "" {
		return nil
	}
	s := value
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	t, err := time.Parse("2006-01-02T15:04:05Z07:00", s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return nil
		}
	}
	return &t
}
