package deepscan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/cache"
	"github.com/scrollsafe/doomscroller/internal/heuristics"
	"github.com/scrollsafe/doomscroller/internal/metrics"
	"github.com/scrollsafe/doomscroller/internal/models"
)

// DeepModelVersion tags deep-scan results separately from the fast
// pipeline's classifier verdicts.
const DeepModelVersion = "deep_v1"

// Scanner produces a structured forensic verdict for a frame batch.
type Scanner interface {
	Scan(ctx context.Context, frames [][]byte) (*geminiPayload, error)
	Model() string
}

// MetadataLookup resolves title and channel for jobs submitted without
// them. A nil result means the video is unknown.
type MetadataLookup interface {
	VideoInfo(ctx context.Context, videoID string) (*models.DiscoveredVideo, error)
}

// Processor runs deep-scan jobs: per-video lock, Gemini forensics,
// heuristics merge, job status bookkeeping.
type Processor struct {
	cache    *cache.Cache
	scanner  Scanner
	metadata MetadataLookup
	lockTTL  time.Duration
	jobTTL   time.Duration
	logger   zerolog.Logger
}

// ProcessorConfig configures a deep-scan processor. Metadata is
// optional; without it, jobs lacking title and channel skip the
// keyword heuristics.
type ProcessorConfig struct {
	Cache    *cache.Cache
	Scanner  Scanner
	Metadata MetadataLookup
	LockTTL  time.Duration
	JobTTL   time.Duration
	Logger   zerolog.Logger
}

func NewProcessor(config *ProcessorConfig) (*Processor, error) {
	if config.Cache == nil || config.Scanner == nil {
		return nil, fmt.Errorf("deep-scan processor requires cache and scanner")
	}
	lockTTL := config.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	jobTTL := config.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	return &Processor{
		cache:    config.Cache,
		scanner:  config.Scanner,
		metadata: config.Metadata,
		lockTTL:  lockTTL,
		jobTTL:   jobTTL,
		logger:   config.Logger,
	}, nil
}

// Process handles one deep-scan job. The frame directory is removed on
// every exit path.
func (p *Processor) Process(ctx context.Context, task models.DeepScanTask) error {
	log := p.logger.With().
		Str("job_id", task.JobID).
		Str("platform", task.Platform).
		Str("video_id", task.VideoID).
		Logger()

	if task.VideoID == "" || task.FramesDir == "" {
		p.setStatus(ctx, task.JobID, "failed", nil, "missing video_id or frames_dir")
		metrics.DeepScanJobs.WithLabelValues("failed").Inc()
		return nil
	}
	defer os.RemoveAll(task.FramesDir)

	platform := task.Platform
	if platform == "" {
		platform = "youtube"
	}

	locked, err := p.cache.LockDeepScan(ctx, platform, task.VideoID, p.lockTTL)
	if err != nil {
		return fmt.Errorf("failed to take deep-scan lock: %w", err)
	}
	if !locked {
		log.Info().Msg("deep scan skipped, lock held")
		p.setStatus(ctx, task.JobID, "failed", nil, "duplicate_in_progress")
		metrics.DeepScanJobs.WithLabelValues("skipped").Inc()
		return nil
	}
	defer func() {
		if err := p.cache.UnlockDeepScan(ctx, platform, task.VideoID); err != nil {
			log.Warn().Err(err).Msg("failed to release deep-scan lock")
		}
	}()

	p.setStatus(ctx, task.JobID, "running", nil, "")

	frames, err := loadFrames(task.FramesDir)
	if err != nil {
		p.setStatus(ctx, task.JobID, "failed", nil, err.Error())
		metrics.DeepScanJobs.WithLabelValues("failed").Inc()
		return err
	}

	started := time.Now()
	var agg scanAggregate
	payload, err := p.scanner.Scan(ctx, frames)
	if err != nil {
		log.Warn().Err(err).Msg("gemini scan failed, using cautious fallback")
		agg = fallbackAggregate(p.scanner.Model())
	} else {
		agg = aggregateScan(payload, len(frames), p.scanner.Model())
	}
	inferenceMS := time.Since(started).Milliseconds()

	title, channel := task.Title, task.Channel
	if title == "" && channel == "" && p.metadata != nil {
		if info, err := p.metadata.VideoInfo(ctx, task.VideoID); err != nil {
			log.Warn().Err(err).Msg("metadata lookup failed")
		} else if info != nil {
			title, channel = info.Title, info.Channel
		}
	}

	heur := heuristics.Check(title, channel)
	merged := applyHints(agg, heur, task.ClientHints)

	result := map[string]any{
		"label":         merged.Label,
		"confidence":    merged.Confidence,
		"reason":        merged.Reason,
		"vote_share":    agg.VoteShare,
		"features":      merged.Features,
		"frames_count":  len(frames),
		"batch_time_ms": inferenceMS,
		"analyzed_at":   time.Now().UTC().Format(time.RFC3339),
		"model_version": DeepModelVersion,
		"platform":      platform,
		"video_id":      task.VideoID,
	}
	p.setStatus(ctx, task.JobID, "done", result, "")
	metrics.DeepScanJobs.WithLabelValues("done").Inc()

	log.Info().
		Str("label", merged.Label).
		Float64("confidence", merged.Confidence).
		Int("frames", len(frames)).
		Dur("elapsed", time.Since(started)).
		Msg("deep scan completed")
	return nil
}

func (p *Processor) setStatus(ctx context.Context, jobID, status string, result map[string]any, errMsg string) {
	payload := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if result != nil {
		payload["result"] = result
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	if err := p.cache.SetDeepScanStatus(ctx, jobID, payload, p.jobTTL); err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to store job status")
	}
}

// loadFrames reads the saved frame files in playback order.
func loadFrames(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("frame directory not found: %s", dir)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "frame_") && strings.HasSuffix(entry.Name(), ".jpg") {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		blob, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %s: %w", name, err)
		}
		frames = append(frames, blob)
	}
	return frames, nil
}

// scanAggregate is the fused outcome before heuristics merge.
type scanAggregate struct {
	VoteShare  map[string]float64
	Label      string
	Confidence float64
	Reason     string
	Features   map[string]any
}

var verdictPrecedence = map[string]int{
	"ai-detected": 2,
	"suspicious":  1,
	"real":        0,
}

// aggregateScan fuses per-frame verdicts by count with ai-detected >
// suspicious > real on ties. Confidence is the mean over frames that
// voted for the winner.
func aggregateScan(payload *geminiPayload, frameCount int, modelName string) scanAggregate {
	normalized := make([]models.DeepScanFrame, 0, len(payload.Frames))
	for i, frame := range payload.Frames {
		verdict := strings.ToLower(strings.TrimSpace(frame.Verdict))
		if _, known := verdictPrecedence[verdict]; !known {
			verdict = "suspicious"
		}
		conf := clamp01(frame.Confidence)
		reason := frame.Reason
		if len(reason) > 140 {
			reason = reason[:140]
		}
		index := frame.Frame
		if index <= 0 {
			index = i + 1
		}
		normalized = append(normalized, models.DeepScanFrame{
			Index:      index,
			Verdict:    verdict,
			Confidence: conf,
			Evidence:   reason,
		})
	}

	counts := make(map[string]int)
	for _, frame := range normalized {
		counts[frame.Verdict]++
	}

	chosen := "suspicious"
	bestCount, bestPrecedence := -1, -1
	for verdict, count := range counts {
		precedence := verdictPrecedence[verdict]
		if count > bestCount || (count == bestCount && precedence > bestPrecedence) {
			chosen, bestCount, bestPrecedence = verdict, count, precedence
		}
	}

	var confSum float64
	var confCount int
	for _, frame := range normalized {
		if frame.Verdict == chosen {
			confSum += frame.Confidence
			confCount++
		}
	}
	confidence := 0.0
	if confCount > 0 {
		confidence = confSum / float64(confCount)
	}

	realVotes := float64(counts["real"])
	artificialVotes := float64(counts["ai-detected"])
	voteShare := map[string]float64{"real": 0.5, "artificial": 0.5}
	if total := realVotes + artificialVotes; total > 0 {
		voteShare["real"] = realVotes / total
		voteShare["artificial"] = artificialVotes / total
	}

	label := chosen
	if chosen == "real" {
		label = string(models.VerdictVerified)
	}

	overall := strings.TrimSpace(payload.Summary.Overall)
	reason := "gemini: model_vote"
	if overall != "" {
		reason = "gemini: " + overall
	}

	return scanAggregate{
		VoteShare:  voteShare,
		Label:      label,
		Confidence: confidence,
		Reason:     reason,
		Features: map[string]any{
			"gemini": map[string]any{
				"model":   modelName,
				"frames":  normalized,
				"summary": map[string]string{"overall": overall},
			},
		},
	}
}

// fallbackAggregate is the cautious verdict used when the model call or
// its output cannot be salvaged.
func fallbackAggregate(modelName string) scanAggregate {
	return scanAggregate{
		VoteShare:  map[string]float64{"real": 0.5, "artificial": 0.5},
		Label:      string(models.VerdictSuspicious),
		Confidence: 0.55,
		Reason:     "gemini:parse_fallback",
		Features: map[string]any{
			"gemini": map[string]any{
				"model":   modelName,
				"frames":  []models.DeepScanFrame{},
				"summary": map[string]string{"overall": "Model response parsing failed; returned cautious fallback."},
			},
		},
	}
}

// applyHints folds metadata heuristics and client-side hints into the
// model verdict. Hints can only push the label toward caution.
func applyHints(agg scanAggregate, heur models.HeuristicsResult, hints map[string]string) scanAggregate {
	label := agg.Label
	confidence := agg.Confidence
	reasons := []string{agg.Reason}

	features := agg.Features
	if features == nil {
		features = make(map[string]any)
	}

	features["heuristics"] = heur
	if heur.Reason != "" {
		reasons = append(reasons, "metadata:"+heur.Reason)
	}
	if heur.Result == models.VerdictAIDetected && label == string(models.VerdictAIDetected) {
		confidence = maxFloat(confidence, heur.Confidence)
	}

	if len(hints) > 0 {
		features["client_hints"] = hints
		hintLabel := hints["result"]
		hintConf, _ := strconv.ParseFloat(hints["confidence"], 64)
		if reason := hints["reason"]; reason != "" {
			reasons = append(reasons, "client:"+reason)
		}
		switch {
		case hintLabel == string(models.VerdictAIDetected):
			label = string(models.VerdictAIDetected)
			confidence = maxFloat(confidence, hintConf)
		case hintLabel == string(models.VerdictSuspicious) && label == string(models.VerdictVerified):
			label = string(models.VerdictSuspicious)
			confidence = maxFloat(confidence, maxFloat(hintConf, 0.6))
		}
	}

	return scanAggregate{
		VoteShare:  agg.VoteShare,
		Label:      label,
		Confidence: clamp01(confidence),
		Reason:     strings.Join(reasons, "; "),
		Features:   features,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
