package aggregate

import (
	"fmt"
	"sort"

	"github.com/scrollsafe/doomscroller/internal/models"
)

// Decide fuses per-frame classifier scores with the metadata heuristics
// result into an external verdict. The rules skew heavily towards
// verified: without corroborating keywords only very strong frame
// evidence yields ai-detected.
func Decide(resp *models.InferenceResponse, heur models.HeuristicsResult) models.Decision {
	scores := make([]models.FrameScores, 0, len(resp.Results))
	voteTotals := map[string]float64{models.LabelReal: 0, models.LabelArtificial: 0}

	for _, entry := range resp.Results {
		s := models.FrameScores{
			Real:       entry.LabelScores[models.LabelReal],
			Artificial: entry.LabelScores[models.LabelArtificial],
		}
		scores = append(scores, s)
		voteTotals[models.LabelReal] += s.Real
		voteTotals[models.LabelArtificial] += s.Artificial
	}

	// With no usable frames both labels sit at 0.5, an explicit "no signal".
	voteShare := map[string]float64{
		models.LabelReal:       0.5,
		models.LabelArtificial: 0.5,
	}
	if totalVotes := voteTotals[models.LabelReal] + voteTotals[models.LabelArtificial]; totalVotes > 0 {
		voteShare[models.LabelReal] = voteTotals[models.LabelReal] / totalVotes
		voteShare[models.LabelArtificial] = voteTotals[models.LabelArtificial] / totalVotes
	}

	label, confidence, reasonSuffix, features := decideLabel(scores, heur)

	return models.Decision{
		Label:      externalLabel(label),
		Confidence: confidence,
		Reason:     fmt.Sprintf("model_vote: %s", reasonSuffix),
		VoteShare:  voteShare,
		Features:   features,
	}
}

func externalLabel(internal string) models.Verdict {
	switch internal {
	case models.LabelArtificial:
		return models.VerdictAIDetected
	case models.LabelSuspicious:
		return models.VerdictSuspicious
	default:
		return models.VerdictVerified
	}
}

// decideLabel applies the conservative classification rules. It never
// returns an unknown label; the fallthrough is always real.
func decideLabel(scores []models.FrameScores, heur models.HeuristicsResult) (string, float64, string, models.AggregateFeatures) {
	totalFrames := len(scores)

	artificialScores := make([]float64, 0, totalFrames)
	realVotes, artificialVotes := 0, 0
	for _, s := range scores {
		artificialScores = append(artificialScores, s.Artificial)
		if s.Artificial >= s.Real {
			artificialVotes++
		} else {
			realVotes++
		}
	}

	sorted := append([]float64(nil), artificialScores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var maxArtificial, top3Mean float64
	if len(sorted) > 0 {
		maxArtificial = sorted[0]
		n := len(sorted)
		if n > 3 {
			n = 3
		}
		sum := 0.0
		for _, v := range sorted[:n] {
			sum += v
		}
		top3Mean = sum / float64(n)
	}

	countA95 := countAtLeast(artificialScores, 0.95)
	countA90 := countAtLeast(artificialScores, 0.90)
	countA80 := countAtLeast(artificialScores, 0.80)

	var fracA95, fracA90, fracA80 float64
	if totalFrames > 0 {
		fracA95 = float64(countA95) / float64(totalFrames)
		fracA90 = float64(countA90) / float64(totalFrames)
		fracA80 = float64(countA80) / float64(totalFrames)
	}

	majority := models.LabelReal
	if artificialVotes >= realVotes {
		majority = models.LabelArtificial
	}

	features := models.AggregateFeatures{
		MajorityLabel:      majority,
		RealVotes:          realVotes,
		ArtificialVotes:    artificialVotes,
		TotalFrames:        totalFrames,
		MaxArtificial:      maxArtificial,
		Top3MeanArtificial: top3Mean,
		CountA95:           countA95,
		CountA90:           countA90,
		CountA80:           countA80,
		FracA95:            fracA95,
		FracA90:            fracA90,
		FracA80:            fracA80,
	}

	hasAIKeywords := heur.Result == models.VerdictAIDetected

	if totalFrames < 4 {
		return models.LabelReal, 0.5, "too_few_frames_default_real", features
	}

	if hasAIKeywords {
		if fracA95 >= 0.35 ||
			(countA90 >= 4 && top3Mean >= 0.94) ||
			fracA90 >= 0.5 {
			return models.LabelArtificial, maxArtificial, "strong_artificial_with_keywords", features
		}
	} else {
		if fracA95 >= 0.6 ||
			(countA95 >= 6 && top3Mean >= 0.97) ||
			(fracA90 >= 0.75 && len(sorted) >= 5 && minOf(sorted[:5]) >= 0.93) {
			return models.LabelArtificial, maxArtificial, "very_strong_artificial_no_keywords", features
		}
	}

	if hasAIKeywords {
		if countA90 >= 1 || fracA80 >= 0.20 || maxArtificial >= 0.85 {
			return models.LabelSuspicious, maxArtificial, "ai_keywords_with_signals", features
		}
	} else {
		if (countA90 >= 3 && countA90 <= 5 && top3Mean >= 0.93) ||
			(fracA90 >= 0.30 && fracA90 <= 0.60 && maxArtificial >= 0.92) ||
			(fracA80 >= 0.40 && top3Mean >= 0.90) {
			return models.LabelSuspicious, maxArtificial, "mixed_signal_no_keywords", features
		}
	}

	confidence := 1.0 - maxArtificial
	if confidence < 0.6 {
		confidence = 0.6
	}
	return models.LabelReal, confidence, "default_real", features
}

func countAtLeast(values []float64, threshold float64) int {
	n := 0
	for _, v := range values {
		if v >= threshold {
			n++
		}
	}
	return n
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
