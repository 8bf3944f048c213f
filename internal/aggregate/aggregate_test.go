package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrollsafe/doomscroller/internal/models"
)

func respFromArtificial(scores ...float64) *models.InferenceResponse {
	resp := &models.InferenceResponse{BatchTimeMS: 42}
	for _, a := range scores {
		resp.Results = append(resp.Results, models.InferenceResult{
			LabelScores: map[string]float64{"real": 1 - a, "artificial": a},
		})
	}
	return resp
}

func noKeywords() models.HeuristicsResult {
	return models.HeuristicsResult{Result: models.VerdictVerified, Confidence: 0.3, Reason: "no_keywords"}
}

func withKeywords() models.HeuristicsResult {
	return models.HeuristicsResult{Result: models.VerdictAIDetected, Confidence: 0.7, Reason: "keyword_match: deepfake"}
}

func TestDecideTooFewFrames(t *testing.T) {
	d := Decide(respFromArtificial(0.99, 0.99, 0.99), noKeywords())
	assert.Equal(t, models.VerdictVerified, d.Label)
	assert.Equal(t, 0.5, d.Confidence)
	assert.Equal(t, "model_vote: too_few_frames_default_real", d.Reason)
	assert.Equal(t, 3, d.Features.TotalFrames)
}

func TestDecideEmptyResults(t *testing.T) {
	d := Decide(respFromArtificial(), noKeywords())
	assert.Equal(t, models.VerdictVerified, d.Label)
	assert.Equal(t, "model_vote: too_few_frames_default_real", d.Reason)
	assert.Equal(t, 0.5, d.VoteShare["artificial"])
	assert.Equal(t, 0.5, d.VoteShare["real"])
}

func TestDecideStrongArtificialWithKeywords(t *testing.T) {
	// 6/16 frames >= 0.95 -> frac_a95 = 0.375, over the keyword threshold
	scores := make([]float64, 16)
	for i := range scores {
		scores[i] = 0.1
	}
	for i := 0; i < 6; i++ {
		scores[i] = 0.96
	}
	d := Decide(respFromArtificial(scores...), withKeywords())
	assert.Equal(t, models.VerdictAIDetected, d.Label)
	assert.Equal(t, "model_vote: strong_artificial_with_keywords", d.Reason)
	assert.InDelta(t, 0.96, d.Confidence, 1e-9)
	assert.Equal(t, 6, d.Features.CountA95)
}

func TestDecideSameScoresWithoutKeywordsNotArtificial(t *testing.T) {
	// the 0.375 frac_a95 that convicts with keywords is not enough alone
	scores := make([]float64, 16)
	for i := range scores {
		scores[i] = 0.1
	}
	for i := 0; i < 6; i++ {
		scores[i] = 0.96
	}
	d := Decide(respFromArtificial(scores...), noKeywords())
	assert.NotEqual(t, models.VerdictAIDetected, d.Label)
}

func TestDecideVeryStrongArtificialNoKeywords(t *testing.T) {
	// 10/16 frames >= 0.95 -> frac_a95 = 0.625
	scores := make([]float64, 16)
	for i := range scores {
		scores[i] = 0.1
	}
	for i := 0; i < 10; i++ {
		scores[i] = 0.97
	}
	d := Decide(respFromArtificial(scores...), noKeywords())
	assert.Equal(t, models.VerdictAIDetected, d.Label)
	assert.Equal(t, "model_vote: very_strong_artificial_no_keywords", d.Reason)
}

func TestDecideKeywordsWithSignalsSuspicious(t *testing.T) {
	// one frame over 0.90 plus keywords is already suspicious
	scores := make([]float64, 16)
	for i := range scores {
		scores[i] = 0.1
	}
	scores[0] = 0.91
	d := Decide(respFromArtificial(scores...), withKeywords())
	assert.Equal(t, models.VerdictSuspicious, d.Label)
	assert.Equal(t, "model_vote: ai_keywords_with_signals", d.Reason)
	assert.InDelta(t, 0.91, d.Confidence, 1e-9)
}

func TestDecideMixedSignalNoKeywords(t *testing.T) {
	// 4 frames >= 0.90 with a high top-3 mean, no keywords
	scores := make([]float64, 12)
	for i := range scores {
		scores[i] = 0.1
	}
	for i := 0; i < 4; i++ {
		scores[i] = 0.94
	}
	d := Decide(respFromArtificial(scores...), noKeywords())
	assert.Equal(t, models.VerdictSuspicious, d.Label)
	assert.Equal(t, "model_vote: mixed_signal_no_keywords", d.Reason)
}

func TestDecideDefaultReal(t *testing.T) {
	scores := make([]float64, 16)
	for i := range scores {
		scores[i] = 0.2
	}
	d := Decide(respFromArtificial(scores...), noKeywords())
	assert.Equal(t, models.VerdictVerified, d.Label)
	assert.Equal(t, "model_vote: default_real", d.Reason)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
}

func TestDecideDefaultRealConfidenceFloor(t *testing.T) {
	// one 0.85 frame drops 1-max below 0.6, the floor kicks in
	scores := make([]float64, 16)
	for i := range scores {
		scores[i] = 0.1
	}
	scores[0] = 0.85
	d := Decide(respFromArtificial(scores...), noKeywords())
	assert.Equal(t, models.VerdictVerified, d.Label)
	assert.Equal(t, 0.6, d.Confidence)
}

func TestDecideVoteShareFromSummedProbabilities(t *testing.T) {
	d := Decide(respFromArtificial(0.8, 0.8, 0.8, 0.8), noKeywords())
	assert.InDelta(t, 0.8, d.VoteShare["artificial"], 1e-9)
	assert.InDelta(t, 0.2, d.VoteShare["real"], 1e-9)
}

func TestDecideFeaturesCounts(t *testing.T) {
	d := Decide(respFromArtificial(0.96, 0.92, 0.81, 0.10, 0.10), noKeywords())
	f := d.Features
	assert.Equal(t, 5, f.TotalFrames)
	assert.Equal(t, 1, f.CountA95)
	assert.Equal(t, 2, f.CountA90)
	assert.Equal(t, 3, f.CountA80)
	assert.InDelta(t, 0.96, f.MaxArtificial, 1e-9)
	assert.InDelta(t, (0.96+0.92+0.81)/3, f.Top3MeanArtificial, 1e-9)
	assert.Equal(t, 3, f.ArtificialVotes)
	assert.Equal(t, 2, f.RealVotes)
	assert.Equal(t, "artificial", f.MajorityLabel)
}

func TestDecideTieGoesToArtificialMajority(t *testing.T) {
	// artificial >= real counts as an artificial vote
	d := Decide(respFromArtificial(0.5, 0.5, 0.5, 0.5), noKeywords())
	assert.Equal(t, 4, d.Features.ArtificialVotes)
	assert.Equal(t, "artificial", d.Features.MajorityLabel)
}
