package heuristics

import (
	"fmt"
	"strings"

	"github.com/scrollsafe/doomscroller/internal/models"
)

// aiKeywords are matched case-insensitively against title and channel.
// Order matters: the first hit names the reason.
var aiKeywords = []string{
	"ai generated",
	"ai-generated",
	"artificial intelligence",
	"deepfake",
	"synthetic",
	"generated by ai",
	"created by ai",
	"ai content",
	"ai video",
	"machine learning",
	"neural network",
	"computer generated",
}

// Check scans title and channel for AI-disclosure keywords. A hit yields a
// weak ai-detected signal; a miss yields a weak verified signal. The result
// only biases the frame-score decision, it never decides on its own.
func Check(title, channel string) models.HeuristicsResult {
	combined := strings.ToLower(title + " " + channel)

	for _, keyword := range aiKeywords {
		if strings.Contains(combined, keyword) {
			return models.HeuristicsResult{
				Result:     models.VerdictAIDetected,
				Confidence: 0.7,
				Reason:     fmt.Sprintf("keyword_match: %s", keyword),
			}
		}
	}

	return models.HeuristicsResult{
		Result:     models.VerdictVerified,
		Confidence: 0.3,
		Reason:     "no_keywords",
	}
}
