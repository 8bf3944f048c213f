package resolver

import "github.com/scrollsafe/doomscroller/internal/models"

// AnalyzeRequest asks the resolver to extract frames from a URL and run
// them through the classifier.
type AnalyzeRequest struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Channel      string `json:"channel,omitempty"`
	TargetFrames int    `json:"target_frames"`
	Timeout      int    `json:"timeout"`
}

// AnalyzeResponse carries the classifier output back to the worker.
// Extraction and inference failures are reported in-band with
// success=false so the transport stays HTTP 200.
type AnalyzeResponse struct {
	Success     bool                      `json:"success"`
	Inference   *models.InferenceResponse `json:"inference,omitempty"`
	FramesCount int                       `json:"frames_count"`
	Error       string                    `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
