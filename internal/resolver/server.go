package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/metrics"
	"github.com/scrollsafe/doomscroller/internal/models"
)

// FrameExtractor pulls frames out of a video URL.
type FrameExtractor interface {
	Extract(ctx context.Context, url string, targetFrames int) ([][]byte, error)
}

// Inferrer classifies a batch of frames.
type Inferrer interface {
	Infer(ctx context.Context, frames [][]byte) (*models.InferenceResponse, error)
}

// Server exposes extraction plus inference over HTTP for workers that
// cannot run yt-dlp and ffmpeg themselves.
type Server struct {
	extractor      FrameExtractor
	inference      Inferrer
	targetFrames   int
	extractTimeout time.Duration
	logger         zerolog.Logger
	router         chi.Router
}

// ServerConfig configures the resolver service.
type ServerConfig struct {
	Extractor      FrameExtractor
	Inference      Inferrer
	TargetFrames   int
	ExtractTimeout time.Duration
	Logger         zerolog.Logger
}

func NewServer(config *ServerConfig) *Server {
	s := &Server{
		extractor:      config.Extractor,
		inference:      config.Inference,
		targetFrames:   config.TargetFrames,
		extractTimeout: config.ExtractTimeout,
		logger:         config.Logger,
	}
	if s.targetFrames <= 0 {
		s.targetFrames = 16
	}
	if s.extractTimeout <= 0 {
		s.extractTimeout = 180 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	s.router = r
	return s
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleAnalyze extracts frames and classifies them. Pipeline failures
// are reported with success=false and HTTP 200 so the caller can tell a
// dead resolver from a dead video.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, AnalyzeResponse{Success: false, Error: "invalid request body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, AnalyzeResponse{Success: false, Error: "url is required"})
		return
	}
	if req.TargetFrames <= 0 {
		req.TargetFrames = s.targetFrames
	}
	timeout := s.extractTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	started := time.Now()
	s.logger.Info().Str("url", req.URL).Int("target_frames", req.TargetFrames).Msg("resolver analyze started")

	frames, err := s.extractor.Extract(ctx, req.URL, req.TargetFrames)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", req.URL).Msg("frame extraction failed")
		writeJSON(w, http.StatusOK, AnalyzeResponse{
			Success: false,
			Error:   fmt.Sprintf("frame extraction failed: %s", err),
		})
		return
	}
	if len(frames) == 0 {
		writeJSON(w, http.StatusOK, AnalyzeResponse{Success: false, Error: "no frames extracted"})
		return
	}

	inference, err := s.inference.Infer(ctx, frames)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", req.URL).Msg("inference failed")
		writeJSON(w, http.StatusOK, AnalyzeResponse{
			Success: false,
			Error:   fmt.Sprintf("inference failed: %s", err),
		})
		return
	}
	metrics.InferenceLatency.Observe(time.Since(started).Seconds())

	s.logger.Info().
		Str("url", req.URL).
		Int("frames", len(frames)).
		Dur("elapsed", time.Since(started)).
		Msg("resolver analyze completed")

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Success:     true,
		Inference:   inference,
		FramesCount: len(frames),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
