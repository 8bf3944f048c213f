package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrollsafe/doomscroller/internal/extractor"
	"github.com/scrollsafe/doomscroller/internal/inference"
	"github.com/scrollsafe/doomscroller/internal/resolver"
)

// The resolver is deployable on its own, close to the network egress the
// downloads need, so it reads only the settings it uses instead of the
// full worker configuration.
type resolverConfig struct {
	Addr           string
	InferAPIURL    string
	InferAPIKey    string
	HFToken        string
	TargetFrames   int
	ExtractTimeout time.Duration
	InferTimeout   time.Duration
	CookiesFile    string
	CookiesBrowser string
	LogLevel       string
}

func main() {
	cfg, err := loadConfig()
	logger := newLogger(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}
	logger.Info().Msg("starting doomscroller resolver")

	frameExtractor, err := extractor.New(&extractor.Config{
		CookiesFile:    cfg.CookiesFile,
		CookiesBrowser: cfg.CookiesBrowser,
		Timeout:        cfg.ExtractTimeout,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize frame extractor")
	}

	inferClient := inference.NewClient(&inference.ClientConfig{
		BaseURL:        cfg.InferAPIURL,
		APIKey:         cfg.InferAPIKey,
		HFToken:        cfg.HFToken,
		RequestTimeout: cfg.InferTimeout,
		Logger:         logger,
	})

	server := resolver.NewServer(&resolver.ServerConfig{
		Extractor:      frameExtractor,
		Inference:      inferClient,
		TargetFrames:   cfg.TargetFrames,
		ExtractTimeout: cfg.ExtractTimeout,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("resolver listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Fatal().Err(err).Msg("resolver server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("resolver stopped")
}

func loadConfig() (*resolverConfig, error) {
	cfg := &resolverConfig{
		Addr:           getEnv("RESOLVER_ADDR", ":5001"),
		InferAPIURL:    os.Getenv("INFER_API_URL"),
		InferAPIKey:    os.Getenv("INFER_API_KEY"),
		HFToken:        os.Getenv("HUGGING_FACE_API_KEY"),
		TargetFrames:   getEnvInt("INFER_TARGET_FRAMES", 16),
		ExtractTimeout: getEnvSeconds("FRAME_EXTRACT_TIMEOUT", 180),
		InferTimeout:   getEnvSeconds("INFER_REQUEST_TIMEOUT", 180),
		CookiesFile:    os.Getenv("YTDLP_COOKIES_FILE"),
		CookiesBrowser: os.Getenv("YTDLP_COOKIES_BROWSER"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	for name, value := range map[string]string{
		"INFER_API_URL":        cfg.InferAPIURL,
		"INFER_API_KEY":        cfg.InferAPIKey,
		"HUGGING_FACE_API_KEY": cfg.HFToken,
	} {
		if strings.TrimSpace(value) == "" {
			return cfg, fmt.Errorf("required environment variable %s is not set", name)
		}
	}
	if cfg.CookiesFile != "" && cfg.CookiesBrowser != "" {
		return cfg, fmt.Errorf("YTDLP_COOKIES_FILE and YTDLP_COOKIES_BROWSER are mutually exclusive")
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("service", "doomscroller-resolver").Logger()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}
