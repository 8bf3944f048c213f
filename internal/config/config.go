package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all pipeline settings, loaded once from the environment.
type Config struct {
	DatabaseURL string
	BrokerURL   string
	CacheURL    string

	InferAPIURL string
	InferAPIKey string
	HFToken     string

	ResolverURL string

	TargetFrames        int
	InferRequestTimeout time.Duration
	FrameExtractTimeout time.Duration

	IdempotencyTTL      time.Duration
	IdempotencyStampTTL time.Duration
	DiscoveryDedupeTTL  time.Duration

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	DiscoveryInterval   time.Duration
	DiscoveryRetryDelay time.Duration
	DiscoveryMaxRetries int
	LimitPerProvider    int
	TotalLimit          int
	Priority            int
	SinceHours          int

	YouTubeAPIKey         string
	YouTubeRegions        []string
	YouTubeMaxResults     int
	YouTubeMaxPages       int
	YouTubeRequestTimeout time.Duration
	YouTubeHoursBack      int
	YouTubeSearchQuery    string
	YouTubeTopPerRegion   int
	YouTubePoliteDelay    time.Duration

	GeminiAPIKey string
	GeminiModel  string

	CookiesFile    string
	CookiesBrowser string

	WorkerConcurrency int
	LogLevel          string
	MetricsAddr       string
	ResolverAddr      string
}

// Load reads configuration from the environment. Missing required
// settings fail immediately with the variable name.
func Load() (*Config, error) {
	cfg := &Config{
		ResolverURL: getEnv("DOOMSCROLLER_RESOLVER_URL", ""),

		TargetFrames:        getEnvInt("INFER_TARGET_FRAMES", 16),
		InferRequestTimeout: getEnvSeconds("INFER_REQUEST_TIMEOUT", 180),
		FrameExtractTimeout: getEnvSeconds("FRAME_EXTRACT_TIMEOUT", 180),

		IdempotencyTTL:      getEnvSeconds("IDEMPOTENCY_TTL_SECONDS", 86400),
		IdempotencyStampTTL: getEnvSeconds("IDEMPOTENCY_STAMP_TTL_SECONDS", 259200),
		DiscoveryDedupeTTL:  getEnvSeconds("DISCOVERY_DEDUPE_TTL_SECONDS", 86400),

		HealthCheckInterval: getEnvSeconds("HEALTH_CHECK_INTERVAL_SECONDS", 30),
		HealthCheckTimeout:  getEnvSeconds("HEALTH_CHECK_TIMEOUT", 5),

		DiscoveryInterval:   getEnvSeconds("DISCOVERY_INTERVAL_SECONDS", 120),
		DiscoveryRetryDelay: getEnvSeconds("DISCOVERY_RETRY_DELAY_SECONDS", 90),
		DiscoveryMaxRetries: getEnvInt("DISCOVERY_MAX_RETRIES", 3),
		LimitPerProvider:    getEnvInt("DISCOVERY_LIMIT_PER_PROVIDER", 100),
		TotalLimit:          getEnvInt("DISCOVERY_TOTAL_LIMIT", 100),
		Priority:            getEnvInt("DISCOVERY_PRIORITY", 5),
		SinceHours:          getEnvInt("DISCOVERY_SINCE_HOURS", 0),

		YouTubeAPIKey:         os.Getenv("YOUTUBE_API_KEY"),
		YouTubeRegions:        splitCSV(getEnv("YOUTUBE_REGIONS", "US")),
		YouTubeMaxResults:     getEnvInt("YOUTUBE_MAX_RESULTS", 50),
		YouTubeMaxPages:       getEnvInt("YOUTUBE_MAX_PAGES_PER_SWEEP", 2),
		YouTubeRequestTimeout: getEnvSeconds("YOUTUBE_REQUEST_TIMEOUT", 10),
		YouTubeHoursBack:      getEnvInt("YOUTUBE_HOURS_BACK", 48),
		YouTubeSearchQuery:    getEnv("YOUTUBE_SEARCH_QUERY", "#shorts"),
		YouTubeTopPerRegion:   getEnvInt("YOUTUBE_TOP_PER_REGION", 75),
		YouTubePoliteDelay:    getEnvFloatSeconds("YOUTUBE_POLITE_DELAY_SECONDS", 0.2),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		CookiesFile:    os.Getenv("YTDLP_COOKIES_FILE"),
		CookiesBrowser: os.Getenv("YTDLP_COOKIES_BROWSER"),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 3),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
		ResolverAddr:      getEnv("RESOLVER_ADDR", ":5001"),
	}

	required := []struct {
		name string
		dst  *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"CELERY_BROKER_URL", &cfg.BrokerURL},
		{"REDIS_APP_URL", &cfg.CacheURL},
		{"INFER_API_URL", &cfg.InferAPIURL},
		{"INFER_API_KEY", &cfg.InferAPIKey},
		{"HUGGING_FACE_API_KEY", &cfg.HFToken},
	}
	for _, r := range required {
		v := os.Getenv(r.name)
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("required environment variable %s is not set", r.name)
		}
		*r.dst = v
	}

	if cfg.TargetFrames < 1 {
		return nil, fmt.Errorf("INFER_TARGET_FRAMES must be >= 1, got %d", cfg.TargetFrames)
	}
	if cfg.Priority < 0 || cfg.Priority > 9 {
		return nil, fmt.Errorf("DISCOVERY_PRIORITY must be in [0,9], got %d", cfg.Priority)
	}
	if cfg.CookiesFile != "" && cfg.CookiesBrowser != "" {
		return nil, fmt.Errorf("YTDLP_COOKIES_FILE and YTDLP_COOKIES_BROWSER are mutually exclusive")
	}

	return cfg, nil
}

// FramePolicy names the frame selection strategy used for analysis. It is
// persisted with every row and is part of the idempotency key.
func (c *Config) FramePolicy() string {
	return fmt.Sprintf("even_%d", c.TargetFrames)
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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

func getEnvFloatSeconds(key string, defaultValue float64) time.Duration {
	seconds := defaultValue
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			seconds = parsed
		}
	}
	return time.Duration(seconds * float64(time.Second))
}
