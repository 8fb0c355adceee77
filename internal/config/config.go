// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port              string
	FrontendURL       string
	DBPath            string
	KnowledgeBasePath string
	SessionTTL        time.Duration
	BuildLog          BuildLogConfig
	LLM               LLMConfig
	Stream            StreamConfig
	RateLimit         RateLimitConfig
	HistoryWindow     int
}

// BuildLogConfig controls the error-keyword lookup backend.
type BuildLogConfig struct {
	APIURL  string
	Timeout time.Duration
	UseMock bool
}

// LLMConfig controls the model backend used for classification and answers.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// StreamConfig controls how the final answer is chunked back to clients.
type StreamConfig struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

// RateLimitConfig controls per-client chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/conversations.db"),
		KnowledgeBasePath: getEnv("KNOWLEDGE_BASE_PATH", "./data/knowledge_base.json"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		BuildLog: BuildLogConfig{
			APIURL:  getEnv("BUILD_LOG_API_URL", "http://localhost:8001/api/build-log"),
			Timeout: getEnvDuration("BUILD_LOG_TIMEOUT", 30*time.Second),
			UseMock: getEnvBool("BUILD_LOG_USE_MOCK", false),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", ""),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Stream: StreamConfig{
			ChunkSize:  getEnvInt("STREAM_CHUNK_SIZE", 50),
			ChunkDelay: getEnvDuration("STREAM_CHUNK_DELAY", 100*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		HistoryWindow: getEnvInt("HISTORY_WINDOW", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.KnowledgeBasePath == "" {
		return fmt.Errorf("KNOWLEDGE_BASE_PATH cannot be empty")
	}
	if !c.BuildLog.UseMock && c.BuildLog.APIURL == "" {
		return fmt.Errorf("BUILD_LOG_API_URL cannot be empty unless BUILD_LOG_USE_MOCK is set")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("STREAM_CHUNK_SIZE must be > 0")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
