// Package config provides configuration management for timegraph.
// It loads settings from environment variables with the TIMEGRAPH_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the timegraph application.
type Config struct {
	Storage   StorageConfig
	Decay     DecayConfig
	Jobs      JobsConfig
	Limiter   LimiterConfig
	Cache     CacheConfig
	Embedding EmbeddingConfig
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend string // Storage backend: sqlite, postgres (default: sqlite)
	DSN     string // Connection string (default: ./data/timegraph.db)
}

// DecayConfig controls read-time confidence decay for relations.
type DecayConfig struct {
	HalfLifeDays  float64 // Days until a confidence halves (default: 30)
	MinConfidence float64 // Floor confidence never decays below (default: 0.1)
}

// JobsConfig tunes the embedding job processor and its schedule.
type JobsConfig struct {
	BatchSize   int           // Jobs claimed per processing pass (default: 10)
	MaxAttempts int           // Attempt budget per job (default: 3)
	CleanupAge  time.Duration // Age before completed jobs are deleted (default: 168h)
	ProcessSpec string        // Cron spec for batch processing (default: every minute)
	CleanupSpec string        // Cron spec for queue GC (default: 0 3 * * *)
}

// LimiterConfig tunes the embedding rate limiter.
type LimiterConfig struct {
	Tokens   int           // Tokens granted per interval (default: 20)
	Interval time.Duration // Refill interval (default: 1m)
}

// CacheConfig tunes the embedding content cache.
type CacheConfig struct {
	Size int           // Max cached embeddings (default: 1000)
	TTL  time.Duration // Entry lifetime (default: 1h)
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider             string // Embedding provider: mock, ollama, openai (default: ollama)
	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaEmbeddingModel string // Ollama embedding model (default: nomic-embed-text)
	OllamaDimensions     int    // Vector size of the Ollama model (default: 768)
	OpenAIAPIKey         string // OpenAI API key
	OpenAIBaseURL        string // Override for OpenAI-compatible endpoints
	OpenAIModel          string // OpenAI embedding model (default: text-embedding-3-small)
	OpenAIDimensions     int    // Vector size of the OpenAI model (default: 1536)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the TIMEGRAPH_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Backend: getEnv("TIMEGRAPH_STORAGE_BACKEND", "sqlite"),
			DSN:     getEnv("TIMEGRAPH_STORAGE_DSN", "./data/timegraph.db"),
		},
		Decay: DecayConfig{
			HalfLifeDays:  getEnvFloat("TIMEGRAPH_DECAY_HALF_LIFE_DAYS", 30),
			MinConfidence: getEnvFloat("TIMEGRAPH_DECAY_MIN_CONFIDENCE", 0.1),
		},
		Jobs: JobsConfig{
			BatchSize:   getEnvInt("TIMEGRAPH_JOBS_BATCH_SIZE", 10),
			MaxAttempts: getEnvInt("TIMEGRAPH_JOBS_MAX_ATTEMPTS", 3),
			CleanupAge:  getEnvDuration("TIMEGRAPH_JOBS_CLEANUP_AGE", 7*24*time.Hour),
			ProcessSpec: getEnv("TIMEGRAPH_JOBS_PROCESS_SPEC", "* * * * *"),
			CleanupSpec: getEnv("TIMEGRAPH_JOBS_CLEANUP_SPEC", "0 3 * * *"),
		},
		Limiter: LimiterConfig{
			Tokens:   getEnvInt("TIMEGRAPH_LIMITER_TOKENS", 20),
			Interval: getEnvDuration("TIMEGRAPH_LIMITER_INTERVAL", time.Minute),
		},
		Cache: CacheConfig{
			Size: getEnvInt("TIMEGRAPH_CACHE_SIZE", 1000),
			TTL:  getEnvDuration("TIMEGRAPH_CACHE_TTL", time.Hour),
		},
		Embedding: EmbeddingConfig{
			Provider:             getEnv("TIMEGRAPH_EMBEDDING_PROVIDER", "ollama"),
			OllamaURL:            getEnv("TIMEGRAPH_OLLAMA_URL", "http://localhost:11434"),
			OllamaEmbeddingModel: getEnv("TIMEGRAPH_OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			OllamaDimensions:     getEnvInt("TIMEGRAPH_OLLAMA_DIMENSIONS", 768),
			OpenAIAPIKey:         getEnv("TIMEGRAPH_OPENAI_API_KEY", ""),
			OpenAIBaseURL:        getEnv("TIMEGRAPH_OPENAI_BASE_URL", ""),
			OpenAIModel:          getEnv("TIMEGRAPH_OPENAI_MODEL", "text-embedding-3-small"),
			OpenAIDimensions:     getEnvInt("TIMEGRAPH_OPENAI_DIMENSIONS", 1536),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Embedding.Provider {
	case "mock", "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}

	if c.Embedding.Provider == "openai" && c.Embedding.OpenAIAPIKey == "" {
		return fmt.Errorf("config: TIMEGRAPH_OPENAI_API_KEY is required for the openai provider")
	}

	if c.Decay.HalfLifeDays <= 0 {
		return fmt.Errorf("config: decay half-life must be positive, got %v", c.Decay.HalfLifeDays)
	}
	if c.Decay.MinConfidence < 0 || c.Decay.MinConfidence > 1 {
		return fmt.Errorf("config: decay min confidence must be in [0, 1], got %v", c.Decay.MinConfidence)
	}

	if c.Limiter.Tokens < 1 {
		return fmt.Errorf("config: limiter tokens must be at least 1, got %d", c.Limiter.Tokens)
	}
	return nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
