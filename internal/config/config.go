package config

import (
	"fmt"
	"time"

	"github.com/autogradeai/sage/internal/configs/env"
)

const (
	ModeDeterministic = "deterministic"
	ModeGenerative    = "generative"
)

// Config holds all configuration for the application
type Config struct {
	// MongoDB
	MongoURI    string
	MongoDBName string

	// Redis
	RedisHost               string
	RedisPassword           string
	RedisStreamKey          string
	RedisConsumerGroup      string
	RedisDeadLetterKey      string
	StreamRetentionDuration time.Duration

	// Embedding Service
	EmbedBaseURL string
	EmbedAPIKey  string
	EmbedModel   string
	EmbedTimeout time.Duration

	// OpenAI (generative mode)
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAITimeout time.Duration

	// Grading
	GradingMode      string
	GradingTimeout   time.Duration
	MaxImagesPerCall int

	// Similarity Thresholds
	SimThresholdSemantic float64
	SimThresholdJaccard  float64

	// JWT
	JWTSecret string
	JWTIssuer string

	// Rate Limiting
	RateLimitRPS float64

	// Concurrency
	MaxConcurrentGrading int

	// Logging
	LogLevel string

	// Server
	ServerPort string
}

func Load() (*Config, error) {
	cfg := &Config{}

	// MongoDB
	cfg.MongoURI = env.GetEnv("MONGO_URI", "")
	cfg.MongoDBName = env.GetEnv("MONGO_DB_NAME", "")

	// Redis
	cfg.RedisHost = env.GetEnv("REDIS_HOST", "localhost:6379")
	cfg.RedisPassword = env.GetEnv("REDIS_PASSWORD", "")
	cfg.RedisStreamKey = env.GetEnv("REDIS_STREAM_KEY", "grading:stream")
	cfg.RedisConsumerGroup = env.GetEnv("REDIS_CONSUMER_GROUP", "grading:group")
	cfg.RedisDeadLetterKey = env.GetEnv("REDIS_DEAD_LETTER_KEY", "grading:dlq")
	cfg.StreamRetentionDuration = env.GetEnvDuration("STREAM_RETENTION", 24*time.Hour)

	// Embedding Service
	cfg.EmbedBaseURL = env.GetEnv("EMBED_BASE_URL", "")
	cfg.EmbedAPIKey = env.GetEnv("EMBED_API_KEY", "")
	cfg.EmbedModel = env.GetEnv("EMBED_MODEL", "all-MiniLM-L6-v2")
	cfg.EmbedTimeout = env.GetEnvDuration("EMBED_TIMEOUT", 30*time.Second)

	// OpenAI (generative mode)
	cfg.OpenAIBaseURL = env.GetEnv("OPENAI_BASE_URL", "https://api.openai.com")
	cfg.OpenAIAPIKey = env.GetEnv("OPENAI_API_KEY", "")
	cfg.OpenAIModel = env.GetEnv("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAITimeout = env.GetEnvDuration("OPENAI_TIMEOUT", 60*time.Second)

	// Grading
	cfg.GradingMode = env.GetEnv("GRADING_MODE", ModeDeterministic)
	cfg.GradingTimeout = env.GetEnvDuration("GRADING_TIMEOUT", 10*time.Minute)
	cfg.MaxImagesPerCall = env.GetEnvInt("MAX_IMAGES_PER_CALL", 10)

	// Similarity Thresholds
	cfg.SimThresholdSemantic = env.GetEnvFloat("SIM_THRESHOLD_SEMANTIC", 0.90)
	cfg.SimThresholdJaccard = env.GetEnvFloat("SIM_THRESHOLD_JACCARD", 0.80)

	// JWT
	cfg.JWTSecret = env.GetEnv("JWT_SECRET", "")
	cfg.JWTIssuer = env.GetEnv("JWT_ISSUER", "sage")

	// Rate Limiting
	cfg.RateLimitRPS = env.GetEnvFloat("RATE_LIMIT_RPS", 10.0)

	// Concurrency
	cfg.MaxConcurrentGrading = env.GetEnvInt("MAX_CONCURRENT_GRADING", 5)

	// Logging
	cfg.LogLevel = env.GetEnv("LOG_LEVEL", "info")

	// Server
	cfg.ServerPort = env.GetEnv("SERVER_PORT", "8080")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.MongoDBName == "" {
		return fmt.Errorf("MONGO_DB_NAME is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.GradingMode {
	case ModeDeterministic:
		if c.EmbedBaseURL == "" {
			return fmt.Errorf("EMBED_BASE_URL is required in deterministic mode")
		}
		if c.EmbedAPIKey == "" {
			return fmt.Errorf("EMBED_API_KEY is required in deterministic mode")
		}
	case ModeGenerative:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required in generative mode")
		}
		// Similarity still needs embeddings regardless of grading mode
		if c.EmbedBaseURL == "" {
			return fmt.Errorf("EMBED_BASE_URL is required")
		}
		if c.EmbedAPIKey == "" {
			return fmt.Errorf("EMBED_API_KEY is required")
		}
	default:
		return fmt.Errorf("GRADING_MODE must be %q or %q, got %q", ModeDeterministic, ModeGenerative, c.GradingMode)
	}
	if c.SimThresholdSemantic < 0 || c.SimThresholdSemantic > 1 {
		return fmt.Errorf("SIM_THRESHOLD_SEMANTIC must be in [0, 1]")
	}
	if c.SimThresholdJaccard < 0 || c.SimThresholdJaccard > 1 {
		return fmt.Errorf("SIM_THRESHOLD_JACCARD must be in [0, 1]")
	}
	if c.MaxConcurrentGrading <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_GRADING must be greater than 0")
	}
	if c.MaxImagesPerCall <= 0 {
		return fmt.Errorf("MAX_IMAGES_PER_CALL must be greater than 0")
	}
	if c.StreamRetentionDuration <= 0 {
		return fmt.Errorf("STREAM_RETENTION must be greater than 0")
	}
	return nil
}
