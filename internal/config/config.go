/**
 * Configuration for the Recipe Extraction service
 *
 * Loads configuration from environment variables (optionally from a .env file
 * loaded by the binaries through godotenv).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds gateway and worker configuration
type Config struct {
	// HTTP gateway
	Port           int
	RequestTimeout time.Duration

	// Redis (async jobs). Empty disables the job endpoints.
	RedisURL     string
	QueueName    string
	JobTTL       time.Duration
	TaskMaxRetry int
	// QueueMaxPending caps waiting jobs; submissions beyond it get OVERLOADED.
	QueueMaxPending int

	// PostgreSQL run audit log. Empty disables recording.
	DatabaseURL string

	// OCR
	OCREngine      string // "tesseract" or "vision"
	TessdataPrefix string
	MageAgentURL   string
	OCRTimeout     time.Duration

	// Language model
	LLMAPIURL          string
	OpenRouterAPIKey   string
	LLMModel           string
	InterpreterTimeout time.Duration

	// Retry policy for the interpreter stage
	InterpreterMaxRetries int
	RetryBaseBackoff      time.Duration
	RetryMultiplier       float64

	// Preprocessing limits
	MaxImageBytes     int64
	MaxImageDimension int
	MaxImagePixels    int64

	// Short-circuit thresholds
	MinOCRConfidence float64
	MinTextChars     int

	// Orchestrator limits
	PipelineTimeout          time.Duration
	MaxConcurrentExtractions int
	MaxQueuedExtractions     int

	// Worker configuration
	WorkerConcurrency int
	WorkerTaskTimeout time.Duration

	// Optional YAML file overriding the built-in tag vocabulary
	TagVocabularyPath string

	// Logging
	LogLevel  string
	LogFormat string

	// Node environment
	NodeEnv string
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := FromEnv()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// FromEnv reads configuration without validating it. Tools that only talk to
// the job queue use it so they do not need LLM credentials.
func FromEnv() *Config {
	return &Config{
		Port:                     getEnvAsIntOrDefault("PORT", 8080),
		RequestTimeout:           getEnvAsMillisOrDefault("REQUEST_TIMEOUT_MS", 65000),
		RedisURL:                 getEnvOrDefault("REDIS_URL", ""),
		QueueName:                getEnvOrDefault("QUEUE_NAME", "recipe:extract"),
		JobTTL:                   getEnvAsMillisOrDefault("JOB_TTL_MS", 24*60*60*1000),
		TaskMaxRetry:             getEnvAsIntOrDefault("TASK_MAX_RETRY", 3),
		QueueMaxPending:          getEnvAsIntOrDefault("QUEUE_MAX_PENDING", 1000),
		DatabaseURL:              getEnvOrDefault("DATABASE_URL", ""),
		OCREngine:                getEnvOrDefault("OCR_ENGINE", "tesseract"),
		TessdataPrefix:           getEnvOrDefault("TESSDATA_PREFIX", ""),
		MageAgentURL:             getEnvOrDefault("MAGEAGENT_URL", "http://nexus-mageagent:8080"),
		OCRTimeout:               getEnvAsMillisOrDefault("OCR_TIMEOUT_MS", 15000),
		LLMAPIURL:                getEnvOrDefault("LLM_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		OpenRouterAPIKey:         getEnvOrDefault("OPENROUTER_API_KEY", ""),
		LLMModel:                 getEnvOrDefault("LLM_MODEL", "openai/gpt-4o-mini"),
		InterpreterTimeout:       getEnvAsMillisOrDefault("INTERPRETER_TIMEOUT_MS", 30000),
		InterpreterMaxRetries:    getEnvAsIntOrDefault("INTERPRETER_MAX_RETRIES", 2),
		RetryBaseBackoff:         getEnvAsMillisOrDefault("RETRY_BASE_BACKOFF_MS", 1000),
		RetryMultiplier:          getEnvAsFloatOrDefault("RETRY_MULTIPLIER", 2),
		MaxImageBytes:            getEnvAsInt64OrDefault("MAX_IMAGE_BYTES", 2*1024*1024), // 2MB
		MaxImageDimension:        getEnvAsIntOrDefault("MAX_IMAGE_DIMENSION", 2000),
		MaxImagePixels:           getEnvAsInt64OrDefault("MAX_IMAGE_PIXELS", 50_000_000),
		MinOCRConfidence:         getEnvAsFloatOrDefault("MIN_OCR_CONFIDENCE", 0.2),
		MinTextChars:             getEnvAsIntOrDefault("MIN_TEXT_CHARS", 20),
		PipelineTimeout:          getEnvAsMillisOrDefault("PIPELINE_TIMEOUT_MS", 60000),
		MaxConcurrentExtractions: getEnvAsIntOrDefault("MAX_CONCURRENT_EXTRACTIONS", 4),
		MaxQueuedExtractions:     getEnvAsIntOrDefault("MAX_QUEUED_EXTRACTIONS", 16),
		WorkerConcurrency:        getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		WorkerTaskTimeout:        getEnvAsMillisOrDefault("WORKER_TASK_TIMEOUT_MS", 120000),
		TagVocabularyPath:        getEnvOrDefault("TAG_VOCABULARY_PATH", ""),
		LogLevel:                 getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:                getEnvOrDefault("LOG_FORMAT", "json"),
		NodeEnv:                  getEnvOrDefault("NODE_ENV", "development"),
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.OpenRouterAPIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	switch c.OCREngine {
	case "tesseract":
	case "vision":
		if c.MageAgentURL == "" {
			return fmt.Errorf("MAGEAGENT_URL is required when OCR_ENGINE=vision")
		}
	default:
		return fmt.Errorf("OCR_ENGINE must be tesseract or vision, got %q", c.OCREngine)
	}

	if c.MaxImageBytes < 1024 || c.MaxImageBytes > 52428800 { // 1KB to 50MB
		return fmt.Errorf("MAX_IMAGE_BYTES must be between 1KB and 50MB, got %d", c.MaxImageBytes)
	}

	if c.MaxImageDimension < 64 || c.MaxImageDimension > 10000 {
		return fmt.Errorf("MAX_IMAGE_DIMENSION must be between 64 and 10000, got %d", c.MaxImageDimension)
	}

	if c.MaxImagePixels < 1_000_000 || c.MaxImagePixels > 250_000_000 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be between 1000000 and 250000000, got %d", c.MaxImagePixels)
	}

	if c.InterpreterMaxRetries < 0 || c.InterpreterMaxRetries > 10 {
		return fmt.Errorf("INTERPRETER_MAX_RETRIES must be between 0 and 10, got %d", c.InterpreterMaxRetries)
	}

	if c.RetryMultiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be at least 1, got %v", c.RetryMultiplier)
	}

	if c.MinOCRConfidence < 0 || c.MinOCRConfidence > 1 {
		return fmt.Errorf("MIN_OCR_CONFIDENCE must be between 0 and 1, got %v", c.MinOCRConfidence)
	}

	if c.MinTextChars < 0 || c.MinTextChars > 10000 {
		return fmt.Errorf("MIN_TEXT_CHARS must be between 0 and 10000, got %d", c.MinTextChars)
	}

	if c.OCRTimeout <= 0 || c.InterpreterTimeout <= 0 || c.PipelineTimeout <= 0 {
		return fmt.Errorf("OCR, interpreter and pipeline timeouts must be positive")
	}

	if c.MaxConcurrentExtractions < 1 || c.MaxConcurrentExtractions > 100 {
		return fmt.Errorf("MAX_CONCURRENT_EXTRACTIONS must be between 1 and 100, got %d", c.MaxConcurrentExtractions)
	}

	if c.MaxQueuedExtractions < 0 {
		return fmt.Errorf("MAX_QUEUED_EXTRACTIONS must not be negative, got %d", c.MaxQueuedExtractions)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.TaskMaxRetry < 0 || c.TaskMaxRetry > 25 {
		return fmt.Errorf("TASK_MAX_RETRY must be between 0 and 25, got %d", c.TaskMaxRetry)
	}

	if c.QueueMaxPending < 0 {
		return fmt.Errorf("QUEUE_MAX_PENDING must not be negative, got %d", c.QueueMaxPending)
	}

	if c.WorkerTaskTimeout < 0 || c.JobTTL < 0 {
		return fmt.Errorf("WORKER_TASK_TIMEOUT_MS and JOB_TTL_MS must not be negative")
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsMillisOrDefault reads a millisecond count as a duration
func getEnvAsMillisOrDefault(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvAsIntOrDefault(key, defaultMs)) * time.Millisecond
}
