package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(2*1024*1024), cfg.MaxImageBytes)
	assert.Equal(t, 2000, cfg.MaxImageDimension)
	assert.Equal(t, int64(50_000_000), cfg.MaxImagePixels)
	assert.Equal(t, 15*time.Second, cfg.OCRTimeout)
	assert.Equal(t, 30*time.Second, cfg.InterpreterTimeout)
	assert.Equal(t, 60*time.Second, cfg.PipelineTimeout)
	assert.Equal(t, 2, cfg.InterpreterMaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseBackoff)
	assert.Equal(t, 2.0, cfg.RetryMultiplier)
	assert.Equal(t, 0.2, cfg.MinOCRConfidence)
	assert.Equal(t, 20, cfg.MinTextChars)
	assert.Equal(t, "tesseract", cfg.OCREngine)
	assert.Equal(t, 24*time.Hour, cfg.JobTTL)
	assert.Equal(t, 3, cfg.TaskMaxRetry)
	assert.Equal(t, 1000, cfg.QueueMaxPending)
	assert.Equal(t, 2*time.Minute, cfg.WorkerTaskTimeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("OCR_TIMEOUT_MS", "5000")
	t.Setenv("RETRY_MULTIPLIER", "3")
	t.Setenv("MAX_CONCURRENT_EXTRACTIONS", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.OCRTimeout)
	assert.Equal(t, 3.0, cfg.RetryMultiplier)
	assert.Equal(t, 4, cfg.MaxConcurrentExtractions)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                     8080,
			OpenRouterAPIKey:         "key",
			OCREngine:                "tesseract",
			OCRTimeout:               time.Second,
			InterpreterTimeout:       time.Second,
			PipelineTimeout:          time.Second,
			MaxImageBytes:            2 << 20,
			MaxImageDimension:        2000,
			MaxImagePixels:           50_000_000,
			InterpreterMaxRetries:    2,
			RetryMultiplier:          2,
			MinOCRConfidence:         0.2,
			MaxConcurrentExtractions: 4,
			WorkerConcurrency:        4,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing api key", func(c *Config) { c.OpenRouterAPIKey = "" }, "OPENROUTER_API_KEY"},
		{"unknown engine", func(c *Config) { c.OCREngine = "easyocr" }, "OCR_ENGINE"},
		{"vision without url", func(c *Config) { c.OCREngine = "vision"; c.MageAgentURL = "" }, "MAGEAGENT_URL"},
		{"tiny image limit", func(c *Config) { c.MaxImageBytes = 10 }, "MAX_IMAGE_BYTES"},
		{"multiplier below one", func(c *Config) { c.RetryMultiplier = 0.5 }, "RETRY_MULTIPLIER"},
		{"confidence floor", func(c *Config) { c.MinOCRConfidence = 1.5 }, "MIN_OCR_CONFIDENCE"},
		{"short-circuit disabled", func(c *Config) { c.MinOCRConfidence = 0; c.MinTextChars = 0 }, ""},
		{"negative text chars", func(c *Config) { c.MinTextChars = -1 }, "MIN_TEXT_CHARS"},
		{"pixel limit too small", func(c *Config) { c.MaxImagePixels = 1000 }, "MAX_IMAGE_PIXELS"},
		{"zero timeout", func(c *Config) { c.OCRTimeout = 0 }, "timeouts"},
		{"negative queue", func(c *Config) { c.MaxQueuedExtractions = -1 }, "MAX_QUEUED_EXTRACTIONS"},
		{"task retries", func(c *Config) { c.TaskMaxRetry = 99 }, "TASK_MAX_RETRY"},
		{"negative pending cap", func(c *Config) { c.QueueMaxPending = -1 }, "QUEUE_MAX_PENDING"},
		{"negative job ttl", func(c *Config) { c.JobTTL = -time.Second }, "JOB_TTL_MS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
