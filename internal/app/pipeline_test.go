package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/recipe-extractor/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		OCREngine:                "tesseract",
		OCRTimeout:               time.Second,
		LLMAPIURL:                "http://127.0.0.1:1/v1/chat/completions",
		OpenRouterAPIKey:         "key",
		LLMModel:                 "test-model",
		InterpreterTimeout:       time.Second,
		InterpreterMaxRetries:    1,
		RetryBaseBackoff:         10 * time.Millisecond,
		RetryMultiplier:          2,
		MaxImageBytes:            1 << 20,
		MaxImageDimension:        1000,
		MinOCRConfidence:         0.2,
		MinTextChars:             20,
		PipelineTimeout:          5 * time.Second,
		MaxConcurrentExtractions: 2,
		MaxQueuedExtractions:     2,
	}
}

func TestNewExtractor(t *testing.T) {
	cfg := testConfig()

	ext, err := NewExtractor(cfg)
	require.NoError(t, err)
	assert.Equal(t, "tesseract", ext.Name())

	cfg.OCREngine = "vision"
	cfg.MageAgentURL = "http://mageagent:8080"
	ext, err = NewExtractor(cfg)
	require.NoError(t, err)
	assert.Equal(t, "mageagent-vision", ext.Name())

	cfg.OCREngine = "easyocr"
	_, err = NewExtractor(cfg)
	assert.Error(t, err)
}

func TestNewPipeline(t *testing.T) {
	p, err := NewPipeline(testConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNewPipelineVisionReadiness(t *testing.T) {
	mageagent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer mageagent.Close()

	cfg := testConfig()
	cfg.OCREngine = "vision"
	cfg.MageAgentURL = mageagent.URL

	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)

	check := p.ExtractorHealth()
	require.NotNil(t, check)
	assert.Error(t, check(context.Background()))

	local, err := NewPipeline(testConfig(), nil)
	require.NoError(t, err)
	assert.Nil(t, local.ExtractorHealth())
}

func TestNewPipelineTagVocabulary(t *testing.T) {
	cfg := testConfig()
	cfg.TagVocabularyPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewPipeline(cfg, nil)
	assert.Error(t, err)

	cfg.TagVocabularyPath = filepath.Join(t.TempDir(), "tags.yaml")
	require.NoError(t, os.WriteFile(cfg.TagVocabularyPath, []byte("title:\n  stew: [stew]\n"), 0o600))
	_, err = NewPipeline(cfg, nil)
	assert.NoError(t, err)
}

func TestOptionalStoresDisabled(t *testing.T) {
	cfg := testConfig()

	pg, err := OpenRecorder(cfg)
	require.NoError(t, err)
	assert.Nil(t, pg)

	js, err := OpenJobStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, js)
}
