// Package app wires configuration into the extraction pipeline and its
// optional backing stores. Both binaries build their pipeline here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/recipe-extractor/internal/clients"
	"github.com/adverant/nexus/recipe-extractor/internal/config"
	"github.com/adverant/nexus/recipe-extractor/internal/logging"
	"github.com/adverant/nexus/recipe-extractor/internal/processor"
	"github.com/adverant/nexus/recipe-extractor/internal/storage"
)

// NewExtractor returns the OCR engine selected by OCR_ENGINE
func NewExtractor(cfg *config.Config) (processor.TextExtractor, error) {
	switch cfg.OCREngine {
	case "tesseract", "":
		return processor.NewTesseractExtractor(processor.TesseractConfig{
			Timeout:        cfg.OCRTimeout,
			TessdataPrefix: cfg.TessdataPrefix,
		}), nil
	case "vision":
		return processor.NewVisionExtractor(clients.NewMageAgentClient(cfg.MageAgentURL), cfg.OCRTimeout), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.OCREngine)
	}
}

// NewPipeline builds the orchestrator. recorder may be nil.
func NewPipeline(cfg *config.Config, recorder processor.RunRecorder) (*processor.Processor, error) {
	extractor, err := NewExtractor(cfg)
	if err != nil {
		return nil, err
	}

	vocab := processor.DefaultTagVocabulary()
	if cfg.TagVocabularyPath != "" {
		vocab, err = processor.LoadTagVocabulary(cfg.TagVocabularyPath)
		if err != nil {
			return nil, err
		}
	}

	llm := clients.NewLLMClient(clients.LLMClientConfig{
		APIURL: cfg.LLMAPIURL,
		APIKey: cfg.OpenRouterAPIKey,
		Model:  cfg.LLMModel,
	})

	pc := &processor.ProcessorConfig{
		Preprocessor: processor.NewPreprocessor(processor.PreprocessorConfig{
			MaxBytes:     cfg.MaxImageBytes,
			MaxDimension: cfg.MaxImageDimension,
			MaxPixels:    cfg.MaxImagePixels,
		}),
		Extractor:   extractor,
		Interpreter: processor.NewLLMInterpreter(llm, cfg.InterpreterTimeout),
		Normalizer:  processor.NewNormalizer(processor.NewTagger(vocab)),
		Guard: processor.NewGuard(processor.GuardConfig{
			MaxConcurrent: cfg.MaxConcurrentExtractions,
			MaxQueued:     cfg.MaxQueuedExtractions,
		}),
		Retry: processor.RetryPolicy{
			MaxRetries:  cfg.InterpreterMaxRetries,
			BaseBackoff: cfg.RetryBaseBackoff,
			Multiplier:  cfg.RetryMultiplier,
		},
		Thresholds: &processor.TextThresholds{
			MinConfidence: cfg.MinOCRConfidence,
			MinTextChars:  cfg.MinTextChars,
		},
		PipelineTimeout: cfg.PipelineTimeout,
	}
	if recorder != nil {
		pc.Recorder = recorder
	}

	logging.NewLogger("App").Info("Extraction pipeline configured",
		"ocrEngine", extractor.Name(),
		"model", llm.Model(),
		"maxConcurrent", cfg.MaxConcurrentExtractions,
		"maxQueued", cfg.MaxQueuedExtractions,
		"pipelineTimeout", cfg.PipelineTimeout,
	)

	return processor.NewProcessor(pc)
}

// OpenRecorder connects the run audit log. It returns nil when no database
// is configured.
func OpenRecorder(cfg *config.Config) (*storage.PostgresClient, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}

	pg, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// OpenJobStore connects the job status store. It returns nil when no Redis
// is configured.
func OpenJobStore(cfg *config.Config) (*storage.JobStore, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	return storage.NewJobStore(&storage.JobStoreConfig{
		RedisURL: cfg.RedisURL,
		Prefix:   cfg.QueueName + ":jobs",
		TTL:      cfg.JobTTL,
	})
}
