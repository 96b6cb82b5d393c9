/**
 * Recipe Processor - pipeline orchestrator
 *
 * Sequences one extraction request through the pipeline:
 *   Idle -> Preprocessing -> Extracting -> Interpreting -> Normalizing -> Done
 * Any stage may end the run in Failed(stage). Transitions are linear: no
 * stage is revisited and no partial output is returned on failure.
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
	"github.com/adverant/nexus/recipe-extractor/internal/logging"
)

// RecipeProcessorInterface is what transports (HTTP gateway, job worker) call.
type RecipeProcessorInterface interface {
	Process(ctx context.Context, req *ExtractRequest) *PipelineResult
}

// RunRecorder persists run diagnostics. Failures are logged and ignored.
type RunRecorder interface {
	RecordRun(ctx context.Context, result *PipelineResult) error
}

// ProcessorConfig holds the collaborators and budgets of the orchestrator
type ProcessorConfig struct {
	Preprocessor *Preprocessor
	Extractor    TextExtractor
	Interpreter  Interpreter
	Normalizer   *Normalizer
	Guard        *Guard
	Recorder     RunRecorder

	// Retry applies to transient OCR and interpreter failures.
	Retry RetryPolicy
	// Thresholds for the InsufficientText short-circuit; nil uses
	// DefaultTextThresholds. Zero values disable the check.
	Thresholds      *TextThresholds
	PipelineTimeout time.Duration
}

// TextThresholds decide when OCR output is too thin to interpret. A run is
// short-circuited only when both limits are missed.
type TextThresholds struct {
	MinConfidence float64
	MinTextChars  int
}

// DefaultTextThresholds is a 0.2 mean confidence floor and 20 characters.
func DefaultTextThresholds() TextThresholds {
	return TextThresholds{MinConfidence: 0.2, MinTextChars: 20}
}

// Processor runs the extraction pipeline
type Processor struct {
	config *ProcessorConfig
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a new pipeline orchestrator
func NewProcessor(cfg *ProcessorConfig) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("text extractor is required")
	}
	if cfg.Interpreter == nil {
		return nil, fmt.Errorf("interpreter is required")
	}

	c := *cfg
	if c.Preprocessor == nil {
		c.Preprocessor = NewPreprocessor(PreprocessorConfig{})
	}
	if c.Normalizer == nil {
		c.Normalizer = NewNormalizer(nil)
	}
	if c.Guard == nil {
		c.Guard = NewGuard(GuardConfig{MaxConcurrent: 4, MaxQueued: 16})
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Thresholds == nil {
		t := DefaultTextThresholds()
		c.Thresholds = &t
	} else {
		t := *c.Thresholds
		c.Thresholds = &t
	}
	if c.PipelineTimeout <= 0 {
		c.PipelineTimeout = 60 * time.Second
	}

	return &Processor{
		config: &c,
		logger: logging.NewLogger("RecipeProcessor"),
		sleep:  sleepContext,
	}, nil
}

// ExtractorHealth returns a readiness check for a remote OCR engine, or nil
// when OCR runs in-process.
func (p *Processor) ExtractorHealth() func(ctx context.Context) error {
	if hc, ok := p.config.Extractor.(HealthChecker); ok {
		return hc.HealthCheck
	}
	return nil
}

// run carries the per-request state of one pipeline execution
type run struct {
	id     string
	diag   *Diagnostics
	logger *logging.Logger
}

// Process runs one request to completion. It never returns nil and never
// returns both a recipe and an error.
func (p *Processor) Process(ctx context.Context, req *ExtractRequest) *PipelineResult {
	start := time.Now()

	id := req.RequestID
	if id == "" {
		id = uuid.New().String()
	}
	r := &run{
		id:     id,
		diag:   &Diagnostics{RequestID: id, FinalState: errors.StageIdle},
		logger: p.logger.With("requestId", id),
	}

	recipe, err := p.execute(ctx, r, req)
	r.diag.Duration = time.Since(start)

	result := &PipelineResult{Diagnostics: *r.diag}
	if err != nil {
		result.Err = err
		result.Diagnostics.FinalState = err.Stage
		r.logger.Warn("Extraction failed",
			"stage", err.Stage,
			"errorCode", err.Kind,
			"error", err,
			"interpreterCalls", r.diag.InterpreterCalls,
			"duration", r.diag.Duration)
	} else {
		result.Recipe = recipe
		result.Diagnostics.FinalState = errors.StageDone
		r.logger.Info("Extraction complete",
			"title", recipe.Title,
			"ingredients", len(recipe.Ingredients),
			"instructions", len(recipe.Instructions),
			"tags", recipe.Tags,
			"interpreterCalls", r.diag.InterpreterCalls,
			"duration", r.diag.Duration)
	}

	p.record(ctx, r, result)
	return result
}

func (p *Processor) record(ctx context.Context, r *run, result *PipelineResult) {
	if p.config.Recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.config.Recorder.RecordRun(recCtx, result); err != nil {
		r.logger.Warn("Failed to record extraction run", "error", err)
	}
}

func (p *Processor) execute(ctx context.Context, r *run, req *ExtractRequest) (*Recipe, *errors.PipelineError) {
	// Time spent waiting for a slot counts against the ceiling.
	ctx, cancel := context.WithTimeout(ctx, p.config.PipelineTimeout)
	defer cancel()
	ctx = ContextWithRequestID(ctx, r.id)

	release, err := p.config.Guard.Acquire(ctx)
	if err != nil {
		return nil, p.stageError(ctx, r, errors.StageIdle, err)
	}
	defer release()

	language := NormalizeLanguage(req.Language)
	r.logger.Debug("Starting extraction pipeline",
		"bytes", len(req.Image.Data), "mimeType", req.Image.MimeType, "language", language)

	// Preprocessing
	var img *PreprocessedImage
	if err := p.stage(ctx, r, errors.StagePreprocessing, func() (err error) {
		img, err = p.config.Preprocessor.Preprocess(ctx, req.Image)
		return err
	}); err != nil {
		return nil, err
	}

	// Extracting
	var text *ExtractedText
	if err := p.stage(ctx, r, errors.StageExtracting, func() (err error) {
		text, err = p.extract(ctx, r, img, language)
		if err != nil {
			return err
		}
		r.diag.OCREngine = text.Engine
		r.diag.Language = text.Language
		r.diag.OCRConfidence = text.AggregateConfidence()
		r.diag.TextLength = text.CharCount()
		return p.checkSufficientText(text)
	}); err != nil {
		return nil, err
	}

	// Interpreting
	if language == LanguageAuto && text.Language != "" {
		language = text.Language
	}
	var candidate *CandidateRecipe
	if err := p.stage(ctx, r, errors.StageInterpreting, func() (err error) {
		candidate, err = p.interpret(ctx, r, text, language)
		return err
	}); err != nil {
		return nil, err
	}

	// Normalizing
	var recipe *Recipe
	if err := p.stage(ctx, r, errors.StageNormalizing, func() (err error) {
		recipe, err = p.config.Normalizer.Normalize(candidate)
		return err
	}); err != nil {
		return nil, err
	}

	return recipe, nil
}

// stage runs fn as the given pipeline state, recording its duration and
// tagging any failure with the stage.
func (p *Processor) stage(ctx context.Context, r *run, stage errors.Stage, fn func() error) *errors.PipelineError {
	if err := ctx.Err(); err != nil {
		return p.stageError(ctx, r, stage, err)
	}

	r.diag.FinalState = stage
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	r.diag.Stages = append(r.diag.Stages, StageTiming{Stage: stage, Duration: elapsed})
	r.logger.Debug("Stage finished", "stage", stage, "duration", elapsed, "ok", err == nil)

	if err != nil {
		return p.stageError(ctx, r, stage, err)
	}
	return nil
}

// stageError tags err with the failing stage. Stage errors keep their kind;
// context expiry becomes PipelineTimeout.
func (p *Processor) stageError(ctx context.Context, r *run, stage errors.Stage, err error) *errors.PipelineError {
	if pe, ok := errors.AsPipelineError(err); ok {
		return pe.WithStage(stage, r.id)
	}
	if ctx.Err() != nil || stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.NewPipelineTimeoutError(p.config.PipelineTimeout, err).WithStage(stage, r.id)
	}

	// A collaborator returned an untyped error; attribute it to the stage's
	// generic failure kind.
	var pe *errors.PipelineError
	switch stage {
	case errors.StagePreprocessing:
		pe = errors.NewUnsupportedFormatError("", err)
	case errors.StageExtracting:
		pe = errors.NewOCREngineUnavailableError(p.config.Extractor.Name(), err)
	case errors.StageInterpreting:
		pe = errors.NewInterpreterUnavailableError(err)
	default:
		pe = errors.NewUnrecoverableSchemaError(err.Error())
	}
	return pe.WithStage(stage, r.id)
}

// checkSufficientText short-circuits before paying for a model call when
// OCR found both little and unreliable text.
func (p *Processor) checkSufficientText(text *ExtractedText) error {
	confidence := text.AggregateConfidence()
	chars := text.CharCount()
	if confidence < p.config.Thresholds.MinConfidence && chars < p.config.Thresholds.MinTextChars {
		return errors.NewInsufficientTextError(confidence, chars)
	}
	return nil
}

// extract runs OCR, backing off and retrying on engine outages and timeouts
// up to Retry.MaxRetries times.
func (p *Processor) extract(ctx context.Context, r *run, img *PreprocessedImage, language string) (*ExtractedText, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.diag.OCRCalls++
		text, err := p.config.Extractor.Extract(ctx, img, language)
		if err == nil {
			return text, nil
		}

		kind := errors.KindOf(err)
		if kind != errors.ErrorOCREngineUnavailable && kind != errors.ErrorOCRTimeout {
			return nil, err
		}
		if attempt >= p.config.Retry.MaxRetries {
			return nil, err
		}

		wait := p.config.Retry.Backoff(attempt)
		r.logger.Warn("OCR failed, backing off",
			"attempt", r.diag.OCRCalls,
			"errorCode", kind,
			"backoff", wait,
			"error", err)
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// interpret calls the interpreter with retries: transient failures back off
// exponentially up to Retry.MaxRetries times; a malformed or empty answer
// gets exactly one corrective attempt.
func (p *Processor) interpret(ctx context.Context, r *run, text *ExtractedText, language string) (*CandidateRecipe, error) {
	corrective := false
	transient := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.diag.InterpreterCalls++
		candidate, err := p.config.Interpreter.Interpret(ctx, text, InterpretOptions{
			Language:   language,
			Corrective: corrective,
		})

		if err == nil {
			if !corrective && candidateIsEmpty(candidate) {
				r.logger.Warn("Interpreter returned no ingredients or instructions, retrying with corrective prompt",
					"attempt", r.diag.InterpreterCalls)
				corrective = true
				continue
			}
			return candidate, nil
		}

		switch errors.KindOf(err) {
		case errors.ErrorInterpreterUnavailable, errors.ErrorInterpreterTimeout:
			if transient >= p.config.Retry.MaxRetries {
				return nil, err
			}
			wait := p.config.Retry.Backoff(transient)
			transient++
			r.logger.Warn("Interpreter call failed, backing off",
				"attempt", r.diag.InterpreterCalls,
				"errorCode", errors.KindOf(err),
				"backoff", wait,
				"error", err)
			if err := p.sleep(ctx, wait); err != nil {
				return nil, err
			}

		case errors.ErrorMalformedResponse:
			if corrective {
				return nil, err
			}
			r.logger.Warn("Malformed interpreter response, retrying with corrective prompt",
				"attempt", r.diag.InterpreterCalls)
			corrective = true

		default:
			return nil, err
		}
	}
}

func candidateIsEmpty(c *CandidateRecipe) bool {
	return c == nil || (len(coerceList(c.Ingredients, false)) == 0 && len(coerceList(c.Instructions, true)) == 0)
}
