package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Typed errors for the Recipe Extraction Pipeline
 *
 * Each stage raises its own narrow ErrorKind. The orchestrator tags the
 * error with the failing Stage; only the gateway translates kinds into the
 * caller-facing contract.
 */

// ErrorKind enum for structured error handling
type ErrorKind string

const (
	// Input validation errors
	ErrorUnsupportedFormat ErrorKind = "UNSUPPORTED_FORMAT"
	ErrorImageTooLarge     ErrorKind = "IMAGE_TOO_LARGE"

	// OCR errors
	ErrorOCREngineUnavailable ErrorKind = "OCR_ENGINE_UNAVAILABLE"
	ErrorOCRTimeout           ErrorKind = "OCR_TIMEOUT"
	ErrorInsufficientText     ErrorKind = "INSUFFICIENT_TEXT"

	// Interpreter errors
	ErrorInterpreterUnavailable ErrorKind = "INTERPRETER_UNAVAILABLE"
	ErrorInterpreterTimeout     ErrorKind = "INTERPRETER_TIMEOUT"
	ErrorMalformedResponse      ErrorKind = "MALFORMED_RESPONSE"

	// Normalizer errors
	ErrorUnrecoverableSchema ErrorKind = "UNRECOVERABLE_SCHEMA"

	// Orchestrator errors
	ErrorOverloaded      ErrorKind = "OVERLOADED"
	ErrorPipelineTimeout ErrorKind = "PIPELINE_TIMEOUT"
)

// Stage identifies the pipeline state a failure occurred in.
type Stage string

const (
	StageIdle          Stage = "Idle"
	StagePreprocessing Stage = "Preprocessing"
	StageExtracting    Stage = "Extracting"
	StageInterpreting  Stage = "Interpreting"
	StageNormalizing   Stage = "Normalizing"
	StageDone          Stage = "Done"
)

// PipelineError represents a structured pipeline failure
type PipelineError struct {
	Kind      ErrorKind
	Stage     Stage
	Message   string
	RequestID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may resubmit the same image later.
func (e *PipelineError) Retryable() bool {
	switch e.Kind {
	case ErrorOCREngineUnavailable, ErrorOCRTimeout,
		ErrorInterpreterUnavailable, ErrorInterpreterTimeout,
		ErrorOverloaded, ErrorPipelineTimeout:
		return true
	}
	return false
}

// WithStage returns a copy of the error tagged with the failing stage and request.
func (e *PipelineError) WithStage(stage Stage, requestID string) *PipelineError {
	tagged := *e
	tagged.Stage = stage
	if tagged.RequestID == "" {
		tagged.RequestID = requestID
	}
	return &tagged
}

func newError(kind ErrorKind, message string, details map[string]interface{}, cause error) *PipelineError {
	return &PipelineError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

// Factory functions for each error kind

func NewUnsupportedFormatError(mimeType string, cause error) *PipelineError {
	return newError(ErrorUnsupportedFormat,
		fmt.Sprintf("Unsupported image format: %s", mimeType),
		map[string]interface{}{"mime_type": mimeType},
		cause)
}

func NewImageTooLargeError(size, limit int64) *PipelineError {
	return newError(ErrorImageTooLarge,
		fmt.Sprintf("Image is %d bytes, limit is %d bytes", size, limit),
		map[string]interface{}{"size_bytes": size, "limit_bytes": limit},
		nil)
}

func NewImageDimensionsTooLargeError(width, height int, limitPixels int64) *PipelineError {
	return newError(ErrorImageTooLarge,
		fmt.Sprintf("Image is %dx%d pixels, limit is %d pixels", width, height, limitPixels),
		map[string]interface{}{"width": width, "height": height, "limit_pixels": limitPixels},
		nil)
}

func NewOCREngineUnavailableError(engine string, cause error) *PipelineError {
	return newError(ErrorOCREngineUnavailable,
		fmt.Sprintf("OCR engine %s is unavailable", engine),
		map[string]interface{}{"ocr_engine": engine},
		cause)
}

func NewOCRTimeoutError(engine string, budget time.Duration) *PipelineError {
	return newError(ErrorOCRTimeout,
		fmt.Sprintf("OCR timed out after %v", budget),
		map[string]interface{}{"ocr_engine": engine, "timeout_duration": budget.String()},
		nil)
}

func NewInsufficientTextError(confidence float64, chars int) *PipelineError {
	return newError(ErrorInsufficientText,
		"Too little readable text was found in the image",
		map[string]interface{}{"ocr_confidence": confidence, "characters": chars},
		nil)
}

func NewInterpreterUnavailableError(cause error) *PipelineError {
	return newError(ErrorInterpreterUnavailable,
		"Recipe interpreter is unavailable",
		nil,
		cause)
}

func NewInterpreterTimeoutError(budget time.Duration, cause error) *PipelineError {
	return newError(ErrorInterpreterTimeout,
		fmt.Sprintf("Recipe interpreter timed out after %v", budget),
		map[string]interface{}{"timeout_duration": budget.String()},
		cause)
}

func NewMalformedResponseError(cause error) *PipelineError {
	return newError(ErrorMalformedResponse,
		"Recipe interpreter returned data that could not be parsed",
		nil,
		cause)
}

func NewUnrecoverableSchemaError(reason string) *PipelineError {
	return newError(ErrorUnrecoverableSchema,
		fmt.Sprintf("Recipe could not be recovered: %s", reason),
		nil,
		nil)
}

func NewOverloadedError(capacity int) *PipelineError {
	return newError(ErrorOverloaded,
		"Too many extractions in progress, retry later",
		map[string]interface{}{"capacity": capacity},
		nil)
}

func NewPipelineTimeoutError(ceiling time.Duration, cause error) *PipelineError {
	return newError(ErrorPipelineTimeout,
		fmt.Sprintf("Extraction did not finish within %v", ceiling),
		map[string]interface{}{"timeout_duration": ceiling.String()},
		cause)
}

// AsPipelineError extracts a *PipelineError from an error chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the ErrorKind of err, or "" when err is not a PipelineError.
func KindOf(err error) ErrorKind {
	if pe, ok := AsPipelineError(err); ok {
		return pe.Kind
	}
	return ""
}

// ToMap converts error to map for storage and job status payloads
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Kind),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.Stage != "" {
		result["stage"] = string(e.Stage)
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
