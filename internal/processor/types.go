/**
 * Pipeline Types - data passed between extraction stages
 */

package processor

import (
	"context"
	"time"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
)

// DefaultTitle is used when the model omits a recipe title.
const DefaultTitle = "Untitled Recipe"

// RawImage is the image as received from the caller.
type RawImage struct {
	Data     []byte
	MimeType string
}

// PreprocessedImage satisfies OCR input constraints: grayscale PNG, bounded size.
type PreprocessedImage struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Recipe is the canonical structured recipe. Identity and timestamps belong
// to the persistence layer and are never set here.
type Recipe struct {
	Title        string   `json:"title"`
	Ingredients  []string `json:"ingredients"`
	Instructions []string `json:"instructions"`
	PrepTime     int      `json:"prepTime"`
	CookTime     int      `json:"cookTime"`
	Servings     int      `json:"servings"`
	Tags         []string `json:"tags"`
}

// CandidateRecipe is the unvalidated model output. Every field may be missing
// or of the wrong shape.
type CandidateRecipe struct {
	Title        interface{} `json:"title"`
	Ingredients  interface{} `json:"ingredients"`
	Instructions interface{} `json:"instructions"`
	PrepTime     interface{} `json:"prepTime"`
	CookTime     interface{} `json:"cookTime"`
	Servings     interface{} `json:"servings"`
	Tags         interface{} `json:"tags"`
}

// CandidateFromRecipe lets a normalized recipe be fed back into the normalizer.
func CandidateFromRecipe(r *Recipe) *CandidateRecipe {
	return &CandidateRecipe{
		Title:        r.Title,
		Ingredients:  toInterfaceSlice(r.Ingredients),
		Instructions: toInterfaceSlice(r.Instructions),
		PrepTime:     r.PrepTime,
		CookTime:     r.CookTime,
		Servings:     r.Servings,
		Tags:         toInterfaceSlice(r.Tags),
	}
}

func toInterfaceSlice(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

// ExtractRequest is one unit of extraction work.
type ExtractRequest struct {
	RequestID string
	Image     RawImage
	Language  string
}

// StageTiming records how long a stage ran.
type StageTiming struct {
	Stage    errors.Stage  `json:"stage"`
	Duration time.Duration `json:"durationNs"`
}

// Diagnostics describe a pipeline run for logs and the audit trail. They are
// never part of the caller-facing contract.
type Diagnostics struct {
	RequestID        string        `json:"requestId"`
	FinalState       errors.Stage  `json:"finalState"`
	Stages           []StageTiming `json:"stages"`
	OCRConfidence    float64       `json:"ocrConfidence"`
	OCREngine        string        `json:"ocrEngine,omitempty"`
	Language         string        `json:"language,omitempty"`
	TextLength       int           `json:"textLength"`
	OCRCalls         int           `json:"ocrCalls"`
	InterpreterCalls int           `json:"interpreterCalls"`
	Duration         time.Duration `json:"durationNs"`
}

// PipelineResult is either a Recipe or a PipelineError, never both.
type PipelineResult struct {
	Recipe      *Recipe
	Err         *errors.PipelineError
	Diagnostics Diagnostics
}

// Success reports whether the run produced a recipe.
func (r *PipelineResult) Success() bool {
	return r.Err == nil && r.Recipe != nil
}

type requestIDKey struct{}

// ContextWithRequestID attaches the request ID so adapters can forward it.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request ID set by ContextWithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
