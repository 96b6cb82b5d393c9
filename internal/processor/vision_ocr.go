package processor

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/adverant/nexus/recipe-extractor/internal/clients"
	"github.com/adverant/nexus/recipe-extractor/internal/errors"
)

// visionOCRClient is satisfied by *clients.MageAgentClient
type visionOCRClient interface {
	ExtractTextFromBytes(ctx context.Context, imageData []byte, language, requestID string) (*clients.VisionOCRResponse, error)
	HealthCheck(ctx context.Context) error
}

// VisionExtractor delegates OCR to the MageAgent vision endpoint. The remote
// model reports one confidence for the whole image, so every line carries it.
type VisionExtractor struct {
	client  visionOCRClient
	timeout time.Duration
}

// NewVisionExtractor creates a remote OCR extractor
func NewVisionExtractor(client visionOCRClient, timeout time.Duration) *VisionExtractor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &VisionExtractor{client: client, timeout: timeout}
}

// Name identifies the engine in diagnostics
func (v *VisionExtractor) Name() string { return "mageagent-vision" }

// HealthCheck reports whether the remote OCR service is reachable
func (v *VisionExtractor) HealthCheck(ctx context.Context) error {
	if err := v.client.HealthCheck(ctx); err != nil {
		return errors.NewOCREngineUnavailableError(v.Name(), err)
	}
	return nil
}

// Extract performs remote OCR on a preprocessed image
func (v *VisionExtractor) Extract(ctx context.Context, img *PreprocessedImage, language string) (*ExtractedText, error) {
	ocrCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	lang := NormalizeLanguage(language)
	remoteLang := lang
	if lang == LanguageAuto {
		remoteLang = "multi"
	}

	resp, err := v.client.ExtractTextFromBytes(ocrCtx, img.Data, remoteLang, RequestIDFromContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewOCRTimeoutError(v.Name(), v.timeout)
		}
		return nil, errors.NewOCREngineUnavailableError(v.Name(), err)
	}

	confidence := clampConfidence(resp.Data.Confidence)
	var lines []TextLine
	for _, raw := range strings.Split(resp.Data.Text, "\n") {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		lines = append(lines, TextLine{Text: text, Confidence: confidence})
	}

	result := &ExtractedText{Lines: lines, Engine: v.Name(), Language: lang}
	if lang == LanguageAuto {
		result.Language = DetectLanguage(result.Text())
	}
	return result, nil
}
