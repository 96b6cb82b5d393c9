/**
 * Tesseract OCR - local text extraction
 *
 * Runs Tesseract through gosseract and reports one confidence per text line.
 * The cgo call cannot be interrupted, so it runs in its own goroutine and the
 * caller stops waiting when the budget or the context expires.
 */

package processor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
)

// ocrClient is the subset of *gosseract.Client used here
type ocrClient interface {
	SetLanguage(langs ...string) error
	SetImageFromBytes(data []byte) error
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// TesseractExtractor handles OCR using a local Tesseract install
type TesseractExtractor struct {
	clientFactory func() (ocrClient, error)
	timeout       time.Duration
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Timeout time.Duration
	// TessdataPrefix overrides the directory holding the language models
	TessdataPrefix string
}

// NewTesseractExtractor creates a new Tesseract extractor
func NewTesseractExtractor(cfg TesseractConfig) *TesseractExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &TesseractExtractor{
		clientFactory: func() (ocrClient, error) {
			if cfg.TessdataPrefix == "" {
				return gosseract.NewClient(), nil
			}
			// Tesseract only reports a bad prefix once recognition starts.
			if _, err := os.Stat(cfg.TessdataPrefix); err != nil {
				return nil, fmt.Errorf("invalid tessdata prefix: %w", err)
			}
			client := gosseract.NewClient()
			if err := client.SetTessdataPrefix(cfg.TessdataPrefix); err != nil {
				client.Close()
				return nil, fmt.Errorf("invalid tessdata prefix: %w", err)
			}
			return client, nil
		},
		timeout: cfg.Timeout,
	}
}

// Name identifies the engine in diagnostics
func (t *TesseractExtractor) Name() string { return "tesseract" }

type ocrOutcome struct {
	text *ExtractedText
	err  error
}

// Extract performs OCR on a preprocessed image
func (t *TesseractExtractor) Extract(ctx context.Context, img *PreprocessedImage, language string) (*ExtractedText, error) {
	ocrCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan ocrOutcome, 1)
	go func() {
		text, err := t.recognize(img.Data, NormalizeLanguage(language))
		done <- ocrOutcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		return out.text, out.err
	case <-ocrCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewOCRTimeoutError(t.Name(), t.timeout)
	}
}

func (t *TesseractExtractor) recognize(data []byte, language string) (*ExtractedText, error) {
	client, err := t.clientFactory()
	if err != nil {
		return nil, errors.NewOCREngineUnavailableError(t.Name(), err)
	}
	defer client.Close()

	if err := client.SetLanguage(tesseractLanguages(language)...); err != nil {
		return nil, errors.NewOCREngineUnavailableError(t.Name(), fmt.Errorf("failed to set languages: %w", err))
	}

	if err := client.SetImageFromBytes(data); err != nil {
		return nil, errors.NewOCREngineUnavailableError(t.Name(), fmt.Errorf("failed to set image: %w", err))
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, errors.NewOCREngineUnavailableError(t.Name(), fmt.Errorf("tesseract OCR failed: %w", err))
	}

	lines := make([]TextLine, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, TextLine{
			Text:       text,
			Confidence: clampConfidence(b.Confidence / 100.0),
		})
	}

	result := &ExtractedText{Lines: lines, Engine: t.Name(), Language: language}
	if language == LanguageAuto {
		result.Language = DetectLanguage(result.Text())
	}
	return result, nil
}

func tesseractLanguages(language string) []string {
	switch language {
	case LanguageEnglish:
		return []string{"eng"}
	case LanguageHebrew:
		return []string{"heb"}
	default:
		return []string{"eng", "heb"}
	}
}
