/**
 * OCR Types - Shared data structures for text extraction
 *
 * Common types used by both the Tesseract and the MageAgent vision extractor
 */

package processor

import (
	"context"
	"strings"
	"unicode"
)

// Supported language hints
const (
	LanguageAuto    = "auto"
	LanguageEnglish = "en"
	LanguageHebrew  = "he"
)

// TextExtractor turns a preprocessed image into recognized lines.
type TextExtractor interface {
	Extract(ctx context.Context, img *PreprocessedImage, language string) (*ExtractedText, error)
	Name() string
}

// HealthChecker is implemented by engines backed by a remote service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TextLine is a single recognized line
type TextLine struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ExtractedText is the ordered OCR output. No lines means no text was found.
type ExtractedText struct {
	Lines    []TextLine `json:"lines"`
	Language string     `json:"language"`
	Engine   string     `json:"engine"`
}

// AggregateConfidence is the mean of line confidences, 0 when there are no lines.
func (t *ExtractedText) AggregateConfidence() float64 {
	if t == nil || len(t.Lines) == 0 {
		return 0
	}
	var sum float64
	for _, l := range t.Lines {
		sum += l.Confidence
	}
	return sum / float64(len(t.Lines))
}

// Text joins the lines in reading order.
func (t *ExtractedText) Text() string {
	if t == nil {
		return ""
	}
	parts := make([]string, len(t.Lines))
	for i, l := range t.Lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// CharCount counts non-whitespace characters across all lines.
func (t *ExtractedText) CharCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, l := range t.Lines {
		for _, r := range l.Text {
			if !unicode.IsSpace(r) {
				n++
			}
		}
	}
	return n
}

// NormalizeLanguage maps a caller hint onto a supported language.
func NormalizeLanguage(hint string) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "en", "eng", "english":
		return LanguageEnglish
	case "he", "heb", "iw", "hebrew":
		return LanguageHebrew
	default:
		return LanguageAuto
	}
}

// DetectLanguage picks Hebrew when Hebrew letters outnumber Latin ones.
func DetectLanguage(text string) string {
	var hebrew, latin int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if hebrew > latin {
		return LanguageHebrew
	}
	return LanguageEnglish
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
